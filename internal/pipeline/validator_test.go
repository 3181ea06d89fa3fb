package pipeline

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testValidator(t *testing.T) *Validator {
	t.Helper()
	v := NewValidator(NewBounds(nil), zerolog.Nop())
	v.now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	return v
}

func TestValidateEmptyBatch(t *testing.T) {
	result := testValidator(t).ValidatePrices(nil)
	assert.Empty(t, result.Cleaned)
	assert.Empty(t, result.NeedsFallback)
	assert.Empty(t, result.Reasons)
}

func TestBoundsInclusive(t *testing.T) {
	bounds := NewBounds(nil)

	ok, err := bounds.Check("BTC", 10)
	require.NoError(t, err)
	assert.True(t, ok, "low boundary is inclusive")

	ok, err = bounds.Check("BTC", 2_000_000)
	require.NoError(t, err)
	assert.True(t, ok, "high boundary is inclusive")

	ok, err = bounds.Check("btc", 9.999)
	require.NoError(t, err)
	assert.False(t, ok)

	// Symbols without an entry use the wide default.
	ok, err = bounds.Check("UNLISTED", 123.45)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = bounds.Check("  ", 100)
	assert.ErrorIs(t, err, ErrMalformedSymbol)
}

func TestBoundsOverrides(t *testing.T) {
	bounds := NewBounds(map[string]Range{
		"btc": {Low: 100, High: 200},
		"BAD": {Low: -1, High: 5}, // ignored: low must be positive
	})

	ok, err := bounds.Check("BTC", 150)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = bounds.Check("BTC", 50)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, wideRange, bounds.Range("BAD"))
}

func TestReasonPriority(t *testing.T) {
	result := testValidator(t).ValidatePrices([]RawRow{
		{Symbol: "BTC"},                   // no price at all
		{Symbol: "BTC", Price: "garbage"}, // unparseable
		{Symbol: "BTC", Price: -42.0},     // negative beats out_of_bounds
		{Symbol: "BTC", Price: 0},         // zero is nonpositive too
		{Symbol: "BTC", Price: 5.0},       // positive but below the band
		{Symbol: "", Price: 100.0},        // bounds check cannot evaluate
		{Symbol: "BTC", Price: "$50,000"}, // clean
	})

	require.Len(t, result.Rows, 7)
	assert.Equal(t, ReasonPriceNaN, result.Rows[0].InvalidReason)
	assert.Equal(t, ReasonPriceNaN, result.Rows[1].InvalidReason)
	assert.Equal(t, ReasonPriceNonpositive, result.Rows[2].InvalidReason)
	assert.Equal(t, ReasonPriceNonpositive, result.Rows[3].InvalidReason)
	assert.Equal(t, ReasonOutOfBounds, result.Rows[4].InvalidReason)
	assert.Equal(t, ReasonBoundsEvalError, result.Rows[5].InvalidReason)
	assert.Equal(t, Reason(""), result.Rows[6].InvalidReason)

	require.Len(t, result.Cleaned, 1)
	require.NotNil(t, result.Cleaned[0].Price)
	assert.Equal(t, 50000.0, *result.Cleaned[0].Price)
	assert.Equal(t, "USD", result.Cleaned[0].Currency)
	assert.Contains(t, result.NeedsFallback, "BTC")
}

func TestCrossSymbolCollision(t *testing.T) {
	t0 := "2025-06-01T10:00:00Z"
	t1 := "2025-06-01T10:05:00Z"

	result := testValidator(t).ValidatePrices([]RawRow{
		{Symbol: "BTC", Price: 100.0, Timestamp: t0},
		{Symbol: "ETH", Price: 100.0, Timestamp: t0},
		{Symbol: "XRP", Price: 100.0, Timestamp: t1},
	})

	assert.Equal(t, ReasonCrossSymbolSamePrice, result.Rows[0].InvalidReason)
	assert.Equal(t, ReasonCrossSymbolSamePrice, result.Rows[1].InvalidReason)
	assert.True(t, result.Rows[2].Valid(), "different timestamp is not a collision")

	assert.Contains(t, result.NeedsFallback, "BTC")
	assert.Contains(t, result.NeedsFallback, "ETH")
	assert.NotContains(t, result.NeedsFallback, "XRP")
}

func TestCollisionDoesNotOverwriteEarlierReason(t *testing.T) {
	t0 := "2025-06-01T10:00:00Z"

	// Both DOGE rows report 5000.0 at t0, but 5000 is outside DOGE's band,
	// so those rows keep out_of_bounds; only in-band rows collide.
	result := testValidator(t).ValidatePrices([]RawRow{
		{Symbol: "DOGE", Price: 5000.0, Timestamp: t0},
		{Symbol: "BTC", Price: 5000.0, Timestamp: t0},
	})

	assert.Equal(t, ReasonOutOfBounds, result.Rows[0].InvalidReason)
	assert.True(t, result.Rows[1].Valid(), "a one-symbol group is not a collision")
}

func TestSameSymbolSamePriceIsNotCollision(t *testing.T) {
	t0 := "2025-06-01T10:00:00Z"

	result := testValidator(t).ValidatePrices([]RawRow{
		{Symbol: "BTC", Price: 50000.0, Timestamp: t0, Source: "a"},
		{Symbol: "BTC", Price: 50000.0, Timestamp: t0, Source: "b"},
	})

	assert.True(t, result.Rows[0].Valid())
	assert.True(t, result.Rows[1].Valid())
}

func TestStuckFeedThreshold(t *testing.T) {
	mkRows := func(symbol string, prices ...float64) []RawRow {
		rows := make([]RawRow, 0, len(prices))
		base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
		for i, p := range prices {
			rows = append(rows, RawRow{
				Symbol:    symbol,
				Price:     p,
				Timestamp: base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
			})
		}
		return rows
	}

	// Four identical trailing prices: below the window, not flagged.
	result := testValidator(t).ValidatePrices(mkRows("BTC", 50000, 50000, 50000, 50000))
	assert.Empty(t, result.Reasons)
	assert.Empty(t, result.NeedsFallback)

	// Five identical trailing prices after an earlier differing one.
	result = testValidator(t).ValidatePrices(mkRows("BTC", 49000, 50000, 50000, 50000, 50000, 50000))
	assert.Equal(t, ReasonConstantPrice, result.Reasons["BTC"])
	assert.Contains(t, result.NeedsFallback, "BTC")

	// The stuck flag is symbol-level: individually valid rows stay cleaned.
	assert.Len(t, result.Cleaned, 6)

	// A differing price inside the trailing window resets the signal.
	result = testValidator(t).ValidatePrices(mkRows("BTC", 50000, 50000, 50000, 50000, 50000, 49000))
	assert.Empty(t, result.Reasons)
}

func TestTimestampNormalization(t *testing.T) {
	v := testValidator(t)
	now := v.now()

	result := v.ValidatePrices([]RawRow{
		{Symbol: "BTC", Price: 50000.0, Timestamp: "2025-06-01 09:30:00"},
		{Symbol: "ETH", Price: 3000.0, Timestamp: "not a timestamp"},
		{Symbol: "SOL", Price: 150.0, Timestamp: 1748775600.0}, // unix seconds
		{Symbol: "XRP", Price: 2.0},
	})

	require.Len(t, result.Cleaned, 4)
	assert.Equal(t, time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC), result.Rows[0].Timestamp)
	assert.Equal(t, now, result.Rows[1].Timestamp, "bad timestamp falls back to the batch instant")
	assert.Equal(t, time.Unix(1748775600, 0).UTC(), result.Rows[2].Timestamp)
	assert.Equal(t, now, result.Rows[3].Timestamp)

	for _, row := range result.Rows {
		assert.True(t, row.Valid(), "a bad timestamp alone never invalidates a row")
	}
}

func TestVolumeAndChangeParsing(t *testing.T) {
	result := testValidator(t).ValidatePrices([]RawRow{
		{Symbol: "BTC", Price: "$50,000", Volume: "1.2B", Change24h: "-2.5%", Currency: "EUR"},
	})

	require.Len(t, result.Cleaned, 1)
	row := result.Cleaned[0]
	require.NotNil(t, row.Volume)
	assert.Equal(t, 1.2e9, *row.Volume)
	require.NotNil(t, row.Change24h)
	assert.Equal(t, -2.5, *row.Change24h)
	assert.Equal(t, "EUR", row.Currency, "explicit currency is preserved")
}
