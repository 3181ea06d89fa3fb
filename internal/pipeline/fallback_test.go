package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSimple struct {
	name    string
	records map[string]PriceRecord
	err     error
	calls   atomic.Int64
}

func (f *fakeSimple) Name() string { return f.name }

func (f *fakeSimple) SimplePrices(ctx context.Context, symbols []string) (map[string]PriceRecord, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]PriceRecord)
	for _, s := range symbols {
		if rec, ok := f.records[s]; ok {
			out[s] = rec
		}
	}
	return out, nil
}

type fakeScraper struct {
	name    string
	records map[string]PriceRecord
	err     error
	calls   atomic.Int64
}

func (f *fakeScraper) Name() string { return f.name }

func (f *fakeScraper) Scrape(ctx context.Context) (map[string]PriceRecord, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

// hangingSimple blocks until its call context is cancelled, standing in for
// a provider that never answers.
type hangingSimple struct {
	name string
}

func (h *hangingSimple) Name() string { return h.name }

func (h *hangingSimple) SimplePrices(ctx context.Context, symbols []string) (map[string]PriceRecord, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// rawSimple returns its record map verbatim, whatever the requested
// symbols, so tests can control the response key casing.
type rawSimple struct {
	name    string
	records map[string]PriceRecord
}

func (r *rawSimple) Name() string { return r.name }

func (r *rawSimple) SimplePrices(ctx context.Context, symbols []string) (map[string]PriceRecord, error) {
	return r.records, nil
}

func symbolSet(symbols ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	return set
}

func newTestResolver(providers ...Provider) *Resolver {
	return NewResolver(providers, ResolverOptions{CallTimeout: time.Second}, zerolog.Nop())
}

func TestFallbackEmptySymbolSet(t *testing.T) {
	primary := &fakeSimple{name: "coingecko"}
	rows := newTestResolver(primary).FallbackPrices(context.Background(), nil, "coingecko")
	assert.Empty(t, rows)
	assert.Zero(t, primary.calls.Load(), "no provider calls for an empty symbol set")
}

func TestFallbackProviderOrdering(t *testing.T) {
	// The preferred provider has no data; the secondary serves the symbol.
	preferred := &fakeSimple{name: "coingecko"}
	secondary := &fakeSimple{name: "coinmarketcap", records: map[string]PriceRecord{
		"DOGE": {"price": 0.08},
	}}

	rows := newTestResolver(preferred, secondary).FallbackPrices(context.Background(), symbolSet("DOGE"), "coingecko")

	require.Len(t, rows, 1)
	assert.Equal(t, "coinmarketcap_fallback", rows[0].Source)
	require.NotNil(t, rows[0].Price)
	assert.Equal(t, 0.08, *rows[0].Price)
	assert.Equal(t, "USD", rows[0].Currency)
	assert.False(t, rows[0].Timestamp.IsZero())
}

func TestFallbackPreferMovesProviderFirst(t *testing.T) {
	first := &fakeSimple{name: "coingecko", records: map[string]PriceRecord{
		"BTC": {"price": 50000.0},
	}}
	second := &fakeSimple{name: "coinmarketcap", records: map[string]PriceRecord{
		"BTC": {"price": 50001.0},
	}}

	rows := newTestResolver(first, second).FallbackPrices(context.Background(), symbolSet("btc"), "coinmarketcap")

	require.Len(t, rows, 1)
	assert.Equal(t, "coinmarketcap_fallback", rows[0].Source)
	assert.Equal(t, "BTC", rows[0].Symbol)
}

func TestFallbackProviderErrorSkipped(t *testing.T) {
	broken := &fakeSimple{name: "coingecko", err: errors.New("rate limited")}
	working := &fakeScraper{name: "coinmarketcap", records: map[string]PriceRecord{
		"eth": {"current_price": "3,000", "total_volume": "1.5B"},
	}}

	rows := newTestResolver(broken, working).FallbackPrices(context.Background(), symbolSet("ETH"), "coingecko")

	require.Len(t, rows, 1)
	assert.Equal(t, "coinmarketcap_fallback", rows[0].Source)
	require.NotNil(t, rows[0].Price)
	assert.Equal(t, 3000.0, *rows[0].Price)
	require.NotNil(t, rows[0].Volume)
	assert.Equal(t, 1.5e9, *rows[0].Volume)
}

func TestFallbackHangingProviderTimesOut(t *testing.T) {
	stuck := &hangingSimple{name: "coingecko"}
	secondary := &fakeSimple{name: "coinmarketcap", records: map[string]PriceRecord{
		"BTC": {"price": 50000.0},
	}}

	resolver := NewResolver([]Provider{stuck, secondary}, ResolverOptions{CallTimeout: 50 * time.Millisecond}, zerolog.Nop())

	start := time.Now()
	rows := resolver.FallbackPrices(context.Background(), symbolSet("BTC"), "coingecko")
	elapsed := time.Since(start)

	require.Len(t, rows, 1)
	assert.Equal(t, "coinmarketcap_fallback", rows[0].Source)
	assert.Less(t, elapsed, 2*time.Second, "a hanging provider must not stall resolution")
}

func TestFallbackSimplePriceKeysCanonicalized(t *testing.T) {
	provider := &rawSimple{name: "coingecko", records: map[string]PriceRecord{
		"btc": {"price": 50000.0},
	}}

	rows := newTestResolver(provider).FallbackPrices(context.Background(), symbolSet("BTC"), "coingecko")

	require.Len(t, rows, 1)
	assert.Equal(t, "BTC", rows[0].Symbol)
	require.NotNil(t, rows[0].Price)
	assert.Equal(t, 50000.0, *rows[0].Price)
}

func TestFallbackNonpositivePriceRejected(t *testing.T) {
	provider := &fakeSimple{name: "coingecko", records: map[string]PriceRecord{
		"BTC": {"price": 0.0},
		"ETH": {"price": -5.0},
	}}

	rows := newTestResolver(provider).FallbackPrices(context.Background(), symbolSet("BTC", "ETH"), "coingecko")
	assert.Empty(t, rows, "zero and negative fallback prices are dropped")
}

func TestFallbackScrapeRunsOncePerPass(t *testing.T) {
	scraper := &fakeScraper{name: "coinmarketcap", records: map[string]PriceRecord{
		"BTC": {"price": 50000.0},
		"ETH": {"price": 3000.0},
		"SOL": {"price": 150.0},
	}}

	rows := newTestResolver(scraper).FallbackPrices(context.Background(), symbolSet("BTC", "ETH", "SOL", "XRP"), "coinmarketcap")

	assert.Len(t, rows, 3, "XRP is silently absent")
	assert.Equal(t, int64(1), scraper.calls.Load(), "one scrape serves every symbol")
}

func TestFallbackKeyVariants(t *testing.T) {
	provider := &fakeSimple{name: "coingecko", records: map[string]PriceRecord{
		"BTC": {"usd": 50000.0, "usd_24h_vol": 2.1e10, "usd_24h_change": 1.2},
	}}

	rows := newTestResolver(provider).FallbackPrices(context.Background(), symbolSet("BTC"), "coingecko")

	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Price)
	assert.Equal(t, 50000.0, *rows[0].Price)
	require.NotNil(t, rows[0].Volume)
	assert.Equal(t, 2.1e10, *rows[0].Volume)
	require.NotNil(t, rows[0].Change24h)
	assert.Equal(t, 1.2, *rows[0].Change24h)
}
