package pipeline

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"coinpipe/internal/numeric"
)

// stuckWindow is the number of trailing identical prices that marks a feed
// as stuck.
const stuckWindow = 5

// Validator classifies raw observation batches. It holds no per-batch
// state and is safe for reuse across pipeline runs.
type Validator struct {
	bounds *Bounds
	logger zerolog.Logger
	now    func() time.Time
}

// NewValidator constructs a validator over the given bounds table.
func NewValidator(bounds *Bounds, logger zerolog.Logger) *Validator {
	if bounds == nil {
		bounds = NewBounds(nil)
	}
	return &Validator{
		bounds: bounds,
		logger: logger.With().Str("component", "validator").Logger(),
		now:    time.Now,
	}
}

// ValidatePrices normalizes a batch of raw rows and classifies each as
// valid or invalid. Data-quality problems never surface as errors: per-row
// failures become invalid reasons and batch-relative anomalies become
// symbol-level flags.
func (v *Validator) ValidatePrices(raw []RawRow) ValidationResult {
	result := ValidationResult{
		NeedsFallback: make(map[string]struct{}),
		Reasons:       make(map[string]Reason),
	}
	if len(raw) == 0 {
		return result
	}

	// A single instant per batch keeps rows without timestamps groupable.
	now := v.now().UTC()

	rows := make([]Row, 0, len(raw))
	for _, rr := range raw {
		rows = append(rows, v.normalize(rr, now))
	}

	v.markCrossSymbolCollisions(rows)
	flagged := v.markStuckFeeds(rows, result.Reasons)

	for _, row := range rows {
		if row.Valid() {
			result.Cleaned = append(result.Cleaned, row)
		} else {
			result.NeedsFallback[row.Symbol] = struct{}{}
		}
	}
	for symbol := range flagged {
		result.NeedsFallback[symbol] = struct{}{}
	}
	result.Rows = rows

	if len(result.NeedsFallback) > 0 {
		v.logger.Debug().
			Int("rows", len(rows)).
			Int("cleaned", len(result.Cleaned)).
			Strs("needs_fallback", SortedSymbols(result.NeedsFallback)).
			Msg("validation pass flagged symbols")
	}
	return result
}

// normalize applies field defaults, numeric parsing, and the per-row reason
// checks in priority order: price_nan, price_nonpositive, out_of_bounds,
// bounds_eval_error. The first match wins.
func (v *Validator) normalize(rr RawRow, now time.Time) Row {
	row := Row{
		Symbol:   CanonicalSymbol(rr.Symbol),
		Currency: rr.Currency,
		Source:   rr.Source,
	}
	if row.Currency == "" {
		row.Currency = "USD"
	}

	row.Timestamp = normalizeTimestamp(rr.Timestamp, now)

	if price, ok := numeric.Parse(rr.Price); ok {
		row.Price = &price
	}
	if volume, ok := numeric.Parse(rr.Volume); ok {
		row.Volume = &volume
	}
	if change, ok := numeric.Parse(rr.Change24h); ok {
		row.Change24h = &change
	}

	switch {
	case row.Price == nil:
		row.InvalidReason = ReasonPriceNaN
	case *row.Price <= 0:
		row.InvalidReason = ReasonPriceNonpositive
	default:
		inBounds, err := v.bounds.Check(row.Symbol, *row.Price)
		if err != nil {
			row.InvalidReason = ReasonBoundsEvalError
		} else if !inBounds {
			row.InvalidReason = ReasonOutOfBounds
		}
	}
	return row
}

type collisionKey struct {
	ts    int64
	price float64
}

// markCrossSymbolCollisions flags groups of rows where more than one
// distinct symbol reports the same price at the same instant. It only fills
// empty reasons; rows already rejected keep their original reason.
func (v *Validator) markCrossSymbolCollisions(rows []Row) {
	groups := make(map[collisionKey][]int)
	for i, row := range rows {
		if !row.Valid() || row.Price == nil {
			continue
		}
		key := collisionKey{ts: row.Timestamp.UnixNano(), price: *row.Price}
		groups[key] = append(groups[key], i)
	}

	for _, idxs := range groups {
		if len(idxs) < 2 {
			continue
		}
		symbols := make(map[string]struct{}, len(idxs))
		for _, i := range idxs {
			symbols[rows[i].Symbol] = struct{}{}
		}
		if len(symbols) < 2 {
			continue
		}
		for _, i := range idxs {
			if rows[i].Valid() {
				rows[i].InvalidReason = ReasonCrossSymbolSamePrice
			}
		}
	}
}

// markStuckFeeds detects symbols whose last stuckWindow observed prices are
// all identical. The flag is recorded per symbol, not on individual rows:
// rows of a stuck symbol that individually passed stay in the clean set
// until the orchestrator applies the block.
func (v *Validator) markStuckFeeds(rows []Row, reasons map[string]Reason) map[string]struct{} {
	bySymbol := make(map[string][]int)
	for i, row := range rows {
		if row.Symbol == "" {
			continue
		}
		bySymbol[row.Symbol] = append(bySymbol[row.Symbol], i)
	}

	flagged := make(map[string]struct{})
	for symbol, idxs := range bySymbol {
		sort.SliceStable(idxs, func(a, b int) bool {
			return rows[idxs[a]].Timestamp.Before(rows[idxs[b]].Timestamp)
		})

		prices := make([]float64, 0, len(idxs))
		for _, i := range idxs {
			if rows[i].Price != nil {
				prices = append(prices, *rows[i].Price)
			}
		}
		if len(prices) < stuckWindow {
			continue
		}

		tail := prices[len(prices)-stuckWindow:]
		stuck := true
		for _, p := range tail[1:] {
			if p != tail[0] {
				stuck = false
				break
			}
		}
		if stuck {
			reasons[symbol] = ReasonConstantPrice
			flagged[symbol] = struct{}{}
			v.logger.Warn().Str("symbol", symbol).Float64("price", tail[0]).Msg("stuck feed detected")
		}
	}
	return flagged
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// normalizeTimestamp parses a reported timestamp into UTC. Strings are tried
// against common layouts, numbers are taken as Unix seconds. Anything
// unparseable falls back to the batch instant; a bad timestamp alone never
// invalidates a row.
func normalizeTimestamp(value any, now time.Time) time.Time {
	switch v := value.(type) {
	case nil:
		return now
	case time.Time:
		if v.IsZero() {
			return now
		}
		return v.UTC()
	case string:
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts.UTC()
			}
		}
		return now
	default:
		if secs, ok := numeric.Parse(value); ok && secs > 0 {
			return time.Unix(int64(secs), 0).UTC()
		}
		return now
	}
}
