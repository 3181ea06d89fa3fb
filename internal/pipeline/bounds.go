package pipeline

import "errors"

// ErrMalformedSymbol indicates a bounds lookup on an empty or unusable
// symbol; it surfaces as the bounds_eval_error reason.
var ErrMalformedSymbol = errors.New("pipeline: malformed symbol")

// Range is an inclusive sanity band for a symbol's price. Low must be
// positive and strictly below High.
type Range struct {
	Low  float64
	High float64
}

// defaultRanges covers the symbols the collector tracks by default. Prices
// outside these bands are treated as scraper noise rather than market moves.
var defaultRanges = map[string]Range{
	"BTC":  {Low: 10, High: 2_000_000},
	"ETH":  {Low: 1, High: 100_000},
	"SOL":  {Low: 0.1, High: 20_000},
	"XRP":  {Low: 0.001, High: 1_000},
	"DOGE": {Low: 0.0001, High: 100},
	"ADA":  {Low: 0.001, High: 1_000},
	"BNB":  {Low: 0.1, High: 50_000},
	"DOT":  {Low: 0.01, High: 5_000},
	"LTC":  {Low: 0.1, High: 50_000},
	"LINK": {Low: 0.01, High: 5_000},
}

// wideRange applies to any symbol without an explicit entry.
var wideRange = Range{Low: 1e-9, High: 1e15}

// Bounds is an immutable per-symbol price sanity table. The zero value is
// not usable; construct with NewBounds.
type Bounds struct {
	ranges map[string]Range
	wide   Range
}

// NewBounds builds a bounds table from the built-in ranges with optional
// per-deployment overrides layered on top. Overrides with a non-positive
// low or an inverted band are ignored.
func NewBounds(overrides map[string]Range) *Bounds {
	ranges := make(map[string]Range, len(defaultRanges)+len(overrides))
	for symbol, r := range defaultRanges {
		ranges[symbol] = r
	}
	for symbol, r := range overrides {
		if r.Low <= 0 || r.Low >= r.High {
			continue
		}
		ranges[CanonicalSymbol(symbol)] = r
	}
	return &Bounds{ranges: ranges, wide: wideRange}
}

// Check reports whether price falls inside the symbol's sanity range,
// inclusive at both ends. Symbols without an entry use the wide default.
func (b *Bounds) Check(symbol string, price float64) (bool, error) {
	canonical := CanonicalSymbol(symbol)
	if canonical == "" {
		return false, ErrMalformedSymbol
	}
	r, ok := b.ranges[canonical]
	if !ok {
		r = b.wide
	}
	return r.Low <= price && price <= r.High, nil
}

// Range returns the effective band for a symbol.
func (b *Bounds) Range(symbol string) Range {
	if r, ok := b.ranges[CanonicalSymbol(symbol)]; ok {
		return r
	}
	return b.wide
}
