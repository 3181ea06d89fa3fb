// Package pipeline implements the trading-data validation and fallback
// substitution core: per-row sanity checks, batch-relative anomaly
// detection, and cross-source replacement of untrusted observations.
package pipeline

import (
	"sort"
	"strings"
	"time"
)

// Reason classifies why an observation was rejected.
type Reason string

const (
	// ReasonPriceNaN marks a missing or unparseable price.
	ReasonPriceNaN Reason = "price_nan"
	// ReasonPriceNonpositive marks a zero or negative price.
	ReasonPriceNonpositive Reason = "price_nonpositive"
	// ReasonOutOfBounds marks a price outside the symbol's sanity range.
	ReasonOutOfBounds Reason = "out_of_bounds"
	// ReasonBoundsEvalError marks a bounds check that could not be evaluated.
	ReasonBoundsEvalError Reason = "bounds_eval_error"
	// ReasonCrossSymbolSamePrice marks distinct symbols reporting an
	// identical price at the same instant.
	ReasonCrossSymbolSamePrice Reason = "x_symbol_same_price"
	// ReasonConstantPrice is the symbol-level stuck-feed signal: the last
	// five observed prices are all identical.
	ReasonConstantPrice Reason = "constant_price_last_5"
)

// stuckPrefix identifies stuck-feed reasons when computing the blocked set.
const stuckPrefix = "constant_price"

// RawRow is one reported price sample as delivered by a scraper or API
// client. Price, Volume, Change24h and Timestamp are deliberately loose:
// sources report currency-prefixed strings, suffixed magnitudes, raw
// numbers, or nothing at all.
type RawRow struct {
	Symbol    string `json:"symbol"`
	Price     any    `json:"price"`
	Volume    any    `json:"volume,omitempty"`
	Change24h any    `json:"change_24h,omitempty"`
	Currency  string `json:"currency,omitempty"`
	Timestamp any    `json:"timestamp,omitempty"`
	Source    string `json:"source,omitempty"`
}

// Row is a RawRow after normalization. A Row with an empty InvalidReason
// passed every check; once a reason is set it is never cleared, a corrected
// observation is a new Row.
type Row struct {
	Symbol        string    `json:"symbol"`
	Price         *float64  `json:"price"`
	Volume        *float64  `json:"volume,omitempty"`
	Change24h     *float64  `json:"change_24h,omitempty"`
	Currency      string    `json:"currency"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source,omitempty"`
	InvalidReason Reason    `json:"invalid_reason,omitempty"`
}

// Valid reports whether the row carries no rejection reason.
func (r Row) Valid() bool {
	return r.InvalidReason == ""
}

// Raw converts a normalized row back into the loose input shape, so pipeline
// output can be fed through validation again.
func (r Row) Raw() RawRow {
	raw := RawRow{
		Symbol:    r.Symbol,
		Currency:  r.Currency,
		Timestamp: r.Timestamp.UTC().Format(time.RFC3339Nano),
		Source:    r.Source,
	}
	if r.Price != nil {
		raw.Price = *r.Price
	}
	if r.Volume != nil {
		raw.Volume = *r.Volume
	}
	if r.Change24h != nil {
		raw.Change24h = *r.Change24h
	}
	return raw
}

// ValidationResult is the output of one validation pass.
type ValidationResult struct {
	// Rows holds every normalized row, rejected ones included, in input
	// order, so callers can audit why an observation was excluded.
	Rows []Row
	// Cleaned holds only the rows with no invalid reason, in input order.
	Cleaned []Row
	// NeedsFallback is the set of symbols that contributed at least one
	// invalid row, plus symbols flagged by the stuck-feed pass.
	NeedsFallback map[string]struct{}
	// Reasons maps symbol to the stuck-feed reason. It carries only the
	// batch-relative symbol-level signal, not per-row reasons.
	Reasons map[string]Reason
}

// Result is the final pipeline output.
type Result struct {
	Cleaned []Row
	// Blocked holds symbols with no trustworthy price this cycle.
	// Downstream signal generation must skip them.
	Blocked map[string]struct{}
	Reasons map[string]Reason
}

// CanonicalSymbol normalizes a ticker for identity comparisons.
func CanonicalSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// SortedSymbols flattens a symbol set into a deterministic slice.
func SortedSymbols(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
