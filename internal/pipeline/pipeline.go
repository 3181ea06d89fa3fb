package pipeline

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// Pipeline combines validation and fallback substitution: validate the
// batch, attempt replacements for flagged symbols, and emit the final
// (cleaned, blocked, reasons) triple.
type Pipeline struct {
	validator *Validator
	resolver  *Resolver
	prefer    string
	logger    zerolog.Logger
}

// New assembles a pipeline. resolver may be nil, in which case flagged
// symbols go straight to blocked. prefer names the provider tried first
// during fallback.
func New(validator *Validator, resolver *Resolver, prefer string, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		validator: validator,
		resolver:  resolver,
		prefer:    prefer,
		logger:    logger.With().Str("component", "pipeline").Logger(),
	}
}

// ProcessTradingRows runs one full pipeline pass. A symbol that cannot be
// validated or repaired ends up in Blocked; that is a normal terminal
// state, not an error. Stuck-feed symbols are blocked unconditionally,
// even when fallback produced a differing valid price for them.
func (p *Pipeline) ProcessTradingRows(ctx context.Context, raw []RawRow) Result {
	vr := p.validator.ValidatePrices(raw)

	cleaned := make([]Row, len(vr.Cleaned))
	copy(cleaned, vr.Cleaned)

	if len(vr.NeedsFallback) > 0 && p.resolver != nil {
		fallbackRows := p.resolver.FallbackPrices(ctx, vr.NeedsFallback, p.prefer)
		if len(fallbackRows) > 0 {
			// Fallback rows go through validation again; they arrive with
			// normalized currency and timestamp, so this is chiefly a
			// re-application of the positivity and bounds checks.
			rawAgain := make([]RawRow, 0, len(fallbackRows))
			for _, row := range fallbackRows {
				rawAgain = append(rawAgain, row.Raw())
			}
			revalidated := p.validator.ValidatePrices(rawAgain)
			cleaned = append(cleaned, revalidated.Cleaned...)
		}
	}

	present := make(map[string]struct{}, len(cleaned))
	for _, row := range cleaned {
		present[row.Symbol] = struct{}{}
	}

	blocked := make(map[string]struct{})
	for symbol := range vr.NeedsFallback {
		if _, ok := present[symbol]; !ok {
			blocked[symbol] = struct{}{}
		}
	}
	for symbol, reason := range vr.Reasons {
		if strings.HasPrefix(string(reason), stuckPrefix) {
			blocked[symbol] = struct{}{}
		}
	}

	if len(blocked) > 0 {
		p.logger.Info().Strs("blocked", SortedSymbols(blocked)).Msg("symbols blocked this cycle")
	}

	return Result{Cleaned: cleaned, Blocked: blocked, Reasons: vr.Reasons}
}
