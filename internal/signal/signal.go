// Package signal turns clean price observations into simple trading
// strategies. It enforces the data-quality policy: symbols blocked by the
// pipeline never produce a trade recommendation.
package signal

import (
	"math"

	"coinpipe/internal/pipeline"
)

// BlockedReason marks signals suppressed by the data-quality policy.
const BlockedReason = "data_quality_blocked"

// riskMultipliers maps risk preference to the stop-loss/take-profit band
// around the current price.
var riskMultipliers = map[string]float64{
	"low":    0.01,
	"medium": 0.03,
	"high":   0.05,
}

// Signal is a per-symbol strategy suggestion. When Blocked is set, every
// price field is zero and Reason explains the suppression.
type Signal struct {
	Coin         string  `json:"coin"`
	CurrentPrice float64 `json:"current_price,omitempty"`
	StopLoss     float64 `json:"stop_loss,omitempty"`
	TakeProfit   float64 `json:"take_profit,omitempty"`
	RiskLevel    string  `json:"risk_level,omitempty"`
	Blocked      bool    `json:"blocked,omitempty"`
	Reason       string  `json:"reason,omitempty"`
}

// Generate produces one signal per symbol seen in the pipeline result.
// For unblocked symbols the latest clean price anchors a risk-adjusted
// stop-loss/take-profit band; blocked symbols yield the suppression
// sentinel instead.
func Generate(result pipeline.Result, riskLevel string) []Signal {
	multiplier, ok := riskMultipliers[riskLevel]
	if !ok {
		multiplier = riskMultipliers["medium"]
	}

	latest := make(map[string]pipeline.Row)
	order := make([]string, 0)
	for _, row := range result.Cleaned {
		if row.Price == nil {
			continue
		}
		prev, seen := latest[row.Symbol]
		if !seen {
			order = append(order, row.Symbol)
		}
		if !seen || row.Timestamp.After(prev.Timestamp) {
			latest[row.Symbol] = row
		}
	}

	signals := make([]Signal, 0, len(order)+len(result.Blocked))
	for _, symbol := range order {
		if _, blocked := result.Blocked[symbol]; blocked {
			continue
		}
		price := *latest[symbol].Price
		signals = append(signals, Signal{
			Coin:         symbol,
			CurrentPrice: price,
			StopLoss:     round4(price * (1 - multiplier)),
			TakeProfit:   round4(price * (1 + multiplier)),
			RiskLevel:    riskLevel,
		})
	}

	for _, symbol := range pipeline.SortedSymbols(result.Blocked) {
		signals = append(signals, Signal{
			Coin:    symbol,
			Blocked: true,
			Reason:  BlockedReason,
		})
	}
	return signals
}

func round4(f float64) float64 {
	return math.Round(f*1e4) / 1e4
}
