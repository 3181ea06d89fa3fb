package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinpipe/internal/pipeline"
)

func row(symbol string, price float64, ts time.Time) pipeline.Row {
	return pipeline.Row{Symbol: symbol, Price: &price, Timestamp: ts}
}

func TestGenerateStrategies(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	result := pipeline.Result{
		Cleaned: []pipeline.Row{
			row("BTC", 49000, base),
			row("BTC", 50000, base.Add(time.Minute)), // latest wins
			row("ETH", 3000, base),
		},
		Blocked: map[string]struct{}{},
	}

	signals := Generate(result, "medium")
	require.Len(t, signals, 2)

	assert.Equal(t, "BTC", signals[0].Coin)
	assert.Equal(t, 50000.0, signals[0].CurrentPrice)
	assert.Equal(t, 48500.0, signals[0].StopLoss)
	assert.Equal(t, 51500.0, signals[0].TakeProfit)
	assert.Equal(t, "medium", signals[0].RiskLevel)

	assert.Equal(t, "ETH", signals[1].Coin)
	assert.Equal(t, 2910.0, signals[1].StopLoss)
	assert.Equal(t, 3090.0, signals[1].TakeProfit)
}

func TestGenerateRiskLevels(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	result := pipeline.Result{Cleaned: []pipeline.Row{row("BTC", 100, base)}}

	low := Generate(result, "low")
	require.Len(t, low, 1)
	assert.Equal(t, 99.0, low[0].StopLoss)
	assert.Equal(t, 101.0, low[0].TakeProfit)

	high := Generate(result, "high")
	assert.Equal(t, 95.0, high[0].StopLoss)
	assert.Equal(t, 105.0, high[0].TakeProfit)

	// Unknown levels fall back to medium.
	unknown := Generate(result, "extreme")
	assert.Equal(t, 97.0, unknown[0].StopLoss)
}

func TestGenerateBlockedSentinel(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	result := pipeline.Result{
		Cleaned: []pipeline.Row{
			row("BTC", 50000, base),
			// A stuck-feed symbol can have clean rows yet stay blocked.
			row("DOGE", 0.08, base),
		},
		Blocked: map[string]struct{}{
			"DOGE": {},
			"XRP":  {},
		},
	}

	signals := Generate(result, "medium")
	require.Len(t, signals, 3)

	assert.Equal(t, "BTC", signals[0].Coin)
	assert.False(t, signals[0].Blocked)

	byCoin := make(map[string]Signal)
	for _, s := range signals {
		byCoin[s.Coin] = s
	}
	for _, symbol := range []string{"DOGE", "XRP"} {
		s := byCoin[symbol]
		assert.True(t, s.Blocked, symbol)
		assert.Equal(t, BlockedReason, s.Reason)
		assert.Zero(t, s.CurrentPrice)
	}
}
