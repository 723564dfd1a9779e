// Package execution_test provides tests for order routing and the
// execution algorithms.
package execution_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantrel/autotrader/internal/execution"
	"github.com/quantrel/autotrader/internal/market"
	"github.com/quantrel/autotrader/internal/risk"
	"github.com/quantrel/autotrader/pkg/types"
)

func testSnapshot(symbol string, bid, ask float64) market.Snapshot {
	b := decimal.NewFromFloat(bid)
	a := decimal.NewFromFloat(ask)
	return market.Snapshot{
		Data: map[string]market.SymbolData{
			symbol: {
				Symbol:  symbol,
				Prices:  []float64{99, 100, 101, 100},
				Volumes: []float64{10000, 12000, 11000, 13000},
				Quote: market.Quote{
					Symbol:    symbol,
					Bid:       b,
					Ask:       a,
					Last:      b.Add(a).Div(decimal.NewFromInt(2)),
					Timestamp: time.Now(),
				},
			},
		},
		Condition: types.ConditionSideways,
		Timestamp: time.Now(),
	}
}

func adjustedSignal(symbol string, dir types.Direction, strength, confidence float64) types.RiskAdjustedSignal {
	sig := types.TradingSignal{
		Symbol:      symbol,
		Direction:   dir,
		Strength:    strength,
		Confidence:  confidence,
		Source:      types.StrategyMLEnsemble,
		GeneratedAt: time.Now(),
	}
	return types.RiskAdjustedSignal{
		Original:       sig,
		Adjusted:       sig,
		Assessment:     risk.DefaultAssessment(symbol),
		SizeAdjustment: 1.0,
		Timestamp:      time.Now(),
	}
}

func TestHighConfidenceBuyFillsAtAsk(t *testing.T) {
	engine := execution.NewEngine(zap.NewNop(), nil)
	snap := testSnapshot("AAPL", 99.95, 100.05)

	results := engine.ExecuteTrades(context.Background(),
		[]types.RiskAdjustedSignal{adjustedSignal("AAPL", types.DirectionBuy, 0.8, 0.9)},
		snap)

	require.Len(t, results, 1)
	r := results[0]

	assert.Equal(t, types.ExecAggressive, r.Strategy)
	assert.Equal(t, types.StatusFilled, r.Status)
	assert.True(t, r.ExecutedQty.Equal(r.RequestedQty),
		"aggressive order should fill completely: executed=%s requested=%s", r.ExecutedQty, r.RequestedQty)
	assert.True(t, r.AvgPrice.Equal(decimal.NewFromFloat(100.05)),
		"aggressive buy should pay the ask, got %s", r.AvgPrice)

	// strength 0.8 * base 1000 * medium-risk 1.0
	assert.True(t, r.RequestedQty.Equal(decimal.NewFromInt(800)),
		"unexpected order size %s", r.RequestedQty)
}

func TestExecutionCompleteness(t *testing.T) {
	engine := execution.NewEngine(zap.NewNop(), nil)
	snap := testSnapshot("AAPL", 99.95, 100.05)

	signals := []types.RiskAdjustedSignal{
		adjustedSignal("AAPL", types.DirectionBuy, 0.5, 0.9),
		adjustedSignal("AAPL", types.DirectionSell, 0.5, 0.5),
		adjustedSignal("AAPL", types.DirectionHold, 0.5, 0.9),
		adjustedSignal("AAPL", types.DirectionBuy, 0.5, 0.2),
	}

	results := engine.ExecuteTrades(context.Background(), signals, snap)

	// Every actionable signal yields exactly one result; HOLD is skipped.
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.ExecutedQty.LessThanOrEqual(r.RequestedQty),
			"executed %s exceeds requested %s", r.ExecutedQty, r.RequestedQty)
	}
}

func TestAlgorithmsNeverOverfill(t *testing.T) {
	order := types.OrderInstruction{
		ID:       "test",
		Symbol:   "AAPL",
		Side:     types.SideBuy,
		Quantity: decimal.NewFromInt(5000),
		Urgency:  0.5,
	}
	cond := execution.DefaultConditions("AAPL")

	for strategy, algo := range execution.Algorithms() {
		r := algo(order, cond, types.VenuePrimaryExchange)
		assert.True(t, r.ExecutedQty.LessThanOrEqual(order.Quantity),
			"%s overfilled: %s > %s", strategy, r.ExecutedQty, order.Quantity)
		assert.False(t, r.ExecutedQty.IsNegative(), "%s executed negative quantity", strategy)
		if r.Filled() {
			assert.False(t, r.AvgPrice.IsZero(), "%s filled at zero price", strategy)
			assert.True(t, r.TotalCost.GreaterThan(decimal.Zero), "%s filled at zero cost", strategy)
		}
	}
}

func TestVenueSelectionDeterministic(t *testing.T) {
	order := types.OrderInstruction{
		Symbol:       "AAPL",
		Side:         types.SideBuy,
		Quantity:     decimal.NewFromInt(500),
		Urgency:      0.5,
		StealthLevel: 0.5,
	}
	cond := execution.DefaultConditions("AAPL")

	first := execution.SelectVenue(order, cond)
	for i := 0; i < 10; i++ {
		if v := execution.SelectVenue(order, cond); v != first {
			t.Fatalf("Venue selection not deterministic: %s vs %s", v, first)
		}
	}
}

func TestVenueSelectionPrefersDarkPoolForStealth(t *testing.T) {
	order := types.OrderInstruction{
		Symbol:       "AAPL",
		Side:         types.SideBuy,
		Quantity:     decimal.NewFromInt(8000),
		Urgency:      0.1,
		StealthLevel: 0.9,
	}
	cond := execution.DefaultConditions("AAPL")

	venue := execution.SelectVenue(order, cond)
	assert.Equal(t, types.VenueDarkPool, venue)
}

func TestStealthRoutesToDarkPool(t *testing.T) {
	engine := execution.NewEngine(zap.NewNop(), nil)
	snap := testSnapshot("AAPL", 99.95, 100.05)

	// High risk level forces the stealth algorithm.
	ra := adjustedSignal("AAPL", types.DirectionBuy, 0.5, 0.5)
	ra.Assessment.Level = types.RiskVeryHigh

	results := engine.ExecuteTrades(context.Background(), []types.RiskAdjustedSignal{ra}, snap)

	require.Len(t, results, 1)
	assert.Equal(t, types.ExecStealth, results[0].Strategy)
	assert.Equal(t, types.VenueDarkPool, results[0].Venue)
}

func TestQualityTracking(t *testing.T) {
	engine := execution.NewEngine(zap.NewNop(), nil)
	snap := testSnapshot("AAPL", 99.95, 100.05)

	engine.ExecuteTrades(context.Background(),
		[]types.RiskAdjustedSignal{adjustedSignal("AAPL", types.DirectionBuy, 0.8, 0.9)},
		snap)

	perf := engine.Performance("AAPL")
	require.Contains(t, perf, "AAPL")
	q := perf["AAPL"]
	assert.Equal(t, 1, q.TotalTrades)
	assert.InDelta(t, 1.0, q.FillRate, 1e-9)

	history := engine.History()
	assert.Len(t, history, 1)
}
