// Package risk_test provides tests for the risk manager pipeline.
package risk_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantrel/autotrader/internal/market"
	"github.com/quantrel/autotrader/internal/risk"
	"github.com/quantrel/autotrader/pkg/types"
)

func buySignal(symbol string, strength, confidence float64) types.TradingSignal {
	return types.TradingSignal{
		Symbol:      symbol,
		Direction:   types.DirectionBuy,
		Strength:    strength,
		Confidence:  confidence,
		Source:      types.StrategyMomentum,
		GeneratedAt: time.Now(),
	}
}

func snapshotPrices(prices map[string][]float64) market.Snapshot {
	data := make(map[string]market.SymbolData, len(prices))
	for sym, ps := range prices {
		data[sym] = market.SymbolData{Symbol: sym, Prices: ps}
	}
	return market.Snapshot{Data: data, Condition: types.ConditionSideways, Timestamp: time.Now()}
}

// feed pushes a price path through UpdateModels one step at a time.
func feed(m *risk.Manager, symbol string, prices []float64) {
	for _, p := range prices {
		m.UpdateModels(snapshotPrices(map[string][]float64{symbol: {p}}))
	}
}

func TestDefaultAssessmentOnThinHistory(t *testing.T) {
	m := risk.NewManager(zap.NewNop(), risk.DefaultConfig())
	portfolio := types.NewPortfolio(decimal.NewFromInt(100000))

	out := m.AdjustSignals(
		[]types.TradingSignal{buySignal("AAPL", 0.8, 0.9)},
		portfolio,
		snapshotPrices(map[string][]float64{"AAPL": {100}}),
	)

	require.Len(t, out, 1)
	assert.True(t, out[0].Assessment.Default, "thin history should use the default assessment")
	assert.Equal(t, types.RiskMedium, out[0].Assessment.Level)
	assert.Equal(t, 50.0, out[0].Assessment.Score)
}

func TestAdjustmentFloor(t *testing.T) {
	m := risk.NewManager(zap.NewNop(), risk.DefaultConfig())
	portfolio := types.NewPortfolio(decimal.NewFromInt(100000))

	out := m.AdjustSignals(
		[]types.TradingSignal{buySignal("AAPL", 0.05, 0.05)},
		portfolio,
		snapshotPrices(map[string][]float64{"AAPL": {100}}),
	)

	require.Len(t, out, 1)
	assert.InDelta(t, 0.1, out[0].Adjusted.Strength, 1e-9, "strength should hit the floor")
	assert.InDelta(t, 0.1, out[0].Adjusted.Confidence, 1e-9, "confidence should hit the floor")
}

func TestStrengthNeverExceedsOne(t *testing.T) {
	m := risk.NewManager(zap.NewNop(), risk.DefaultConfig())
	portfolio := types.NewPortfolio(decimal.NewFromInt(100000))

	out := m.AdjustSignals(
		[]types.TradingSignal{buySignal("AAPL", 1.0, 1.0)},
		portfolio,
		snapshotPrices(map[string][]float64{"AAPL": {100}}),
	)

	require.Len(t, out, 1)
	assert.LessOrEqual(t, out[0].Adjusted.Strength, 1.0)
	assert.LessOrEqual(t, out[0].Adjusted.Confidence, 1.0)
}

func TestOverBudgetShrink(t *testing.T) {
	// Tiny risk budget so the portfolio VaR blows it and the gate halves
	// every surviving signal.
	m := risk.NewManager(zap.NewNop(), risk.Config{RiskBudget: 0.01, MaxPositionSize: 0.10})

	// Volatile price path for the held symbol: ~5% swings per step.
	prices := make([]float64, 0, 24)
	for i := 0; i < 12; i++ {
		prices = append(prices, 100, 95)
	}
	feed(m, "AAPL", prices)

	portfolio := types.NewPortfolio(decimal.NewFromInt(1000000))
	portfolio.Positions["AAPL"] = &types.Position{
		Symbol:    "AAPL",
		Quantity:  decimal.NewFromInt(1000),
		AvgPrice:  decimal.NewFromInt(100),
		CostBasis: decimal.NewFromInt(100000),
	}

	snap := snapshotPrices(map[string][]float64{"AAPL": {100}})
	out := m.AdjustSignals([]types.TradingSignal{buySignal("MSFT", 1.0, 1.0)}, portfolio, snap)

	require.Len(t, out, 1)
	assert.Contains(t, out[0].Rationale, "portfolio risk limit exceeded")

	// Default assessment path: medium risk 0.8, utilization over 0.8
	// applies 0.6, then the gate halves.
	assert.InDelta(t, 1.0*0.8*0.6*0.5, out[0].Adjusted.Strength, 1e-9)

	pr := m.LastPortfolioRisk()
	assert.Greater(t, pr.BudgetUtilization, 1.0)
}

func TestConcentrationRejection(t *testing.T) {
	m := risk.NewManager(zap.NewNop(), risk.DefaultConfig())

	// Enough quiet history for a real assessment.
	prices := make([]float64, 0, 40)
	p := 100.0
	for i := 0; i < 40; i++ {
		prices = append(prices, p)
		p *= 1.001
	}
	feed(m, "AAPL", prices)

	// The single position is half the book, well past the ceiling.
	portfolio := types.NewPortfolio(decimal.NewFromInt(100000))
	portfolio.Positions["AAPL"] = &types.Position{
		Symbol:    "AAPL",
		Quantity:  decimal.NewFromInt(1000),
		AvgPrice:  decimal.NewFromInt(100),
		CostBasis: decimal.NewFromInt(100000),
	}

	snap := snapshotPrices(map[string][]float64{"AAPL": {100}})
	out := m.AdjustSignals([]types.TradingSignal{buySignal("AAPL", 0.8, 0.9)}, portfolio, snap)

	assert.Empty(t, out, "over-concentrated signal should be rejected")
}

func TestAssessPortfolioEmpty(t *testing.T) {
	m := risk.NewManager(zap.NewNop(), risk.DefaultConfig())

	pr := m.AssessPortfolio(types.NewPortfolio(decimal.NewFromInt(100000)), snapshotPrices(nil))

	assert.Equal(t, 1.0, pr.Beta)
	assert.Equal(t, 1.0, pr.DiversificationRatio)
	assert.Equal(t, 1.0, pr.LeverageRatio)
	assert.Zero(t, pr.TotalVaR)
	assert.Zero(t, pr.BudgetUtilization)
}

func TestLevelForScore(t *testing.T) {
	tests := []struct {
		score float64
		want  types.RiskLevel
	}{
		{95, types.RiskVeryHigh},
		{80, types.RiskVeryHigh},
		{65, types.RiskHigh},
		{45, types.RiskMedium},
		{25, types.RiskLow},
		{5, types.RiskVeryLow},
	}
	for _, tt := range tests {
		if got := risk.LevelForScore(tt.score); got != tt.want {
			t.Errorf("LevelForScore(%f) = %s, want %s", tt.score, got, tt.want)
		}
	}
}
