package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantrel/autotrader/internal/alert"
	"github.com/quantrel/autotrader/internal/market"
	"github.com/quantrel/autotrader/internal/store"
	"github.com/quantrel/autotrader/pkg/types"
)

// countingSink records every alert it receives.
type countingSink struct {
	mu       sync.Mutex
	payloads []alert.Payload
}

func (s *countingSink) Notify(ctx context.Context, severity string, payload alert.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

func newTestController(t *testing.T, cfg types.Config) (*Controller, *countingSink) {
	t.Helper()
	sink := &countingSink{}
	c := New(zap.NewNop(), cfg, Options{
		Provider: market.NewSimulator(zap.NewNop(), market.DefaultSimulatorConfig(cfg.Symbols)),
		Store:    store.NewMemoryStore(),
		Alerts:   sink,
	})
	return c, sink
}

func fillResult(symbol string, side types.OrderSide, qty, price float64) types.ExecutionResult {
	q := decimal.NewFromFloat(qty)
	p := decimal.NewFromFloat(price)
	cost := q.Mul(p)
	return types.ExecutionResult{
		OrderID:      "test",
		Symbol:       symbol,
		Side:         side,
		RequestedQty: q,
		ExecutedQty:  q,
		AvgPrice:     p,
		TotalCost:    cost,
		Commission:   cost.Mul(decimal.NewFromFloat(0.001)),
		Venue:        types.VenuePrimaryExchange,
		Strategy:     types.ExecAggressive,
		Status:       types.StatusFilled,
		ExecutedAt:   time.Now(),
	}
}

func TestApplyResultsBuyThenSell(t *testing.T) {
	c, _ := newTestController(t, types.DefaultConfig())
	snap := market.Snapshot{}

	c.applyResults([]types.ExecutionResult{fillResult("AAPL", types.SideBuy, 100, 50)}, snap)

	pos := c.portfolio.Positions["AAPL"]
	if pos == nil {
		t.Fatal("Position not created")
	}
	if !pos.Quantity.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Quantity = %s, want 100", pos.Quantity)
	}
	if !pos.AvgPrice.Equal(decimal.NewFromInt(50)) {
		t.Errorf("AvgPrice = %s, want 50", pos.AvgPrice)
	}
	if !pos.AvgPrice.Mul(pos.Quantity).Equal(pos.CostBasis) {
		t.Errorf("Cost basis inconsistent: %s * %s != %s", pos.AvgPrice, pos.Quantity, pos.CostBasis)
	}

	// 1,000,000 - 5,000 - 5 commission
	wantCash := decimal.NewFromInt(994995)
	if !c.portfolio.Cash.Equal(wantCash) {
		t.Errorf("Cash = %s, want %s", c.portfolio.Cash, wantCash)
	}

	// Sell 40 at a 10 profit per share.
	c.applyResults([]types.ExecutionResult{fillResult("AAPL", types.SideSell, 40, 60)}, snap)

	pos = c.portfolio.Positions["AAPL"]
	if !pos.Quantity.Equal(decimal.NewFromInt(60)) {
		t.Errorf("Quantity after sell = %s, want 60", pos.Quantity)
	}
	if !pos.AvgPrice.Mul(pos.Quantity).Equal(pos.CostBasis) {
		t.Errorf("Cost basis inconsistent after sell: %s * %s != %s", pos.AvgPrice, pos.Quantity, pos.CostBasis)
	}
	if !pos.RealizedPnL.Equal(decimal.NewFromInt(400)) {
		t.Errorf("RealizedPnL = %s, want 400", pos.RealizedPnL)
	}
	if !c.dailyPnL.Equal(decimal.NewFromInt(400)) {
		t.Errorf("Daily PnL = %s, want 400", c.dailyPnL)
	}
	if c.sysMetrics.SuccessfulTrades != 1 {
		t.Errorf("SuccessfulTrades = %d, want 1", c.sysMetrics.SuccessfulTrades)
	}

	// Close out the rest; flat positions are dropped.
	c.applyResults([]types.ExecutionResult{fillResult("AAPL", types.SideSell, 60, 55)}, snap)
	if _, ok := c.portfolio.Positions["AAPL"]; ok {
		t.Error("Flat position not removed")
	}
	if c.sysMetrics.TotalTrades != 3 {
		t.Errorf("TotalTrades = %d, want 3", c.sysMetrics.TotalTrades)
	}
	if c.tradesToday != 3 {
		t.Errorf("tradesToday = %d, want 3", c.tradesToday)
	}
}

func TestApplyResultsNoOp(t *testing.T) {
	c, _ := newTestController(t, types.DefaultConfig())
	before := c.portfolio.Clone()

	c.applyResults(nil, market.Snapshot{})
	c.applyResults([]types.ExecutionResult{
		{Symbol: "AAPL", Side: types.SideBuy, Status: types.StatusRejected},
	}, market.Snapshot{})

	if !c.portfolio.Cash.Equal(before.Cash) {
		t.Errorf("Cash changed on no-op: %s -> %s", before.Cash, c.portfolio.Cash)
	}
	if len(c.portfolio.Positions) != len(before.Positions) {
		t.Errorf("Positions changed on no-op")
	}
	if c.sysMetrics.TotalTrades != 0 {
		t.Errorf("TotalTrades = %d, want 0", c.sysMetrics.TotalTrades)
	}
}

func TestDailyLossPausesTrading(t *testing.T) {
	c, _ := newTestController(t, types.DefaultConfig())
	c.state = types.StateActive

	// Loss past 5% of the 1M initial capital.
	c.dailyPnL = decimal.NewFromInt(-60000)

	if c.healthCheck(context.Background()) {
		t.Fatal("Health check passed despite daily loss breach")
	}
	if c.State() != types.StatePaused {
		t.Errorf("State = %s, want PAUSED", c.State())
	}
}

func TestDrawdownTriggersEmergencyStopOnce(t *testing.T) {
	c, sink := newTestController(t, types.DefaultConfig())
	c.state = types.StateActive

	// 15% drawdown, past the 10% emergency threshold.
	c.portfolio.Cash = decimal.NewFromInt(850000)

	if c.healthCheck(context.Background()) {
		t.Fatal("Health check passed despite drawdown breach")
	}
	if c.State() != types.StateEmergencyStop {
		t.Fatalf("State = %s, want EMERGENCY_STOP", c.State())
	}
	if sink.count() != 1 {
		t.Fatalf("Alert count = %d, want 1", sink.count())
	}

	// The next check observes the flag and must not re-alert.
	if c.healthCheck(context.Background()) {
		t.Fatal("Health check passed with emergency flag set")
	}
	if sink.count() != 1 {
		t.Errorf("Duplicate emergency alert: count = %d", sink.count())
	}
}

func TestEmergencyStopIdempotent(t *testing.T) {
	c, sink := newTestController(t, types.DefaultConfig())
	c.state = types.StateActive

	c.EmergencyStop(context.Background(), "manual")
	c.EmergencyStop(context.Background(), "manual again")

	if c.State() != types.StateEmergencyStop {
		t.Errorf("State = %s, want EMERGENCY_STOP", c.State())
	}
	if sink.count() != 1 {
		t.Errorf("Alert count = %d, want 1", sink.count())
	}
}

func TestTradeLimitBlocksCycle(t *testing.T) {
	cfg := types.DefaultConfig()
	c, _ := newTestController(t, cfg)
	c.state = types.StateActive
	c.tradesToday = cfg.MaxDailyTrades

	if c.healthCheck(context.Background()) {
		t.Fatal("Health check passed at the daily trade limit")
	}
	if c.State() != types.StateActive {
		t.Errorf("Trade limit should not change state, got %s", c.State())
	}
}

func makeAdjusted(symbol string, confidence float64) types.RiskAdjustedSignal {
	sig := types.TradingSignal{
		Symbol:     symbol,
		Direction:  types.DirectionBuy,
		Strength:   0.7,
		Confidence: confidence,
		Source:     types.StrategyMLEnsemble,
	}
	return types.RiskAdjustedSignal{Original: sig, Adjusted: sig, SizeAdjustment: 1.0}
}

func TestFilterSignalsConfidenceFloor(t *testing.T) {
	c, _ := newTestController(t, types.DefaultConfig())

	out := c.filterSignals([]types.RiskAdjustedSignal{
		makeAdjusted("AAPL", 0.9),
		makeAdjusted("MSFT", 0.5),
	}, market.Snapshot{})

	if len(out) != 1 || out[0].Adjusted.Symbol != "AAPL" {
		t.Errorf("Expected only the confident signal to survive, got %d", len(out))
	}
}

func TestFilterSignalsCryptoToggle(t *testing.T) {
	cfg := types.DefaultConfig()
	cfg.EnableCrypto = false
	c, _ := newTestController(t, cfg)

	out := c.filterSignals([]types.RiskAdjustedSignal{
		makeAdjusted("BTCUSD", 0.9),
		makeAdjusted("ETHUSD", 0.9),
		makeAdjusted("AAPL", 0.9),
	}, market.Snapshot{})

	if len(out) != 1 || out[0].Adjusted.Symbol != "AAPL" {
		t.Errorf("Crypto signals should be filtered when disabled, got %d survivors", len(out))
	}
}

func TestFilterSignalsShortSellingToggle(t *testing.T) {
	cfg := types.DefaultConfig()
	cfg.EnableShortSelling = false
	c, _ := newTestController(t, cfg)

	c.portfolio.Positions["AAPL"] = &types.Position{
		Symbol:    "AAPL",
		Quantity:  decimal.NewFromInt(100),
		AvgPrice:  decimal.NewFromInt(50),
		CostBasis: decimal.NewFromInt(5000),
	}

	sell := makeAdjusted("MSFT", 0.9)
	sell.Adjusted.Direction = types.DirectionSell
	closeOut := makeAdjusted("AAPL", 0.9)
	closeOut.Adjusted.Direction = types.DirectionSell

	out := c.filterSignals([]types.RiskAdjustedSignal{sell, closeOut}, market.Snapshot{})

	if len(out) != 1 || out[0].Adjusted.Symbol != "AAPL" {
		t.Errorf("Naked short should be filtered when shorting disabled, got %d survivors", len(out))
	}
}

func TestFilterSignalsCorrelationCap(t *testing.T) {
	c, _ := newTestController(t, types.DefaultConfig())

	for _, sym := range []string{"ABCX", "ABCY", "ABCZ"} {
		c.portfolio.Positions[sym] = &types.Position{
			Symbol:    sym,
			Quantity:  decimal.NewFromInt(1),
			AvgPrice:  decimal.NewFromInt(10),
			CostBasis: decimal.NewFromInt(10),
		}
	}

	out := c.filterSignals([]types.RiskAdjustedSignal{
		makeAdjusted("ABCW", 0.9),
		makeAdjusted("MSFT", 0.9),
	}, market.Snapshot{})

	if len(out) != 1 || out[0].Adjusted.Symbol != "MSFT" {
		t.Errorf("Correlated symbol should be filtered, got %d survivors", len(out))
	}
}

func TestPauseResume(t *testing.T) {
	c, _ := newTestController(t, types.DefaultConfig())
	c.state = types.StateActive

	c.Pause()
	if c.State() != types.StatePaused {
		t.Fatalf("State = %s, want PAUSED", c.State())
	}

	c.Resume()
	if c.State() != types.StateActive {
		t.Fatalf("State = %s, want ACTIVE", c.State())
	}

	// Resume is a no-op outside PAUSED.
	c.state = types.StateEmergencyStop
	c.Resume()
	if c.State() != types.StateEmergencyStop {
		t.Errorf("Resume should not leave EMERGENCY_STOP, got %s", c.State())
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	cfg := types.DefaultConfig()
	mem := store.NewMemoryStore()

	c := New(zap.NewNop(), cfg, Options{
		Provider: market.NewSimulator(zap.NewNop(), market.DefaultSimulatorConfig(cfg.Symbols)),
		Store:    mem,
	})
	c.applyResults([]types.ExecutionResult{fillResult("AAPL", types.SideBuy, 100, 50)}, market.Snapshot{})
	c.persist()

	restored := New(zap.NewNop(), cfg, Options{
		Provider: market.NewSimulator(zap.NewNop(), market.DefaultSimulatorConfig(cfg.Symbols)),
		Store:    mem,
	})
	restored.loadCheckpoint()

	if !restored.portfolio.Cash.Equal(c.portfolio.Cash) {
		t.Errorf("Cash not restored: %s vs %s", restored.portfolio.Cash, c.portfolio.Cash)
	}
	pos := restored.portfolio.Positions["AAPL"]
	if pos == nil {
		t.Fatal("Position not restored")
	}
	if !pos.Quantity.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Restored quantity = %s, want 100", pos.Quantity)
	}
	if restored.tradesToday != c.tradesToday {
		t.Errorf("tradesToday not restored: %d vs %d", restored.tradesToday, c.tradesToday)
	}
}

func TestStatusNonBlocking(t *testing.T) {
	c, _ := newTestController(t, types.DefaultConfig())

	status := c.Status()
	if status.State != types.StateInitializing {
		t.Errorf("State = %s, want INITIALIZING", status.State)
	}
	if status.TradingMode != types.ModeModerate {
		t.Errorf("Mode = %s, want moderate", status.TradingMode)
	}
	if status.CashBalance != 1000000 {
		t.Errorf("CashBalance = %f, want 1000000", status.CashBalance)
	}
}

func TestRunCycleProducesDecision(t *testing.T) {
	cfg := types.DefaultConfig()
	cfg.MinConfidence = 0 // let weak consensus through
	c, _ := newTestController(t, cfg)
	c.state = types.StateActive

	for i := 0; i < 10; i++ {
		if _, err := c.RunCycle(context.Background()); err != nil {
			t.Fatalf("Cycle %d failed: %v", i, err)
		}
	}

	// Cycles either idle or record decisions; either way the loop state
	// must stay coherent.
	if c.State() != types.StateActive && c.State() != types.StatePaused {
		t.Errorf("Unexpected state after cycles: %s", c.State())
	}
	for _, d := range c.Decisions() {
		if len(d.Signals) == 0 {
			t.Error("Decision recorded without signals")
		}
		if d.Confidence < 0 || d.Confidence > 1 {
			t.Errorf("Decision confidence out of range: %f", d.Confidence)
		}
	}
}
