// Package controller owns the trading state machine and the cycle loop
// that sequences market data, strategies, risk, and execution.
package controller

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantrel/autotrader/internal/alert"
	"github.com/quantrel/autotrader/internal/events"
	"github.com/quantrel/autotrader/internal/execution"
	"github.com/quantrel/autotrader/internal/market"
	"github.com/quantrel/autotrader/internal/metrics"
	"github.com/quantrel/autotrader/internal/orchestrator"
	"github.com/quantrel/autotrader/internal/risk"
	"github.com/quantrel/autotrader/internal/store"
	"github.com/quantrel/autotrader/pkg/types"
)

const (
	// Sleep after a failed health check or a cycle error.
	errorBackoff = 60 * time.Second
	// Sleep when a cycle produces no actionable signals.
	idleSleep = 30 * time.Second

	decisionHistoryCap = 1000

	// Positions whose unrealized loss exceeds this fraction of notional
	// are force-closed during an emergency stop.
	emergencyClosureLoss = 0.10
)

// Controller wires the pipeline together and exclusively owns the
// Portfolio and SystemMetrics. Children never call back into it.
type Controller struct {
	logger   *zap.Logger
	config   types.Config
	provider market.Provider
	orch     *orchestrator.Orchestrator
	riskMgr  *risk.Manager
	engine   *execution.Engine
	store    store.Store
	alerts   alert.Sink
	bus      *events.Bus
	metrics  *metrics.Metrics

	mu             sync.RWMutex
	state          types.SystemState
	condition      types.MarketCondition
	portfolio      *types.Portfolio
	sysMetrics     types.SystemMetrics
	initialCapital decimal.Decimal
	dailyPnL       decimal.Decimal
	tradesToday    int
	tradingDay     time.Time
	lastRebalance  time.Time
	emergency      bool
	running        bool

	decisions []types.TradingDecision

	// Test hook; real time when nil.
	now func() time.Time
}

// Options carries the collaborators the controller does not construct
// itself.
type Options struct {
	Provider market.Provider
	Store    store.Store
	Alerts   alert.Sink
	Bus      *events.Bus
	Metrics  *metrics.Metrics
}

// New creates a controller in the INITIALIZING state.
func New(logger *zap.Logger, config types.Config, opts Options) *Controller {
	c := &Controller{
		logger:         logger.Named("controller"),
		config:         config,
		provider:       opts.Provider,
		orch:           orchestrator.New(logger, orchestrator.Config{}),
		riskMgr:        risk.NewManager(logger, risk.Config{RiskBudget: config.MaxPortfolioRisk, MaxPositionSize: config.MaxPositionSize}),
		engine:         execution.NewEngine(logger, opts.Provider),
		store:          opts.Store,
		alerts:         opts.Alerts,
		bus:            opts.Bus,
		metrics:        opts.Metrics,
		state:          types.StateInitializing,
		condition:      types.ConditionSideways,
		portfolio:      types.NewPortfolio(config.InitialCapital),
		initialCapital: config.InitialCapital,
		tradingDay:     truncateDay(time.Now()),
		now:            time.Now,
	}
	c.sysMetrics.PortfolioValue = config.InitialCapital.InexactFloat64()
	c.sysMetrics.CashBalance = config.InitialCapital.InexactFloat64()
	return c
}

// Run initializes the system and drives the trading loop until the
// context is cancelled. An initialization failure transitions to
// EMERGENCY_STOP and is returned.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.initialize(ctx); err != nil {
		c.setState(types.StateEmergencyStop, "initialization failed")
		return fmt.Errorf("initialize: %w", err)
	}
	c.setState(types.StateActive, "startup complete")
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()

	c.logger.Info("trading loop started",
		zap.String("mode", string(c.config.Mode)),
		zap.Duration("interval", c.config.Mode.LoopInterval()))

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		state := c.State()
		if state != types.StateActive {
			if state == types.StateEmergencyStop || state == types.StateShutdown {
				return nil
			}
			// Paused: wait for resume.
			if !sleepCtx(ctx, idleSleep) {
				return ctx.Err()
			}
			continue
		}

		sleep, err := c.RunCycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("cycle failed", zap.Error(err))
			if c.metrics != nil {
				c.metrics.CycleErrors.Inc()
			}
			c.publish(&events.CycleErrorEvent{
				BaseEvent: events.NewBaseEvent(events.EventTypeCycleError),
				Error:     err.Error(),
			})
			sleep = errorBackoff
		}
		if !sleepCtx(ctx, sleep) {
			return ctx.Err()
		}
	}
}

// RunCycle executes one full trading cycle and returns how long to sleep
// before the next.
func (c *Controller) RunCycle(ctx context.Context) (time.Duration, error) {
	start := c.now()
	defer func() {
		if c.metrics != nil {
			c.metrics.CycleDuration.Observe(c.now().Sub(start).Seconds())
		}
	}()

	c.rollTradingDay()

	if !c.healthCheck(ctx) {
		return errorBackoff, nil
	}

	snap, err := c.provider.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("market snapshot: %w", err)
	}
	c.mu.Lock()
	c.condition = snap.Condition
	portfolio := c.portfolio.Clone()
	c.mu.Unlock()

	signals := c.orch.GenerateSignals(ctx, snap, portfolio)
	if len(signals) == 0 {
		return idleSleep, nil
	}

	adjusted := c.riskMgr.AdjustSignals(signals, portfolio, snap)
	filtered := c.filterSignals(adjusted, snap)
	if len(filtered) == 0 {
		return idleSleep, nil
	}

	results := c.engine.ExecuteTrades(ctx, filtered, snap)

	c.applyResults(results, snap)
	c.appendDecision(filtered, results, snap)

	if c.shouldRebalance() {
		c.rebalance(ctx, snap)
	}

	c.persist()

	if c.metrics != nil {
		c.metrics.CyclesTotal.Inc()
	}
	return c.config.Mode.LoopInterval(), nil
}

func (c *Controller) initialize(ctx context.Context) error {
	if c.provider == nil {
		return fmt.Errorf("no market provider configured")
	}
	if _, err := c.provider.Snapshot(ctx); err != nil {
		return fmt.Errorf("market provider unavailable: %w", err)
	}
	c.loadCheckpoint()
	return nil
}

// healthCheck gates every cycle. Order matters: the emergency flag wins,
// then operational limits, then the trading calendar.
func (c *Controller) healthCheck(ctx context.Context) bool {
	c.mu.RLock()
	emergency := c.emergency
	dailyPnL := c.dailyPnL
	trades := c.tradesToday
	c.mu.RUnlock()

	if emergency {
		return false
	}

	maxLoss := c.initialCapital.Mul(decimal.NewFromFloat(c.config.MaxDailyLoss))
	if dailyPnL.Abs().GreaterThan(maxLoss) {
		c.logger.Warn("daily loss limit exceeded",
			zap.String("daily_pnl", dailyPnL.String()),
			zap.String("limit", maxLoss.String()))
		c.Pause()
		return false
	}

	if trades >= c.config.MaxDailyTrades {
		c.logger.Info("daily trade limit reached", zap.Int("trades", trades))
		return false
	}

	value := c.portfolioValue(market.Snapshot{})
	drawdown := c.initialCapital.Sub(value).Div(c.initialCapital).InexactFloat64()
	if drawdown > c.config.EmergencyStopLoss {
		c.EmergencyStop(ctx, fmt.Sprintf("drawdown limit exceeded: %.2f%%", drawdown*100))
		return false
	}

	if c.config.TradingHoursOnly && !isMarketHours(c.now()) {
		return false
	}
	return true
}

// filterSignals applies the system-level policy filters on top of the
// risk-adjusted set.
func (c *Controller) filterSignals(signals []types.RiskAdjustedSignal, snap market.Snapshot) []types.RiskAdjustedSignal {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []types.RiskAdjustedSignal
	for _, ra := range signals {
		sig := ra.Adjusted
		if sig.Confidence < c.config.MinConfidence {
			c.countRejected()
			continue
		}
		if !c.assetEnabled(sig.Symbol) {
			c.countRejected()
			continue
		}
		if !c.sideAllowed(sig) {
			c.countRejected()
			continue
		}
		if !c.positionWithinLimit(sig.Symbol, snap) {
			c.countRejected()
			continue
		}
		if !c.correlationWithinLimit(sig.Symbol) {
			c.countRejected()
			continue
		}
		out = append(out, ra)
	}
	return out
}

func (c *Controller) countRejected() {
	if c.metrics != nil {
		c.metrics.TradesRejected.Inc()
	}
}

// sideAllowed blocks SELL signals that would open or extend a short
// position when short selling is disabled. Caller holds at least a
// read lock.
func (c *Controller) sideAllowed(sig types.TradingSignal) bool {
	if sig.Direction != types.DirectionSell || c.config.EnableShortSelling {
		return true
	}
	pos, ok := c.portfolio.Positions[sig.Symbol]
	return ok && pos.Quantity.IsPositive()
}

func (c *Controller) assetEnabled(symbol string) bool {
	if strings.HasSuffix(symbol, "USD") || strings.HasPrefix(symbol, "BTC") || strings.HasPrefix(symbol, "ETH") {
		return c.config.EnableCrypto
	}
	return true
}

// positionWithinLimit caps any single position at the configured
// fraction of total portfolio value. Caller holds at least a read lock.
func (c *Controller) positionWithinLimit(symbol string, snap market.Snapshot) bool {
	pos, ok := c.portfolio.Positions[symbol]
	if !ok {
		return true
	}
	price := pos.AvgPrice
	if d, hasData := snap.Data[symbol]; hasData && len(d.Prices) > 0 {
		price = decimal.NewFromFloat(d.Prices[len(d.Prices)-1])
	}
	positionValue := pos.Quantity.Abs().Mul(price)
	maxValue := c.portfolioValueLocked(snap).Mul(decimal.NewFromFloat(c.config.MaxPositionSize))
	return positionValue.LessThanOrEqual(maxValue)
}

// correlationWithinLimit is a naive prefix-based proxy for correlated
// exposure. Caller holds at least a read lock.
func (c *Controller) correlationWithinLimit(symbol string) bool {
	if len(c.portfolio.Positions) < 2 {
		return true
	}
	prefix := symbol
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	similar := 0
	for held := range c.portfolio.Positions {
		if strings.HasPrefix(held, prefix) {
			similar++
		}
	}
	return similar < c.config.MaxSimilarAssets
}

// applyResults folds execution results into the Portfolio, cash, and
// SystemMetrics in a single pass. This is the only place they mutate.
func (c *Controller) applyResults(results []types.ExecutionResult, snap market.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range results {
		if !r.Filled() || r.ExecutedQty.IsZero() {
			continue
		}

		pos, ok := c.portfolio.Positions[r.Symbol]
		if !ok {
			pos = &types.Position{Symbol: r.Symbol}
			c.portfolio.Positions[r.Symbol] = pos
		}

		if r.Side == types.SideBuy {
			newQty := pos.Quantity.Add(r.ExecutedQty)
			newCost := pos.CostBasis.Add(r.TotalCost)
			pos.Quantity = newQty
			pos.CostBasis = newCost
			if !newQty.IsZero() {
				pos.AvgPrice = newCost.Div(newQty)
			} else {
				pos.AvgPrice = decimal.Zero
				pos.CostBasis = decimal.Zero
			}
			c.portfolio.Cash = c.portfolio.Cash.Sub(r.TotalCost).Sub(r.Commission)
		} else {
			realized := r.AvgPrice.Sub(pos.AvgPrice).Mul(r.ExecutedQty)
			pos.RealizedPnL = pos.RealizedPnL.Add(realized)

			pos.Quantity = pos.Quantity.Sub(r.ExecutedQty)
			if pos.Quantity.IsZero() {
				pos.CostBasis = decimal.Zero
				pos.AvgPrice = decimal.Zero
			} else {
				pos.CostBasis = pos.AvgPrice.Mul(pos.Quantity)
			}
			c.portfolio.Cash = c.portfolio.Cash.Add(r.TotalCost).Sub(r.Commission)

			c.dailyPnL = c.dailyPnL.Add(realized)
			c.sysMetrics.TotalPnL += realized.InexactFloat64()
			if realized.IsPositive() {
				c.sysMetrics.SuccessfulTrades++
			}
		}

		c.sysMetrics.TotalTrades++
		c.tradesToday++
		if c.metrics != nil {
			c.metrics.TradesTotal.Inc()
		}

		c.publish(&events.ExecutionRecordEvent{
			BaseEvent: events.NewBaseEvent(events.EventTypeExecution),
			Result:    r,
		})
	}

	// Drop flat positions.
	for sym, pos := range c.portfolio.Positions {
		if pos.Quantity.IsZero() {
			delete(c.portfolio.Positions, sym)
		}
	}
	c.portfolio.UpdatedAt = c.now()

	c.refreshUnrealizedLocked(snap)
	c.refreshMetricsLocked(snap)
}

// refreshMetricsLocked recomputes the derived metrics. Caller holds the
// write lock.
func (c *Controller) refreshMetricsLocked(snap market.Snapshot) {
	if c.sysMetrics.TotalTrades > 0 {
		c.sysMetrics.WinRate = float64(c.sysMetrics.SuccessfulTrades) / float64(c.sysMetrics.TotalTrades)
	}

	value := c.portfolioValueLocked(snap)
	c.sysMetrics.PortfolioValue = value.InexactFloat64()
	c.sysMetrics.CashBalance = c.portfolio.Cash.InexactFloat64()
	c.sysMetrics.DailyPnL = c.dailyPnL.InexactFloat64()

	drawdown := c.initialCapital.Sub(value).Div(c.initialCapital).InexactFloat64()
	if drawdown > c.sysMetrics.MaxDrawdown {
		c.sysMetrics.MaxDrawdown = drawdown
	}

	pr := c.riskMgr.LastPortfolioRisk()
	c.sysMetrics.RiskScore = pr.BudgetUtilization * 100
	c.sysMetrics.LastUpdated = c.now()

	if c.metrics != nil {
		c.metrics.PortfolioValue.Set(c.sysMetrics.PortfolioValue)
		c.metrics.CashBalance.Set(c.sysMetrics.CashBalance)
		c.metrics.DailyPnL.Set(c.sysMetrics.DailyPnL)
		c.metrics.RiskScore.Set(c.sysMetrics.RiskScore)
		c.metrics.BudgetUtilization.Set(pr.BudgetUtilization)
	}
}

// portfolioValue is cash plus the marked value of every position.
func (c *Controller) portfolioValue(snap market.Snapshot) decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.portfolioValueLocked(snap)
}

// portfolioValueLocked marks the portfolio against the snapshot. Caller
// holds at least a read lock; it never mutates.
func (c *Controller) portfolioValueLocked(snap market.Snapshot) decimal.Decimal {
	total := c.portfolio.Cash
	for sym, pos := range c.portfolio.Positions {
		price := pos.AvgPrice
		if d, ok := snap.Data[sym]; ok && len(d.Prices) > 0 {
			price = decimal.NewFromFloat(d.Prices[len(d.Prices)-1])
		}
		total = total.Add(pos.Quantity.Mul(price))
	}
	return total
}

// refreshUnrealizedLocked updates per-position unrealized P&L. Caller
// holds the write lock.
func (c *Controller) refreshUnrealizedLocked(snap market.Snapshot) {
	for sym, pos := range c.portfolio.Positions {
		price := pos.AvgPrice
		if d, ok := snap.Data[sym]; ok && len(d.Prices) > 0 {
			price = decimal.NewFromFloat(d.Prices[len(d.Prices)-1])
		}
		pos.UnrealizedPnL = price.Sub(pos.AvgPrice).Mul(pos.Quantity)
	}
}

func (c *Controller) appendDecision(filtered []types.RiskAdjustedSignal, results []types.ExecutionResult, snap market.Snapshot) {
	var confSum, scoreSum float64
	signals := make([]types.TradingSignal, 0, len(filtered))
	assessments := make([]types.RiskAssessment, 0, len(filtered))
	for _, ra := range filtered {
		signals = append(signals, ra.Adjusted)
		assessments = append(assessments, ra.Assessment)
		confSum += ra.Adjusted.Confidence
		scoreSum += ra.Assessment.Score
	}
	n := float64(len(filtered))

	c.mu.Lock()
	decision := types.TradingDecision{
		ID:          uuid.NewString(),
		Timestamp:   c.now(),
		Signals:     signals,
		Assessments: assessments,
		Results:     results,
		State:       c.state,
		Condition:   snap.Condition,
		Confidence:  confSum / n,
		RiskScore:   scoreSum / n,
	}
	c.decisions = append(c.decisions, decision)
	if len(c.decisions) > decisionHistoryCap {
		c.decisions = c.decisions[len(c.decisions)-decisionHistoryCap:]
	}
	c.mu.Unlock()

	c.publish(&events.DecisionEvent{
		BaseEvent: events.NewBaseEvent(events.EventTypeDecision),
		Decision:  decision,
	})
}

func (c *Controller) shouldRebalance() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastRebalance.IsZero() {
		return true
	}
	elapsed := c.now().Sub(c.lastRebalance)
	switch c.config.RebalanceFrequency {
	case "daily":
		return elapsed >= 24*time.Hour
	case "weekly":
		return elapsed >= 7*24*time.Hour
	case "monthly":
		return elapsed >= 30*24*time.Hour
	}
	return false
}

// rebalance trims positions whose weight exceeds the per-position cap
// back down to it.
func (c *Controller) rebalance(ctx context.Context, snap market.Snapshot) {
	c.mu.Lock()
	total := c.portfolioValueLocked(snap)
	limit := total.Mul(decimal.NewFromFloat(c.config.MaxPositionSize))

	var trims []types.RiskAdjustedSignal
	for sym, pos := range c.portfolio.Positions {
		price := pos.AvgPrice
		if d, ok := snap.Data[sym]; ok && len(d.Prices) > 0 {
			price = decimal.NewFromFloat(d.Prices[len(d.Prices)-1])
		}
		value := pos.Quantity.Abs().Mul(price)
		if value.LessThanOrEqual(limit) || price.IsZero() {
			continue
		}

		dir := types.DirectionSell
		if pos.Quantity.IsNegative() {
			dir = types.DirectionBuy
		}
		sig := types.TradingSignal{
			Symbol:      sym,
			Direction:   dir,
			Strength:    1.0,
			Confidence:  1.0,
			Source:      types.StrategyMLEnsemble,
			Metadata:    map[string]any{"reason": "rebalance"},
			GeneratedAt: c.now(),
		}
		trims = append(trims, types.RiskAdjustedSignal{
			Original:       sig,
			Adjusted:       sig,
			Assessment:     risk.DefaultAssessment(sym),
			SizeAdjustment: 1.0,
			Rationale:      "rebalance trim",
			Timestamp:      c.now(),
		})
	}
	c.lastRebalance = c.now()
	c.mu.Unlock()

	if len(trims) == 0 {
		return
	}
	c.logger.Info("rebalancing portfolio", zap.Int("trims", len(trims)))
	results := c.engine.ExecuteTrades(ctx, trims, snap)
	c.applyResults(results, snap)
}

// Pause suspends signal generation; the loop idles until Resume.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == types.StateActive {
		c.transitionLocked(types.StatePaused, "paused")
	}
}

// Resume re-activates a paused controller.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == types.StatePaused {
		c.transitionLocked(types.StateActive, "resumed")
	}
}

// Stop transitions to SHUTDOWN, optionally liquidates, and persists.
func (c *Controller) Stop(ctx context.Context) {
	c.setState(types.StateShutdown, "stop requested")
	if c.config.CloseOnStop {
		c.closeAllPositions(ctx)
	}
	c.persist()
	c.logger.Info("controller stopped")
}

// EmergencyStop halts trading immediately. It is idempotent, safe to
// call concurrently with a running cycle, and never returns an error.
// Pending orders are cancelled and positions with an unrealized loss
// over 10 percent of notional are force-closed.
func (c *Controller) EmergencyStop(ctx context.Context, reason string) {
	c.mu.Lock()
	if c.emergency {
		c.mu.Unlock()
		return
	}
	c.emergency = true
	c.transitionLocked(types.StateEmergencyStop, reason)
	value := c.portfolioValueLocked(market.Snapshot{})
	cash := c.portfolio.Cash
	dailyPnL := c.dailyPnL
	c.mu.Unlock()

	c.logger.Error("EMERGENCY STOP", zap.String("reason", reason))

	c.cancelAllOrders()
	c.emergencyClosure(ctx)

	payload := alert.Payload{
		Reason:         reason,
		Timestamp:      c.now(),
		PortfolioValue: value.InexactFloat64(),
		Cash:           cash.InexactFloat64(),
		DailyPnL:       dailyPnL.InexactFloat64(),
	}
	if c.alerts != nil {
		if err := c.alerts.Notify(ctx, "critical", payload); err != nil {
			c.logger.Error("emergency alert failed", zap.Error(err))
		}
	}
	c.publish(&events.EmergencyEvent{
		BaseEvent:      events.NewBaseEvent(events.EventTypeEmergency),
		Reason:         reason,
		PortfolioValue: payload.PortfolioValue,
		DailyPnL:       payload.DailyPnL,
	})
	c.persist()
}

// cancelAllOrders is a stub against the simulated venue surface; live
// broker adapters hook in here.
func (c *Controller) cancelAllOrders() {
	c.logger.Info("cancelling all pending orders")
}

// emergencyClosure force-closes positions bleeding past the loss
// threshold.
func (c *Controller) emergencyClosure(ctx context.Context) {
	snap, err := c.provider.Snapshot(ctx)
	if err != nil {
		c.logger.Warn("no market data for emergency closure", zap.Error(err))
		snap = market.Snapshot{}
	}

	c.mu.Lock()
	c.refreshUnrealizedLocked(snap)
	var closes []types.RiskAdjustedSignal
	for sym, pos := range c.portfolio.Positions {
		price := pos.AvgPrice
		if d, ok := snap.Data[sym]; ok && len(d.Prices) > 0 {
			price = decimal.NewFromFloat(d.Prices[len(d.Prices)-1])
		}
		notional := pos.Quantity.Abs().Mul(price)
		threshold := notional.Mul(decimal.NewFromFloat(emergencyClosureLoss)).Neg()
		if pos.UnrealizedPnL.GreaterThanOrEqual(threshold) {
			continue
		}

		c.logger.Warn("emergency closing position", zap.String("symbol", sym))
		dir := types.DirectionSell
		if pos.Quantity.IsNegative() {
			dir = types.DirectionBuy
		}
		sig := types.TradingSignal{
			Symbol:      sym,
			Direction:   dir,
			Strength:    1.0,
			Confidence:  1.0,
			Source:      types.StrategyMLEnsemble,
			Metadata:    map[string]any{"reason": "emergency_closure"},
			GeneratedAt: c.now(),
		}
		closes = append(closes, types.RiskAdjustedSignal{
			Original: sig, Adjusted: sig,
			Assessment:     risk.DefaultAssessment(sym),
			SizeAdjustment: 1.0,
			Rationale:      "emergency closure",
			Timestamp:      c.now(),
		})
	}
	c.mu.Unlock()

	if len(closes) > 0 {
		results := c.engine.ExecuteTrades(ctx, closes, snap)
		c.applyResults(results, snap)
	}
}

// closeAllPositions liquidates everything at shutdown.
func (c *Controller) closeAllPositions(ctx context.Context) {
	snap, err := c.provider.Snapshot(ctx)
	if err != nil {
		c.logger.Warn("no market data for liquidation", zap.Error(err))
		return
	}

	c.mu.RLock()
	var closes []types.RiskAdjustedSignal
	for sym, pos := range c.portfolio.Positions {
		if pos.Quantity.IsZero() {
			continue
		}
		dir := types.DirectionSell
		if pos.Quantity.IsNegative() {
			dir = types.DirectionBuy
		}
		sig := types.TradingSignal{
			Symbol:      sym,
			Direction:   dir,
			Strength:    1.0,
			Confidence:  1.0,
			Source:      types.StrategyMLEnsemble,
			Metadata:    map[string]any{"reason": "system_shutdown"},
			GeneratedAt: c.now(),
		}
		closes = append(closes, types.RiskAdjustedSignal{
			Original: sig, Adjusted: sig,
			Assessment:     risk.DefaultAssessment(sym),
			SizeAdjustment: 1.0,
			Rationale:      "position closure",
			Timestamp:      c.now(),
		})
	}
	c.mu.RUnlock()

	if len(closes) > 0 {
		results := c.engine.ExecuteTrades(ctx, closes, snap)
		c.applyResults(results, snap)
	}
}

// Status is a read-only snapshot that never blocks the loop.
type Status struct {
	State           types.SystemState     `json:"state"`
	TradingMode     types.TradingMode     `json:"tradingMode"`
	MarketCondition types.MarketCondition `json:"marketCondition"`
	Running         bool                  `json:"running"`
	EmergencyFlag   bool                  `json:"emergencyFlag"`
	Metrics         types.SystemMetrics   `json:"metrics"`
	Positions       int                   `json:"positions"`
	CashBalance     float64               `json:"cashBalance"`
	DailyPnL        float64               `json:"dailyPnl"`
	TradesToday     int                   `json:"tradesToday"`
	Timestamp       time.Time             `json:"timestamp"`
}

// Status returns the current system status.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{
		State:           c.state,
		TradingMode:     c.config.Mode,
		MarketCondition: c.condition,
		Running:         c.running,
		EmergencyFlag:   c.emergency,
		Metrics:         c.sysMetrics,
		Positions:       len(c.portfolio.Positions),
		CashBalance:     c.portfolio.Cash.InexactFloat64(),
		DailyPnL:        c.dailyPnL.InexactFloat64(),
		TradesToday:     c.tradesToday,
		Timestamp:       c.now(),
	}
}

// State returns the current system state.
func (c *Controller) State() types.SystemState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Portfolio returns a deep copy of the current portfolio.
func (c *Controller) Portfolio() *types.Portfolio {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.portfolio.Clone()
}

// Decisions returns a copy of the bounded decision history.
func (c *Controller) Decisions() []types.TradingDecision {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]types.TradingDecision(nil), c.decisions...)
}

func (c *Controller) setState(to types.SystemState, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transitionLocked(to, reason)
}

func (c *Controller) transitionLocked(to types.SystemState, reason string) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.logger.Info("state transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", reason))
	if c.metrics != nil {
		c.metrics.SetState(to)
	}
	c.publish(&events.StateChangeEvent{
		BaseEvent: events.NewBaseEvent(events.EventTypeStateChange),
		From:      from,
		To:        to,
		Reason:    reason,
	})
}

func (c *Controller) publish(e events.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}

// checkpoint is the persisted controller state.
type checkpoint struct {
	Portfolio   *types.Portfolio    `json:"portfolio"`
	Metrics     types.SystemMetrics `json:"metrics"`
	DailyPnL    decimal.Decimal     `json:"dailyPnl"`
	TradesToday int                 `json:"tradesToday"`
	Timestamp   time.Time           `json:"timestamp"`
}

// persist writes the checkpoint best-effort; losing the latest one is
// acceptable.
func (c *Controller) persist() {
	if c.store == nil {
		return
	}
	c.mu.RLock()
	cp := checkpoint{
		Portfolio:   c.portfolio.Clone(),
		Metrics:     c.sysMetrics,
		DailyPnL:    c.dailyPnL,
		TradesToday: c.tradesToday,
		Timestamp:   c.now(),
	}
	c.mu.RUnlock()

	if err := c.store.Set(store.CheckpointKey, cp); err != nil {
		c.logger.Warn("checkpoint write failed", zap.Error(err))
	}
}

func (c *Controller) loadCheckpoint() {
	if c.store == nil {
		return
	}
	var cp checkpoint
	switch err := c.store.Get(store.CheckpointKey, &cp); err {
	case nil:
	case store.ErrNotFound:
		return
	default:
		c.logger.Warn("checkpoint read failed", zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cp.Portfolio != nil {
		c.portfolio = cp.Portfolio
		if c.portfolio.Positions == nil {
			c.portfolio.Positions = make(map[string]*types.Position)
		}
	}
	c.sysMetrics = cp.Metrics
	if truncateDay(cp.Timestamp).Equal(truncateDay(c.now())) {
		c.dailyPnL = cp.DailyPnL
		c.tradesToday = cp.TradesToday
	}
	c.logger.Info("checkpoint restored",
		zap.Int("positions", len(c.portfolio.Positions)),
		zap.String("cash", c.portfolio.Cash.String()))
}

// rollTradingDay resets the daily counters at the day boundary.
func (c *Controller) rollTradingDay() {
	c.mu.Lock()
	defer c.mu.Unlock()
	today := truncateDay(c.now())
	if today.After(c.tradingDay) {
		c.tradingDay = today
		c.dailyPnL = decimal.Zero
		c.tradesToday = 0
		c.logger.Info("trading day rolled", zap.Time("day", today))
	}
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// isMarketHours is the 9:30-16:00 weekday window.
func isMarketHours(now time.Time) bool {
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false
	}
	open := time.Date(now.Year(), now.Month(), now.Day(), 9, 30, 0, 0, now.Location())
	closeAt := time.Date(now.Year(), now.Month(), now.Day(), 16, 0, 0, 0, now.Location())
	return !now.Before(open) && !now.After(closeAt)
}

// sleepCtx sleeps for d or until ctx is cancelled; returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
