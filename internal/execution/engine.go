// Package execution converts risk-adjusted signals into orders and
// simulates their execution across venues and algorithms.
package execution

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantrel/autotrader/internal/market"
	"github.com/quantrel/autotrader/pkg/types"
)

const (
	// Base sizing unit; order quantity = strength * baseQuantity,
	// scaled by risk level.
	baseQuantity = 1000
	minQuantity  = 10
	maxQuantity  = 10000

	// Patient orders are executed in staggered batches of this size.
	patientBatchSize = 3

	executionHistoryCap = 1000
)

// riskQuantityMultiplier scales order size down as risk rises.
var riskQuantityMultiplier = map[types.RiskLevel]float64{
	types.RiskVeryLow:  1.5,
	types.RiskLow:      1.2,
	types.RiskMedium:   1.0,
	types.RiskHigh:     0.7,
	types.RiskVeryHigh: 0.4,
}

// SymbolQuality tracks running execution-quality averages per symbol.
type SymbolQuality struct {
	TotalTrades     int     `json:"totalTrades"`
	TotalVolume     float64 `json:"totalVolume"`
	AvgSlippage     float64 `json:"avgSlippage"`
	AvgMarketImpact float64 `json:"avgMarketImpact"`
	FillRate        float64 `json:"fillRate"`
}

// Engine is the execution layer. ExecuteTrades never returns an error;
// per-order failures become synthetic REJECTED results.
type Engine struct {
	logger     *zap.Logger
	provider   market.Provider
	algorithms map[types.ExecStrategy]Algorithm

	mu      sync.RWMutex
	history []types.ExecutionResult
	quality map[string]*SymbolQuality
}

// NewEngine creates an execution engine backed by the given market
// provider.
func NewEngine(logger *zap.Logger, provider market.Provider) *Engine {
	return &Engine{
		logger:     logger.Named("execution"),
		provider:   provider,
		algorithms: Algorithms(),
		quality:    make(map[string]*SymbolQuality),
	}
}

// ExecuteTrades converts the signal set into orders, batches them, and
// executes every order. HOLD signals are skipped.
func (e *Engine) ExecuteTrades(ctx context.Context, signals []types.RiskAdjustedSignal, snap market.Snapshot) []types.ExecutionResult {
	orders := e.convertSignals(signals)
	if len(orders) == 0 {
		return nil
	}

	batches := batchOrders(orders)

	var results []types.ExecutionResult
	for _, batch := range batches {
		for _, order := range batch {
			results = append(results, e.executeOrder(ctx, order, snap))
		}
	}

	e.recordResults(results)
	e.logger.Info("executed trades",
		zap.Int("orders", len(orders)),
		zap.Int("batches", len(batches)))
	return results
}

// convertSignals turns actionable adjusted signals into order
// instructions. Urgency tracks confidence; stealth is its complement.
func (e *Engine) convertSignals(signals []types.RiskAdjustedSignal) []types.OrderInstruction {
	var orders []types.OrderInstruction
	for _, ra := range signals {
		sig := ra.Adjusted
		if sig.Direction != types.DirectionBuy && sig.Direction != types.DirectionSell {
			continue
		}

		strategy := chooseStrategy(sig, ra.Assessment)
		side := types.SideBuy
		if sig.Direction == types.DirectionSell {
			side = types.SideSell
		}

		orders = append(orders, types.OrderInstruction{
			ID:           uuid.NewString(),
			Symbol:       sig.Symbol,
			Side:         side,
			Quantity:     orderQuantity(sig, ra.Assessment),
			Type:         orderTypeFor(strategy),
			Price:        sig.TargetPrice,
			StopPrice:    sig.StopLoss,
			TimeInForce:  "day",
			Strategy:     strategy,
			Urgency:      sig.Confidence,
			StealthLevel: 1.0 - sig.Confidence,
			Metadata: map[string]any{
				"strategy_source":   string(sig.Source),
				"risk_level":        ra.Assessment.Level.String(),
				"original_strength": ra.Original.Strength,
			},
		})
	}
	return orders
}

// orderQuantity sizes an order from signal strength and the risk level,
// clamped to the engine's hard bounds.
func orderQuantity(sig types.TradingSignal, assessment types.RiskAssessment) decimal.Decimal {
	mult, ok := riskQuantityMultiplier[assessment.Level]
	if !ok {
		mult = 1.0
	}
	qty := sig.Strength * baseQuantity * mult
	qty = math.Max(minQuantity, math.Min(qty, maxQuantity))
	return decimal.NewFromFloat(qty)
}

// chooseStrategy is the execution decision table.
func chooseStrategy(sig types.TradingSignal, assessment types.RiskAssessment) types.ExecStrategy {
	if sig.Confidence > 0.8 {
		return types.ExecAggressive
	}
	if assessment.Level >= types.RiskHigh {
		return types.ExecStealth
	}
	if sig.Strength > 0.8 {
		return types.ExecVWAP
	}
	return types.ExecOpportunistic
}

func orderTypeFor(strategy types.ExecStrategy) types.OrderType {
	switch strategy {
	case types.ExecAggressive:
		return types.OrderMarket
	case types.ExecPassive:
		return types.OrderLimit
	case types.ExecTWAP:
		return types.OrderTWAP
	case types.ExecVWAP:
		return types.OrderVWAP
	case types.ExecIceberg:
		return types.OrderIceberg
	default:
		return types.OrderLimit
	}
}

// batchOrders groups orders for dispatch: urgent first as one batch,
// normal orders grouped per symbol, patient orders chunked small.
func batchOrders(orders []types.OrderInstruction) [][]types.OrderInstruction {
	var urgent, normal, patient []types.OrderInstruction
	for _, o := range orders {
		switch {
		case o.Urgency > 0.8:
			urgent = append(urgent, o)
		case o.Urgency < 0.3:
			patient = append(patient, o)
		default:
			normal = append(normal, o)
		}
	}

	var batches [][]types.OrderInstruction
	if len(urgent) > 0 {
		batches = append(batches, urgent)
	}

	bySymbol := make(map[string][]types.OrderInstruction)
	var symbols []string
	for _, o := range normal {
		if _, ok := bySymbol[o.Symbol]; !ok {
			symbols = append(symbols, o.Symbol)
		}
		bySymbol[o.Symbol] = append(bySymbol[o.Symbol], o)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		batches = append(batches, bySymbol[sym])
	}

	for i := 0; i < len(patient); i += patientBatchSize {
		end := i + patientBatchSize
		if end > len(patient) {
			end = len(patient)
		}
		batches = append(batches, patient[i:end])
	}
	return batches
}

// executeOrder routes one order to its venue and algorithm. Any failure
// produces a synthetic REJECTED result instead of an error.
func (e *Engine) executeOrder(ctx context.Context, order types.OrderInstruction, snap market.Snapshot) (result types.ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("order execution panic",
				zap.String("symbol", order.Symbol),
				zap.Any("panic", r))
			result = rejectedResult(order, "execution panic")
		}
	}()

	cond := e.conditionsFor(ctx, order.Symbol, snap)
	venue := SelectVenue(order, cond)

	algo, ok := e.algorithms[order.Strategy]
	if !ok {
		e.logger.Warn("unknown execution strategy",
			zap.String("strategy", string(order.Strategy)))
		return rejectedResult(order, "unknown execution strategy")
	}
	return algo(order, cond, venue)
}

// conditionsFor assembles live conditions from the snapshot and a fresh
// quote, falling back to conservative defaults.
func (e *Engine) conditionsFor(ctx context.Context, symbol string, snap market.Snapshot) Conditions {
	data, ok := snap.Data[symbol]
	if !ok {
		return DefaultConditions(symbol)
	}

	quote := data.Quote
	if e.provider != nil {
		if q, err := e.provider.Quote(ctx, symbol); err == nil {
			quote = q
		}
	}
	if quote.Bid.IsZero() && quote.Ask.IsZero() {
		return DefaultConditions(symbol)
	}

	var volume float64
	if len(data.Volumes) > 0 {
		volume = data.Volumes[len(data.Volumes)-1]
	}
	vol := perPeriodVol(data.Returns())

	return Conditions{
		Symbol:         symbol,
		Bid:            quote.Bid,
		Ask:            quote.Ask,
		Last:           quote.Last,
		Volume:         volume,
		Volatility:     vol,
		ImpactEstimate: 0.001,
		LiquidityScore: 0.8,
		Timestamp:      quote.Timestamp,
	}
}

func perPeriodVol(returns []float64) float64 {
	if len(returns) < 2 {
		return 0.02
	}
	var m float64
	for _, r := range returns {
		m += r
	}
	m /= float64(len(returns))
	var ss float64
	for _, r := range returns {
		ss += (r - m) * (r - m)
	}
	return math.Sqrt(ss / float64(len(returns)-1))
}

func rejectedResult(order types.OrderInstruction, reason string) types.ExecutionResult {
	return types.ExecutionResult{
		OrderID:       "failed_" + uuid.NewString(),
		Symbol:        order.Symbol,
		Side:          order.Side,
		RequestedQty:  order.Quantity,
		ExecutedQty:   decimal.Zero,
		AvgPrice:      decimal.Zero,
		TotalCost:     decimal.Zero,
		Commission:    decimal.Zero,
		Venue:         types.VenuePrimaryExchange,
		Strategy:      order.Strategy,
		Status:        types.StatusRejected,
		FailureReason: reason,
		ExecutedAt:    time.Now(),
	}
}

// recordResults appends to the bounded history and folds filled results
// into the per-symbol quality averages.
func (e *Engine) recordResults(results []types.ExecutionResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range results {
		if r.Status != types.StatusFilled {
			continue
		}
		q, ok := e.quality[r.Symbol]
		if !ok {
			q = &SymbolQuality{}
			e.quality[r.Symbol] = q
		}
		q.TotalTrades++
		n := float64(q.TotalTrades)
		q.TotalVolume += r.ExecutedQty.InexactFloat64()
		q.AvgSlippage = (q.AvgSlippage*(n-1) + r.Slippage) / n
		q.AvgMarketImpact = (q.AvgMarketImpact*(n-1) + r.MarketImpact) / n

		fillRate := 1.0
		if !r.RequestedQty.IsZero() {
			fillRate = r.ExecutedQty.Div(r.RequestedQty).InexactFloat64()
		}
		q.FillRate = (q.FillRate*(n-1) + fillRate) / n
	}

	e.history = append(e.history, results...)
	if len(e.history) > executionHistoryCap {
		e.history = e.history[len(e.history)-executionHistoryCap:]
	}
}

// Performance returns quality metrics for one symbol, or all symbols
// when symbol is empty.
func (e *Engine) Performance(symbol string) map[string]SymbolQuality {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]SymbolQuality)
	if symbol != "" {
		if q, ok := e.quality[symbol]; ok {
			out[symbol] = *q
		}
		return out
	}
	for sym, q := range e.quality {
		out[sym] = *q
	}
	return out
}

// History returns a copy of the bounded execution history.
func (e *Engine) History() []types.ExecutionResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]types.ExecutionResult(nil), e.history...)
}
