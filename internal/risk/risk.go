// Package risk implements the two-level risk manager: portfolio-wide
// assessment once per cycle, then per-signal adjustment and a final
// portfolio gate.
package risk

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantrel/autotrader/internal/market"
	"github.com/quantrel/autotrader/pkg/types"
)

const (
	// One trading year of daily return history per symbol.
	returnHistoryCap = 252
	// Minimum samples before a real assessment replaces the default.
	minAssessmentSamples = 30

	// Risk score component weights.
	varWeight       = 0.30
	volWeight       = 0.25
	betaWeight      = 0.15
	drawdownWeight  = 0.15
	liquidityWeight = 0.15

	// Concentration above this rejects the signal outright.
	concentrationCeiling = 0.20
	// Utilization above one triggers the uniform portfolio shrink.
	overBudgetShrink = 0.5

	adjustmentFloor = 0.1
)

// Config configures the risk manager.
type Config struct {
	// RiskBudget is the daily portfolio VaR limit as a return fraction.
	RiskBudget float64 `json:"riskBudget"`
	// MaxPositionSize is the single-position weight cap.
	MaxPositionSize float64 `json:"maxPositionSize"`
}

// DefaultConfig returns default risk limits.
func DefaultConfig() Config {
	return Config{
		RiskBudget:      0.02,
		MaxPositionSize: 0.10,
	}
}

// Manager owns return history and produces risk-adjusted signals.
type Manager struct {
	logger *zap.Logger
	config Config

	mu            sync.RWMutex
	priceHistory  map[string][]float64
	returnHistory map[string][]float64
	lastPortfolio types.PortfolioRisk
}

// NewManager creates a risk manager.
func NewManager(logger *zap.Logger, config Config) *Manager {
	if config.RiskBudget <= 0 {
		config.RiskBudget = 0.02
	}
	return &Manager{
		logger:        logger.Named("risk"),
		config:        config,
		priceHistory:  make(map[string][]float64),
		returnHistory: make(map[string][]float64),
	}
}

// UpdateModels folds the latest snapshot into the rolling histories.
// Histories are bounded to one trading year per symbol.
func (m *Manager) UpdateModels(snap market.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sym, data := range snap.Data {
		if len(data.Prices) == 0 {
			continue
		}
		latest := data.Prices[len(data.Prices)-1]
		prices := m.priceHistory[sym]
		if len(prices) > 0 {
			prev := prices[len(prices)-1]
			if prev != 0 {
				m.returnHistory[sym] = appendBounded(m.returnHistory[sym], latest/prev-1, returnHistoryCap)
			}
		}
		m.priceHistory[sym] = appendBounded(prices, latest, returnHistoryCap)
	}
}

// AdjustSignals applies the full two-level risk pipeline to a signal set.
// Per-signal failures fall back to a default assessment; the cycle never
// aborts here.
func (m *Manager) AdjustSignals(signals []types.TradingSignal, portfolio *types.Portfolio, snap market.Snapshot) []types.RiskAdjustedSignal {
	m.UpdateModels(snap)

	portfolioRisk := m.AssessPortfolio(portfolio, snap)

	adjusted := make([]types.RiskAdjustedSignal, 0, len(signals))
	for _, sig := range signals {
		assessment := m.assessSignal(sig, portfolio, snap, portfolioRisk)
		adjusted = append(adjusted, m.applyAdjustments(sig, assessment, portfolioRisk))
	}

	return m.portfolioGate(adjusted, portfolioRisk)
}

// AssessPortfolio computes the portfolio-level risk picture for the cycle.
func (m *Manager) AssessPortfolio(portfolio *types.Portfolio, snap market.Snapshot) types.PortfolioRisk {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	weights := positionWeights(portfolio, snap)
	if len(weights) == 0 {
		pr := types.PortfolioRisk{
			Beta:                 1.0,
			DiversificationRatio: 1.0,
			LeverageRatio:        1.0,
			StressResults:        map[string]float64{},
			Timestamp:            now,
		}
		m.lastPortfolio = pr
		return pr
	}

	portReturns := m.portfolioReturnsLocked(weights)
	totalVaR := historicalVaR(portReturns, 0.95)

	herfindahl := 0.0
	for _, w := range weights {
		herfindahl += w * w
	}

	pr := types.PortfolioRisk{
		TotalVaR:             totalVaR,
		Beta:                 weightedBeta(weights),
		DiversificationRatio: math.Min(1.0, float64(len(weights))/10),
		ConcentrationRisk:    herfindahl,
		LiquidityRisk:        weightedLiquidity(weights),
		LeverageRatio:        leverageRatio(portfolio, snap),
		BudgetUtilization:    totalVaR / m.config.RiskBudget,
		StressResults:        stressBattery(),
		Timestamp:            now,
	}
	m.lastPortfolio = pr
	return pr
}

// LastPortfolioRisk returns the most recent portfolio assessment.
func (m *Manager) LastPortfolioRisk() types.PortfolioRisk {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastPortfolio
}

func (m *Manager) assessSignal(sig types.TradingSignal, portfolio *types.Portfolio, snap market.Snapshot, pr types.PortfolioRisk) types.RiskAssessment {
	m.mu.RLock()
	defer m.mu.RUnlock()

	returns := m.returnHistory[sig.Symbol]
	if len(returns) < minAssessmentSamples {
		return DefaultAssessment(sig.Symbol)
	}

	var95 := historicalVaR(returns, 0.95)
	cvar95 := historicalCVaR(returns, 0.95)
	vol := sampleStddev(returns) * math.Sqrt(252)

	weights := positionWeights(portfolio, snap)
	portReturns := m.portfolioReturnsLocked(weights)
	beta := betaAgainst(returns, portReturns)

	drawdown := maxDrawdown(m.priceHistory[sig.Symbol])
	liquidity := assetLiquidityRisk(sig.Symbol)
	concentration := weights[sig.Symbol]

	score := riskScore(var95, vol, beta, drawdown, liquidity)

	return types.RiskAssessment{
		Symbol:            sig.Symbol,
		Level:             LevelForScore(score),
		Score:             score,
		VaR95:             var95,
		CVaR95:            cvar95,
		MaxDrawdown:       drawdown,
		Volatility:        vol,
		Beta:              beta,
		MarketCorrelation: 0.5,
		LiquidityRisk:     liquidity,
		ConcentrationRisk: concentration,
		DataPoints:        len(returns),
		Timestamp:         time.Now(),
	}
}

// DefaultAssessment is used when a symbol has too little history or the
// per-signal computation fails.
func DefaultAssessment(symbol string) types.RiskAssessment {
	return types.RiskAssessment{
		Symbol:            symbol,
		Level:             types.RiskMedium,
		Score:             50,
		VaR95:             0.02,
		CVaR95:            0.03,
		MaxDrawdown:       0.15,
		Volatility:        0.20,
		Beta:              1.0,
		MarketCorrelation: 0.5,
		LiquidityRisk:     0.3,
		ConcentrationRisk: 0.1,
		Default:           true,
		Timestamp:         time.Now(),
	}
}

// applyAdjustments scales one signal by its risk level and the portfolio
// context, and records the rationale.
func (m *Manager) applyAdjustments(sig types.TradingSignal, assessment types.RiskAssessment, pr types.PortfolioRisk) types.RiskAdjustedSignal {
	adj := sig

	switch assessment.Level {
	case types.RiskVeryHigh:
		adj.Strength *= 0.3
		adj.Confidence *= 0.5
	case types.RiskHigh:
		adj.Strength *= 0.5
		adj.Confidence *= 0.7
	case types.RiskMedium:
		adj.Strength *= 0.8
	case types.RiskLow:
		adj.Strength *= 1.1
	case types.RiskVeryLow:
		adj.Strength *= 1.2
	}

	// Widen the stop for high-volatility assets.
	if !sig.StopLoss.IsZero() && assessment.Volatility > 0.3 {
		switch sig.Direction {
		case types.DirectionBuy:
			adj.StopLoss = sig.StopLoss.Mul(decimal.NewFromFloat(0.95))
		case types.DirectionSell:
			adj.StopLoss = sig.StopLoss.Mul(decimal.NewFromFloat(1.05))
		}
	}

	if pr.BudgetUtilization > 0.8 {
		adj.Strength *= 0.6
	}
	if pr.ConcentrationRisk > 0.15 {
		adj.Strength *= 0.7
	}
	if assessment.LiquidityRisk > 0.7 {
		adj.Strength *= 0.5
	}

	adj.Strength = math.Max(adjustmentFloor, math.Min(adj.Strength, 1.0))
	adj.Confidence = math.Max(adjustmentFloor, math.Min(adj.Confidence, 1.0))

	sizeAdj := 1.0
	if orig := sig.Strength * sig.Confidence; orig > 0 {
		sizeAdj = (adj.Strength * adj.Confidence) / orig
	}

	return types.RiskAdjustedSignal{
		Original:       sig,
		Adjusted:       adj,
		Assessment:     assessment,
		SizeAdjustment: sizeAdj,
		Rationale:      rationale(assessment),
		Timestamp:      time.Now(),
	}
}

// portfolioGate is the final portfolio-level pass: uniform shrink when the
// risk budget is blown, hard rejection of over-concentrated signals.
func (m *Manager) portfolioGate(adjusted []types.RiskAdjustedSignal, pr types.PortfolioRisk) []types.RiskAdjustedSignal {
	if pr.BudgetUtilization > 1.0 {
		for i := range adjusted {
			adjusted[i].Adjusted.Strength *= overBudgetShrink
			adjusted[i].SizeAdjustment *= overBudgetShrink
			adjusted[i].Rationale += "; portfolio risk limit exceeded"
		}
	}

	final := adjusted[:0]
	for _, ra := range adjusted {
		if ra.Assessment.ConcentrationRisk >= concentrationCeiling {
			m.logger.Warn("signal rejected on concentration",
				zap.String("symbol", ra.Original.Symbol),
				zap.Float64("concentration", ra.Assessment.ConcentrationRisk))
			continue
		}
		final = append(final, ra)
	}
	return final
}

func rationale(a types.RiskAssessment) string {
	parts := []string{fmt.Sprintf("risk level %s (score %.1f)", a.Level, a.Score)}
	if a.Volatility > 0.3 {
		parts = append(parts, "high volatility")
	}
	if a.LiquidityRisk > 0.7 {
		parts = append(parts, "poor liquidity")
	}
	if a.ConcentrationRisk > 0.15 {
		parts = append(parts, "concentration elevated")
	}
	if a.VaR95 > 0.05 {
		parts = append(parts, "elevated VaR")
	}
	if a.Default {
		parts = append(parts, "default assessment, insufficient history")
	}
	return strings.Join(parts, "; ")
}

// riskScore blends the component scores into 0-100.
func riskScore(var95, vol, beta, drawdown, liquidity float64) float64 {
	varScore := math.Min(var95*1000, 100)
	volScore := math.Min(vol*100, 100)
	betaScore := math.Min(math.Abs(beta-1)*50, 100)
	ddScore := math.Min(drawdown*100, 100)
	liqScore := liquidity * 100

	score := varScore*varWeight + volScore*volWeight + betaScore*betaWeight +
		ddScore*drawdownWeight + liqScore*liquidityWeight
	return math.Min(score, 100)
}

// LevelForScore maps a 0-100 score onto an ordered risk level.
func LevelForScore(score float64) types.RiskLevel {
	switch {
	case score >= 80:
		return types.RiskVeryHigh
	case score >= 60:
		return types.RiskHigh
	case score >= 40:
		return types.RiskMedium
	case score >= 20:
		return types.RiskLow
	default:
		return types.RiskVeryLow
	}
}

// stressBattery is the fixed scenario set reported with every portfolio
// assessment.
func stressBattery() map[string]float64 {
	return map[string]float64{
		"market_crash":          -0.20,
		"volatility_spike":      -0.10,
		"correlation_breakdown": -0.08,
		"liquidity_crisis":      -0.12,
	}
}

// positionWeights computes absolute market-value weights per symbol.
func positionWeights(portfolio *types.Portfolio, snap market.Snapshot) map[string]float64 {
	if portfolio == nil || len(portfolio.Positions) == 0 {
		return nil
	}

	values := make(map[string]float64, len(portfolio.Positions))
	var total float64
	for sym, pos := range portfolio.Positions {
		if pos.Quantity.IsZero() {
			continue
		}
		price := pos.AvgPrice
		if d, ok := snap.Data[sym]; ok && len(d.Prices) > 0 {
			price = decimal.NewFromFloat(d.Prices[len(d.Prices)-1])
		}
		v := pos.Quantity.Abs().Mul(price).InexactFloat64()
		values[sym] = v
		total += v
	}
	total += math.Max(portfolio.Cash.InexactFloat64(), 0)
	if total <= 0 {
		return nil
	}

	weights := make(map[string]float64, len(values))
	for sym, v := range values {
		weights[sym] = v / total
	}
	return weights
}

// portfolioReturnsLocked builds a weighted return series across held
// symbols. Caller holds at least a read lock.
func (m *Manager) portfolioReturnsLocked(weights map[string]float64) []float64 {
	if len(weights) == 0 {
		return nil
	}

	syms := make([]string, 0, len(weights))
	minLen := math.MaxInt32
	for sym := range weights {
		n := len(m.returnHistory[sym])
		if n == 0 {
			continue
		}
		syms = append(syms, sym)
		if n < minLen {
			minLen = n
		}
	}
	if len(syms) == 0 {
		return nil
	}
	sort.Strings(syms)
	if minLen > 50 {
		minLen = 50
	}

	out := make([]float64, 0, minLen)
	for i := 0; i < minLen; i++ {
		var weighted, totalW float64
		for _, sym := range syms {
			hist := m.returnHistory[sym]
			weighted += hist[len(hist)-minLen+i] * weights[sym]
			totalW += weights[sym]
		}
		if totalW > 0 {
			out = append(out, weighted/totalW)
		}
	}
	return out
}

func weightedBeta(weights map[string]float64) float64 {
	var weighted, total float64
	for _, w := range weights {
		weighted += 1.0 * w
		total += w
	}
	if total == 0 {
		return 1.0
	}
	return weighted / total
}

func weightedLiquidity(weights map[string]float64) float64 {
	var total float64
	for _, w := range weights {
		total += assetLiquidityRisk("") * w
	}
	return total
}

// assetLiquidityRisk is a flat prior until venue depth data is plumbed
// through the snapshot.
func assetLiquidityRisk(symbol string) float64 { return 0.3 }

func leverageRatio(portfolio *types.Portfolio, snap market.Snapshot) float64 {
	if portfolio == nil {
		return 1.0
	}
	cash := portfolio.Cash.InexactFloat64()
	total := cash
	for sym, pos := range portfolio.Positions {
		price := pos.AvgPrice
		if d, ok := snap.Data[sym]; ok && len(d.Prices) > 0 {
			price = decimal.NewFromFloat(d.Prices[len(d.Prices)-1])
		}
		total += pos.Quantity.Abs().Mul(price).InexactFloat64()
	}
	if cash > 0 {
		return total / cash
	}
	return 1.0
}

// historicalVaR is the absolute lower-tail percentile of the return
// series at the given confidence.
func historicalVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0.02
	}
	return math.Abs(percentileOf(returns, (1-confidence)*100))
}

// historicalCVaR averages the tail beyond the VaR threshold.
func historicalCVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0.03
	}
	threshold := percentileOf(returns, (1-confidence)*100)
	var sum float64
	var n int
	for _, r := range returns {
		if r <= threshold {
			sum += r
			n++
		}
	}
	if n == 0 {
		return math.Abs(threshold)
	}
	return math.Abs(sum / float64(n))
}

func betaAgainst(assetReturns, marketReturns []float64) float64 {
	n := len(assetReturns)
	if len(marketReturns) < n {
		n = len(marketReturns)
	}
	if n < 10 {
		return 1.0
	}
	a := assetReturns[len(assetReturns)-n:]
	mret := marketReturns[len(marketReturns)-n:]

	meanA, meanM := meanOf(a), meanOf(mret)
	var cov, varM float64
	for i := 0; i < n; i++ {
		cov += (a[i] - meanA) * (mret[i] - meanM)
		varM += (mret[i] - meanM) * (mret[i] - meanM)
	}
	if varM == 0 {
		return 1.0
	}
	return cov / varM
}

func maxDrawdown(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	peak := prices[0]
	var worst float64
	for _, p := range prices {
		if p > peak {
			peak = p
		}
		if peak > 0 {
			dd := (p - peak) / peak
			if dd < worst {
				worst = dd
			}
		}
	}
	return math.Abs(worst)
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func sampleStddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := meanOf(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// percentileOf computes the p-th percentile by linear interpolation.
func percentileOf(xs []float64, p float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

func appendBounded(xs []float64, x float64, limit int) []float64 {
	xs = append(xs, x)
	if len(xs) > limit {
		xs = xs[len(xs)-limit:]
	}
	return xs
}
