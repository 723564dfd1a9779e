// Package orchestrator runs the strategy ensemble and produces consensus
// trading signals for each cycle.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantrel/autotrader/internal/market"
	"github.com/quantrel/autotrader/pkg/types"
)

// Weighted consensus parameters.
const (
	consensusThreshold = 0.6
	// Strategies below this weight are skipped for the cycle.
	minActiveWeight = 0.01
	// Rolling performance window per strategy.
	performanceHistoryCap = 100
	// Weight recompute uses the most recent records only.
	recentPerformanceWindow = 10
)

// StrategyPerformance is one performance record for a strategy.
type StrategyPerformance struct {
	TotalReturn float64   `json:"totalReturn"`
	SharpeRatio float64   `json:"sharpeRatio"`
	WinRate     float64   `json:"winRate"`
	Timestamp   time.Time `json:"timestamp"`
}

// Config configures the orchestrator.
type Config struct {
	// Generators defaults to the built-in strategy set when empty.
	Generators []Generator
}

// Orchestrator owns the strategy generators, their adaptive weights, and
// the ensemble consensus step.
type Orchestrator struct {
	logger     *zap.Logger
	generators []Generator

	mu          sync.RWMutex
	weights     map[types.StrategyKind]float64
	performance map[types.StrategyKind][]StrategyPerformance
}

// New creates an orchestrator with uniform initial weights.
func New(logger *zap.Logger, config Config) *Orchestrator {
	gens := config.Generators
	if len(gens) == 0 {
		gens = NewGenerators()
	}

	weights := make(map[types.StrategyKind]float64, len(gens))
	for _, g := range gens {
		weights[g.Kind()] = 1.0 / float64(len(gens))
	}

	return &Orchestrator{
		logger:      logger.Named("orchestrator"),
		generators:  gens,
		weights:     weights,
		performance: make(map[types.StrategyKind][]StrategyPerformance),
	}
}

// GenerateSignals runs every active strategy against the snapshot and
// returns one consensus signal per symbol. A failing strategy contributes
// nothing; it never aborts the cycle.
func (o *Orchestrator) GenerateSignals(ctx context.Context, snap market.Snapshot, portfolio *types.Portfolio) []types.TradingSignal {
	o.mu.RLock()
	weights := make(map[types.StrategyKind]float64, len(o.weights))
	for k, w := range o.weights {
		weights[k] = w
	}
	o.mu.RUnlock()

	results := make([][]types.TradingSignal, len(o.generators))
	var wg sync.WaitGroup
	for i, gen := range o.generators {
		if weights[gen.Kind()] <= minActiveWeight {
			continue
		}
		wg.Add(1)
		go func(i int, gen Generator) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("strategy panic",
						zap.String("strategy", string(gen.Kind())),
						zap.Any("panic", r))
				}
			}()
			signals, err := gen.Generate(ctx, snap, portfolio)
			if err != nil {
				o.logger.Warn("strategy failed",
					zap.String("strategy", string(gen.Kind())),
					zap.Error(err))
				return
			}
			results[i] = signals
		}(i, gen)
	}
	wg.Wait()

	var raw []types.TradingSignal
	for _, signals := range results {
		raw = append(raw, signals...)
	}
	if len(raw) == 0 {
		return nil
	}

	ensemble := o.buildConsensus(raw, weights)
	adjusted := applyRegimeAdjustments(ensemble, snap.Condition)

	o.logger.Debug("signals generated",
		zap.Int("raw", len(raw)),
		zap.Int("consensus", len(adjusted)),
		zap.String("condition", string(snap.Condition)))
	return adjusted
}

// buildConsensus pools raw signals per symbol and keeps the direction
// bucket with the largest weight * confidence * strength mass. A winning
// bucket below the consensus threshold degrades to HOLD.
func (o *Orchestrator) buildConsensus(raw []types.TradingSignal, weights map[types.StrategyKind]float64) []types.TradingSignal {
	bySymbol := make(map[string][]types.TradingSignal)
	var order []string
	for _, s := range raw {
		if _, ok := bySymbol[s.Symbol]; !ok {
			order = append(order, s.Symbol)
		}
		bySymbol[s.Symbol] = append(bySymbol[s.Symbol], s)
	}

	out := make([]types.TradingSignal, 0, len(order))
	for _, sym := range order {
		var buyW, sellW, holdW, totalConf, totalStr float64
		for _, s := range bySymbol[sym] {
			w, ok := weights[s.Source]
			if !ok {
				w = 0.1
			}
			mass := w * s.Confidence * s.Strength
			switch s.Direction {
			case types.DirectionBuy:
				buyW += mass
			case types.DirectionSell:
				sellW += mass
			default:
				holdW += mass
			}
			totalConf += s.Confidence * w
			totalStr += s.Strength * w
		}

		maxW := buyW
		dir := types.DirectionBuy
		if sellW > maxW {
			maxW, dir = sellW, types.DirectionSell
		}
		if holdW > maxW {
			maxW, dir = holdW, types.DirectionHold
		}
		if maxW < consensusThreshold {
			dir = types.DirectionHold
		}

		out = append(out, types.TradingSignal{
			Symbol:     sym,
			Direction:  dir,
			Confidence: clamp01(totalConf),
			Strength:   clamp01(totalStr),
			Source:     types.StrategyMLEnsemble,
			Metadata: map[string]any{
				"ensemble_weights": map[string]float64{
					"buy":  buyW,
					"sell": sellW,
					"hold": holdW,
				},
				"contributing_strategies": len(bySymbol[sym]),
			},
			GeneratedAt: time.Now(),
		})
	}
	return out
}

// applyRegimeAdjustments scales signal strength and confidence by
// market condition, then clamps back into [0,1].
func applyRegimeAdjustments(signals []types.TradingSignal, condition types.MarketCondition) []types.TradingSignal {
	out := make([]types.TradingSignal, len(signals))
	for i, s := range signals {
		switch condition {
		case types.ConditionCrisis:
			s.Strength *= 0.5
			s.Confidence *= 0.7
		case types.ConditionHighVolatility:
			s.Strength *= 0.8
		case types.ConditionBull:
			if s.Direction == types.DirectionBuy {
				s.Strength *= 1.2
			}
		case types.ConditionBear:
			if s.Direction == types.DirectionSell {
				s.Strength *= 1.1
			}
		}
		s.Strength = clamp01(s.Strength)
		s.Confidence = clamp01(s.Confidence)
		out[i] = s
	}
	return out
}

// UpdatePerformance records a performance sample for a strategy and
// recomputes all weights.
func (o *Orchestrator) UpdatePerformance(kind types.StrategyKind, perf StrategyPerformance) {
	o.mu.Lock()
	defer o.mu.Unlock()

	hist := append(o.performance[kind], perf)
	if len(hist) > performanceHistoryCap {
		hist = hist[len(hist)-performanceHistoryCap:]
	}
	o.performance[kind] = hist

	o.recalculateWeightsLocked()
}

// recalculateWeightsLocked blends recent return, Sharpe ratio, and win
// rate into a score per strategy, then normalizes with a score floor so
// no strategy is starved permanently.
func (o *Orchestrator) recalculateWeightsLocked() {
	scores := make(map[types.StrategyKind]float64, len(o.generators))
	var total float64
	for _, gen := range o.generators {
		kind := gen.Kind()
		hist := o.performance[kind]
		if len(hist) == 0 {
			scores[kind] = 0.1
			total += 0.1
			continue
		}
		recent := hist
		if len(recent) > recentPerformanceWindow {
			recent = recent[len(recent)-recentPerformanceWindow:]
		}
		var ret, sharpe, win float64
		for _, p := range recent {
			ret += p.TotalReturn
			sharpe += p.SharpeRatio
			win += p.WinRate
		}
		n := float64(len(recent))
		score := (ret/n)*0.4 + (sharpe/n)*0.4 + (win/n)*0.2
		if score < 0.01 {
			score = 0.01
		}
		scores[kind] = score
		total += score
	}
	if total == 0 {
		return
	}
	for kind, score := range scores {
		o.weights[kind] = score / total
	}
	o.logger.Debug("strategy weights recalculated")
}

// Weights returns a copy of the current strategy weights.
func (o *Orchestrator) Weights() map[types.StrategyKind]float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[types.StrategyKind]float64, len(o.weights))
	for k, w := range o.weights {
		out[k] = w
	}
	return out
}

func clamp01(x float64) float64 {
	if x > 1 {
		return 1
	}
	if x < 0 {
		return 0
	}
	return x
}
