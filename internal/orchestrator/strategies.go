package orchestrator

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantrel/autotrader/internal/market"
	"github.com/quantrel/autotrader/pkg/types"
)

// Generator produces raw signals for one strategy kind from a market
// snapshot. Implementations must be safe for concurrent use; the
// orchestrator runs all generators in parallel each cycle.
type Generator interface {
	Kind() types.StrategyKind
	Generate(ctx context.Context, snap market.Snapshot, portfolio *types.Portfolio) ([]types.TradingSignal, error)
}

// NewGenerators returns the built-in strategy set.
func NewGenerators() []Generator {
	return []Generator{
		&momentumStrategy{},
		&meanReversionStrategy{},
		&arbitrageStrategy{},
		&trendFollowingStrategy{},
		&volatilityStrategy{},
		&mlEnsembleStrategy{},
	}
}

// sortedSymbols gives deterministic iteration over snapshot data.
func sortedSymbols(snap market.Snapshot) []string {
	syms := make([]string, 0, len(snap.Data))
	for s := range snap.Data {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	return syms
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// populationStddev matches the indicator convention of dividing by n,
// not n-1.
func populationStddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)))
}

func tail(xs []float64, n int) []float64 {
	if len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}

// momentumStrategy trades short/long moving-average crossovers confirmed
// by a 10-period rate of change beyond 2 percent.
type momentumStrategy struct{}

func (s *momentumStrategy) Kind() types.StrategyKind { return types.StrategyMomentum }

func (s *momentumStrategy) Generate(ctx context.Context, snap market.Snapshot, portfolio *types.Portfolio) ([]types.TradingSignal, error) {
	var signals []types.TradingSignal
	for _, sym := range sortedSymbols(snap) {
		prices := tail(snap.Data[sym].Prices, 20)
		if len(prices) < 10 {
			continue
		}
		shortMA := mean(tail(prices, 5))
		longMA := mean(tail(prices, 10))
		base := prices[len(prices)-10]
		if base == 0 {
			continue
		}
		last := prices[len(prices)-1]
		roc := (last - base) / base * 100

		switch {
		case shortMA > longMA && roc > 2.0:
			signals = append(signals, types.TradingSignal{
				Symbol:      sym,
				Direction:   types.DirectionBuy,
				Confidence:  math.Min(math.Abs(roc)/10, 1.0),
				Strength:    0.7,
				Source:      types.StrategyMomentum,
				TargetPrice: decimal.NewFromFloat(last * 1.05),
				StopLoss:    decimal.NewFromFloat(last * 0.95),
				GeneratedAt: time.Now(),
			})
		case shortMA < longMA && roc < -2.0:
			signals = append(signals, types.TradingSignal{
				Symbol:      sym,
				Direction:   types.DirectionSell,
				Confidence:  math.Min(math.Abs(roc)/10, 1.0),
				Strength:    0.7,
				Source:      types.StrategyMomentum,
				TargetPrice: decimal.NewFromFloat(last * 0.95),
				StopLoss:    decimal.NewFromFloat(last * 1.05),
				GeneratedAt: time.Now(),
			})
		}
	}
	return signals, nil
}

// meanReversionStrategy fades moves beyond two standard deviations from
// the 30-period rolling mean.
type meanReversionStrategy struct{}

func (s *meanReversionStrategy) Kind() types.StrategyKind { return types.StrategyMeanReversion }

func (s *meanReversionStrategy) Generate(ctx context.Context, snap market.Snapshot, portfolio *types.Portfolio) ([]types.TradingSignal, error) {
	var signals []types.TradingSignal
	for _, sym := range sortedSymbols(snap) {
		prices := tail(snap.Data[sym].Prices, 30)
		if len(prices) < 20 {
			continue
		}
		m := mean(prices)
		sd := populationStddev(prices)
		if sd == 0 {
			continue
		}
		last := prices[len(prices)-1]
		z := (last - m) / sd

		switch {
		case z < -2.0: // oversold
			signals = append(signals, types.TradingSignal{
				Symbol:      sym,
				Direction:   types.DirectionBuy,
				Confidence:  math.Min(math.Abs(z)/3, 1.0),
				Strength:    0.6,
				Source:      types.StrategyMeanReversion,
				TargetPrice: decimal.NewFromFloat(m),
				StopLoss:    decimal.NewFromFloat(last * 0.95),
				GeneratedAt: time.Now(),
			})
		case z > 2.0: // overbought
			signals = append(signals, types.TradingSignal{
				Symbol:      sym,
				Direction:   types.DirectionSell,
				Confidence:  math.Min(math.Abs(z)/3, 1.0),
				Strength:    0.6,
				Source:      types.StrategyMeanReversion,
				TargetPrice: decimal.NewFromFloat(m),
				StopLoss:    decimal.NewFromFloat(last * 1.05),
				GeneratedAt: time.Now(),
			})
		}
	}
	return signals, nil
}

// arbitrageStrategy looks for pairs whose price ratio deviates more than
// two standard deviations from its rolling mean, selling the rich leg and
// buying the cheap one.
type arbitrageStrategy struct{}

func (s *arbitrageStrategy) Kind() types.StrategyKind { return types.StrategyArbitrage }

func (s *arbitrageStrategy) Generate(ctx context.Context, snap market.Snapshot, portfolio *types.Portfolio) ([]types.TradingSignal, error) {
	var signals []types.TradingSignal
	syms := sortedSymbols(snap)
	for i := 0; i < len(syms); i++ {
		for j := i + 1; j < len(syms); j++ {
			p1 := tail(snap.Data[syms[i]].Prices, 20)
			p2 := tail(snap.Data[syms[j]].Prices, 20)
			if len(p1) < 10 || len(p2) < 10 {
				continue
			}
			n := len(p1)
			if len(p2) < n {
				n = len(p2)
			}
			ratio := make([]float64, 0, n)
			for k := 0; k < n; k++ {
				a := p1[len(p1)-n+k]
				b := p2[len(p2)-n+k]
				if b == 0 {
					continue
				}
				ratio = append(ratio, a/b)
			}
			if len(ratio) < 10 {
				continue
			}
			m := mean(ratio)
			sd := populationStddev(ratio)
			if sd == 0 {
				continue
			}
			z := (ratio[len(ratio)-1] - m) / sd
			if math.Abs(z) <= 2.0 {
				continue
			}
			conf := math.Min(math.Abs(z)/3, 1.0)
			rich, cheap := syms[i], syms[j]
			if z < 0 {
				rich, cheap = cheap, rich
			}
			now := time.Now()
			signals = append(signals,
				types.TradingSignal{
					Symbol: rich, Direction: types.DirectionSell,
					Confidence: conf, Strength: 0.8,
					Source: types.StrategyArbitrage, GeneratedAt: now,
				},
				types.TradingSignal{
					Symbol: cheap, Direction: types.DirectionBuy,
					Confidence: conf, Strength: 0.8,
					Source: types.StrategyArbitrage, GeneratedAt: now,
				},
			)
		}
	}
	return signals, nil
}

// trendFollowingStrategy requires strict ordering of 10/20/30 period
// moving averages before committing to a trend.
type trendFollowingStrategy struct{}

func (s *trendFollowingStrategy) Kind() types.StrategyKind { return types.StrategyTrendFollowing }

func (s *trendFollowingStrategy) Generate(ctx context.Context, snap market.Snapshot, portfolio *types.Portfolio) ([]types.TradingSignal, error) {
	var signals []types.TradingSignal
	for _, sym := range sortedSymbols(snap) {
		prices := tail(snap.Data[sym].Prices, 50)
		if len(prices) < 30 {
			continue
		}
		maShort := mean(tail(prices, 10))
		maMedium := mean(tail(prices, 20))
		maLong := mean(tail(prices, 30))
		last := prices[len(prices)-1]

		var dir types.Direction
		var target, stop float64
		switch {
		case maShort > maMedium && maMedium > maLong:
			dir, target, stop = types.DirectionBuy, last*1.1, last*0.95
		case maShort < maMedium && maMedium < maLong:
			dir, target, stop = types.DirectionSell, last*0.9, last*1.05
		default:
			continue
		}
		signals = append(signals, types.TradingSignal{
			Symbol:      sym,
			Direction:   dir,
			Confidence:  0.8,
			Strength:    1.0,
			Source:      types.StrategyTrendFollowing,
			TargetPrice: decimal.NewFromFloat(target),
			StopLoss:    decimal.NewFromFloat(stop),
			GeneratedAt: time.Now(),
		})
	}
	return signals, nil
}

// volatilityStrategy flags symbols whose annualized volatility runs well
// above its own history, expecting contraction.
type volatilityStrategy struct{}

func (s *volatilityStrategy) Kind() types.StrategyKind { return types.StrategyVolatility }

func (s *volatilityStrategy) Generate(ctx context.Context, snap market.Snapshot, portfolio *types.Portfolio) ([]types.TradingSignal, error) {
	var signals []types.TradingSignal
	for _, sym := range sortedSymbols(snap) {
		prices := tail(snap.Data[sym].Prices, 30)
		if len(prices) < 20 {
			continue
		}
		vol := annualizedVol(prices)

		var hist []float64
		for i := 10; i < len(prices); i++ {
			hist = append(hist, annualizedVol(prices[i-10:i]))
		}
		if len(hist) == 0 {
			continue
		}
		median := percentile(hist, 50)
		if vol > median*1.5 {
			signals = append(signals, types.TradingSignal{
				Symbol:     sym,
				Direction:  types.DirectionHold,
				Confidence: 0.6,
				Strength:   0.5,
				Source:     types.StrategyVolatility,
				Metadata: map[string]any{
					"volatility_regime": "high",
					"volatility":        vol,
				},
				GeneratedAt: time.Now(),
			})
		}
	}
	return signals, nil
}

func annualizedVol(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	rets := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		rets = append(rets, prices[i]/prices[i-1]-1)
	}
	return populationStddev(rets) * math.Sqrt(252)
}

// percentile computes the p-th percentile by linear interpolation.
func percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
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

// mlEnsembleStrategy is a stub that emits neutral signals for the first
// few symbols. TODO: wire the model server once an inference endpoint
// exists for batch scoring.
type mlEnsembleStrategy struct{}

func (s *mlEnsembleStrategy) Kind() types.StrategyKind { return types.StrategyMLEnsemble }

func (s *mlEnsembleStrategy) Generate(ctx context.Context, snap market.Snapshot, portfolio *types.Portfolio) ([]types.TradingSignal, error) {
	var signals []types.TradingSignal
	syms := sortedSymbols(snap)
	if len(syms) > 3 {
		syms = syms[:3]
	}
	for _, sym := range syms {
		signals = append(signals, types.TradingSignal{
			Symbol:     sym,
			Direction:  types.DirectionHold,
			Confidence: 0.5,
			Strength:   0.5,
			Source:     types.StrategyMLEnsemble,
			Metadata: map[string]any{
				"model_version": "v1.0",
			},
			GeneratedAt: time.Now(),
		})
	}
	return signals, nil
}
