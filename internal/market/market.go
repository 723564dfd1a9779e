// Package market provides market data snapshots and regime classification
// for the trading cycle.
package market

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantrel/autotrader/pkg/types"
)

// Quote is the current top-of-book for a symbol.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	Timestamp time.Time       `json:"timestamp"`
}

// Mid returns the bid/ask midpoint.
func (q Quote) Mid() decimal.Decimal {
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

// SymbolData is the per-symbol history window used by strategies and risk.
// Prices and volumes are parallel slices ordered oldest to newest.
type SymbolData struct {
	Symbol  string    `json:"symbol"`
	Prices  []float64 `json:"prices"`
	Volumes []float64 `json:"volumes"`
	Quote   Quote     `json:"quote"`
}

// Returns computes simple period returns from the price window.
func (d SymbolData) Returns() []float64 {
	if len(d.Prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(d.Prices)-1)
	for i := 1; i < len(d.Prices); i++ {
		if d.Prices[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, d.Prices[i]/d.Prices[i-1]-1)
	}
	return out
}

// Snapshot is a point-in-time view of all tracked symbols.
type Snapshot struct {
	Data      map[string]SymbolData `json:"data"`
	Condition types.MarketCondition `json:"condition"`
	Timestamp time.Time             `json:"timestamp"`
}

// Provider serves market snapshots to the trading cycle.
type Provider interface {
	// Snapshot returns the current market view for all tracked symbols.
	Snapshot(ctx context.Context) (Snapshot, error)
	// Quote returns the current top-of-book for one symbol.
	Quote(ctx context.Context, symbol string) (Quote, error)
}

// Classification thresholds over the trailing window.
const (
	highVolThreshold = 0.03  // per-period return stddev
	lowVolThreshold  = 0.015 // below this is a quiet market
	trendThreshold   = 0.02  // cumulative return over the window
	crisisTrend      = -0.05 // strongly negative trend with high vol
)

// Classify maps aggregate window statistics onto a market condition.
// Crisis dominates, then volatility extremes, then directional trend.
func Classify(data map[string]SymbolData) types.MarketCondition {
	if len(data) == 0 {
		return types.ConditionSideways
	}

	var volSum, trendSum float64
	var n int
	for _, d := range data {
		rets := d.Returns()
		if len(rets) == 0 {
			continue
		}
		volSum += stddev(rets)
		trendSum += cumulative(rets)
		n++
	}
	if n == 0 {
		return types.ConditionSideways
	}
	vol := volSum / float64(n)
	trend := trendSum / float64(n)

	switch {
	case vol > highVolThreshold && trend < crisisTrend:
		return types.ConditionCrisis
	case vol > highVolThreshold:
		return types.ConditionHighVolatility
	case trend > trendThreshold:
		return types.ConditionBull
	case trend < -trendThreshold:
		return types.ConditionBear
	case vol < lowVolThreshold:
		return types.ConditionLowVolatility
	default:
		return types.ConditionSideways
	}
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func cumulative(rets []float64) float64 {
	prod := 1.0
	for _, r := range rets {
		prod *= 1 + r
	}
	return prod - 1
}

// SimulatorConfig configures the random-walk simulator.
type SimulatorConfig struct {
	Symbols    []string `json:"symbols"`
	WindowSize int      `json:"windowSize"`
	Seed       int64    `json:"seed"`
	BasePrice  float64  `json:"basePrice"`
	Volatility float64  `json:"volatility"` // per-step return stddev
	Drift      float64  `json:"drift"`      // per-step expected return
	SpreadBps  float64  `json:"spreadBps"`  // half-spread in basis points
}

// DefaultSimulatorConfig returns default simulator settings.
func DefaultSimulatorConfig(symbols []string) SimulatorConfig {
	return SimulatorConfig{
		Symbols:    symbols,
		WindowSize: 120,
		Seed:       42,
		BasePrice:  100,
		Volatility: 0.01,
		Drift:      0.0002,
		SpreadBps:  5,
	}
}

// Simulator is a deterministic random-walk market data provider used for
// paper trading. Each Snapshot call advances every symbol one step.
type Simulator struct {
	logger *zap.Logger
	config SimulatorConfig

	mu      sync.RWMutex
	windows map[string]*symbolWindow
	rng     *splitMix64
}

type symbolWindow struct {
	prices  []float64
	volumes []float64
}

// NewSimulator creates a simulator seeded from the config.
func NewSimulator(logger *zap.Logger, config SimulatorConfig) *Simulator {
	s := &Simulator{
		logger:  logger.Named("market"),
		config:  config,
		windows: make(map[string]*symbolWindow, len(config.Symbols)),
		rng:     newSplitMix64(uint64(config.Seed)),
	}
	for _, sym := range config.Symbols {
		w := &symbolWindow{
			prices:  make([]float64, 0, config.WindowSize),
			volumes: make([]float64, 0, config.WindowSize),
		}
		price := config.BasePrice
		for i := 0; i < config.WindowSize; i++ {
			price = s.step(price)
			w.prices = append(w.prices, price)
			w.volumes = append(w.volumes, s.volume())
		}
		s.windows[sym] = w
	}
	return s
}

// Snapshot advances every symbol one step and returns the full view.
func (s *Simulator) Snapshot(ctx context.Context) (Snapshot, error) {
	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data := make(map[string]SymbolData, len(s.config.Symbols))
	now := time.Now()
	for _, sym := range s.config.Symbols {
		w := s.windows[sym]
		last := w.prices[len(w.prices)-1]
		next := s.step(last)
		w.prices = appendBounded(w.prices, next, s.config.WindowSize)
		w.volumes = appendBounded(w.volumes, s.volume(), s.config.WindowSize)

		data[sym] = SymbolData{
			Symbol:  sym,
			Prices:  append([]float64(nil), w.prices...),
			Volumes: append([]float64(nil), w.volumes...),
			Quote:   s.quoteLocked(sym, now),
		}
	}

	return Snapshot{
		Data:      data,
		Condition: Classify(data),
		Timestamp: now,
	}, nil
}

// Quote returns the current top-of-book for one symbol.
func (s *Simulator) Quote(ctx context.Context, symbol string) (Quote, error) {
	select {
	case <-ctx.Done():
		return Quote{}, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.windows[symbol]; !ok {
		return Quote{}, fmt.Errorf("unknown symbol: %s", symbol)
	}
	return s.quoteLocked(symbol, time.Now()), nil
}

func (s *Simulator) quoteLocked(symbol string, now time.Time) Quote {
	w := s.windows[symbol]
	last := w.prices[len(w.prices)-1]
	half := last * s.config.SpreadBps / 10000
	return Quote{
		Symbol:    symbol,
		Bid:       decimal.NewFromFloat(last - half),
		Ask:       decimal.NewFromFloat(last + half),
		Last:      decimal.NewFromFloat(last),
		Timestamp: now,
	}
}

func (s *Simulator) step(price float64) float64 {
	r := s.config.Drift + s.config.Volatility*s.rng.NormFloat64()
	next := price * (1 + r)
	if next < 0.01 {
		next = 0.01
	}
	return next
}

func (s *Simulator) volume() float64 {
	return 1000 + 9000*s.rng.Float64()
}

func appendBounded(xs []float64, x float64, limit int) []float64 {
	xs = append(xs, x)
	if len(xs) > limit {
		xs = xs[1:]
	}
	return xs
}

// splitMix64 is a small deterministic PRNG so simulator runs are
// reproducible across processes for a given seed.
type splitMix64 struct {
	state uint64
	spare float64
	has   bool
}

func newSplitMix64(seed uint64) *splitMix64 {
	return &splitMix64{state: seed}
}

func (r *splitMix64) next() uint64 {
	r.state += 0x9e3779b97f4a7c15
	z := r.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Float64 returns a uniform value in [0,1).
func (r *splitMix64) Float64() float64 {
	return float64(r.next()>>11) / (1 << 53)
}

// NormFloat64 returns a standard normal value via Box-Muller.
func (r *splitMix64) NormFloat64() float64 {
	if r.has {
		r.has = false
		return r.spare
	}
	var u, v float64
	for u == 0 {
		u = r.Float64()
	}
	v = r.Float64()
	mag := math.Sqrt(-2 * math.Log(u))
	r.spare = mag * math.Sin(2*math.Pi*v)
	r.has = true
	return mag * math.Cos(2*math.Pi*v)
}
