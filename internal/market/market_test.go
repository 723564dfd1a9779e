// Package market_test provides tests for the market data layer.
package market_test

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/quantrel/autotrader/internal/market"
	"github.com/quantrel/autotrader/pkg/types"
)

func TestSimulatorSnapshot(t *testing.T) {
	logger := zap.NewNop()
	symbols := []string{"BTCUSD", "AAPL"}

	sim := market.NewSimulator(logger, market.DefaultSimulatorConfig(symbols))

	snap, err := sim.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	if len(snap.Data) != len(symbols) {
		t.Fatalf("Expected %d symbols, got %d", len(symbols), len(snap.Data))
	}

	for _, sym := range symbols {
		d, ok := snap.Data[sym]
		if !ok {
			t.Fatalf("Missing symbol %s", sym)
		}
		if len(d.Prices) == 0 {
			t.Errorf("Symbol %s has no price history", sym)
		}
		for _, p := range d.Prices {
			if p <= 0 {
				t.Fatalf("Symbol %s has non-positive price %f", sym, p)
			}
		}
		if !d.Quote.Ask.GreaterThan(d.Quote.Bid) {
			t.Errorf("Symbol %s quote has crossed book: bid=%s ask=%s", sym, d.Quote.Bid, d.Quote.Ask)
		}
	}
}

func TestSimulatorDeterminism(t *testing.T) {
	logger := zap.NewNop()
	config := market.DefaultSimulatorConfig([]string{"BTCUSD"})

	a := market.NewSimulator(logger, config)
	b := market.NewSimulator(logger, config)

	snapA, err := a.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	snapB, err := b.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	pa := snapA.Data["BTCUSD"].Prices
	pb := snapB.Data["BTCUSD"].Prices
	if len(pa) != len(pb) {
		t.Fatalf("History length mismatch: %d vs %d", len(pa), len(pb))
	}
	for i := range pa {
		if pa[i] != pb[i] {
			t.Fatalf("Price %d diverged: %f vs %f", i, pa[i], pb[i])
		}
	}
}

func TestSimulatorQuote(t *testing.T) {
	logger := zap.NewNop()
	sim := market.NewSimulator(logger, market.DefaultSimulatorConfig([]string{"ETHUSD"}))

	if _, err := sim.Quote(context.Background(), "ETHUSD"); err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if _, err := sim.Quote(context.Background(), "UNKNOWN"); err == nil {
		t.Fatal("Expected error for unknown symbol")
	}
}

func TestClassify(t *testing.T) {
	steady := func(start, step float64, n int) []float64 {
		prices := make([]float64, n)
		p := start
		for i := range prices {
			prices[i] = p
			p *= 1 + step
		}
		return prices
	}

	tests := []struct {
		name   string
		prices []float64
		want   types.MarketCondition
	}{
		{"bull trend", steady(100, 0.004, 30), types.ConditionBull},
		{"bear trend", steady(100, -0.004, 30), types.ConditionBear},
		{"sideways", steady(100, 0.0001, 30), types.ConditionLowVolatility},
		{"no data", nil, types.ConditionSideways},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := map[string]market.SymbolData{
				"X": {Symbol: "X", Prices: tt.prices},
			}
			got := market.Classify(data)
			if got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassifyCrisis(t *testing.T) {
	// Violent drawdown: large negative trend with high volatility.
	prices := []float64{100, 95, 99, 90, 94, 85, 88, 80, 83, 75, 78, 70, 72, 65, 67, 60, 62, 55, 57, 50, 52}
	data := map[string]market.SymbolData{
		"X": {Symbol: "X", Prices: prices},
	}
	got := market.Classify(data)
	if got != types.ConditionCrisis && got != types.ConditionHighVolatility {
		t.Errorf("Classify() = %s, want crisis or high volatility", got)
	}
}
