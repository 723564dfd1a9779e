package execution

import (
	"time"

	"github.com/shopspring/decimal"
)

// Conditions is the per-symbol market state the algorithms execute
// against.
type Conditions struct {
	Symbol         string          `json:"symbol"`
	Bid            decimal.Decimal `json:"bid"`
	Ask            decimal.Decimal `json:"ask"`
	Last           decimal.Decimal `json:"last"`
	Volume         float64         `json:"volume"`
	Volatility     float64         `json:"volatility"`
	ImpactEstimate float64         `json:"impactEstimate"`
	LiquidityScore float64         `json:"liquidityScore"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Mid returns the bid/ask midpoint.
func (c Conditions) Mid() decimal.Decimal {
	return c.Bid.Add(c.Ask).Div(decimal.NewFromInt(2))
}

// Spread returns the quoted spread.
func (c Conditions) Spread() decimal.Decimal {
	return c.Ask.Sub(c.Bid)
}

// DefaultConditions is the fallback when no quote is available for a
// symbol.
func DefaultConditions(symbol string) Conditions {
	return Conditions{
		Symbol:         symbol,
		Bid:            decimal.NewFromFloat(99.99),
		Ask:            decimal.NewFromFloat(100.01),
		Last:           decimal.NewFromInt(100),
		Volume:         50000,
		Volatility:     0.02,
		ImpactEstimate: 0.002,
		LiquidityScore: 0.5,
		Timestamp:      time.Now(),
	}
}
