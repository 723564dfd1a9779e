package execution

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantrel/autotrader/pkg/types"
)

// Algorithm simulates one execution style against current conditions.
type Algorithm func(order types.OrderInstruction, cond Conditions, venue types.Venue) types.ExecutionResult

// Algorithms maps each execution strategy to its implementation.
func Algorithms() map[types.ExecStrategy]Algorithm {
	return map[types.ExecStrategy]Algorithm{
		types.ExecAggressive:    executeAggressive,
		types.ExecPassive:       executePassive,
		types.ExecStealth:       executeStealth,
		types.ExecOpportunistic: executeOpportunistic,
		types.ExecIceberg:       executeIceberg,
		types.ExecTWAP:          executeTWAP,
		types.ExecVWAP:          executeVWAP,
	}
}

func slippageVsMid(price, mid decimal.Decimal) float64 {
	if mid.IsZero() {
		return 0
	}
	return price.Sub(mid).Abs().Div(mid).InexactFloat64()
}

func commissionOn(cost decimal.Decimal, rate float64) decimal.Decimal {
	return cost.Mul(decimal.NewFromFloat(rate))
}

func shortfallOn(cost decimal.Decimal, slippage float64) decimal.Decimal {
	return cost.Mul(decimal.NewFromFloat(slippage))
}

// executeAggressive crosses the spread for an immediate full fill. It
// pays the touch and the highest impact.
func executeAggressive(order types.OrderInstruction, cond Conditions, venue types.Venue) types.ExecutionResult {
	price := cond.Ask
	if order.Side == types.SideSell {
		price = cond.Bid
	}

	slippage := slippageVsMid(price, cond.Mid())
	cost := order.Quantity.Mul(price)
	now := time.Now()

	return types.ExecutionResult{
		OrderID:      "agg_" + uuid.NewString(),
		Symbol:       order.Symbol,
		Side:         order.Side,
		RequestedQty: order.Quantity,
		ExecutedQty:  order.Quantity,
		AvgPrice:     price,
		TotalCost:    cost,
		Commission:   commissionOn(cost, 0.0010),
		Venue:        venue,
		Strategy:     types.ExecAggressive,
		MarketImpact: cond.ImpactEstimate * 1.5,
		Slippage:     slippage,
		Shortfall:    shortfallOn(cost, slippage),
		Status:       types.StatusFilled,
		Fills:        []types.Fill{{Price: price, Quantity: order.Quantity, Timestamp: now}},
		ExecutedAt:   now,
	}
}

// executePassive posts inside the spread and accepts a partial fill in
// exchange for price improvement.
func executePassive(order types.OrderInstruction, cond Conditions, venue types.Venue) types.ExecutionResult {
	tick := decimal.NewFromFloat(0.001)
	price := cond.Bid.Add(tick)
	if order.Side == types.SideSell {
		price = cond.Ask.Sub(tick)
	}

	executed := order.Quantity.Mul(decimal.NewFromFloat(0.8))
	slippage := slippageVsMid(price, cond.Mid())
	cost := executed.Mul(price)
	now := time.Now()

	return types.ExecutionResult{
		OrderID:      "pas_" + uuid.NewString(),
		Symbol:       order.Symbol,
		Side:         order.Side,
		RequestedQty: order.Quantity,
		ExecutedQty:  executed,
		AvgPrice:     price,
		TotalCost:    cost,
		Commission:   commissionOn(cost, 0.0008),
		Venue:        venue,
		Strategy:     types.ExecPassive,
		MarketImpact: cond.ImpactEstimate * 0.5,
		Slippage:     slippage,
		Shortfall:    shortfallOn(cost, slippage),
		Status:       types.StatusPartiallyFilled,
		Fills:        []types.Fill{{Price: price, Quantity: executed, Timestamp: now}},
		ExecutedAt:   now,
	}
}

// executeStealth fills most of the order at the midpoint through a dark
// pool, with minimal footprint.
func executeStealth(order types.OrderInstruction, cond Conditions, venue types.Venue) types.ExecutionResult {
	price := cond.Mid()
	executed := order.Quantity.Mul(decimal.NewFromFloat(0.9))
	cost := executed.Mul(price)
	slippage := 0.0001
	now := time.Now()

	return types.ExecutionResult{
		OrderID:      "ste_" + uuid.NewString(),
		Symbol:       order.Symbol,
		Side:         order.Side,
		RequestedQty: order.Quantity,
		ExecutedQty:  executed,
		AvgPrice:     price,
		TotalCost:    cost,
		Commission:   commissionOn(cost, 0.0005),
		Venue:        types.VenueDarkPool,
		Strategy:     types.ExecStealth,
		MarketImpact: cond.ImpactEstimate * 0.2,
		Slippage:     slippage,
		Shortfall:    shortfallOn(cost, slippage),
		Status:       types.StatusPartiallyFilled,
		Fills:        []types.Fill{{Price: price, Quantity: executed, Timestamp: now}},
		ExecutedAt:   now,
	}
}

// executeOpportunistic picks the style that fits live conditions: deep
// books get hit, rough tape goes dark, everything else rests.
func executeOpportunistic(order types.OrderInstruction, cond Conditions, venue types.Venue) types.ExecutionResult {
	switch {
	case cond.LiquidityScore > 0.8:
		return executeAggressive(order, cond, venue)
	case cond.Volatility > 0.03:
		return executeStealth(order, cond, venue)
	default:
		return executePassive(order, cond, venue)
	}
}

// executeIceberg slices the order into bounded child orders. Displayed
// size stays small; each successive slice prices slightly better.
func executeIceberg(order types.OrderInstruction, cond Conditions, venue types.Venue) types.ExecutionResult {
	maxSlice := decimal.NewFromInt(1000)
	sliceSize := decimal.Min(order.Quantity.Mul(decimal.NewFromFloat(0.1)), maxSlice)
	if sliceSize.LessThanOrEqual(decimal.Zero) {
		sliceSize = order.Quantity
	}

	var executed, cost decimal.Decimal
	var fills []types.Fill
	now := time.Now()
	improvement := decimal.NewFromFloat(0.001)

	for i := 0; executed.LessThan(order.Quantity); i++ {
		qty := decimal.Min(sliceSize, order.Quantity.Sub(executed))
		step := improvement.Mul(decimal.NewFromInt(int64(i)))

		var price decimal.Decimal
		if order.Side == types.SideBuy {
			price = cond.Ask.Sub(step)
		} else {
			price = cond.Bid.Add(step)
		}

		executed = executed.Add(qty)
		cost = cost.Add(qty.Mul(price))
		fills = append(fills, types.Fill{
			Price:     price,
			Quantity:  qty,
			Timestamp: now.Add(time.Duration(i) * 10 * time.Second),
		})
	}

	avgPrice := decimal.Zero
	if !executed.IsZero() {
		avgPrice = cost.Div(executed)
	}
	slippage := slippageVsMid(avgPrice, cond.Mid())

	status := types.StatusFilled
	if executed.LessThan(order.Quantity) {
		status = types.StatusPartiallyFilled
	}

	return types.ExecutionResult{
		OrderID:      "ice_" + uuid.NewString(),
		Symbol:       order.Symbol,
		Side:         order.Side,
		RequestedQty: order.Quantity,
		ExecutedQty:  executed,
		AvgPrice:     avgPrice,
		TotalCost:    cost,
		Commission:   commissionOn(cost, 0.0008),
		Venue:        venue,
		Strategy:     types.ExecIceberg,
		MarketImpact: cond.ImpactEstimate * 0.7,
		Slippage:     slippage,
		Shortfall:    shortfallOn(cost, slippage),
		Status:       status,
		Fills:        fills,
		ExecutedAt:   now,
	}
}

// executeTWAP splits the order evenly over ten time periods around the
// midpoint with a small deterministic drift per period.
func executeTWAP(order types.OrderInstruction, cond Conditions, venue types.Venue) types.ExecutionResult {
	const periods = 10
	perPeriod := order.Quantity.Div(decimal.NewFromInt(periods))
	base := cond.Mid()

	var executed, cost decimal.Decimal
	var fills []types.Fill
	now := time.Now()

	for i := 0; i < periods; i++ {
		drift := decimal.NewFromFloat(float64(i%3-1) * 0.001)
		price := base.Add(drift)

		executed = executed.Add(perPeriod)
		cost = cost.Add(perPeriod.Mul(price))
		fills = append(fills, types.Fill{
			Price:     price,
			Quantity:  perPeriod,
			Timestamp: now.Add(time.Duration(i) * 5 * time.Minute),
		})
	}

	avgPrice := decimal.Zero
	if !executed.IsZero() {
		avgPrice = cost.Div(executed)
	}
	slippage := 0.0005

	return types.ExecutionResult{
		OrderID:      "twap_" + uuid.NewString(),
		Symbol:       order.Symbol,
		Side:         order.Side,
		RequestedQty: order.Quantity,
		ExecutedQty:  executed,
		AvgPrice:     avgPrice,
		TotalCost:    cost,
		Commission:   commissionOn(cost, 0.0006),
		Venue:        venue,
		Strategy:     types.ExecTWAP,
		MarketImpact: cond.ImpactEstimate * 0.3,
		Slippage:     slippage,
		Shortfall:    shortfallOn(cost, slippage),
		Status:       types.StatusFilled,
		Fills:        fills,
		ExecutedAt:   now,
	}
}

// vwapProfile is the intraday volume curve used to apportion child
// orders across the session.
var vwapProfile = []float64{0.10, 0.15, 0.20, 0.25, 0.15, 0.10, 0.05}

// executeVWAP apportions the order along the volume profile; heavier
// buckets move the price slightly more.
func executeVWAP(order types.OrderInstruction, cond Conditions, venue types.Venue) types.ExecutionResult {
	base := cond.Mid()

	var executed, cost decimal.Decimal
	var fills []types.Fill
	now := time.Now()

	for i, weight := range vwapProfile {
		qty := order.Quantity.Mul(decimal.NewFromFloat(weight))
		impact := decimal.NewFromFloat((weight - 0.14) * 0.002)
		price := base.Add(impact)

		executed = executed.Add(qty)
		cost = cost.Add(qty.Mul(price))
		fills = append(fills, types.Fill{
			Price:     price,
			Quantity:  qty,
			Timestamp: now.Add(time.Duration(i) * time.Hour),
		})
	}

	avgPrice := decimal.Zero
	if !executed.IsZero() {
		avgPrice = cost.Div(executed)
	}
	slippage := 0.0003

	return types.ExecutionResult{
		OrderID:      "vwap_" + uuid.NewString(),
		Symbol:       order.Symbol,
		Side:         order.Side,
		RequestedQty: order.Quantity,
		ExecutedQty:  executed,
		AvgPrice:     avgPrice,
		TotalCost:    cost,
		Commission:   commissionOn(cost, 0.0007),
		Venue:        venue,
		Strategy:     types.ExecVWAP,
		MarketImpact: cond.ImpactEstimate * 0.4,
		Slippage:     slippage,
		Shortfall:    shortfallOn(cost, slippage),
		Status:       types.StatusFilled,
		Fills:        fills,
		ExecutedAt:   now,
	}
}
