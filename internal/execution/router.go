package execution

import (
	"github.com/shopspring/decimal"

	"github.com/quantrel/autotrader/pkg/types"
)

// Per-order venue fee as a fraction of notional.
var venueCosts = map[types.Venue]float64{
	types.VenuePrimaryExchange: 0.0010,
	types.VenueDarkPool:        0.0005,
	types.VenueECN:             0.0008,
	types.VenueMarketMaker:     0.0012,
	types.VenueInternal:        0.0003,
}

// Typical available liquidity per venue, 0-1.
var venueLiquidity = map[types.Venue]float64{
	types.VenuePrimaryExchange: 0.9,
	types.VenueDarkPool:        0.6,
	types.VenueECN:             0.7,
	types.VenueMarketMaker:     0.8,
	types.VenueInternal:        0.5,
}

var darkPoolSizeThreshold = decimal.NewFromInt(5000)

// SelectVenue scores every venue for the order and returns the best.
// Iteration follows the fixed venue order so ties resolve the same way
// on every run.
func SelectVenue(order types.OrderInstruction, cond Conditions) types.Venue {
	best := types.VenuePrimaryExchange
	bestScore := -1.0

	for _, venue := range types.AllVenues() {
		score := (1 - venueCosts[venue]) * 0.3
		score += venueLiquidity[venue] * 0.4

		if order.StealthLevel > 0.7 && venue == types.VenueDarkPool {
			score += 0.3
		}
		if order.Quantity.GreaterThan(darkPoolSizeThreshold) && venue == types.VenueDarkPool {
			score += 0.2
		}
		if order.Urgency > 0.8 && venue == types.VenuePrimaryExchange {
			score += 0.2
		}

		if score > bestScore {
			bestScore = score
			best = venue
		}
	}
	return best
}

// EstimateImpact predicts the market impact of an order as a return
// fraction, capped at 5 percent.
func EstimateImpact(order types.OrderInstruction, cond Conditions) float64 {
	if cond.Volume <= 0 {
		return 0.001
	}
	sizeFactor := order.Quantity.InexactFloat64() / cond.Volume

	impact := 0.5*sizeFactor +
		0.3*cond.Volatility +
		-0.4*cond.LiquidityScore +
		0.2*order.Urgency

	if impact < 0 {
		return 0
	}
	if impact > 0.05 {
		return 0.05
	}
	return impact
}
