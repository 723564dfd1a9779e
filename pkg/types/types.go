// Package types provides shared type definitions for the autonomous trading pipeline.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// SystemState represents the controller state machine.
type SystemState string

const (
	StateInitializing  SystemState = "initializing"
	StateActive        SystemState = "active"
	StatePaused        SystemState = "paused"
	StateEmergencyStop SystemState = "emergency_stop"
	StateMaintenance   SystemState = "maintenance"
	StateShutdown      SystemState = "shutdown"
)

// TradingMode selects the pacing and aggressiveness of the trading loop.
type TradingMode string

const (
	ModeConservative TradingMode = "conservative"
	ModeModerate     TradingMode = "moderate"
	ModeAggressive   TradingMode = "aggressive"
	ModeCustom       TradingMode = "custom"
)

// LoopInterval returns the inter-cycle sleep for a trading mode.
func (m TradingMode) LoopInterval() time.Duration {
	switch m {
	case ModeConservative:
		return 300 * time.Second
	case ModeModerate:
		return 180 * time.Second
	case ModeAggressive:
		return 60 * time.Second
	case ModeCustom:
		return 120 * time.Second
	default:
		return 180 * time.Second
	}
}

// MarketCondition is the coarse per-cycle market classification.
type MarketCondition string

const (
	ConditionBull           MarketCondition = "bull_market"
	ConditionBear           MarketCondition = "bear_market"
	ConditionSideways       MarketCondition = "sideways"
	ConditionHighVolatility MarketCondition = "high_volatility"
	ConditionLowVolatility  MarketCondition = "low_volatility"
	ConditionCrisis         MarketCondition = "crisis"
)

// Direction is the recommendation carried by a trading signal.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionHold Direction = "HOLD"
)

// StrategyKind identifies a signal-generating strategy.
type StrategyKind string

const (
	StrategyMomentum       StrategyKind = "momentum"
	StrategyMeanReversion  StrategyKind = "mean_reversion"
	StrategyArbitrage      StrategyKind = "arbitrage"
	StrategyTrendFollowing StrategyKind = "trend_following"
	StrategyVolatility     StrategyKind = "volatility"
	StrategyMLEnsemble     StrategyKind = "ml_ensemble"
)

// AllStrategyKinds lists every strategy kind in declaration order.
func AllStrategyKinds() []StrategyKind {
	return []StrategyKind{
		StrategyMomentum,
		StrategyMeanReversion,
		StrategyArbitrage,
		StrategyTrendFollowing,
		StrategyVolatility,
		StrategyMLEnsemble,
	}
}

// TradingSignal is a directional recommendation produced by the orchestrator.
// Signals are read-only downstream and live for a single cycle.
type TradingSignal struct {
	Symbol      string          `json:"symbol"`
	Direction   Direction       `json:"direction"`
	Strength    float64         `json:"strength"`   // 0-1
	Confidence  float64         `json:"confidence"` // 0-1
	Source      StrategyKind    `json:"source"`
	TargetPrice decimal.Decimal `json:"targetPrice,omitempty"`
	StopLoss    decimal.Decimal `json:"stopLoss,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	GeneratedAt time.Time       `json:"generatedAt"`
}

// RiskLevel is the ordered classification of a risk score.
type RiskLevel int

const (
	RiskVeryLow RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskVeryHigh
)

func (l RiskLevel) String() string {
	switch l {
	case RiskVeryLow:
		return "very_low"
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskVeryHigh:
		return "very_high"
	default:
		return "unknown"
	}
}

// RiskAssessment captures per-asset risk computed fresh each cycle.
type RiskAssessment struct {
	Symbol            string    `json:"symbol"`
	Level             RiskLevel `json:"level"`
	Score             float64   `json:"score"` // 0-100
	VaR95             float64   `json:"var95"`
	CVaR95            float64   `json:"cvar95"`
	MaxDrawdown       float64   `json:"maxDrawdown"`
	Volatility        float64   `json:"volatility"`
	Beta              float64   `json:"beta"`
	MarketCorrelation float64   `json:"marketCorrelation"`
	LiquidityRisk     float64   `json:"liquidityRisk"`
	ConcentrationRisk float64   `json:"concentrationRisk"`
	DataPoints        int       `json:"dataPoints"`
	Default           bool      `json:"default,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// PortfolioRisk aggregates portfolio-level risk, recomputed once per cycle.
type PortfolioRisk struct {
	TotalVaR             float64            `json:"totalVar"`
	Beta                 float64            `json:"beta"`
	DiversificationRatio float64            `json:"diversificationRatio"`
	ConcentrationRisk    float64            `json:"concentrationRisk"`
	LiquidityRisk        float64            `json:"liquidityRisk"`
	LeverageRatio        float64            `json:"leverageRatio"`
	BudgetUtilization    float64            `json:"budgetUtilization"`
	StressResults        map[string]float64 `json:"stressResults"`
	Timestamp            time.Time          `json:"timestamp"`
}

// RiskAdjustedSignal pairs an original signal with its risk-scaled form.
type RiskAdjustedSignal struct {
	Original       TradingSignal  `json:"original"`
	Adjusted       TradingSignal  `json:"adjusted"`
	Assessment     RiskAssessment `json:"assessment"`
	SizeAdjustment float64        `json:"sizeAdjustment"`
	Rationale      string         `json:"rationale"`
	Timestamp      time.Time      `json:"timestamp"`
}

// OrderSide represents buy or sell.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType represents the type of order.
type OrderType string

const (
	OrderMarket  OrderType = "market"
	OrderLimit   OrderType = "limit"
	OrderStop    OrderType = "stop"
	OrderIceberg OrderType = "iceberg"
	OrderTWAP    OrderType = "twap"
	OrderVWAP    OrderType = "vwap"
)

// OrderStatus represents the terminal status of an execution.
type OrderStatus string

const (
	StatusFilled          OrderStatus = "filled"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusCancelled       OrderStatus = "cancelled"
	StatusRejected        OrderStatus = "rejected"
)

// ExecStrategy selects the execution algorithm for an order.
type ExecStrategy string

const (
	ExecAggressive    ExecStrategy = "aggressive"
	ExecPassive       ExecStrategy = "passive"
	ExecStealth       ExecStrategy = "stealth"
	ExecOpportunistic ExecStrategy = "opportunistic"
	ExecIceberg       ExecStrategy = "iceberg"
	ExecTWAP          ExecStrategy = "twap"
	ExecVWAP          ExecStrategy = "vwap"
)

// Venue is a named execution venue.
type Venue string

const (
	VenuePrimaryExchange Venue = "primary_exchange"
	VenueDarkPool        Venue = "dark_pool"
	VenueECN             Venue = "ecn"
	VenueMarketMaker     Venue = "market_maker"
	VenueInternal        Venue = "internal"
)

// AllVenues lists venues in a fixed order; venue scoring iterates this list
// so selection is deterministic.
func AllVenues() []Venue {
	return []Venue{
		VenuePrimaryExchange,
		VenueDarkPool,
		VenueECN,
		VenueMarketMaker,
		VenueInternal,
	}
}

// OrderInstruction describes a single order handed to an execution algorithm.
// Large instructions may be worked as multiple child slices.
type OrderInstruction struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	Side         OrderSide       `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	Type         OrderType       `json:"type"`
	Price        decimal.Decimal `json:"price,omitempty"`
	StopPrice    decimal.Decimal `json:"stopPrice,omitempty"`
	TimeInForce  string          `json:"timeInForce"` // DAY, GTC, IOC, FOK
	Strategy     ExecStrategy    `json:"strategy"`
	Urgency      float64         `json:"urgency"`      // 0 patient, 1 urgent
	StealthLevel float64         `json:"stealthLevel"` // 0 visible, 1 hidden
	Metadata     map[string]any  `json:"metadata,omitempty"`
}

// Fill is a single execution fill.
type Fill struct {
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Timestamp time.Time       `json:"timestamp"`
}

// ExecutionResult reports the outcome of one order instruction. Exactly one
// result exists per instruction; failures produce a synthetic rejected result.
type ExecutionResult struct {
	OrderID       string          `json:"orderId"`
	Symbol        string          `json:"symbol"`
	Side          OrderSide       `json:"side"`
	RequestedQty  decimal.Decimal `json:"requestedQty"`
	ExecutedQty   decimal.Decimal `json:"executedQty"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	TotalCost     decimal.Decimal `json:"totalCost"`
	Commission    decimal.Decimal `json:"commission"`
	Venue         Venue           `json:"venue"`
	Strategy      ExecStrategy    `json:"strategy"`
	MarketImpact  float64         `json:"marketImpact"`
	Slippage      float64         `json:"slippage"`
	Shortfall     decimal.Decimal `json:"shortfall"` // slippage in currency
	Status        OrderStatus     `json:"status"`
	Fills         []Fill          `json:"fills"`
	ExecutedAt    time.Time       `json:"executedAt"`
	FailureReason string          `json:"failureReason,omitempty"`
}

// Filled reports whether any quantity executed.
func (r *ExecutionResult) Filled() bool {
	return r.Status == StatusFilled || r.Status == StatusPartiallyFilled
}

// Position is a signed holding owned by the portfolio. The controller is the
// only writer. Invariant: AvgPrice * Quantity == CostBasis when Quantity is
// non-zero; all three are zero otherwise.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	CostBasis     decimal.Decimal `json:"costBasis"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
	RealizedPnL   decimal.Decimal `json:"realizedPnl"`
}

// Portfolio is the symbol->position map plus cash, owned by the controller.
type Portfolio struct {
	Positions map[string]*Position `json:"positions"`
	Cash      decimal.Decimal      `json:"cash"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

// NewPortfolio creates an empty portfolio with the given cash balance.
func NewPortfolio(cash decimal.Decimal) *Portfolio {
	return &Portfolio{
		Positions: make(map[string]*Position),
		Cash:      cash,
		UpdatedAt: time.Now(),
	}
}

// Clone returns a deep copy for read-only consumers.
func (p *Portfolio) Clone() *Portfolio {
	cp := &Portfolio{
		Positions: make(map[string]*Position, len(p.Positions)),
		Cash:      p.Cash,
		UpdatedAt: p.UpdatedAt,
	}
	for sym, pos := range p.Positions {
		dup := *pos
		cp.Positions[sym] = &dup
	}
	return cp
}

// SystemMetrics tracks controller-level performance counters.
type SystemMetrics struct {
	TotalTrades      int       `json:"totalTrades"`
	SuccessfulTrades int       `json:"successfulTrades"`
	TotalPnL         float64   `json:"totalPnl"`
	DailyPnL         float64   `json:"dailyPnl"`
	MaxDrawdown      float64   `json:"maxDrawdown"`
	WinRate          float64   `json:"winRate"`
	PortfolioValue   float64   `json:"portfolioValue"`
	CashBalance      float64   `json:"cashBalance"`
	RiskScore        float64   `json:"riskScore"`
	LastUpdated      time.Time `json:"lastUpdated"`
}

// TradingDecision is the per-cycle audit record.
type TradingDecision struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	Signals     []TradingSignal   `json:"signals"`
	Assessments []RiskAssessment  `json:"assessments"`
	Results     []ExecutionResult `json:"results"`
	State       SystemState       `json:"state"`
	Condition   MarketCondition   `json:"condition"`
	Confidence  float64           `json:"confidence"`
	RiskScore   float64           `json:"riskScore"`
}
