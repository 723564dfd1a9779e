// Package metrics exposes Prometheus instrumentation for the trading system.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/quantrel/autotrader/pkg/types"
)

// Metrics holds the Prometheus collectors updated by the controller.
type Metrics struct {
	CyclesTotal    prometheus.Counter
	CycleErrors    prometheus.Counter
	TradesTotal    prometheus.Counter
	TradesRejected prometheus.Counter

	PortfolioValue    prometheus.Gauge
	CashBalance       prometheus.Gauge
	DailyPnL          prometheus.Gauge
	RiskScore         prometheus.Gauge
	BudgetUtilization prometheus.Gauge
	SystemState       *prometheus.GaugeVec

	CycleDuration prometheus.Histogram
}

// New creates the collectors and registers them on the given registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autotrader",
			Name:      "cycles_total",
			Help:      "Completed trading cycles.",
		}),
		CycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autotrader",
			Name:      "cycle_errors_total",
			Help:      "Trading cycles that ended in error.",
		}),
		TradesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autotrader",
			Name:      "trades_total",
			Help:      "Orders submitted for execution.",
		}),
		TradesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autotrader",
			Name:      "trades_rejected_total",
			Help:      "Signals rejected by the risk filter.",
		}),
		PortfolioValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "autotrader",
			Name:      "portfolio_value",
			Help:      "Current total portfolio value.",
		}),
		CashBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "autotrader",
			Name:      "cash_balance",
			Help:      "Current cash balance.",
		}),
		DailyPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "autotrader",
			Name:      "daily_pnl",
			Help:      "Realized and unrealized P&L since the start of the trading day.",
		}),
		RiskScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "autotrader",
			Name:      "risk_score",
			Help:      "Latest portfolio risk score, 0 to 100.",
		}),
		BudgetUtilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "autotrader",
			Name:      "risk_budget_utilization",
			Help:      "Portfolio VaR relative to the configured risk budget.",
		}),
		SystemState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "autotrader",
			Name:      "system_state",
			Help:      "Current system state, 1 for the active state and 0 otherwise.",
		}, []string{"state"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "autotrader",
			Name:      "cycle_duration_seconds",
			Help:      "Trading cycle wall time.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}

	reg.MustRegister(
		m.CyclesTotal, m.CycleErrors, m.TradesTotal, m.TradesRejected,
		m.PortfolioValue, m.CashBalance, m.DailyPnL, m.RiskScore,
		m.BudgetUtilization, m.SystemState, m.CycleDuration,
	)
	return m
}

// SetState marks one system state as current and clears the rest.
func (m *Metrics) SetState(state types.SystemState) {
	for _, s := range []types.SystemState{
		types.StateInitializing, types.StateActive, types.StatePaused,
		types.StateEmergencyStop, types.StateMaintenance, types.StateShutdown,
	} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.SystemState.WithLabelValues(string(s)).Set(v)
	}
}
