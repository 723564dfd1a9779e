// Package alert delivers operator notifications for emergency stops and
// risk limit breaches.
package alert

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Payload carries the details of an alert.
type Payload struct {
	Reason         string    `json:"reason"`
	Timestamp      time.Time `json:"timestamp"`
	PortfolioValue float64   `json:"portfolio_value"`
	Cash           float64   `json:"cash"`
	DailyPnL       float64   `json:"daily_pnl"`
}

// Sink delivers alerts. Implementations must not block the caller for
// long; the controller fires alerts from the trading cycle.
type Sink interface {
	Notify(ctx context.Context, severity string, payload Payload) error
}

// LogSink writes alerts to the structured log. It is the default sink
// when no external notification channel is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log-backed alert sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("alert")}
}

// Notify logs the alert at a level matching its severity.
func (s *LogSink) Notify(ctx context.Context, severity string, payload Payload) error {
	fields := []zap.Field{
		zap.String("reason", payload.Reason),
		zap.Time("timestamp", payload.Timestamp),
		zap.Float64("portfolio_value", payload.PortfolioValue),
		zap.Float64("cash", payload.Cash),
		zap.Float64("daily_pnl", payload.DailyPnL),
	}
	switch severity {
	case "critical":
		s.logger.Error("ALERT", fields...)
	case "warning":
		s.logger.Warn("ALERT", fields...)
	default:
		s.logger.Info("ALERT", fields...)
	}
	return nil
}

// Multi fans an alert out to several sinks, returning the first error.
type Multi []Sink

// Notify delivers the alert to every sink.
func (m Multi) Notify(ctx context.Context, severity string, payload Payload) error {
	var first error
	for _, s := range m {
		if err := s.Notify(ctx, severity, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}
