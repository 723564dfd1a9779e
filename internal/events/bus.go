// Package events provides the event bus that fans trading lifecycle
// events out to the API stream, alert sinks, and metrics.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantrel/autotrader/pkg/types"
)

// EventType defines the category of event.
type EventType string

const (
	EventTypeStateChange EventType = "state_change"
	EventTypeDecision    EventType = "decision"
	EventTypeExecution   EventType = "execution"
	EventTypeRiskAlert   EventType = "risk_alert"
	EventTypeEmergency   EventType = "emergency"
	EventTypeCycleError  EventType = "cycle_error"
)

// Event is the base interface for all system events.
type Event interface {
	GetType() EventType
	GetTimestamp() time.Time
	GetID() string
}

// BaseEvent provides common event fields.
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *BaseEvent) GetType() EventType      { return e.Type }
func (e *BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e *BaseEvent) GetID() string           { return e.ID }

// NewBaseEvent creates a base event with generated ID and timestamp.
func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
	}
}

// StateChangeEvent records a controller state transition.
type StateChangeEvent struct {
	BaseEvent
	From   types.SystemState `json:"from"`
	To     types.SystemState `json:"to"`
	Reason string            `json:"reason"`
}

// DecisionEvent records a completed trading cycle decision.
type DecisionEvent struct {
	BaseEvent
	Decision types.TradingDecision `json:"decision"`
}

// ExecutionRecordEvent records a single order execution result.
type ExecutionRecordEvent struct {
	BaseEvent
	Result types.ExecutionResult `json:"result"`
}

// RiskAlertEvent records a risk limit breach or adjustment.
type RiskAlertEvent struct {
	BaseEvent
	Severity string  `json:"severity"` // "info", "warning", "critical"
	Symbol   string  `json:"symbol,omitempty"`
	Message  string  `json:"message"`
	Value    float64 `json:"value,omitempty"`
	Limit    float64 `json:"limit,omitempty"`
}

// EmergencyEvent records an emergency stop.
type EmergencyEvent struct {
	BaseEvent
	Reason         string  `json:"reason"`
	PortfolioValue float64 `json:"portfolio_value"`
	DailyPnL       float64 `json:"daily_pnl"`
}

// CycleErrorEvent records a failed trading cycle.
type CycleErrorEvent struct {
	BaseEvent
	Error string `json:"error"`
}

// Handler processes a published event.
type Handler func(event Event) error

// Subscription represents an active subscription.
type Subscription struct {
	ID        string
	EventType EventType // empty means all events
	Handler   Handler
	active    atomic.Bool
}

// IsActive reports whether the subscription still receives events.
func (s *Subscription) IsActive() bool { return s.active.Load() }

// BusConfig configures the event bus.
type BusConfig struct {
	NumWorkers int `json:"numWorkers"`
	BufferSize int `json:"bufferSize"`
}

// DefaultBusConfig returns default bus settings.
func DefaultBusConfig() BusConfig {
	return BusConfig{
		NumWorkers: 4,
		BufferSize: 4096,
	}
}

// Bus routes events to subscribers through a bounded channel and a small
// worker pool. Publish never blocks the trading cycle, events are dropped
// when the buffer is full.
type Bus struct {
	mu             sync.RWMutex
	subscribers    map[EventType][]*Subscription
	allSubscribers []*Subscription

	eventChan chan Event

	published atomic.Int64
	processed atomic.Int64
	dropped   atomic.Int64
	errors    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewBus creates a bus and starts its worker pool.
func NewBus(logger *zap.Logger, config BusConfig) *Bus {
	if config.NumWorkers <= 0 {
		config.NumWorkers = 4
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 4096
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		subscribers: make(map[EventType][]*Subscription),
		eventChan:   make(chan Event, config.BufferSize),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.Named("events"),
	}

	for i := 0; i < config.NumWorkers; i++ {
		b.wg.Add(1)
		go b.worker()
	}

	return b
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType EventType, handler Handler) *Subscription {
	sub := &Subscription{
		ID:        uuid.NewString(),
		EventType: eventType,
		Handler:   handler,
	}
	sub.active.Store(true)

	b.mu.Lock()
	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
	b.mu.Unlock()
	return sub
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) *Subscription {
	sub := &Subscription{
		ID:      uuid.NewString(),
		Handler: handler,
	}
	sub.active.Store(true)

	b.mu.Lock()
	b.allSubscribers = append(b.allSubscribers, sub)
	b.mu.Unlock()
	return sub
}

// Unsubscribe deactivates a subscription.
func (b *Bus) Unsubscribe(sub *Subscription) {
	sub.active.Store(false)
}

// Publish enqueues an event without blocking. Returns false if the event
// was dropped because the buffer is full or the bus is closed.
func (b *Bus) Publish(event Event) bool {
	select {
	case <-b.ctx.Done():
		b.dropped.Add(1)
		return false
	default:
	}

	select {
	case b.eventChan <- event:
		b.published.Add(1)
		return true
	default:
		b.dropped.Add(1)
		b.logger.Warn("event dropped, buffer full",
			zap.String("type", string(event.GetType())))
		return false
	}
}

// Close stops the workers after draining in-flight events.
func (b *Bus) Close() {
	b.cancel()
	b.wg.Wait()
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case event := <-b.eventChan:
			b.dispatch(event)
		}
	}
}

func (b *Bus) dispatch(event Event) {
	b.mu.RLock()
	subs := b.subscribers[event.GetType()]
	allSubs := b.allSubscribers
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.active.Load() {
			b.run(sub, event)
		}
	}
	for _, sub := range allSubs {
		if sub.active.Load() {
			b.run(sub, event)
		}
	}
	b.processed.Add(1)
}

func (b *Bus) run(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.errors.Add(1)
			b.logger.Error("event handler panic",
				zap.String("subscription_id", sub.ID),
				zap.String("event_type", string(event.GetType())),
				zap.Any("panic", r))
		}
	}()

	if err := sub.Handler(event); err != nil {
		b.errors.Add(1)
		b.logger.Warn("event handler error",
			zap.String("subscription_id", sub.ID),
			zap.String("event_type", string(event.GetType())),
			zap.Error(err))
	}
}

// Stats reports bus counters.
type Stats struct {
	Published int64 `json:"published"`
	Processed int64 `json:"processed"`
	Dropped   int64 `json:"dropped"`
	Errors    int64 `json:"errors"`
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Processed: b.processed.Load(),
		Dropped:   b.dropped.Load(),
		Errors:    b.errors.Load(),
	}
}
