// Package events_test provides tests for the event bus.
package events_test

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/quantrel/autotrader/internal/events"
	"github.com/quantrel/autotrader/pkg/types"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), events.DefaultBusConfig())
	defer bus.Close()

	received := make(chan events.Event, 1)
	bus.Subscribe(events.EventTypeStateChange, func(e events.Event) error {
		received <- e
		return nil
	})

	ok := bus.Publish(&events.StateChangeEvent{
		BaseEvent: events.NewBaseEvent(events.EventTypeStateChange),
		From:      types.StateInitializing,
		To:        types.StateActive,
		Reason:    "startup",
	})
	if !ok {
		t.Fatal("Publish returned false")
	}

	select {
	case e := <-received:
		sc, isStateChange := e.(*events.StateChangeEvent)
		if !isStateChange {
			t.Fatalf("Unexpected event type %T", e)
		}
		if sc.To != types.StateActive {
			t.Errorf("Expected transition to ACTIVE, got %s", sc.To)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for event")
	}
}

func TestBusTypeFilter(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), events.DefaultBusConfig())
	defer bus.Close()

	stateEvents := make(chan events.Event, 4)
	allEvents := make(chan events.Event, 4)

	bus.Subscribe(events.EventTypeStateChange, func(e events.Event) error {
		stateEvents <- e
		return nil
	})
	bus.SubscribeAll(func(e events.Event) error {
		allEvents <- e
		return nil
	})

	bus.Publish(&events.CycleErrorEvent{
		BaseEvent: events.NewBaseEvent(events.EventTypeCycleError),
		Error:     "boom",
	})

	select {
	case e := <-allEvents:
		if e.GetType() != events.EventTypeCycleError {
			t.Errorf("Expected cycle_error, got %s", e.GetType())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for wildcard delivery")
	}

	select {
	case e := <-stateEvents:
		t.Fatalf("Filtered subscriber received %s", e.GetType())
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), events.DefaultBusConfig())
	defer bus.Close()

	received := make(chan events.Event, 4)
	sub := bus.SubscribeAll(func(e events.Event) error {
		received <- e
		return nil
	})
	bus.Unsubscribe(sub)

	bus.Publish(&events.CycleErrorEvent{
		BaseEvent: events.NewBaseEvent(events.EventTypeCycleError),
		Error:     "dropped",
	})

	select {
	case e := <-received:
		t.Fatalf("Unsubscribed handler received %s", e.GetType())
	case <-time.After(100 * time.Millisecond):
	}
}
