package chainflow

import (
	"sync"

	"chainflow/core/pubsub"
)

// DefaultEventLogCapacity bounds the per-run event history.
const DefaultEventLogCapacity = 256

// EventLog collects run transition events from the bus into bounded
// per-run histories, so monitoring callers can poll past events instead of
// holding a live subscription.
type EventLog struct {
	bus pubsub.Bus

	mu       sync.Mutex
	capacity int
	history  map[string]*ringBuffer[*pubsub.Event]
}

// NewEventLog creates an event log over the bus.
func NewEventLog(bus pubsub.Bus) *EventLog {
	return &EventLog{
		bus:      bus,
		capacity: DefaultEventLogCapacity,
		history:  make(map[string]*ringBuffer[*pubsub.Event]),
	}
}

// Collect starts recording the run's events. Idempotent; the bus replays
// cached events to the new subscription, so collecting after the run
// started loses nothing within the cache window.
func (el *EventLog) Collect(runID string) error {
	el.mu.Lock()
	if _, exists := el.history[runID]; exists {
		el.mu.Unlock()
		return nil
	}
	buf := newRingBuffer[*pubsub.Event](el.capacity)
	el.history[runID] = buf
	el.mu.Unlock()

	sub, err := el.bus.Subscribe(RunTopic(runID), "eventlog")
	if err != nil {
		return err
	}

	go func() {
		for ev := range sub.Chan() {
			buf.Append(ev)
			if ev.Done {
				sub.Close()
				return
			}
		}
	}()
	return nil
}

// Recent returns the collected events for a run in FIFO order. Pass
// limit <= 0 for all retained events.
func (el *EventLog) Recent(runID string, limit int) []*pubsub.Event {
	el.mu.Lock()
	buf, ok := el.history[runID]
	el.mu.Unlock()
	if !ok {
		return nil
	}
	return buf.Snapshot(limit)
}

// Drop releases a run's history (called on store cleanup).
func (el *EventLog) Drop(runID string) {
	el.mu.Lock()
	delete(el.history, runID)
	el.mu.Unlock()
	el.bus.Unsubscribe(RunTopic(runID), "eventlog")
}
