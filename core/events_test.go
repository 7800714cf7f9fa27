package chainflow

import (
	"context"
	"testing"
	"time"

	"chainflow/core/pubsub"
)

func TestEventLogCollectsRunTransitions(t *testing.T) {
	registry := pipelineRegistry(t)
	chain := buildPipeline(t, registry)

	bus := pubsub.NewInMemoryBus()
	defer bus.Close()
	eventLog := NewEventLog(bus)
	executor := NewChainExecutor(registry, nil, bus)

	run := executor.StartChain(context.Background(), chain, ModeSequential, ExecOptions{})
	if err := eventLog.Collect(run.RunID); err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	run.Wait()

	// The collector goroutine drains asynchronously; poll for the terminal
	// event instead of sleeping a fixed interval.
	deadline := time.After(2 * time.Second)
	for {
		events := eventLog.Recent(run.RunID, 0)
		if len(events) > 0 && events[len(events)-1].Done {
			// run running + 2 events per node + run done.
			if len(events) != 2+2*len(chain.Nodes) {
				t.Errorf("expected %d events, got %d", 2+2*len(chain.Nodes), len(events))
			}
			if events[0].Status != string(RunRunning) {
				t.Errorf("first event should be run start, got %s", events[0].Status)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("terminal event never collected, have %d events", len(events))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestEventLogCollectIdempotent(t *testing.T) {
	bus := pubsub.NewInMemoryBus()
	defer bus.Close()
	eventLog := NewEventLog(bus)

	if err := eventLog.Collect("run-x"); err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	if err := eventLog.Collect("run-x"); err != nil {
		t.Fatalf("second collect failed: %v", err)
	}
}

func TestEventLogDrop(t *testing.T) {
	bus := pubsub.NewInMemoryBus()
	defer bus.Close()
	eventLog := NewEventLog(bus)

	eventLog.Collect("run-y")
	eventLog.Drop("run-y")

	if got := eventLog.Recent("run-y", 0); got != nil {
		t.Errorf("dropped run should have no history, got %d events", len(got))
	}
}

func TestEventLogRecentLimit(t *testing.T) {
	registry := pipelineRegistry(t)
	chain := buildPipeline(t, registry)

	bus := pubsub.NewInMemoryBus()
	defer bus.Close()
	eventLog := NewEventLog(bus)
	executor := NewChainExecutor(registry, nil, bus)

	run := executor.StartChain(context.Background(), chain, ModeSequential, ExecOptions{})
	eventLog.Collect(run.RunID)
	run.Wait()

	deadline := time.After(2 * time.Second)
	for {
		all := eventLog.Recent(run.RunID, 0)
		if len(all) > 2 && all[len(all)-1].Done {
			limited := eventLog.Recent(run.RunID, 2)
			if len(limited) != 2 {
				t.Fatalf("expected 2 events with limit, got %d", len(limited))
			}
			// Limit keeps the most recent entries.
			if !limited[1].Done {
				t.Error("limited view should end with the terminal event")
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("events never fully collected")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
