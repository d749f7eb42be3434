// SPDX-License-Identifier: AGPL-3.0-or-later
package shutdownorchestrator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/USA-RedDragon/fulcrum/internal/bus"
	"github.com/USA-RedDragon/fulcrum/internal/channels"
	"github.com/USA-RedDragon/fulcrum/internal/config"
	"github.com/USA-RedDragon/fulcrum/internal/envelope"
	"github.com/USA-RedDragon/fulcrum/internal/pubsub"
	"github.com/USA-RedDragon/fulcrum/internal/shutdownorchestrator"
)

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	ps, err := pubsub.MakePubSub(context.Background(), &config.Config{})
	if err != nil {
		t.Fatalf("failed creating pubsub: %v", err)
	}
	b := bus.New(ps, nil)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

type phaseRecorder struct {
	mu     sync.Mutex
	phases []string
}

func (r *phaseRecorder) record(phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, phase)
}

func (r *phaseRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.phases))
	copy(out, r.phases)
	return out
}

func TestEvacuateToEvictToShutdown(t *testing.T) {
	t.Parallel()
	b := newTestBus(t)

	var shutdownCalled bool
	var mu sync.Mutex
	orch := shutdownorchestrator.NewOrchestrator(b, envelope.RoleBackend, func() string { return "mini1" },
		shutdownorchestrator.Hooks{
			Occupants: func() []string { return []string{"player1"} },
			EvictBackend: func(affected []string) {
				if len(affected) != 1 || affected[0] != "player1" {
					t.Errorf("unexpected affected players at evict: %v", affected)
				}
			},
			Shutdown: func() {
				mu.Lock()
				shutdownCalled = true
				mu.Unlock()
			},
		}, 10*time.Millisecond)
	orch.SetTickIntervalForTest(5 * time.Millisecond)
	if err := orch.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer func() { _ = orch.Stop() }()

	recorder := &phaseRecorder{}
	unsub, err := b.Subscribe(channels.ShutdownUpdate, func(env *envelope.Envelope) {
		update, derr := envelope.DecodePayload[envelope.ShutdownUpdate](env)
		if derr != nil {
			t.Errorf("malformed shutdown update: %v", derr)
			return
		}
		recorder.record(update.Phase)
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer func() { _ = unsub() }()

	if err := b.Publish(channels.ShutdownIntent, "shutdown.intent", envelope.ShutdownIntent{
		IntentID:         "intent-1",
		Targets:          []string{"mini1"},
		CountdownSeconds: 0,
	}); err != nil {
		t.Fatalf("publish intent failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		done := shutdownCalled
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for shutdown phase")
		case <-time.After(10 * time.Millisecond):
		}
	}

	phases := recorder.snapshot()
	if len(phases) == 0 || phases[len(phases)-1] != "shutdown" {
		t.Fatalf("expected the final phase to be shutdown, got %v", phases)
	}
	sawEvict := false
	for _, p := range phases {
		if p == "evict" {
			sawEvict = true
		}
	}
	if !sawEvict {
		t.Fatalf("expected an evict phase update, got %v", phases)
	}
}

// TestCancelledIntentStopsEarly verifies that cancelling an in-flight
// shutdown intent halts the phase machine before it reaches evict or
// shutdown, and per §4.8 that cancellation itself emits no further
// registry.shutdown.update for that intentId: the last update observed is
// whatever evacuate-phase update was already in flight, never one carrying
// Cancelled=true.
func TestCancelledIntentStopsEarly(t *testing.T) {
	t.Parallel()
	b := newTestBus(t)

	orch := shutdownorchestrator.NewOrchestrator(b, envelope.RoleBackend, func() string { return "mini1" },
		shutdownorchestrator.Hooks{
			Occupants: func() []string { return nil },
		}, 10*time.Millisecond)
	orch.SetTickIntervalForTest(50 * time.Millisecond)
	if err := orch.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer func() { _ = orch.Stop() }()

	recorder := &phaseRecorder{}
	var sawCancelledUpdate bool
	var mu sync.Mutex
	unsub, err := b.Subscribe(channels.ShutdownUpdate, func(env *envelope.Envelope) {
		update, derr := envelope.DecodePayload[envelope.ShutdownUpdate](env)
		if derr != nil {
			return
		}
		recorder.record(update.Phase)
		if update.Cancelled {
			mu.Lock()
			sawCancelledUpdate = true
			mu.Unlock()
		}
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer func() { _ = unsub() }()

	if err := b.Publish(channels.ShutdownIntent, "shutdown.intent", envelope.ShutdownIntent{
		IntentID:         "intent-2",
		Targets:          []string{"mini1"},
		CountdownSeconds: 0,
	}); err != nil {
		t.Fatalf("publish intent failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := b.Publish(channels.ShutdownIntent, "shutdown.intent", envelope.ShutdownIntent{
		IntentID:  "intent-2",
		Targets:   []string{"mini1"},
		Cancelled: true,
	}); err != nil {
		t.Fatalf("publish cancellation failed: %v", err)
	}

	// Give the orchestrator goroutine time to observe the cancellation and
	// the full (uncancelled) countdown time to have reached evict/shutdown
	// had cancellation not taken effect, then confirm it never did.
	time.Sleep(500 * time.Millisecond)

	mu.Lock()
	cancelledUpdateSeen := sawCancelledUpdate
	mu.Unlock()
	if cancelledUpdateSeen {
		t.Fatal("expected no further shutdown update to be published after cancellation")
	}

	for _, p := range recorder.snapshot() {
		if p == "evict" || p == "shutdown" {
			t.Fatalf("cancelled intent reached phase %q, expected it to stop during evacuate", p)
		}
	}
}
