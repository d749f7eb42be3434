// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"errors"
	"sync"

	"github.com/USA-RedDragon/fulcrum/internal/bus"
	"github.com/USA-RedDragon/fulcrum/internal/channels"
	"github.com/USA-RedDragon/fulcrum/internal/envelope"
	"github.com/google/uuid"
)

// ErrUnknownIntent is returned when cancelling an intent id the tracker
// has no record of.
var ErrUnknownIntent = errors.New("registry: unknown shutdown intent id")

// IntentTracker issues shutdown intents on operator request and tracks
// each target's phase as reported back on registry.shutdown.update, per
// §4.5's "registry also listens for phase-update messages from the
// targets and advances its own view of each target's draining state".
type IntentTracker struct {
	mu      sync.Mutex
	intents map[string]*envelope.ShutdownIntent
}

// NewIntentTracker returns an empty tracker.
func NewIntentTracker() *IntentTracker {
	return &IntentTracker{intents: make(map[string]*envelope.ShutdownIntent)}
}

// Issue creates and broadcasts a new shutdown intent targeting targets.
func (t *IntentTracker) Issue(b *bus.Bus, targets []string, countdownSeconds int, force bool) (*envelope.ShutdownIntent, error) {
	intent := &envelope.ShutdownIntent{
		IntentID:         uuid.NewString(),
		Targets:          targets,
		Phase:            string(envelope.PhaseEvacuate),
		CountdownSeconds: countdownSeconds,
		Force:            force,
	}
	t.mu.Lock()
	t.intents[intent.IntentID] = intent
	t.mu.Unlock()

	if err := b.Publish(channels.ShutdownIntent, "shutdown.intent", intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// Cancel marks intentID cancelled and rebroadcasts it. Cancellation is
// idempotent and monotonic: once the evict phase is reached a new intent
// id is required to re-enter evacuate.
func (t *IntentTracker) Cancel(b *bus.Bus, intentID string) error {
	t.mu.Lock()
	intent, ok := t.intents[intentID]
	if ok {
		intent.Cancelled = true
	}
	t.mu.Unlock()
	if !ok {
		return ErrUnknownIntent
	}
	return b.Publish(channels.ShutdownIntent, "shutdown.intent", intent)
}

// HandleUpdate advances the tracker's view of intentID's phase from a
// target's reported update.
func (t *IntentTracker) HandleUpdate(update envelope.ShutdownUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	intent, ok := t.intents[update.IntentID]
	if !ok {
		return
	}
	intent.Phase = update.Phase
	if update.Cancelled {
		intent.Cancelled = true
	}
}

// Get returns a snapshot of the tracked intent, if any.
func (t *IntentTracker) Get(intentID string) (envelope.ShutdownIntent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	intent, ok := t.intents[intentID]
	if !ok {
		return envelope.ShutdownIntent{}, false
	}
	return *intent, true
}

// List returns a snapshot of every tracked intent.
func (t *IntentTracker) List() []envelope.ShutdownIntent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]envelope.ShutdownIntent, 0, len(t.intents))
	for _, intent := range t.intents {
		out = append(out, *intent)
	}
	return out
}
