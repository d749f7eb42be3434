// SPDX-License-Identifier: AGPL-3.0-or-later

// Package shutdownorchestrator implements the evacuate/evict/shutdown phase
// machine from spec §4.8, shared by both backend and proxy roles.
package shutdownorchestrator

import (
	"log/slog"
	"sync"
	"time"

	"github.com/USA-RedDragon/fulcrum/internal/bus"
	"github.com/USA-RedDragon/fulcrum/internal/channels"
	"github.com/USA-RedDragon/fulcrum/internal/envelope"
)

// warningMilestoneSeconds is the fixed mid-countdown warning point from
// spec §4.8's evacuate phase, independent of the configured countdown.
const warningMilestoneSeconds = 15

// evacuateBuffer is added to the operator-requested countdown before the
// evacuate phase ends, per §4.8: "Begin a countdown of countdownSeconds +
// 8."
const evacuateBuffer = 8 * time.Second

// Hooks are the role-specific actions the orchestrator drives. A backend
// and a proxy wire different behavior for eviction; everything else is
// shared.
type Hooks struct {
	// Occupants returns the player ids currently affected by this service's
	// shutdown, evaluated fresh each time it's called.
	Occupants func() []string
	// Warn notifies occupants of the remaining countdown, called at the
	// visible milestones from §4.8's evacuate phase. It is not called for a
	// forced intent.
	Warn func(secondsLeft int, affected []string)
	// SelectAlternatePeer chooses the least-loaded other proxy to transfer
	// players to. Only called for proxy role; returning ok=false means no
	// alternate is available and occupants are disconnected instead.
	SelectAlternatePeer func() (targetAddress string, ok bool)
	// EvictProxy transfers affected players to targetAddress. Only called
	// for proxy role.
	EvictProxy func(affected []string, targetAddress string) error
	// EvictBackend asks affected players to disconnect. Only called for
	// backend role; a backend has no alternate peer to transfer to.
	EvictBackend func(affected []string)
	// Shutdown stops the process from accepting new work. Typically
	// triggers the process's own exit once this returns.
	Shutdown func()
}

// run tracks one in-flight shutdown intent's state. Its goroutine drives
// phases strictly forward; cancellation only ever stops it early, never
// rewinds it.
type run struct {
	intentID string
	phase    envelope.ShutdownPhase
	cancel   chan struct{}
	once     sync.Once
}

func (r *run) requestCancel() {
	r.once.Do(func() { close(r.cancel) })
}

// Orchestrator drives a single service's shutdown intent lifecycle.
type Orchestrator struct {
	b              *bus.Bus
	role           envelope.Role
	selfID         func() string
	hooks          Hooks
	shutdownBuffer time.Duration

	mu     sync.Mutex
	active *run

	unsubscribe func() error

	// tickInterval paces the evacuate countdown; it is one real second in
	// production and overridden by tests to run the countdown in miniature.
	tickInterval time.Duration
}

// NewOrchestrator constructs an Orchestrator for the given role. selfID
// returns this service's current permanent id.
func NewOrchestrator(b *bus.Bus, role envelope.Role, selfID func() string, hooks Hooks, shutdownBuffer time.Duration) *Orchestrator {
	if shutdownBuffer <= 0 {
		shutdownBuffer = 3 * time.Second
	}
	return &Orchestrator{
		b:              b,
		role:           role,
		selfID:         selfID,
		hooks:          hooks,
		shutdownBuffer: shutdownBuffer,
		tickInterval:   time.Second,
	}
}

// SetTickIntervalForTest overrides the evacuate countdown's tick pacing.
// Exported only for tests that need the full phase machine to run in
// milliseconds instead of real seconds.
func (o *Orchestrator) SetTickIntervalForTest(d time.Duration) {
	o.tickInterval = d
}

// Start subscribes to registry.shutdown.intent.
func (o *Orchestrator) Start() error {
	unsub, err := o.b.Subscribe(channels.ShutdownIntent, o.handleIntent)
	if err != nil {
		return err
	}
	o.unsubscribe = unsub
	return nil
}

// Stop tears down the subscription. It does not cancel an in-flight run.
func (o *Orchestrator) Stop() error {
	if o.unsubscribe != nil {
		return o.unsubscribe()
	}
	return nil
}

func (o *Orchestrator) handleIntent(env *envelope.Envelope) {
	intent, err := envelope.DecodePayload[envelope.ShutdownIntent](env)
	if err != nil {
		slog.Error("shutdownorchestrator: malformed shutdown intent", "error", err)
		return
	}
	if !targets(intent.Targets, o.selfID()) {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if intent.Cancelled {
		if o.active != nil && o.active.intentID == intent.IntentID {
			o.active.requestCancel()
		}
		return
	}

	if o.active != nil {
		if o.active.intentID == intent.IntentID {
			return // duplicate delivery of the same intent
		}
		slog.Warn("shutdownorchestrator: superseding in-flight shutdown intent", "previous", o.active.intentID, "next", intent.IntentID)
		o.active.requestCancel()
	}

	r := &run{intentID: intent.IntentID, phase: envelope.PhaseEvacuate, cancel: make(chan struct{})}
	o.active = r
	go o.runEvacuate(r, intent)
}

func targets(ids []string, self string) bool {
	for _, id := range ids {
		if id == self {
			return true
		}
	}
	return false
}

func (o *Orchestrator) runEvacuate(r *run, intent envelope.ShutdownIntent) {
	countdown := int(evacuateBuffer.Seconds()) + intent.CountdownSeconds
	ticker := time.NewTicker(o.tickInterval)
	defer ticker.Stop()

	for remaining := countdown; remaining >= 0; remaining-- {
		affected := o.currentOccupants()
		if remaining == countdown || remaining == warningMilestoneSeconds {
			if o.hooks.Warn != nil && !intent.Force {
				o.hooks.Warn(remaining, affected)
			}
		}
		o.publishUpdate(r, envelope.PhaseEvacuate, affected, false)

		if remaining == 0 {
			break
		}
		select {
		case <-r.cancel:
			o.finishCancelled(r)
			return
		case <-ticker.C:
		}
	}

	o.runEvict(r, intent)
}

func (o *Orchestrator) runEvict(r *run, intent envelope.ShutdownIntent) {
	r.phase = envelope.PhaseEvict
	affected := o.currentOccupants()

	switch o.role {
	case envelope.RoleProxy:
		if o.hooks.SelectAlternatePeer != nil {
			if target, ok := o.hooks.SelectAlternatePeer(); ok && o.hooks.EvictProxy != nil {
				if err := o.hooks.EvictProxy(affected, target); err != nil {
					slog.Error("shutdownorchestrator: failed transferring players during evict", "intentId", r.intentID, "error", err)
				}
				break
			}
		}
		if o.hooks.EvictBackend != nil {
			o.hooks.EvictBackend(affected)
		}
	default:
		if o.hooks.EvictBackend != nil {
			o.hooks.EvictBackend(affected)
		}
	}

	o.publishUpdate(r, envelope.PhaseEvict, affected, false)

	buffer := o.shutdownBuffer
	if o.tickInterval != time.Second {
		buffer = o.tickInterval
	}
	select {
	case <-r.cancel:
		o.finishCancelled(r)
		return
	case <-time.After(buffer):
	}

	o.runShutdown(r)
}

func (o *Orchestrator) runShutdown(r *run) {
	r.phase = envelope.PhaseShutdown
	o.publishUpdate(r, envelope.PhaseShutdown, nil, false)

	o.mu.Lock()
	if o.active == r {
		o.active = nil
	}
	o.mu.Unlock()

	if o.hooks.Shutdown != nil {
		o.hooks.Shutdown()
	}
}

// finishCancelled retires a cancelled run without publishing a further
// update: the cancellation itself travels on the registry.shutdown.intent
// channel the orchestrator already reacted to, and per §4.8 no further
// registry.shutdown.update is emitted for an intentId once it's cancelled.
func (o *Orchestrator) finishCancelled(r *run) {
	o.mu.Lock()
	if o.active == r {
		o.active = nil
	}
	o.mu.Unlock()
}

func (o *Orchestrator) currentOccupants() []string {
	if o.hooks.Occupants == nil {
		return nil
	}
	return o.hooks.Occupants()
}

func (o *Orchestrator) publishUpdate(r *run, phase envelope.ShutdownPhase, affected []string, cancelled bool) {
	err := o.b.Publish(channels.ShutdownUpdate, "shutdown.update", envelope.ShutdownUpdate{
		IntentID:          r.intentID,
		Phase:             string(phase),
		AffectedPlayerIDs: affected,
		Cancelled:         cancelled,
	})
	if err != nil {
		slog.Error("shutdownorchestrator: failed publishing shutdown update", "intentId", r.intentID, "phase", phase, "error", err)
	}
}
