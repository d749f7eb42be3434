// SPDX-License-Identifier: AGPL-3.0-or-later

package slotorchestrator

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/USA-RedDragon/fulcrum/internal/bus"
	"github.com/USA-RedDragon/fulcrum/internal/channels"
	"github.com/USA-RedDragon/fulcrum/internal/config"
	"github.com/USA-RedDragon/fulcrum/internal/envelope"
	"github.com/USA-RedDragon/fulcrum/internal/metrics"
	"github.com/USA-RedDragon/fulcrum/internal/queue"
	"github.com/go-co-op/gocron/v2"
	"github.com/puzpuzpuz/xsync/v4"
)

// Orchestrator is the backend-side slot orchestrator from spec §4.6: it
// advertises family capacity, fulfils provision commands behind a bounded
// per-family FIFO queue, and sweeps idle slots closed.
type Orchestrator struct {
	b           *bus.Bus
	permanentID func() string
	families    map[string]*family
	pending     *queue.Queue
	slots       *xsync.Map[string, *Slot]
	metrics     *metrics.Metrics
	idleTimeout time.Duration

	workers    *xsync.Map[string, struct{}]
	unsubscribe func() error
}

// NewOrchestrator constructs an Orchestrator for the configured families,
// with a FIFO provision queue bounded at queueDepth per family.
func NewOrchestrator(b *bus.Bus, permanentID func() string, families []config.SlotFamily, queueDepth int, idleTimeout time.Duration, m *metrics.Metrics) *Orchestrator {
	fs := make(map[string]*family, len(families))
	for _, f := range families {
		fs[f.ID] = newFamily(f)
	}
	return &Orchestrator{
		b:           b,
		permanentID: permanentID,
		families:    fs,
		pending:     queue.NewBoundedQueue(queueDepth),
		slots:       xsync.NewMap[string, *Slot](),
		metrics:     m,
		idleTimeout: idleTimeout,
		workers:     xsync.NewMap[string, struct{}](),
	}
}

// Advertise publishes one slot.family.advertisement per configured family,
// called once at startup and again whenever active-slot counts change.
func (o *Orchestrator) Advertise() error {
	for id := range o.families {
		if err := o.publishFamilyAdvertisement(o.families[id]); err != nil {
			return fmt.Errorf("slotorchestrator: failed advertising family %s: %w", id, err)
		}
	}
	return nil
}

// Start subscribes to this backend's directed provision channel.
func (o *Orchestrator) Start() error {
	unsub, err := o.b.Subscribe(channels.SlotProvision(o.permanentID()), o.handleProvision)
	if err != nil {
		return err
	}
	o.unsubscribe = unsub
	return nil
}

// Stop tears down the provision subscription.
func (o *Orchestrator) Stop() error {
	if o.unsubscribe != nil {
		return o.unsubscribe()
	}
	return nil
}

func (o *Orchestrator) handleProvision(env *envelope.Envelope) {
	req, err := envelope.DecodePayload[envelope.SlotProvisionRequest](env)
	if err != nil {
		slog.Error("slotorchestrator: malformed provision request", "error", err)
		return
	}
	f, ok := o.families[req.FamilyID]
	if !ok {
		o.reject(env, "unknown family")
		return
	}

	raw, err := envelope.Encode(env)
	if err != nil {
		slog.Error("slotorchestrator: failed re-encoding provision request", "error", err)
		return
	}
	if _, err := o.pending.Push(req.FamilyID, raw); err != nil {
		if o.metrics != nil {
			o.metrics.RecordProvisionQueueFull(req.FamilyID)
		}
		o.reject(env, "capacity")
		return
	}
	o.ensureWorker(req.FamilyID, f)
}

// ensureWorker starts (if not already running) the single goroutine that
// drains req.FamilyID's pending queue in FIFO order. Exactly one worker
// per family at a time preserves per-family provision ordering.
func (o *Orchestrator) ensureWorker(familyID string, f *family) {
	if _, loaded := o.workers.LoadOrStore(familyID, struct{}{}); loaded {
		return
	}
	go o.drain(familyID, f)
}

func (o *Orchestrator) drain(familyID string, f *family) {
	defer o.workers.Delete(familyID)
	for {
		items := o.pending.Drain(familyID)
		if len(items) == 0 {
			return
		}
		for _, raw := range items {
			env, err := envelope.Decode(raw)
			if err != nil {
				slog.Error("slotorchestrator: dropping undecodable queued request", "family", familyID, "error", err)
				continue
			}
			o.process(env, f)
		}
	}
}

func (o *Orchestrator) process(env *envelope.Envelope, f *family) {
	req, err := envelope.DecodePayload[envelope.SlotProvisionRequest](env)
	if err != nil {
		return
	}
	start := time.Now()

	if !f.supportsVariant(req.VariantID) {
		o.reject(env, "unsupported variant")
		o.recordOutcome(f.id, "rejected", start)
		return
	}
	if !f.tryReserve() {
		o.reject(env, "capacity")
		o.recordOutcome(f.id, "rejected", start)
		return
	}

	slotID := fmt.Sprintf("%s-s%d", o.permanentID(), f.nextSeq())
	slot := newSlot(slotID, f.id, req.VariantID, req.Metadata)
	o.slots.Store(slotID, slot)
	slot.setState(StateReady)

	if err := o.b.Reply(env, "slot.provision.response", envelope.SlotProvisionResponse{
		SlotID: slotID,
		State:  string(StateReady),
	}); err != nil {
		slog.Error("slotorchestrator: failed replying to provision request", "slotId", slotID, "error", err)
	}
	o.publishSlotStatus(slot)
	if err := o.publishFamilyAdvertisement(f); err != nil {
		slog.Error("slotorchestrator: failed re-advertising family", "family", f.id, "error", err)
	}
	o.recordOutcome(f.id, "accepted", start)
}

func (o *Orchestrator) recordOutcome(familyID, status string, start time.Time) {
	if o.metrics == nil {
		return
	}
	o.metrics.RecordSlotProvision(familyID, status, time.Since(start).Seconds())
}

func (o *Orchestrator) reject(env *envelope.Envelope, reason string) {
	if err := o.b.Reply(env, "slot.provision.response", envelope.SlotProvisionResponse{
		Rejected: true,
		Reason:   reason,
	}); err != nil {
		slog.Error("slotorchestrator: failed replying with rejection", "reason", reason, "error", err)
	}
}

func (o *Orchestrator) publishSlotStatus(slot *Slot) error {
	return o.b.Publish(channels.SlotStatus, "slot.status", envelope.SlotStatus{
		SlotID:   slot.ID,
		FamilyID: slot.FamilyID,
		State:    string(slot.State()),
	})
}

func (o *Orchestrator) publishFamilyAdvertisement(f *family) error {
	active, max, variants := f.snapshot()
	if o.metrics != nil {
		o.metrics.SetActiveSlots(f.id, "active", float64(active))
	}
	return o.b.Publish(channels.SlotFamilyAdvertisement, "slot.family.advertisement", envelope.SlotFamilyAdvertisement{
		FamilyID:    f.id,
		MaxSlots:    max,
		ActiveSlots: active,
		Variants:    variants,
	})
}

// SweepIdle closes slots that have had zero occupants for longer than the
// configured idle timeout, per §4.6's idle policy: ready slots start
// draining, and already-draining slots close and release their family
// reservation.
func (o *Orchestrator) SweepIdle() {
	now := time.Now()
	o.slots.Range(func(slotID string, slot *Slot) bool {
		idle := slot.IdleFor(now)
		if idle <= o.idleTimeout {
			return true
		}
		switch slot.State() {
		case StateReady:
			slot.setState(StateDraining)
			_ = o.publishSlotStatus(slot)
		case StateDraining:
			slot.setState(StateClosed)
			_ = o.publishSlotStatus(slot)
			if f, ok := o.families[slot.FamilyID]; ok {
				f.release()
				_ = o.publishFamilyAdvertisement(f)
			}
			o.slots.Delete(slotID)
		}
		return true
	})
}

// OccupantIDs returns the player ids occupying any slot on this backend,
// for the shutdown orchestrator's evacuate/evict phases.
func (o *Orchestrator) OccupantIDs() []string {
	var ids []string
	o.slots.Range(func(_ string, slot *Slot) bool {
		ids = append(ids, slot.OccupantIDs()...)
		return true
	})
	return ids
}

// LoadSnapshot summarizes this backend's current load for heartbeat
// reporting: total occupants across every active slot against the summed
// per-family capacity.
func (o *Orchestrator) LoadSnapshot() envelope.LoadMetrics {
	var players, capacity int
	o.slots.Range(func(_ string, slot *Slot) bool {
		players += slot.OccupantCount()
		return true
	})
	for _, f := range o.families {
		_, max, _ := f.snapshot()
		capacity += max
	}
	return envelope.LoadMetrics{PlayerCount: players, MaxPlayers: capacity}
}

// ScheduleIdleSweep registers SweepIdle on scheduler, ticking at the
// configured idle timeout's quarter so slots never sit idle much past
// the configured threshold.
func (o *Orchestrator) ScheduleIdleSweep(scheduler gocron.Scheduler) (gocron.Job, error) {
	tick := o.idleTimeout / 4
	if tick <= 0 {
		tick = time.Second
	}
	return scheduler.NewJob(
		gocron.DurationJob(tick),
		gocron.NewTask(o.SweepIdle),
	)
}
