// SPDX-License-Identifier: AGPL-3.0-or-later

// Package heartbeat publishes the periodic liveness/load envelope every
// proxy and backend emits, per spec §4.4. The registry-side reaper that
// consumes these lives in internal/registry, which owns the directory
// these heartbeats update.
package heartbeat

import (
	"log/slog"
	"time"

	"github.com/USA-RedDragon/fulcrum/internal/bus"
	"github.com/USA-RedDragon/fulcrum/internal/channels"
	"github.com/USA-RedDragon/fulcrum/internal/envelope"
	"github.com/USA-RedDragon/fulcrum/internal/identity"
	"github.com/go-co-op/gocron/v2"
)

// LoadFunc reports a service's current load snapshot at heartbeat time.
type LoadFunc func() envelope.LoadMetrics

// Emitter publishes a heartbeat envelope for one identity every tick.
type Emitter struct {
	b      *bus.Bus
	id     *identity.Identity
	loadFn LoadFunc
}

// NewEmitter constructs an Emitter for id, querying loadFn for the current
// player/TPS/response-time snapshot on each tick.
func NewEmitter(b *bus.Bus, id *identity.Identity, loadFn LoadFunc) *Emitter {
	return &Emitter{b: b, id: id, loadFn: loadFn}
}

// Tick publishes a single heartbeat. It never returns an error to the
// caller: a publish failure is logged and Tick returns. The emitter keeps
// no failure counter of its own; envelopes the bus drops from a full
// outbox are counted by the bus's dropped-envelope metric.
func (e *Emitter) Tick() {
	permanentID, ok := e.id.PermanentID()
	if !ok {
		return
	}
	channel := channels.ServerHeartbeatStatus
	if e.id.Role() == envelope.RoleProxy {
		channel = channels.ProxyHeartbeatStatus
	}
	status := envelope.HeartbeatStatus{
		PermanentID:    permanentID,
		Status:         envelope.StatusAvailable,
		Load:           e.loadFn(),
		TimestampMilli: time.Now().UnixMilli(),
	}
	if err := e.b.Publish(channel, "heartbeat.status", status); err != nil {
		slog.Error("heartbeat: publish failed", "permanentId", permanentID, "error", err)
	}
}

// Schedule registers Tick to run on the given scheduler every interval,
// replacing a thread-per-task scheduler with the single periodic
// scheduler every Fulcrum subsystem's ticks fan out from.
func (e *Emitter) Schedule(scheduler gocron.Scheduler, interval time.Duration) (gocron.Job, error) {
	return scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(e.Tick),
	)
}
