// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"log/slog"
	"time"

	"github.com/USA-RedDragon/fulcrum/internal/bus"
	"github.com/USA-RedDragon/fulcrum/internal/channels"
	"github.com/USA-RedDragon/fulcrum/internal/envelope"
	"github.com/go-co-op/gocron/v2"
)

// Reaper evaluates every directory entry on a fixed tick, transitioning
// stale entries through unavailable -> dead -> removed per §4.4.
type Reaper struct {
	dir           *Directory
	b             *bus.Bus
	heartbeatT    time.Duration
	graceWindow   time.Duration
	unavailableAt time.Duration // 3 * heartbeatT
	deadAt        time.Duration // 6 * heartbeatT
}

// NewReaper constructs a Reaper using the configured heartbeat interval
// and grace window to derive the 3x/6x thresholds from §4.4.
func NewReaper(dir *Directory, b *bus.Bus, heartbeatInterval, graceWindow time.Duration) *Reaper {
	return &Reaper{
		dir:           dir,
		b:             b,
		heartbeatT:    heartbeatInterval,
		graceWindow:   graceWindow,
		unavailableAt: 3 * heartbeatInterval,
		deadAt:        6 * heartbeatInterval,
	}
}

// Tick runs one reaper pass over the directory.
func (r *Reaper) Tick() {
	now := time.Now()
	for _, e := range r.dir.List() {
		r.evaluate(e, now)
	}
}

func (r *Reaper) evaluate(e *Entry, now time.Time) {
	elapsed := now.Sub(e.LastHeartbeatAt())
	status := e.Status()

	switch {
	case status != envelope.StatusDead && elapsed > r.deadAt:
		if e.transition(envelope.StatusDead, now) {
			r.broadcastStatusChange(e)
			r.broadcastRemoved(e)
			if r.dir.metrics != nil {
				r.dir.metrics.RecordReaperEviction("missed-heartbeat")
			}
		}
	case status == envelope.StatusAvailable && elapsed > r.unavailableAt:
		if e.transition(envelope.StatusUnavailable, now) {
			r.broadcastStatusChange(e)
			if r.dir.metrics != nil {
				r.dir.metrics.RecordReaperEviction("missed-heartbeat")
			}
		}
	case status == envelope.StatusDead:
		e.mu.RLock()
		deadAt := e.deadAt
		e.mu.RUnlock()
		if now.Sub(deadAt) > r.graceWindow {
			r.dir.remove(e.PermanentID, e.Family, e.sequence())
			if r.dir.metrics != nil {
				r.dir.metrics.RecordReaperEviction("grace-expired")
			}
			slog.Info("registry: released permanent id after grace window", "permanentId", e.PermanentID)
		}
	}
}

func (r *Reaper) broadcastStatusChange(e *Entry) {
	if r.b == nil {
		return
	}
	change := envelope.StatusChange{
		PermanentID: e.PermanentID,
		Role:        e.Role,
		Status:      e.Status(),
		Load:        e.Load(),
	}
	if err := r.b.Publish(channels.StatusChange, "status.change", change); err != nil {
		slog.Error("registry: failed broadcasting status change", "permanentId", e.PermanentID, "error", err)
	}
}

func (r *Reaper) broadcastRemoved(e *Entry) {
	if r.b == nil {
		return
	}
	channel := channels.ServerRemoved
	if e.Role == envelope.RoleProxy {
		channel = channels.ProxyRemoved
	}
	comp := envelope.FleetComposition{PermanentID: e.PermanentID, Role: e.Role, Address: e.Address}
	if err := r.b.Publish(channel, "fleet.removed", comp); err != nil {
		slog.Error("registry: failed broadcasting removal", "permanentId", e.PermanentID, "error", err)
	}
}

// Schedule registers Tick on scheduler at the configured reaper tick
// interval.
func (r *Reaper) Schedule(scheduler gocron.Scheduler, tick time.Duration) (gocron.Job, error) {
	return scheduler.NewJob(
		gocron.DurationJob(tick),
		gocron.NewTask(r.Tick),
	)
}
