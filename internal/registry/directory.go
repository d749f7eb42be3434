// SPDX-License-Identifier: AGPL-3.0-or-later

// Package registry implements the authoritative directory, id assignment,
// liveness reaper, status broadcaster, shutdown intent issuer, and
// environment directory described in spec §4.5.
package registry

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/USA-RedDragon/fulcrum/internal/envelope"
	"github.com/USA-RedDragon/fulcrum/internal/metrics"
	"github.com/puzpuzpuz/xsync/v4"
)

// Entry is a directory entry, keyed by permanentId. Structural membership
// (add/remove) is protected by the directory's xsync.Map; the fields below
// are protected by the entry's own lock so heartbeat bursts updating load
// and lastHeartbeatAt never serialize on a directory-wide write lock.
type Entry struct {
	PermanentID  string
	Role         envelope.Role
	Family       string
	Address      string
	Capabilities []string

	mu              sync.RWMutex
	status          envelope.Status
	lastHeartbeatAt time.Time
	load            envelope.LoadMetrics
	deadAt          time.Time
	slotFamilies    map[string]envelope.SlotFamilyAdvertisement
}

// Status returns the entry's current liveness status.
func (e *Entry) Status() envelope.Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// LastHeartbeatAt returns the last time a heartbeat touched this entry.
func (e *Entry) LastHeartbeatAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastHeartbeatAt
}

// Load returns the entry's most recently reported load metrics.
func (e *Entry) Load() envelope.LoadMetrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.load
}

// SlotFamilies returns a copy of the entry's advertised slot families
// (backends only).
func (e *Entry) SlotFamilies() map[string]envelope.SlotFamilyAdvertisement {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]envelope.SlotFamilyAdvertisement, len(e.slotFamilies))
	for k, v := range e.slotFamilies {
		out[k] = v
	}
	return out
}

func (e *Entry) touch(load envelope.LoadMetrics, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastHeartbeatAt = now
	e.load = load
}

func (e *Entry) setSlotFamily(adv envelope.SlotFamilyAdvertisement) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.slotFamilies == nil {
		e.slotFamilies = make(map[string]envelope.SlotFamilyAdvertisement)
	}
	e.slotFamilies[adv.FamilyID] = adv
}

// transition moves the entry to status if it differs from the current
// one, returning whether a change occurred (callers broadcast only then,
// per "status transitions MUST be announced exactly once each").
func (e *Entry) transition(status envelope.Status, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == status {
		return false
	}
	e.status = status
	if status == envelope.StatusDead {
		e.deadAt = now
	}
	return true
}

// ForceStatusForTest directly sets status and lastHeartbeatAt, bypassing
// the normal transition/touch bookkeeping. Exported only for tests that
// need to seed a stale entry without waiting out real time.
func (e *Entry) ForceStatusForTest(status envelope.Status, lastHeartbeatAt time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = status
	e.lastHeartbeatAt = lastHeartbeatAt
}

func (e *Entry) sequence() int {
	n, err := strconv.Atoi(strings.TrimPrefix(e.PermanentID, e.Family))
	if err != nil {
		return 0
	}
	return n
}

// Directory is the registry's in-memory view of every known proxy and
// backend. Reads are lock-free via xsync.Map; per-entry writes use the
// entry's own lock, per the concurrency model's reader-writer discipline.
type Directory struct {
	entries *xsync.Map[string, *Entry]
	ids     *idAllocator
	metrics *metrics.Metrics
}

// NewDirectory returns an empty directory.
func NewDirectory(m *metrics.Metrics) *Directory {
	return &Directory{
		entries: xsync.NewMap[string, *Entry](),
		ids:     newIDAllocator(),
		metrics: m,
	}
}

// HandleRegistration implements the registry side of §4.3/§4.5's id
// assignment policy: a sender already known by permanent id is treated as
// re-registering and keeps its id; a sender presenting its own previously
// assigned permanent id (recognizable by req.Family's id format even though
// this directory has no record of it, e.g. after a registry restart) is
// re-admitted under that same id rather than being handed a fresh one;
// otherwise a fresh id is minted from req.Family's free list.
func (d *Directory) HandleRegistration(senderID string, req envelope.RegistrationRequest) envelope.RegistrationResponse {
	now := time.Now()
	if e, ok := d.entries.Load(senderID); ok {
		e.transition(envelope.StatusAvailable, now)
		e.touch(e.Load(), now)
		return envelope.RegistrationResponse{AssignedID: senderID, Success: true}
	}

	id := senderID
	if n, ok := parsePermanentID(senderID, req.Family); ok {
		d.ids.Claim(req.Family, n)
		if d.metrics != nil {
			d.metrics.RecordIDAssignment("reclaimed")
		}
	} else {
		id = d.ids.Assign(req.Family)
		if d.metrics != nil {
			d.metrics.RecordIDAssignment("permanentId")
		}
	}

	entry := &Entry{
		PermanentID:     id,
		Role:            req.Role,
		Family:          req.Family,
		Address:         req.Address,
		Capabilities:    req.Capabilities,
		status:          envelope.StatusAvailable,
		lastHeartbeatAt: now,
	}
	d.entries.Store(id, entry)
	return envelope.RegistrationResponse{AssignedID: id, Success: true}
}

// parsePermanentID reports whether id looks like a permanent id minted for
// family (the "<familyPrefix><positive integer>" format from §4.5), as
// opposed to a tempId ("<rolePrefix>-<uuid>"), returning the integer
// sequence if so.
func parsePermanentID(id, family string) (int, bool) {
	if family == "" || !strings.HasPrefix(id, family) {
		return 0, false
	}
	rest := strings.TrimPrefix(id, family)
	if rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// HandleHeartbeat records a heartbeat against its entry, reviving a
// previously unavailable entry back to available.
func (d *Directory) HandleHeartbeat(status envelope.HeartbeatStatus) (changed bool, entry *Entry) {
	e, ok := d.entries.Load(status.PermanentID)
	if !ok {
		return false, nil
	}
	now := time.Now()
	e.touch(status.Load, now)
	if d.metrics != nil {
		d.metrics.RecordHeartbeatReceived()
	}
	return e.transition(envelope.StatusAvailable, now), e
}

// HandleSlotFamilyAdvertisement records a backend's current slot-family
// capacity advertisement.
func (d *Directory) HandleSlotFamilyAdvertisement(permanentID string, adv envelope.SlotFamilyAdvertisement) {
	if e, ok := d.entries.Load(permanentID); ok {
		e.setSlotFamily(adv)
	}
}

// Get returns the entry for permanentID, if any.
func (d *Directory) Get(permanentID string) (*Entry, bool) {
	return d.entries.Load(permanentID)
}

// List returns a snapshot of every entry currently tracked. Callers MUST
// treat the slice as a point-in-time copy.
func (d *Directory) List() []*Entry {
	out := make([]*Entry, 0, d.entries.Size())
	d.entries.Range(func(_ string, e *Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// Counts returns the number of entries in each status, for metrics export.
func (d *Directory) Counts() map[envelope.Status]int {
	counts := map[envelope.Status]int{
		envelope.StatusAvailable:   0,
		envelope.StatusUnavailable: 0,
		envelope.StatusDead:        0,
	}
	d.entries.Range(func(_ string, e *Entry) bool {
		counts[e.Status()]++
		return true
	})
	return counts
}

func (d *Directory) remove(permanentID, family string, seq int) {
	d.entries.Delete(permanentID)
	d.ids.Release(family, seq)
}
