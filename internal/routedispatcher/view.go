// SPDX-License-Identifier: AGPL-3.0-or-later

package routedispatcher

import (
	"sync"
	"time"

	"github.com/USA-RedDragon/fulcrum/internal/bus"
	"github.com/USA-RedDragon/fulcrum/internal/channels"
	"github.com/USA-RedDragon/fulcrum/internal/envelope"
	"github.com/puzpuzpuz/xsync/v4"
)

// candidate is the proxy's local view of one backend, rebuilt entirely from
// bus broadcasts: this package never talks to the registry's own directory
// directly, since a proxy and the registry are ordinarily separate
// processes.
type candidate struct {
	PermanentID string
	Address     string

	mu           sync.RWMutex
	status       envelope.Status
	load         envelope.LoadMetrics
	lastSeenAt   time.Time
	slotFamilies map[string]envelope.SlotFamilyAdvertisement
}

func (c *candidate) snapshot() (envelope.Status, envelope.LoadMetrics, time.Time, map[string]envelope.SlotFamilyAdvertisement) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	families := make(map[string]envelope.SlotFamilyAdvertisement, len(c.slotFamilies))
	for k, v := range c.slotFamilies {
		families[k] = v
	}
	return c.status, c.load, c.lastSeenAt, families
}

// LocalView is a proxy's eventually-consistent view of backend availability
// and slot-family capacity, maintained by subscribing to the registry's
// broadcast channels per spec §4.2's "proxies additionally subscribe to
// status-change broadcasts". It also tracks sibling proxies, so a proxy
// evacuating for shutdown (§4.8) can hand its players off to another one.
type LocalView struct {
	b          *bus.Bus
	candidates *xsync.Map[string, *candidate]
	proxies    *xsync.Map[string, *candidate]

	unsubscribes []func() error
}

// NewLocalView constructs an empty LocalView bound to b.
func NewLocalView(b *bus.Bus) *LocalView {
	return &LocalView{
		b:          b,
		candidates: xsync.NewMap[string, *candidate](),
		proxies:    xsync.NewMap[string, *candidate](),
	}
}

// Start subscribes to every channel the route dispatcher needs to build its
// backend view.
func (v *LocalView) Start() error {
	subs := []struct {
		channel string
		handler bus.Handler
	}{
		{channels.ServerAdded, v.handleFleetAdded},
		{channels.ServerRemoved, v.handleFleetRemoved},
		{channels.ProxyAdded, v.handleFleetAdded},
		{channels.ProxyRemoved, v.handleFleetRemoved},
		{channels.StatusChange, v.handleStatusChange},
		{channels.ServerHeartbeatStatus, v.handleHeartbeat},
		{channels.ProxyHeartbeatStatus, v.handleProxyHeartbeat},
		{channels.SlotFamilyAdvertisement, v.handleSlotFamilyAdvertisement},
	}
	for _, sub := range subs {
		unsub, err := v.b.Subscribe(sub.channel, sub.handler)
		if err != nil {
			_ = v.Stop()
			return err
		}
		v.unsubscribes = append(v.unsubscribes, unsub)
	}
	return nil
}

// Stop tears down every subscription this view owns.
func (v *LocalView) Stop() error {
	var firstErr error
	for _, unsub := range v.unsubscribes {
		if err := unsub(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (v *LocalView) entry(permanentID string) *candidate {
	c, _ := v.candidates.LoadOrStore(permanentID, &candidate{PermanentID: permanentID})
	return c
}

func (v *LocalView) proxyEntry(permanentID string) *candidate {
	c, _ := v.proxies.LoadOrStore(permanentID, &candidate{PermanentID: permanentID})
	return c
}

func (v *LocalView) handleFleetAdded(env *envelope.Envelope) {
	comp, err := envelope.DecodePayload[envelope.FleetComposition](env)
	if err != nil {
		return
	}
	if comp.Role == envelope.RoleProxy {
		c := v.proxyEntry(comp.PermanentID)
		c.mu.Lock()
		c.Address = comp.Address
		c.status = envelope.StatusAvailable
		c.mu.Unlock()
		return
	}
	if comp.Role != envelope.RoleBackend {
		return
	}
	c := v.entry(comp.PermanentID)
	c.mu.Lock()
	c.Address = comp.Address
	c.status = envelope.StatusAvailable
	c.mu.Unlock()
}

func (v *LocalView) handleFleetRemoved(env *envelope.Envelope) {
	comp, err := envelope.DecodePayload[envelope.FleetComposition](env)
	if err != nil {
		return
	}
	v.candidates.Delete(comp.PermanentID)
	v.proxies.Delete(comp.PermanentID)
}

func (v *LocalView) handleStatusChange(env *envelope.Envelope) {
	change, err := envelope.DecodePayload[envelope.StatusChange](env)
	if err != nil {
		return
	}
	if change.Role == envelope.RoleProxy {
		c := v.proxyEntry(change.PermanentID)
		c.mu.Lock()
		c.status = change.Status
		c.load = change.Load
		c.mu.Unlock()
		return
	}
	if change.Role != envelope.RoleBackend {
		return
	}
	c := v.entry(change.PermanentID)
	c.mu.Lock()
	c.status = change.Status
	c.load = change.Load
	c.mu.Unlock()
}

func (v *LocalView) handleHeartbeat(env *envelope.Envelope) {
	status, err := envelope.DecodePayload[envelope.HeartbeatStatus](env)
	if err != nil {
		return
	}
	c := v.entry(status.PermanentID)
	c.mu.Lock()
	c.status = status.Status
	c.load = status.Load
	c.lastSeenAt = time.UnixMilli(status.TimestampMilli)
	c.mu.Unlock()
}

func (v *LocalView) handleProxyHeartbeat(env *envelope.Envelope) {
	status, err := envelope.DecodePayload[envelope.HeartbeatStatus](env)
	if err != nil {
		return
	}
	c := v.proxyEntry(status.PermanentID)
	c.mu.Lock()
	c.status = status.Status
	c.load = status.Load
	c.lastSeenAt = time.UnixMilli(status.TimestampMilli)
	c.mu.Unlock()
}

func (v *LocalView) handleSlotFamilyAdvertisement(env *envelope.Envelope) {
	adv, err := envelope.DecodePayload[envelope.SlotFamilyAdvertisement](env)
	if err != nil {
		return
	}
	c := v.entry(env.SenderID)
	c.mu.Lock()
	if c.slotFamilies == nil {
		c.slotFamilies = make(map[string]envelope.SlotFamilyAdvertisement)
	}
	c.slotFamilies[adv.FamilyID] = adv
	c.mu.Unlock()
}

// Candidates returns every known available backend advertising familyID
// with spare capacity for a new slot, ordered by ascending load score (best
// first). Used when the route requires provisioning a fresh slot.
func (v *LocalView) Candidates(familyID string) []Candidate {
	return v.candidatesForFamily(familyID, true)
}

// SharedWorldCandidates returns every known available backend advertising
// familyID, without regard to spare slot capacity, ordered by ascending
// load score. Used when routing a player into an existing shared world.
func (v *LocalView) SharedWorldCandidates(familyID string) []Candidate {
	return v.candidatesForFamily(familyID, false)
}

func (v *LocalView) candidatesForFamily(familyID string, requireCapacity bool) []Candidate {
	var out []Candidate
	v.candidates.Range(func(_ string, c *candidate) bool {
		status, load, lastSeenAt, families := c.snapshot()
		if status != envelope.StatusAvailable {
			return true
		}
		adv, ok := families[familyID]
		if !ok {
			return true
		}
		if requireCapacity && adv.ActiveSlots >= adv.MaxSlots {
			return true
		}
		out = append(out, Candidate{
			PermanentID: c.PermanentID,
			Address:     c.Address,
			Load:        load,
			LastSeenAt:  lastSeenAt,
			Advert:      adv,
		})
		return true
	})
	rankCandidates(out)
	return out
}

// LeastLoadedProxy returns the available sibling proxy with the lowest load
// score, excluding selfID, for the shutdown orchestrator's SelectAlternatePeer
// hook (§4.8: a proxy evacuates its players onto another proxy before it
// shuts down). Ties break the same way backend candidates do, by most
// recent heartbeat.
func (v *LocalView) LeastLoadedProxy(selfID string) (string, bool) {
	var out []Candidate
	v.proxies.Range(func(id string, c *candidate) bool {
		if id == selfID {
			return true
		}
		status, load, lastSeenAt, _ := c.snapshot()
		if status != envelope.StatusAvailable {
			return true
		}
		out = append(out, Candidate{PermanentID: c.PermanentID, Address: c.Address, Load: load, LastSeenAt: lastSeenAt})
		return true
	})
	if len(out) == 0 {
		return "", false
	}
	rankCandidates(out)
	return out[0].PermanentID, true
}

// Candidate is a ranked routing option returned by LocalView.Candidates.
type Candidate struct {
	PermanentID string
	Address     string
	Load        envelope.LoadMetrics
	LastSeenAt  time.Time
	Advert      envelope.SlotFamilyAdvertisement
}

// rankCandidates sorts in place by ascending load score, breaking ties by
// most-recent LastSeenAt, per spec §4.7's "Load score" rule.
func rankCandidates(candidates []Candidate) {
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && less(candidates[j], candidates[j-1]); j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}
}

func less(a, b Candidate) bool {
	sa, sb := LoadScore(a.Load), LoadScore(b.Load)
	if sa != sb {
		return sa < sb
	}
	return a.LastSeenAt.After(b.LastSeenAt)
}
