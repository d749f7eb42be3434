// SPDX-License-Identifier: AGPL-3.0-or-later
package routedispatcher_test

import (
	"context"
	"testing"
	"time"

	"github.com/USA-RedDragon/fulcrum/internal/bus"
	"github.com/USA-RedDragon/fulcrum/internal/channels"
	"github.com/USA-RedDragon/fulcrum/internal/config"
	"github.com/USA-RedDragon/fulcrum/internal/envelope"
	"github.com/USA-RedDragon/fulcrum/internal/pubsub"
	"github.com/USA-RedDragon/fulcrum/internal/routedispatcher"
)

func newTransport(t *testing.T) pubsub.PubSub {
	t.Helper()
	ps, err := pubsub.MakePubSub(context.Background(), &config.Config{})
	if err != nil {
		t.Fatalf("failed creating pubsub: %v", err)
	}
	t.Cleanup(func() { _ = ps.Close() })
	return ps
}

func newParticipant(t *testing.T, transport pubsub.PubSub, selfID string) *bus.Bus {
	t.Helper()
	b := bus.New(transport, nil)
	t.Cleanup(func() { _ = b.Close() })
	if selfID != "" {
		if err := b.SetSelfID(selfID); err != nil {
			t.Fatalf("SetSelfID(%q) failed: %v", selfID, err)
		}
	}
	return b
}

// seedBackend announces permanentID as an available backend advertising
// familyID with the given capacity, using a bus of its own so the
// advertisement's sender id is permanentID (matching how a real backend's
// slotorchestrator publishes under its own identity).
func seedBackend(t *testing.T, transport pubsub.PubSub, viewerBus *bus.Bus, permanentID, address, familyID string, maxSlots, activeSlots int) {
	t.Helper()
	if err := viewerBus.Publish(channels.ServerAdded, "fleet.added", envelope.FleetComposition{
		PermanentID: permanentID,
		Role:        envelope.RoleBackend,
		Address:     address,
	}); err != nil {
		t.Fatalf("failed seeding fleet addition: %v", err)
	}
	if err := viewerBus.Publish(channels.StatusChange, "status.change", envelope.StatusChange{
		PermanentID: permanentID,
		Role:        envelope.RoleBackend,
		Status:      envelope.StatusAvailable,
	}); err != nil {
		t.Fatalf("failed seeding status change: %v", err)
	}

	backendBus := newParticipant(t, transport, permanentID)
	if err := backendBus.Publish(channels.SlotFamilyAdvertisement, "slot.family.advertisement", envelope.SlotFamilyAdvertisement{
		FamilyID:    familyID,
		MaxSlots:    maxSlots,
		ActiveSlots: activeSlots,
		Variants:    []string{"duos"},
	}); err != nil {
		t.Fatalf("failed seeding slot family advertisement: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
}

func TestRouteNewSlotPrefersLowerLoadScore(t *testing.T) {
	t.Parallel()
	transport := newTransport(t)
	viewerBus := newParticipant(t, transport, "proxy1")
	view := routedispatcher.NewLocalView(viewerBus)
	if err := view.Start(); err != nil {
		t.Fatalf("view start failed: %v", err)
	}
	defer func() { _ = view.Stop() }()

	seedBackend(t, transport, viewerBus, "mini1", "10.0.0.1:25565", "skywars", 50, 0)
	seedBackend(t, transport, viewerBus, "mini2", "10.0.0.2:25565", "skywars", 50, 0)

	// mini1 reports the heavier load, so mini2 must rank first.
	for id, players := range map[string]int{"mini1": 40, "mini2": 10} {
		if err := viewerBus.Publish(channels.StatusChange, "status.change", envelope.StatusChange{
			PermanentID: id,
			Role:        envelope.RoleBackend,
			Status:      envelope.StatusAvailable,
			Load:        envelope.LoadMetrics{PlayerCount: players, MaxPlayers: 50, TPS: 20},
		}); err != nil {
			t.Fatalf("failed reporting load for %s: %v", id, err)
		}
	}
	time.Sleep(50 * time.Millisecond)

	candidates := view.Candidates("skywars")
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].PermanentID != "mini2" {
		t.Errorf("expected mini2 (lower load score) first, got %s", candidates[0].PermanentID)
	}
}

func TestRouteNewSlotNoCapacity(t *testing.T) {
	t.Parallel()
	transport := newTransport(t)
	viewerBus := newParticipant(t, transport, "proxy1")
	view := routedispatcher.NewLocalView(viewerBus)
	if err := view.Start(); err != nil {
		t.Fatalf("view start failed: %v", err)
	}
	defer func() { _ = view.Stop() }()

	d := routedispatcher.NewDispatcher(viewerBus, view, func() string { return "proxy1" }, 200*time.Millisecond, nil)
	err := d.RouteNewSlot(context.Background(), "player1", "skywars", "duos", nil)
	if err == nil {
		t.Fatal("expected an error when no backend advertises the family")
	}
}

func TestRouteNewSlotSucceedsEndToEnd(t *testing.T) {
	t.Parallel()
	transport := newTransport(t)
	viewerBus := newParticipant(t, transport, "proxy1")
	view := routedispatcher.NewLocalView(viewerBus)
	if err := view.Start(); err != nil {
		t.Fatalf("view start failed: %v", err)
	}
	defer func() { _ = view.Stop() }()

	seedBackend(t, transport, viewerBus, "mini1", "10.0.0.1:25565", "skywars", 50, 0)

	backendBus := newParticipant(t, transport, "mini1")
	unsub, err := backendBus.Subscribe(channels.SlotProvision("mini1"), func(env *envelope.Envelope) {
		req, derr := envelope.DecodePayload[envelope.SlotProvisionRequest](env)
		if derr != nil {
			t.Errorf("backend failed decoding provision request: %v", derr)
			return
		}
		if replyErr := backendBus.Reply(env, "slot.provision.response", envelope.SlotProvisionResponse{
			SlotID: "mini1-s1",
			State:  "ready",
		}); replyErr != nil {
			t.Errorf("backend failed replying: %v", replyErr)
		}
		_ = req
	})
	if err != nil {
		t.Fatalf("backend subscribe failed: %v", err)
	}
	defer func() { _ = unsub() }()

	d := routedispatcher.NewDispatcher(viewerBus, view, func() string { return "proxy1" }, 2*time.Second, nil)
	if err := d.RouteNewSlot(context.Background(), "player1", "skywars", "duos", nil); err != nil {
		t.Fatalf("expected routing to succeed, got: %v", err)
	}
}
