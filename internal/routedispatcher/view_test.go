// SPDX-License-Identifier: AGPL-3.0-or-later
package routedispatcher_test

import (
	"testing"
	"time"

	"github.com/USA-RedDragon/fulcrum/internal/channels"
	"github.com/USA-RedDragon/fulcrum/internal/envelope"
	"github.com/USA-RedDragon/fulcrum/internal/routedispatcher"
)

func TestLeastLoadedProxyExcludesSelfAndPrefersLowerLoad(t *testing.T) {
	t.Parallel()
	transport := newTransport(t)
	viewerBus := newParticipant(t, transport, "proxy1")
	view := routedispatcher.NewLocalView(viewerBus)
	if err := view.Start(); err != nil {
		t.Fatalf("view start failed: %v", err)
	}
	defer func() { _ = view.Stop() }()

	if _, ok := view.LeastLoadedProxy("proxy1"); ok {
		t.Fatal("expected no alternate proxy before any peer is known")
	}

	announce := func(permanentID, address string, playerCount, maxPlayers int) {
		t.Helper()
		if err := viewerBus.Publish(channels.ProxyAdded, "fleet.added", envelope.FleetComposition{
			PermanentID: permanentID,
			Role:        envelope.RoleProxy,
			Address:     address,
		}); err != nil {
			t.Fatalf("failed announcing proxy: %v", err)
		}
		if err := viewerBus.Publish(channels.StatusChange, "status.change", envelope.StatusChange{
			PermanentID: permanentID,
			Role:        envelope.RoleProxy,
			Status:      envelope.StatusAvailable,
			Load:        envelope.LoadMetrics{PlayerCount: playerCount, MaxPlayers: maxPlayers, TPS: 20},
		}); err != nil {
			t.Fatalf("failed announcing proxy load: %v", err)
		}
	}

	announce("proxy2", "10.0.1.2:25577", 40, 100)
	announce("proxy3", "10.0.1.3:25577", 5, 100)
	time.Sleep(50 * time.Millisecond)

	best, ok := view.LeastLoadedProxy("proxy1")
	if !ok {
		t.Fatal("expected a least-loaded peer once proxies are known")
	}
	if best != "proxy3" {
		t.Errorf("expected proxy3 (lower load) to be selected, got %s", best)
	}

	if _, ok := view.LeastLoadedProxy("proxy3"); !ok {
		t.Fatal("expected proxy2 to remain a candidate when proxy3 excludes itself")
	}
}
