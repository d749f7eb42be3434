// SPDX-License-Identifier: AGPL-3.0-or-later
package heartbeat_test

import (
	"context"
	"testing"
	"time"

	"github.com/USA-RedDragon/fulcrum/internal/bus"
	"github.com/USA-RedDragon/fulcrum/internal/channels"
	"github.com/USA-RedDragon/fulcrum/internal/config"
	"github.com/USA-RedDragon/fulcrum/internal/envelope"
	"github.com/USA-RedDragon/fulcrum/internal/heartbeat"
	"github.com/USA-RedDragon/fulcrum/internal/identity"
	"github.com/USA-RedDragon/fulcrum/internal/pubsub"
	"github.com/go-co-op/gocron/v2"
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

func registerBackend(t *testing.T, b *bus.Bus, assignedID string) *identity.Identity {
	t.Helper()
	id := identity.New(envelope.RoleBackend, "mini", "10.0.0.7:25001", "1.0.0", []string{"skywars"})

	unsub, err := b.Subscribe(channels.RegistrationRequest, func(env *envelope.Envelope) {
		resp := envelope.RegistrationResponse{AssignedID: assignedID, Success: true}
		_ = b.Send(env.SenderID, channels.RegistrationResponse(env.SenderID), "registration.response", resp)
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer unsub()

	if err := identity.Register(context.Background(), b, id, time.Second, 3); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	return id
}

func TestTickPublishesHeartbeatForBackend(t *testing.T) {
	t.Parallel()
	b := newTestBus(t)
	id := registerBackend(t, b, "mini1")

	received := make(chan envelope.HeartbeatStatus, 1)
	unsub, err := b.Subscribe(channels.ServerHeartbeatStatus, func(env *envelope.Envelope) {
		status, err := envelope.DecodePayload[envelope.HeartbeatStatus](env)
		if err != nil {
			t.Errorf("decode failed: %v", err)
			return
		}
		received <- status
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer unsub()

	emitter := heartbeat.NewEmitter(b, id, func() envelope.LoadMetrics {
		return envelope.LoadMetrics{PlayerCount: 10, MaxPlayers: 50, TPS: 20}
	})
	emitter.Tick()

	select {
	case status := <-received:
		if status.PermanentID != "mini1" {
			t.Errorf("expected permanentId mini1, got %s", status.PermanentID)
		}
		if status.Status != envelope.StatusAvailable {
			t.Errorf("expected status available, got %s", status.Status)
		}
		if status.Load.PlayerCount != 10 || status.Load.MaxPlayers != 50 {
			t.Errorf("unexpected load: %+v", status.Load)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for heartbeat")
	}
}

func TestTickUsesProxyChannelForProxyRole(t *testing.T) {
	t.Parallel()
	b := newTestBus(t)
	id := identity.New(envelope.RoleProxy, "", "10.0.0.8:25565", "1.0.0", nil)

	unsub, err := b.Subscribe(channels.RegistrationRequest, func(env *envelope.Envelope) {
		resp := envelope.RegistrationResponse{AssignedID: "proxy1", Success: true}
		_ = b.Send(env.SenderID, channels.RegistrationResponse(env.SenderID), "registration.response", resp)
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if err := identity.Register(context.Background(), b, id, time.Second, 3); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	_ = unsub()

	received := make(chan envelope.HeartbeatStatus, 1)
	unsubProxy, err := b.Subscribe(channels.ProxyHeartbeatStatus, func(env *envelope.Envelope) {
		status, err := envelope.DecodePayload[envelope.HeartbeatStatus](env)
		if err != nil {
			t.Errorf("decode failed: %v", err)
			return
		}
		received <- status
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer unsubProxy()

	emitter := heartbeat.NewEmitter(b, id, func() envelope.LoadMetrics {
		return envelope.LoadMetrics{}
	})
	emitter.Tick()

	select {
	case status := <-received:
		if status.PermanentID != "proxy1" {
			t.Errorf("expected permanentId proxy1, got %s", status.PermanentID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for heartbeat")
	}
}

func TestTickNoOpBeforeRegistration(t *testing.T) {
	t.Parallel()
	b := newTestBus(t)
	id := identity.New(envelope.RoleBackend, "mini", "10.0.0.7:25001", "1.0.0", nil)

	received := make(chan struct{}, 1)
	unsub, err := b.Subscribe(channels.ServerHeartbeatStatus, func(_ *envelope.Envelope) {
		received <- struct{}{}
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer unsub()

	emitter := heartbeat.NewEmitter(b, id, func() envelope.LoadMetrics { return envelope.LoadMetrics{} })
	emitter.Tick()

	select {
	case <-received:
		t.Fatal("expected no heartbeat before registration assigns a permanent id")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestScheduleRunsTickOnInterval(t *testing.T) {
	t.Parallel()
	b := newTestBus(t)
	id := registerBackend(t, b, "mini2")

	received := make(chan struct{}, 4)
	unsub, err := b.Subscribe(channels.ServerHeartbeatStatus, func(_ *envelope.Envelope) {
		received <- struct{}{}
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer unsub()

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		t.Fatalf("failed creating scheduler: %v", err)
	}
	t.Cleanup(func() { _ = scheduler.Shutdown() })

	emitter := heartbeat.NewEmitter(b, id, func() envelope.LoadMetrics { return envelope.LoadMetrics{} })
	if _, err := emitter.Schedule(scheduler, 20*time.Millisecond); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	scheduler.Start()

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scheduled heartbeat")
	}
}
