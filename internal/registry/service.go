// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/USA-RedDragon/fulcrum/internal/bus"
	"github.com/USA-RedDragon/fulcrum/internal/channels"
	"github.com/USA-RedDragon/fulcrum/internal/envelope"
	"github.com/USA-RedDragon/fulcrum/internal/kv"
	"github.com/USA-RedDragon/fulcrum/internal/metrics"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

// instanceRegistryTTL is how long a running registry process's KV claim
// stays valid between heartbeat refreshes, per SPEC_FULL's "instance
// registry for registry HA" supplemented feature: it lets a new registry
// instance tell whether a peer registry is still live before claiming
// authority during a coordinated restart/handoff.
const instanceRegistryTTL = 15 * time.Second

// Service wires the directory, reaper, environment cache, and shutdown
// intent tracker to the bus, implementing every registry.* channel in the
// key channel catalogue.
type Service struct {
	Directory   *Directory
	Environment *EnvironmentDirectory
	Intents     *IntentTracker

	b       *bus.Bus
	kv      kv.KV
	metrics *metrics.Metrics
	instID  string

	unsubscribes []func() error
}

// NewService constructs a registry Service. env may be nil if no backing
// store is configured; environment directory queries then answer empty.
func NewService(b *bus.Bus, store kv.KV, m *metrics.Metrics, env *EnvironmentDirectory) *Service {
	return &Service{
		Directory:   NewDirectory(m),
		Environment: env,
		Intents:     NewIntentTracker(),
		b:           b,
		kv:          store,
		metrics:     m,
		instID:      "registry-" + uuid.NewString(),
	}
}

// Start subscribes the service to every channel it owns and claims this
// process's instance-registry slot.
func (s *Service) Start(ctx context.Context) error {
	subs := []struct {
		channel string
		handler bus.Handler
	}{
		{channels.RegistrationRequest, s.handleRegistration},
		{channels.ServerHeartbeatStatus, s.handleHeartbeat},
		{channels.ProxyHeartbeatStatus, s.handleHeartbeat},
		{channels.SlotFamilyAdvertisement, s.handleSlotFamilyAdvertisement},
		{channels.ShutdownUpdate, s.handleShutdownUpdate},
	}
	for _, sub := range subs {
		unsub, err := s.b.Subscribe(sub.channel, sub.handler)
		if err != nil {
			return err
		}
		s.unsubscribes = append(s.unsubscribes, unsub)
	}

	if s.kv != nil {
		if _, err := s.kv.SetNX(ctx, s.instanceKey(), []byte(time.Now().Format(time.RFC3339)), instanceRegistryTTL); err != nil {
			slog.Warn("registry: failed claiming instance-registry slot", "error", err)
		}
	}

	return s.announceRestart()
}

// Stop tears down every subscription this service owns.
func (s *Service) Stop() error {
	var firstErr error
	for _, unsub := range s.unsubscribes {
		if err := unsub(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// announceRestart broadcasts the reregister request every service
// responds to within the collection window, so a freshly started registry
// rebuilds its directory from the fleet's own self-reported state.
func (s *Service) announceRestart() error {
	return s.b.Publish(channels.RegistrationReregster, "registration.reregister", envelope.ReregisterRequest{
		CollectionWindowMs: 2000,
	})
}

func (s *Service) instanceKey() string {
	return "registry:instance:" + s.instID
}

// RefreshInstanceClaim renews this registry process's instance-registry
// TTL. Intended to be scheduled alongside the reaper tick.
func (s *Service) RefreshInstanceClaim(ctx context.Context) {
	if s.kv == nil {
		return
	}
	if err := s.kv.Expire(ctx, s.instanceKey(), instanceRegistryTTL); err != nil {
		slog.Error("registry: failed refreshing instance-registry claim", "error", err)
	}
}

// ScheduleInstanceRefresh registers RefreshInstanceClaim on scheduler.
func (s *Service) ScheduleInstanceRefresh(ctx context.Context, scheduler gocron.Scheduler) (gocron.Job, error) {
	return scheduler.NewJob(
		gocron.DurationJob(instanceRegistryTTL/3),
		gocron.NewTask(func() { s.RefreshInstanceClaim(ctx) }),
	)
}

func (s *Service) handleRegistration(env *envelope.Envelope) {
	req, err := envelope.DecodePayload[envelope.RegistrationRequest](env)
	if err != nil {
		slog.Error("registry: malformed registration request", "error", err)
		return
	}
	resp := s.Directory.HandleRegistration(env.SenderID, req)
	if err := s.b.Send(env.SenderID, channels.RegistrationResponse(env.SenderID), "registration.response", resp); err != nil {
		slog.Error("registry: failed sending registration response", "senderId", env.SenderID, "error", err)
		return
	}
	if resp.Success {
		s.announceFleetChange(resp.AssignedID, req.Role, req.Address)
	}
}

func (s *Service) announceFleetChange(permanentID string, role envelope.Role, address string) {
	channel := channels.ServerAdded
	if role == envelope.RoleProxy {
		channel = channels.ProxyAdded
	}
	comp := envelope.FleetComposition{PermanentID: permanentID, Role: role, Address: address}
	if err := s.b.Publish(channel, "fleet.added", comp); err != nil {
		slog.Error("registry: failed broadcasting fleet addition", "permanentId", permanentID, "error", err)
	}
}

func (s *Service) handleHeartbeat(env *envelope.Envelope) {
	status, err := envelope.DecodePayload[envelope.HeartbeatStatus](env)
	if err != nil {
		slog.Error("registry: malformed heartbeat", "error", err)
		return
	}
	changed, entry := s.Directory.HandleHeartbeat(status)
	if changed && entry != nil {
		change := envelope.StatusChange{PermanentID: entry.PermanentID, Role: entry.Role, Status: entry.Status(), Load: entry.Load()}
		if err := s.b.Publish(channels.StatusChange, "status.change", change); err != nil {
			slog.Error("registry: failed broadcasting recovery status change", "permanentId", entry.PermanentID, "error", err)
		}
	}
}

func (s *Service) handleSlotFamilyAdvertisement(env *envelope.Envelope) {
	adv, err := envelope.DecodePayload[envelope.SlotFamilyAdvertisement](env)
	if err != nil {
		slog.Error("registry: malformed slot family advertisement", "error", err)
		return
	}
	s.Directory.HandleSlotFamilyAdvertisement(env.SenderID, adv)
}

func (s *Service) handleShutdownUpdate(env *envelope.Envelope) {
	update, err := envelope.DecodePayload[envelope.ShutdownUpdate](env)
	if err != nil {
		slog.Error("registry: malformed shutdown update", "error", err)
		return
	}
	s.Intents.HandleUpdate(update)
	if s.metrics != nil {
		s.metrics.RecordShutdownIntent(update.Phase)
	}
}
