// SPDX-License-Identifier: AGPL-3.0-or-later

package routedispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/USA-RedDragon/fulcrum/internal/bus"
	"github.com/USA-RedDragon/fulcrum/internal/channels"
	"github.com/USA-RedDragon/fulcrum/internal/envelope"
	"github.com/USA-RedDragon/fulcrum/internal/metrics"
)

// maxProvisionAttempts is the number of candidates the dispatcher will try
// before giving up, per spec §4.7: "Three failures propagate to the player
// as a user-visible 'no available capacity' error."
const maxProvisionAttempts = 3

// ErrNoCapacity is returned when no candidate backend accepted a route,
// either because none were known or because every attempt was rejected or
// timed out.
var ErrNoCapacity = errors.New("routedispatcher: no available capacity")

// Dispatcher implements the proxy-side player route dispatcher from spec
// §4.7.
type Dispatcher struct {
	b              *bus.Bus
	view           *LocalView
	proxyID        func() string
	requestTimeout time.Duration
	metrics        *metrics.Metrics
}

// NewDispatcher constructs a Dispatcher. proxyID returns this proxy's
// current permanent id (a func, since identity starts as a tempId and is
// upgraded on registration). m may be nil.
func NewDispatcher(b *bus.Bus, view *LocalView, proxyID func() string, requestTimeout time.Duration, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{b: b, view: view, proxyID: proxyID, requestTimeout: requestTimeout, metrics: m}
}

// RouteShared routes playerID into an existing shared-world slot, skipping
// provisioning entirely: it selects the lowest-load-score backend
// advertising familyID and issues the transfer directly, per §4.7 step 2.
func (d *Dispatcher) RouteShared(playerID, familyID, slotID string, metadata map[string]string) error {
	candidates := d.view.SharedWorldCandidates(familyID)
	if len(candidates) == 0 {
		d.recordOutcome("no-capacity")
		return fmt.Errorf("%w: no backend advertises family %s", ErrNoCapacity, familyID)
	}
	best := candidates[0]
	if err := d.issueRouteCommand(best, playerID, slotID, metadata); err != nil {
		d.recordOutcome("no-capacity")
		return err
	}
	d.recordOutcome("assigned")
	return nil
}

// RouteNewSlot provisions a fresh slot for playerID, trying up to
// maxProvisionAttempts candidates (best load score first) before giving up,
// per §4.7 step 3.
func (d *Dispatcher) RouteNewSlot(ctx context.Context, playerID, familyID, variantID string, metadata map[string]string) error {
	candidates := d.view.Candidates(familyID)
	if len(candidates) == 0 {
		return fmt.Errorf("%w: no backend advertises spare capacity for family %s", ErrNoCapacity, familyID)
	}

	attempts := len(candidates)
	if attempts > maxProvisionAttempts {
		attempts = maxProvisionAttempts
	}

	for i := 0; i < attempts; i++ {
		cand := candidates[i]
		resp, err := d.b.Request(ctx, cand.PermanentID, channels.SlotProvision(cand.PermanentID), "slot.provision", envelope.SlotProvisionRequest{
			FamilyID:    familyID,
			VariantID:   variantID,
			RequestedBy: d.proxyID(),
			Metadata:    metadata,
		}, d.requestTimeout)
		if err != nil {
			slog.Warn("routedispatcher: provision request failed, trying next candidate", "backend", cand.PermanentID, "error", err)
			continue
		}
		result, err := envelope.DecodePayload[envelope.SlotProvisionResponse](resp)
		if err != nil {
			slog.Error("routedispatcher: malformed provision response", "backend", cand.PermanentID, "error", err)
			continue
		}
		if result.Rejected {
			slog.Warn("routedispatcher: provision rejected, trying next candidate", "backend", cand.PermanentID, "reason", result.Reason)
			continue
		}

		if err := d.issueRouteCommand(cand, playerID, result.SlotID, metadata); err != nil {
			return err
		}
		return nil
	}
	return ErrNoCapacity
}

// recordOutcome records a routing outcome (assigned, no-capacity) against
// the route-assignment counter, if metrics were configured.
func (d *Dispatcher) recordOutcome(status string) {
	if d.metrics == nil {
		return
	}
	d.metrics.RecordRouteAssignment(status)
}

// issueRouteCommand sends the final player.route.command per §4.7 step 4.
func (d *Dispatcher) issueRouteCommand(cand Candidate, playerID, slotID string, metadata map[string]string) error {
	return d.b.Send(cand.PermanentID, channels.DirectServer(cand.PermanentID), "player.route.command", envelope.PlayerRouteCommand{
		PlayerID:      playerID,
		SlotID:        slotID,
		TargetAddress: cand.Address,
		SpawnMetadata: metadata,
	})
}
