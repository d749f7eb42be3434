// SPDX-License-Identifier: AGPL-3.0-or-later

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/USA-RedDragon/fulcrum/internal/bus"
	"github.com/USA-RedDragon/fulcrum/internal/channels"
	"github.com/USA-RedDragon/fulcrum/internal/envelope"
)

// ErrBootFailed is returned when registration retries are exhausted
// without a successful response, a Fatal condition per the error taxonomy:
// the process should exit non-zero.
var ErrBootFailed = errors.New("identity: registration retries exhausted")

// ErrRejected is returned when the registry explicitly refuses
// registration (e.g. a Conflict it could not resolve).
var ErrRejected = errors.New("identity: registration rejected by registry")

// Register runs the boot-time registration protocol: publish a
// registration.request carrying this identity's self-reported state,
// await a directed registration.response on the tempId channel, retry
// with the same bounded timeout up to maxAttempts, and on success upgrade
// the bus's sender id to the assigned permanent id.
func Register(ctx context.Context, b *bus.Bus, id *Identity, timeout time.Duration, maxAttempts int) error {
	if err := b.SetSelfID(id.TempID()); err != nil {
		return fmt.Errorf("identity: failed priming bus sender id: %w", err)
	}

	responses := make(chan envelope.RegistrationResponse, 1)
	unsub, err := b.Subscribe(channels.RegistrationResponse(id.TempID()), func(env *envelope.Envelope) {
		resp, err := envelope.DecodePayload[envelope.RegistrationResponse](env)
		if err != nil {
			slog.Error("identity: malformed registration response", "error", err)
			return
		}
		select {
		case responses <- resp:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("identity: failed subscribing for registration response: %w", err)
	}
	defer func() { _ = unsub() }()

	req := envelope.RegistrationRequest{
		Role:         id.Role(),
		Family:       id.Family(),
		Address:      id.Address(),
		Version:      id.version,
		Capabilities: id.Capabilities(),
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := b.Publish(channels.RegistrationRequest, "registration.request", req); err != nil {
			return fmt.Errorf("identity: failed publishing registration request: %w", err)
		}

		select {
		case resp := <-responses:
			if !resp.Success {
				return fmt.Errorf("%w: %s", ErrRejected, resp.Reason)
			}
			id.setPermanentID(resp.AssignedID)
			if err := b.SetSelfID(resp.AssignedID); err != nil {
				return fmt.Errorf("identity: failed upgrading bus sender id: %w", err)
			}
			slog.Info("identity: registration complete", "tempId", id.TempID(), "permanentId", resp.AssignedID)
			return nil
		case <-time.After(timeout):
			slog.Warn("identity: registration attempt timed out, retrying", "attempt", attempt, "maxAttempts", maxAttempts)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ErrBootFailed
}

// ListenForReregistration subscribes to the registry's broadcast
// reregister request and resends this identity's current self-reported
// state whenever one arrives, so a restarted registry can rebuild its
// directory within its collection window. Per §4.3, a directed response
// addressed to this service's permanent id is treated as still valid; the
// registry only reassigns when it cannot match the sender.
func ListenForReregistration(b *bus.Bus, id *Identity) (func() error, error) {
	return b.Subscribe(channels.RegistrationReregster, func(_ *envelope.Envelope) {
		req := envelope.RegistrationRequest{
			Role:         id.Role(),
			Family:       id.Family(),
			Address:      id.Address(),
			Version:      id.version,
			Capabilities: id.Capabilities(),
		}
		if err := b.Publish(channels.RegistrationRequest, "registration.request", req); err != nil {
			slog.Error("identity: failed responding to reregister broadcast", "error", err)
		}
	})
}
