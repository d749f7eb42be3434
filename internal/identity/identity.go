// SPDX-License-Identifier: AGPL-3.0-or-later

// Package identity derives a service's temporary id at startup and
// upgrades it to a registry-assigned permanent id, per spec §4.3.
package identity

import (
	"sync"

	"github.com/USA-RedDragon/fulcrum/internal/envelope"
	"github.com/google/uuid"
)

// Identity is a service's self-view: {tempId, permanentId, role, address,
// version, capabilities}. Each service owns exactly one Identity; the
// registry owns the authoritative tempId -> permanentId mapping.
type Identity struct {
	mu           sync.RWMutex
	tempID       string
	permanentID  string
	role         envelope.Role
	family       string
	address      string
	version      string
	capabilities []string
}

// New generates a fresh temporary id for role and returns an unregistered
// Identity. Call Register (see registration.go) to obtain a permanent id.
func New(role envelope.Role, family, address, version string, capabilities []string) *Identity {
	return &Identity{
		tempID:       string(role) + "-" + uuid.NewString(),
		role:         role,
		family:       family,
		address:      address,
		version:      version,
		capabilities: capabilities,
	}
}

// TempID returns the id generated at construction. It stays valid and
// addressable even after a permanent id is assigned, but is no longer used
// as the outbound sender id once registration succeeds.
func (i *Identity) TempID() string {
	return i.tempID
}

// PermanentID returns the registry-assigned id and whether one has been
// assigned yet.
func (i *Identity) PermanentID() (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.permanentID, i.permanentID != ""
}

// SenderID is the id this service should stamp on outbound envelopes:
// the permanent id once assigned, the temporary id until then.
func (i *Identity) SenderID() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.permanentID != "" {
		return i.permanentID
	}
	return i.tempID
}

func (i *Identity) setPermanentID(id string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.permanentID = id
}

// Role reports this service's role.
func (i *Identity) Role() envelope.Role {
	return i.role
}

// Family reports the slot/proxy family this service registered under.
func (i *Identity) Family() string {
	return i.family
}

// Address is this service's host:port, as advertised at registration.
func (i *Identity) Address() string {
	return i.address
}

// Capabilities is the capability set advertised at registration.
func (i *Identity) Capabilities() []string {
	return i.capabilities
}
