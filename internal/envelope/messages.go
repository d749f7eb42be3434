// SPDX-License-Identifier: AGPL-3.0-or-later

package envelope

// Role is the kind of service a directory entry or identity record
// describes.
type Role string

const (
	RoleProxy    Role = "proxy"
	RoleBackend  Role = "backend"
	RoleLimbo    Role = "limbo"
	RoleRegistry Role = "registry"
)

// Status is a directory entry's liveness state, per the data model.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusUnavailable Status = "unavailable"
	StatusDead        Status = "dead"
)

// ShutdownPhase is a shutdown intent's current phase. Transitions are
// monotonic: evacuate -> evict -> shutdown, short of cancellation.
type ShutdownPhase string

const (
	PhaseEvacuate ShutdownPhase = "evacuate"
	PhaseEvict    ShutdownPhase = "evict"
	PhaseShutdown ShutdownPhase = "shutdown"
)

// LoadMetrics is the load snapshot a service reports on every heartbeat.
type LoadMetrics struct {
	PlayerCount    int     `json:"playerCount"`
	MaxPlayers     int     `json:"maxPlayers"`
	TPS            float64 `json:"tps"`
	ResponseTimeMs float64 `json:"responseTimeMs"`
}

// RegistrationRequest is published by a freshly booted service on
// registry.registration.request; senderId is the tempId.
type RegistrationRequest struct {
	Role         Role     `json:"role"`
	Family       string   `json:"family"`
	Address      string   `json:"address"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

// RegistrationResponse is the registry's directed reply to a
// RegistrationRequest, delivered on registry.registration.response.<tempId>.
type RegistrationResponse struct {
	AssignedID string `json:"assignedId"`
	Success    bool   `json:"success"`
	Reason     string `json:"reason,omitempty"`
}

// ReregisterRequest is broadcast by a registry that has just (re)started,
// on registry.registration.reregister, asking every service to resend its
// current self-reported state within the collection window.
type ReregisterRequest struct {
	CollectionWindowMs int64 `json:"collectionWindowMs"`
}

// StatusChange is broadcast on registry.status.change whenever a directory
// entry transitions between available/unavailable/dead.
type StatusChange struct {
	PermanentID string      `json:"permanentId"`
	Role        Role        `json:"role"`
	Status      Status      `json:"status"`
	Load        LoadMetrics `json:"load"`
}

// FleetComposition announces a directory entry joining or leaving the
// fleet, on registry.server.added/removed or registry.proxy.added/removed.
type FleetComposition struct {
	PermanentID string `json:"permanentId"`
	Role        Role   `json:"role"`
	Address     string `json:"address,omitempty"`
}

// HeartbeatStatus is published periodically by every service on
// server.heartbeat.status or proxy.heartbeat.status.
type HeartbeatStatus struct {
	PermanentID    string      `json:"permanentId"`
	Status         Status      `json:"status"`
	Load           LoadMetrics `json:"load"`
	TimestampMilli int64       `json:"timestampMilli"`
}

// SlotFamilyAdvertisement is published by a backend on
// registry.slot.family.advertisement at startup and on every active-slot
// count change.
type SlotFamilyAdvertisement struct {
	FamilyID    string   `json:"familyId"`
	MaxSlots    int      `json:"maxSlots"`
	ActiveSlots int      `json:"activeSlots"`
	Variants    []string `json:"variants"`
}

// SlotProvisionRequest is sent on server.slot.provision.<serverId> asking
// the named backend to create a new slot.
type SlotProvisionRequest struct {
	FamilyID    string            `json:"familyId"`
	VariantID   string            `json:"variantId"`
	RequestedBy string            `json:"requestedBy"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// SlotProvisionResponse is the backend's reply to a SlotProvisionRequest.
// Rejected is set when the family is at capacity or the variant is
// unsupported; Reason explains why.
type SlotProvisionResponse struct {
	SlotID   string `json:"slotId,omitempty"`
	State    string `json:"state,omitempty"`
	Rejected bool   `json:"rejected"`
	Reason   string `json:"reason,omitempty"`
}

// SlotStatus is published on registry.slot.status on every slot lifecycle
// transition (ready, draining, closed) so the registry's view stays
// current.
type SlotStatus struct {
	SlotID   string `json:"slotId"`
	FamilyID string `json:"familyId"`
	State    string `json:"state"`
}

// ShutdownIntent is created by the registry on operator request and
// broadcast on registry.shutdown.intent.
type ShutdownIntent struct {
	IntentID         string   `json:"intentId"`
	Targets          []string `json:"targets"`
	Phase            string   `json:"phase"`
	CountdownSeconds int      `json:"countdownSeconds"`
	Force            bool     `json:"force"`
	Cancelled        bool     `json:"cancelled"`
}

// ShutdownUpdate is published by the target of a shutdown intent on
// registry.shutdown.update as it advances through phases.
type ShutdownUpdate struct {
	IntentID          string   `json:"intentId"`
	Phase             string   `json:"phase"`
	AffectedPlayerIDs []string `json:"affectedPlayerIds,omitempty"`
	Cancelled         bool     `json:"cancelled"`
}

// PlayerRouteCommand instructs a backend (or the proxy's transfer facade)
// to accept or transfer a player, on direct.server.<id>/direct.proxy.<id>.
type PlayerRouteCommand struct {
	PlayerID      string            `json:"playerId"`
	SlotID        string            `json:"slotId"`
	TargetAddress string            `json:"targetAddress"`
	SpawnMetadata map[string]string `json:"spawnMetadata,omitempty"`
}

// EnvironmentRevision is broadcast on registry.environment.revision
// whenever the environment directory's backing store changes.
type EnvironmentRevision struct {
	Revision int64 `json:"revision"`
}
