// SPDX-License-Identifier: AGPL-3.0-or-later

// Package channels names every bus channel in the core's key channel
// catalogue. Names take the form <component>.<category>.<action> with no
// "fulcrum." prefix; directed channels append the target id as a suffix.
package channels

const (
	RegistrationRequest   = "registry.registration.request"
	RegistrationReregster = "registry.registration.reregister"

	ServerAdded   = "registry.server.added"
	ServerRemoved = "registry.server.removed"
	ProxyAdded    = "registry.proxy.added"
	ProxyRemoved  = "registry.proxy.removed"

	StatusChange = "registry.status.change"

	ServerHeartbeatStatus = "server.heartbeat.status"
	ProxyHeartbeatStatus  = "proxy.heartbeat.status"

	SlotFamilyAdvertisement = "registry.slot.family.advertisement"
	SlotStatus              = "registry.slot.status"

	ShutdownIntent = "registry.shutdown.intent"
	ShutdownUpdate = "registry.shutdown.update"

	EnvironmentRevision = "registry.environment.revision"
)

// RegistrationResponse is the directed registry->service channel carrying
// id assignment, suffixed with the service's tempId.
func RegistrationResponse(tempID string) string {
	return "registry.registration.response." + tempID
}

// SlotProvision is the directed registry/proxy->backend channel requesting
// a new slot on the named backend.
func SlotProvision(serverID string) string {
	return "server.slot.provision." + serverID
}

// DirectServer is the point-to-point channel for a single backend.
func DirectServer(id string) string {
	return "direct.server." + id
}

// DirectProxy is the point-to-point channel for a single proxy.
func DirectProxy(id string) string {
	return "direct.proxy." + id
}

// Request is the base request/response correlation channel for id.
func Request(id string) string {
	return "request." + id
}

// Response is the base request/response correlation channel for id.
func Response(id string) string {
	return "response." + id
}
