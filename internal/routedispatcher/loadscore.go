// SPDX-License-Identifier: AGPL-3.0-or-later

// Package routedispatcher implements the proxy-side player route
// dispatcher from spec §4.7: candidate selection by load score, slot
// provisioning with retry-to-next-best-candidate, and the final
// player.route.command issuance.
package routedispatcher

import "github.com/USA-RedDragon/fulcrum/internal/envelope"

// LoadScore computes the proxy's candidate-ranking score for a backend's
// most recent load report: playerCount/maxPlayers weighted 0.7, plus a
// TPS-derived penalty weighted 0.3. Lower is better.
func LoadScore(load envelope.LoadMetrics) float64 {
	var occupancy float64
	if load.MaxPlayers > 0 {
		occupancy = float64(load.PlayerCount) / float64(load.MaxPlayers)
	}
	penalty := 20 - load.TPS
	if penalty < 0 {
		penalty = 0
	}
	return 0.7*occupancy + 0.3*(penalty/20)
}
