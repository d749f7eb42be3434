// SPDX-License-Identifier: AGPL-3.0-or-later
package consts

import "time"

const (
	// ConnsPerCPU is the number of Redis connections to open per available
	// CPU core when sizing the shared connection pool.
	ConnsPerCPU = 10
	// MaxIdleTime is how long an idle Redis connection is kept before the
	// pool reclaims it.
	MaxIdleTime = 10 * time.Minute
)
