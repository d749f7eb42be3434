// SPDX-License-Identifier: AGPL-3.0-or-later

// Package models holds the gorm record types backing the registry's
// environment/config directory (§4.5's "implementers should treat the
// directory as read-through cache over a backing store").
package models

import "gorm.io/gorm"

// EnvironmentDescriptor is a named environment's persisted configuration:
// the module list it runs and a player-capacity hint used by the route
// dispatcher when no live directory entry yet advertises a family.
type EnvironmentDescriptor struct {
	gorm.Model
	Name               string `gorm:"uniqueIndex"`
	Modules            string `gorm:"type:text"` // comma-separated module names
	PlayerCapacityHint int
}

// TableName pins the table name so renaming the Go type doesn't migrate
// the schema out from under existing deployments.
func (EnvironmentDescriptor) TableName() string {
	return "environment_descriptors"
}
