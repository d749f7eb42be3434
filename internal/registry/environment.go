// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/USA-RedDragon/fulcrum/internal/bus"
	"github.com/USA-RedDragon/fulcrum/internal/channels"
	"github.com/USA-RedDragon/fulcrum/internal/db/models"
	"github.com/USA-RedDragon/fulcrum/internal/envelope"
	"gorm.io/gorm"
)

// EnvironmentDescriptor is the in-memory shape served from the cache,
// independent of its gorm storage representation.
type EnvironmentDescriptor struct {
	Name               string
	Modules            []string
	PlayerCapacityHint int
}

// EnvironmentDirectory is a read-through cache over models.EnvironmentDescriptor,
// per §4.5: "implementers should treat the directory as read-through cache
// over a backing store". A revision token increments on every mutation and
// is broadcast so proxies can detect staleness.
type EnvironmentDirectory struct {
	db *gorm.DB

	mu       sync.RWMutex
	byName   map[string]EnvironmentDescriptor
	revision atomic.Int64
}

// NewEnvironmentDirectory loads the current backing-store contents into
// memory.
func NewEnvironmentDirectory(db *gorm.DB) (*EnvironmentDirectory, error) {
	d := &EnvironmentDirectory{db: db, byName: make(map[string]EnvironmentDescriptor)}
	if err := d.Refresh(); err != nil {
		return nil, err
	}
	return d, nil
}

// Refresh reloads every EnvironmentDescriptor from the backing store.
func (d *EnvironmentDirectory) Refresh() error {
	var records []models.EnvironmentDescriptor
	if err := d.db.Find(&records).Error; err != nil {
		return err
	}
	byName := make(map[string]EnvironmentDescriptor, len(records))
	for _, r := range records {
		byName[r.Name] = EnvironmentDescriptor{
			Name:               r.Name,
			Modules:            splitModules(r.Modules),
			PlayerCapacityHint: r.PlayerCapacityHint,
		}
	}
	d.mu.Lock()
	d.byName = byName
	d.mu.Unlock()
	return nil
}

// Upsert persists desc and bumps the revision token.
func (d *EnvironmentDirectory) Upsert(desc EnvironmentDescriptor) error {
	record := models.EnvironmentDescriptor{
		Name:               desc.Name,
		Modules:            strings.Join(desc.Modules, ","),
		PlayerCapacityHint: desc.PlayerCapacityHint,
	}
	if err := d.db.Where("name = ?", desc.Name).Assign(record).FirstOrCreate(&record).Error; err != nil {
		return err
	}
	d.mu.Lock()
	d.byName[desc.Name] = desc
	d.mu.Unlock()
	d.revision.Add(1)
	return nil
}

// Get returns the descriptor for name, if known.
func (d *EnvironmentDirectory) Get(name string) (EnvironmentDescriptor, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	desc, ok := d.byName[name]
	return desc, ok
}

// List returns every known environment descriptor.
func (d *EnvironmentDirectory) List() []EnvironmentDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]EnvironmentDescriptor, 0, len(d.byName))
	for _, desc := range d.byName {
		out = append(out, desc)
	}
	return out
}

// Revision returns the current revision token.
func (d *EnvironmentDirectory) Revision() int64 {
	return d.revision.Load()
}

// BroadcastRevision publishes the current revision token on
// registry.environment.revision, intended to be called after Upsert.
func (d *EnvironmentDirectory) BroadcastRevision(b *bus.Bus) error {
	return b.Publish(channels.EnvironmentRevision, "environment.revision", envelope.EnvironmentRevision{
		Revision: d.Revision(),
	})
}

func splitModules(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}
