// SPDX-License-Identifier: AGPL-3.0-or-later

// Package slotorchestrator implements the backend-side logic from spec
// §4.6: advertising slot-family capacity, fulfilling provision commands
// under FIFO back-pressure, and sweeping idle slots closed.
package slotorchestrator

import (
	"sync"

	"github.com/USA-RedDragon/fulcrum/internal/config"
)

// family tracks one slot family's advertised capacity and supported
// variants. activeSlots is maintained under mu so
// "0 <= activeSlots <= maxSlots" always holds between reads and writes.
type family struct {
	mu          sync.Mutex
	id          string
	maxSlots    int
	variants    map[string]bool
	activeSlots int
	seq         int
}

func newFamily(cfg config.SlotFamily) *family {
	variants := make(map[string]bool, len(cfg.Variants))
	for _, v := range cfg.Variants {
		variants[v] = true
	}
	return &family{id: cfg.ID, maxSlots: cfg.MaxSlots, variants: variants}
}

func (f *family) supportsVariant(variant string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.variants[variant]
}

// tryReserve increments activeSlots if under capacity, returning whether
// the reservation succeeded.
func (f *family) tryReserve() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activeSlots >= f.maxSlots {
		return false
	}
	f.activeSlots++
	return true
}

func (f *family) release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activeSlots > 0 {
		f.activeSlots--
	}
}

func (f *family) nextSeq() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return f.seq
}

func (f *family) snapshot() (active, max int, variants []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	variants = make([]string, 0, len(f.variants))
	for v := range f.variants {
		variants = append(variants, v)
	}
	return f.activeSlots, f.maxSlots, variants
}
