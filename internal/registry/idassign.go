// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"fmt"
	"sort"
	"sync"
)

// idAllocator implements the permanent-id assignment policy from §4.5: ids
// are formed by <familyPrefix><monotonic-small-integer>; a per-family free
// list reuses the smallest released integer before minting a new one.
type idAllocator struct {
	mu   sync.Mutex
	next map[string]int
	free map[string][]int
}

func newIDAllocator() *idAllocator {
	return &idAllocator{
		next: make(map[string]int),
		free: make(map[string][]int),
	}
}

// Assign returns the next permanent id for family, preferring a released
// integer over minting a new one.
func (a *idAllocator) Assign(family string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if free := a.free[family]; len(free) > 0 {
		n := free[0]
		a.free[family] = free[1:]
		return fmt.Sprintf("%s%d", family, n)
	}
	n := a.next[family] + 1
	a.next[family] = n
	return fmt.Sprintf("%s%d", family, n)
}

// Release returns n to family's free list, to be reused on the next Assign
// once the directory's grace window for the dead entry has expired.
func (a *idAllocator) Release(family string, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	free := append(a.free[family], n)
	sort.Ints(free)
	a.free[family] = free
}

// Claim marks n as in-use for family without minting it: it drops n from
// the free list if present and advances next[family] past it, so a later
// Assign never hands out an id a re-registering sender already holds. Used
// when a sender's self-reported permanent id (e.g. surviving a registry
// restart) needs to be re-admitted rather than replaced.
func (a *idAllocator) Claim(family string, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if free := a.free[family]; len(free) > 0 {
		kept := free[:0]
		for _, v := range free {
			if v != n {
				kept = append(kept, v)
			}
		}
		a.free[family] = kept
	}
	if n > a.next[family] {
		a.next[family] = n
	}
}
