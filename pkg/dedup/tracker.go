// Package dedup tracks which sources have already been harvested
package dedup

import "sync"

// Tracker is a grow-only set of processed source ids. The store is the
// source of truth; a Tracker is rebuilt from it at every start.
type Tracker struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// New creates a tracker seeded with ids
func New(ids ...string) *Tracker {
	t := &Tracker{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		t.ids[id] = struct{}{}
	}

	return t
}

// Contains reports whether id has been processed
func (t *Tracker) Contains(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.ids[id]

	return ok
}

// Add records ids and returns how many were not already present
func (t *Tracker) Add(ids ...string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	added := 0

	for _, id := range ids {
		if _, ok := t.ids[id]; ok {
			continue
		}

		t.ids[id] = struct{}{}
		added++
	}

	return added
}

// Len returns the number of tracked ids
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.ids)
}
