package usecases

import (
	"sync"

	"github.com/rcondori/haultrack/internal/core/domain"
)

// tripEntry pairs a trip with the mutex that serializes every mutation of it.
// All writes to the trip — live pings, batch reconciliation, checkpoint
// transitions — happen with mu held, so concurrent updates to the same trip
// key are applied one at a time while distinct trips proceed in parallel.
type tripEntry struct {
	mu   sync.Mutex
	trip *domain.Trip
}

// tripRegistry is the in-memory authority for active trips.
type tripRegistry struct {
	mu      sync.RWMutex
	entries map[string]*tripEntry
}

func newTripRegistry() *tripRegistry {
	return &tripRegistry{entries: make(map[string]*tripEntry)}
}

func (r *tripRegistry) get(key string) *tripEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[key]
}

// getOrCreate returns the entry for key, creating an empty one when absent.
// The entry is inserted before any trip is attached to it, so two concurrent
// callers for the same unknown key land on the same entry and race only on
// its mutex, never on duplicate trips. created reports whether this call
// inserted the entry; the caller that sees true is responsible for attaching
// the trip under entry.mu.
func (r *tripRegistry) getOrCreate(key string) (entry *tripEntry, created bool) {
	r.mu.RLock()
	entry = r.entries[key]
	r.mu.RUnlock()
	if entry != nil {
		return entry, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry = r.entries[key]; entry != nil {
		return entry, false
	}
	entry = &tripEntry{}
	r.entries[key] = entry
	return entry, true
}

func (r *tripRegistry) keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for k := range r.entries {
		out = append(out, k)
	}
	return out
}
