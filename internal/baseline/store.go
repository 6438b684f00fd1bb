// Package baseline keeps the last validated price per symbol between polls.
package baseline

import (
	"sync"
	"time"
)

// Retention is how long an entry survives without a fresh valid observation.
const Retention = time.Hour

// Entry is the last validated price of a symbol and when it was observed.
type Entry struct {
	Price float64
	Time  time.Time
}

// Store maps symbols to their baseline entry. Only the detection engine
// mutates it; the lock makes read-only observability calls safe.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates an empty store.
func New() *Store {
	return &Store{entries: make(map[string]Entry)}
}

// Get returns the entry for symbol, if any.
func (s *Store) Get(symbol string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[symbol]
	return e, ok
}

// Put creates or replaces the entry for symbol.
func (s *Store) Put(symbol string, e Entry) {
	s.mu.Lock()
	s.entries[symbol] = e
	s.mu.Unlock()
}

// Len returns the number of tracked symbols.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Prune deletes every entry observed before now minus Retention and returns
// how many were removed.
func (s *Store) Prune(now time.Time) int {
	cutoff := now.Add(-Retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for symbol, e := range s.entries {
		if e.Time.Before(cutoff) {
			delete(s.entries, symbol)
			removed++
		}
	}
	return removed
}
