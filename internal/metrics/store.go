package metrics

import (
	"sort"
	"sync"
	"time"

	"opsagent/internal/models"
)

type entryKey struct {
	host string
	name string
}

// Store holds the last known state of every (host, check) pair seen so far.
// It is written by the scheduler and read concurrently by exporters.
type Store struct {
	mu      sync.RWMutex
	entries map[entryKey]models.MetricsEntry
	now     func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		entries: make(map[entryKey]models.MetricsEntry),
		now:     time.Now,
	}
}

// Record applies a probe result to the entry for host/name, creating it on first use.
// Up and latency are always overwritten; a failed result bumps FailTotal by one.
func (s *Store) Record(host, name string, result models.CheckResult) {
	latency := result.LatencyMS
	if latency < 0 {
		latency = 0
	}
	key := entryKey{host: host, name: name}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		entry = models.MetricsEntry{Host: host, Name: name}
	}
	entry.LastLatencyMS = latency
	entry.UpdatedAt = s.now().UTC()
	if result.Up {
		entry.Up = 1
	} else {
		entry.Up = 0
		entry.FailTotal++
	}
	s.entries[key] = entry
}

// Get returns the entry for host/name if it has been recorded.
func (s *Store) Get(host, name string) (models.MetricsEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[entryKey{host: host, name: name}]
	return entry, ok
}

// Snapshot returns a copy of all entries sorted by host then name.
func (s *Store) Snapshot() []models.MetricsEntry {
	s.mu.RLock()
	out := make([]models.MetricsEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Host != out[j].Host {
			return out[i].Host < out[j].Host
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Len reports how many entries exist.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
