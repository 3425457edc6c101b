package store

import (
	"context"
	"sync"

	"smartattend/internal/catalog"
	"smartattend/pkg/platform/sentinel"
)

// InMemoryStore keeps catalog versions in memory. Insert-only, like its
// Postgres counterpart: a new version is a new element, never an overwrite.
type InMemoryStore struct {
	mu       sync.RWMutex
	versions []*catalog.Snapshot
}

// NewInMemory creates an empty in-memory catalog store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{}
}

// InsertVersion appends a new catalog version. Versions must increase.
func (s *InMemoryStore) InsertVersion(_ context.Context, snap *catalog.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.versions); n > 0 && snap.Version <= s.versions[n-1].Version {
		return sentinel.ErrConflict
	}
	s.versions = append(s.versions, snap)
	return nil
}

// LoadCurrent returns the highest version, or nil when empty.
func (s *InMemoryStore) LoadCurrent(_ context.Context) (*catalog.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.versions) == 0 {
		return nil, nil
	}
	return s.versions[len(s.versions)-1], nil
}
