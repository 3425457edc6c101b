package store

import (
	"context"
	"math/rand"
	"sync"

	"smartattend/internal/ledger"
	id "smartattend/pkg/domain"
	"smartattend/pkg/platform/sentinel"
)

// InMemoryStore is the append-only in-memory ledger store, used for unit
// tests and single-node development. The type deliberately has no update or
// delete method: write-once is a property of the store, not a convention of
// its callers. Reads return copies so callers cannot reach stored rows.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []ledger.Entry
	byID    map[id.EntryID]int
	flags   []ledger.IntegrityFlag
	flagged map[id.EntryID]bool
}

// NewInMemory creates an empty in-memory ledger store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[id.EntryID]int),
		flagged: make(map[id.EntryID]bool),
	}
}

// Insert appends one entry. A duplicate ID is a conflict, never an overwrite.
func (s *InMemoryStore) Insert(_ context.Context, e ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[e.ID]; exists {
		return sentinel.ErrConflict
	}
	s.byID[e.ID] = len(s.entries)
	s.entries = append(s.entries, e)
	return nil
}

// Get returns one entry by ID.
func (s *InMemoryStore) Get(_ context.Context, entryID id.EntryID) (ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[entryID]
	if !ok {
		return ledger.Entry{}, sentinel.ErrNotFound
	}
	return s.entries[idx], nil
}

// Query returns entries matching q that the caller scope allows, newest
// first. Scope is a mandatory parameter and is applied structurally here.
func (s *InMemoryStore) Query(_ context.Context, q ledger.Query, scope ledger.CallerScope) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if !scope.Allows(e) {
			continue
		}
		if !matches(e, q) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// Sample returns up to n randomly chosen entries for background
// re-verification.
func (s *InMemoryStore) Sample(_ context.Context, n int) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || len(s.entries) == 0 {
		return nil, nil
	}
	if n >= len(s.entries) {
		return append([]ledger.Entry{}, s.entries...), nil
	}
	perm := rand.Perm(len(s.entries))
	out := make([]ledger.Entry, 0, n)
	for _, idx := range perm[:n] {
		out = append(out, s.entries[idx])
	}
	return out, nil
}

// InsertFlag freezes an entry for review. The entry row itself is untouched.
func (s *InMemoryStore) InsertFlag(_ context.Context, f ledger.IntegrityFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags = append(s.flags, f)
	s.flagged[f.EntryID] = true
	return nil
}

// IsFlagged reports whether an entry has been frozen for review.
func (s *InMemoryStore) IsFlagged(_ context.Context, entryID id.EntryID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flagged[entryID], nil
}

// FlagCount reports the number of integrity flags. Test helper.
func (s *InMemoryStore) FlagCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.flags)
}

// Len reports the number of stored entries. Test helper.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Corrupt overwrites a stored entry's raw bytes, simulating out-of-band
// tampering for integrity tests. It exists only because a checksum
// verification path needs something to catch; production stores have no
// equivalent.
func (s *InMemoryStore) Corrupt(entryID id.EntryID, mutate func(*ledger.Entry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[entryID]
	if !ok {
		return false
	}
	mutate(&s.entries[idx])
	return true
}

func matches(e ledger.Entry, q ledger.Query) bool {
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	if q.ResourceType != "" && e.ResourceType != q.ResourceType {
		return false
	}
	if q.ResourceID != "" && e.ResourceID != q.ResourceID {
		return false
	}
	if !q.SubjectID.IsNil() && e.Scope.SubjectID != q.SubjectID {
		return false
	}
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && e.Timestamp.After(q.Until) {
		return false
	}
	return true
}
