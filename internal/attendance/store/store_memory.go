package store

import (
	"context"
	"sync"

	"smartattend/internal/attendance"
	id "smartattend/pkg/domain"
	"smartattend/pkg/platform/sentinel"
)

// InMemoryStore keeps records and attempts in memory. Attempts are
// append-only: the type has no way to update or remove one. Only the record
// head row mutates, and only through the version-checked state update.
type InMemoryStore struct {
	mu       sync.RWMutex
	records  map[id.RecordID]attendance.AttendanceRecord
	attempts []attendance.TransitionAttempt
	byRecord map[id.RecordID][]int
}

// NewInMemory creates an empty in-memory attendance store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		records:  make(map[id.RecordID]attendance.AttendanceRecord),
		byRecord: make(map[id.RecordID][]int),
	}
}

// CreateRecord registers a new record head.
func (s *InMemoryStore) CreateRecord(_ context.Context, rec attendance.AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return sentinel.ErrConflict
	}
	s.records[rec.ID] = rec
	return nil
}

// GetRecord returns the record head.
func (s *InMemoryStore) GetRecord(_ context.Context, recordID id.RecordID) (attendance.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordID]
	if !ok {
		return attendance.AttendanceRecord{}, sentinel.ErrNotFound
	}
	return rec, nil
}

// UpdateRecordState applies the state change when the version still matches.
func (s *InMemoryStore) UpdateRecordState(_ context.Context, recordID id.RecordID, version int, to id.AttendanceState, attemptID id.AttemptID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if rec.Version != version {
		return sentinel.ErrConflict
	}
	rec.CurrentState = to
	rec.LastAttemptID = attemptID
	rec.Version++
	s.records[recordID] = rec
	return nil
}

// InsertAttempt appends one attempt row.
func (s *InMemoryStore) InsertAttempt(_ context.Context, a attendance.TransitionAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.attempts)
	s.attempts = append(s.attempts, a)
	s.byRecord[a.RecordID] = append(s.byRecord[a.RecordID], idx)
	return nil
}

// FindAcceptedByKey returns the accepted, non-duplicate attempt carrying the
// idempotency key.
func (s *InMemoryStore) FindAcceptedByKey(_ context.Context, recordID id.RecordID, key string) (attendance.TransitionAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, idx := range s.byRecord[recordID] {
		a := s.attempts[idx]
		if a.IdempotencyKey == key && a.Outcome == attendance.OutcomeAccepted && !a.Duplicate {
			return a, nil
		}
	}
	return attendance.TransitionAttempt{}, sentinel.ErrNotFound
}

// ListAttempts returns a record's attempts, oldest first.
func (s *InMemoryStore) ListAttempts(_ context.Context, recordID id.RecordID) ([]attendance.TransitionAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]attendance.TransitionAttempt, 0, len(s.byRecord[recordID]))
	for _, idx := range s.byRecord[recordID] {
		out = append(out, s.attempts[idx])
	}
	return out, nil
}

// RunInTx executes fn directly. The in-memory store has no transactional
// isolation; the service's per-record lock provides the write ordering unit
// tests rely on.
func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
