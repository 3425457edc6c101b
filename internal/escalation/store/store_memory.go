// Package store provides the escalation persistence backends. Role change
// events are insert-only in both; queue items mutate only through status.
package store

import (
	"context"
	"sync"
	"time"

	"smartattend/internal/escalation"
	id "smartattend/pkg/domain"
	"smartattend/pkg/platform/sentinel"
)

// InMemoryStore is the in-memory backend used in tests and single-node runs.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []escalation.RoleChangeEvent
	queue  map[id.QueueItemID]*escalation.RevalidationQueueItem
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{queue: make(map[id.QueueItemID]*escalation.RevalidationQueueItem)}
}

func (s *InMemoryStore) InsertEvent(_ context.Context, ev escalation.RoleChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.ID == ev.ID {
			return sentinel.ErrConflict
		}
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *InMemoryStore) CountChangesSince(_ context.Context, user id.UserID, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.events {
		if e.UserID == user && !e.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) InsertQueueItem(_ context.Context, item escalation.RevalidationQueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queue[item.ID]; ok {
		return sentinel.ErrConflict
	}
	cp := item
	s.queue[item.ID] = &cp
	return nil
}

func (s *InMemoryStore) GetQueueItem(_ context.Context, itemID id.QueueItemID) (escalation.RevalidationQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.queue[itemID]
	if !ok {
		return escalation.RevalidationQueueItem{}, sentinel.ErrNotFound
	}
	return *item, nil
}

func (s *InMemoryStore) ListQueue(_ context.Context, status escalation.QueueStatus) ([]escalation.RevalidationQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var items []escalation.RevalidationQueueItem
	for _, item := range s.queue {
		if item.Status == status {
			items = append(items, *item)
		}
	}
	return items, nil
}

func (s *InMemoryStore) LatestQueueItem(_ context.Context, user id.UserID) (escalation.RevalidationQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *escalation.RevalidationQueueItem
	for _, item := range s.queue {
		if item.UserID != user {
			continue
		}
		if latest == nil || item.EnqueuedAt.After(latest.EnqueuedAt) {
			latest = item
		}
	}
	if latest == nil {
		return escalation.RevalidationQueueItem{}, sentinel.ErrNotFound
	}
	return *latest, nil
}

func (s *InMemoryStore) ResolveQueueItem(_ context.Context, itemID id.QueueItemID, status escalation.QueueStatus, by id.UserID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.queue[itemID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if item.Status != escalation.StatusPending {
		return sentinel.ErrConflict
	}
	item.Status = status
	item.ResolvedAt = &at
	item.ResolvedBy = by
	return nil
}

func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// EventCount reports how many events were recorded, for tests.
func (s *InMemoryStore) EventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
