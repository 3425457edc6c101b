package sessions

import (
	"context"
	"sync"
	"time"

	id "smartattend/pkg/domain"
)

// MemoryInvalidator is the in-process fallback used in tests and single-node
// runs without Redis.
type MemoryInvalidator struct {
	mu    sync.RWMutex
	marks map[id.UserID]time.Time
	ttl   time.Duration
}

func NewMemory() *MemoryInvalidator {
	return &MemoryInvalidator{marks: make(map[id.UserID]time.Time), ttl: DefaultMarkTTL}
}

func (m *MemoryInvalidator) Invalidate(_ context.Context, user id.UserID) error {
	if user.IsNil() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[user] = time.Now().Add(m.ttl)
	return nil
}

func (m *MemoryInvalidator) IsMarked(_ context.Context, user id.UserID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	deadline, ok := m.marks[user]
	return ok && time.Now().Before(deadline), nil
}
