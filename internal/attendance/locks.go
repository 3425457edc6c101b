package attendance

import (
	"sync"

	id "smartattend/pkg/domain"
)

// recordLocks serializes all transitions against one record: a single
// authoritative writer per record key. Losers of the store-level version
// check are rejected and retry; nothing is ever silently merged.
type recordLocks struct {
	mu    sync.Mutex
	locks map[id.RecordID]*sync.Mutex
}

func newRecordLocks() *recordLocks {
	return &recordLocks{locks: make(map[id.RecordID]*sync.Mutex)}
}

func (r *recordLocks) lock(recordID id.RecordID) *sync.Mutex {
	r.mu.Lock()
	m, ok := r.locks[recordID]
	if !ok {
		m = &sync.Mutex{}
		r.locks[recordID] = m
	}
	r.mu.Unlock()
	m.Lock()
	return m
}
