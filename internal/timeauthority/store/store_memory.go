package store

import (
	"context"
	"sync"
	"time"

	"smartattend/internal/timeauthority"
	id "smartattend/pkg/domain"
	"smartattend/pkg/platform/sentinel"
)

// InMemoryStore keeps drift samples in memory, append-only. No update or
// delete methods exist on this type.
type InMemoryStore struct {
	mu       sync.RWMutex
	samples  []timeauthority.DriftSample
	byDevice map[id.DeviceID][]int
	byID     map[id.SampleID]int
}

// NewInMemory creates an empty in-memory drift sample store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		byDevice: make(map[id.DeviceID][]int),
		byID:     make(map[id.SampleID]int),
	}
}

// Insert appends one sample.
func (s *InMemoryStore) Insert(_ context.Context, sample timeauthority.DriftSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[sample.ID]; exists {
		return sentinel.ErrConflict
	}
	idx := len(s.samples)
	s.samples = append(s.samples, sample)
	s.byID[sample.ID] = idx
	s.byDevice[sample.DeviceID] = append(s.byDevice[sample.DeviceID], idx)
	return nil
}

// RecentDrifts returns drifts recorded for the device since the cutoff.
func (s *InMemoryStore) RecentDrifts(_ context.Context, device id.DeviceID, since time.Time) ([]time.Duration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []time.Duration
	for _, idx := range s.byDevice[device] {
		if !s.samples[idx].ServerTime.Before(since) {
			out = append(out, s.samples[idx].Drift)
		}
	}
	return out, nil
}

// Get returns one sample by ID. Test helper.
func (s *InMemoryStore) Get(sampleID id.SampleID) (timeauthority.DriftSample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[sampleID]
	if !ok {
		return timeauthority.DriftSample{}, false
	}
	return s.samples[idx], true
}

// Len reports the number of stored samples. Test helper.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}
