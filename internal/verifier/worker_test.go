package verifier_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"smartattend/internal/catalog"
	"smartattend/internal/escalation"
	escalationstore "smartattend/internal/escalation/store"
	"smartattend/internal/ledger"
	ledgerstore "smartattend/internal/ledger/store"
	"smartattend/internal/verifier"
	id "smartattend/pkg/domain"
)

type staticCatalog struct {
	snap *catalog.Snapshot
}

func (c staticCatalog) Snapshot() *catalog.Snapshot { return c.snap }

// =============================================================================
// Verifier Worker Test Suite
// =============================================================================

type VerifierWorkerSuite struct {
	suite.Suite
	ledgerStore *ledgerstore.InMemoryStore
	queueStore  *escalationstore.InMemoryStore
	ledgerSvc   *ledger.Service
	worker      *verifier.Worker
	now         time.Time
}

func TestVerifierWorkerSuite(t *testing.T) {
	suite.Run(t, new(VerifierWorkerSuite))
}

func (s *VerifierWorkerSuite) SetupTest() {
	s.ledgerStore = ledgerstore.NewInMemory()
	s.queueStore = escalationstore.NewInMemory()
	s.now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	var err error
	s.ledgerSvc, err = ledger.New(s.ledgerStore)
	s.Require().NoError(err)

	s.worker = verifier.New(s.ledgerSvc, s.queueStore, staticCatalog{snap: catalog.DefaultSnapshot()})
}

func (s *VerifierWorkerSuite) appendEntry() id.EntryID {
	entryID, err := s.ledgerSvc.Append(context.Background(), ledger.Entry{
		ActorID:      "teacher-1",
		ActorRole:    id.RoleTeacher,
		Action:       "transition_accepted",
		Scope:        ledger.AccessScope{Level: id.ScopeUser, SubjectID: "student-1"},
		ResourceType: "attendance_record",
		ResourceID:   "rec-1",
	})
	s.Require().NoError(err)
	return entryID
}

func (s *VerifierWorkerSuite) enqueue(priority id.Priority, enqueuedAt time.Time) id.QueueItemID {
	item := escalation.RevalidationQueueItem{
		ID:         id.NewQueueItemID(),
		UserID:     "user-1",
		Priority:   priority,
		Reason:     "role change scored high",
		EnqueuedAt: enqueuedAt,
		Status:     escalation.StatusPending,
	}
	s.Require().NoError(s.queueStore.InsertQueueItem(context.Background(), item))
	return item.ID
}

func (s *VerifierWorkerSuite) overdueEntries() []ledger.Entry {
	entries, err := s.ledgerStore.Query(context.Background(),
		ledger.Query{Action: escalation.ActionRevalidationOverdue},
		ledger.CallerScope{ActorID: "root-1", Role: id.RoleSuperadmin})
	s.Require().NoError(err)
	return entries
}

// =============================================================================
// Sample Verification Tests
// =============================================================================

func (s *VerifierWorkerSuite) TestVerifySample() {
	s.Run("clean entries pass untouched", func() {
		s.appendEntry()
		s.worker.RunOnce(context.Background(), s.now)
		s.Equal(0, s.ledgerStore.FlagCount())
	})

	s.Run("a corrupted entry is flagged and reported", func() {
		entryID := s.appendEntry()
		s.Require().True(s.ledgerStore.Corrupt(entryID, func(e *ledger.Entry) { e.ResourceID = "rec-FORGED" }))

		s.worker.RunOnce(context.Background(), s.now)

		flagged, err := s.ledgerSvc.IsFlagged(context.Background(), entryID)
		s.NoError(err)
		s.True(flagged)
	})
}

// =============================================================================
// Overdue Reporting Tests
// =============================================================================

func (s *VerifierWorkerSuite) TestReportOverdue() {
	// A high-priority item that has waited past its 4h window.
	itemID := s.enqueue(id.PriorityHigh, s.now.Add(-5*time.Hour))
	// A fresh critical item that has not.
	s.enqueue(id.PriorityCritical, s.now)

	s.worker.RunOnce(context.Background(), s.now)

	entries := s.overdueEntries()
	s.Require().Len(entries, 1)
	s.Equal(itemID.String(), entries[0].ResourceID)

	s.Run("repeated cycles do not re-report the same step", func() {
		s.worker.RunOnce(context.Background(), s.now)
		s.worker.RunOnce(context.Background(), s.now.Add(time.Minute))
		s.Len(s.overdueEntries(), 1)
	})

	s.Run("stored row is never mutated", func() {
		item, err := s.queueStore.GetQueueItem(context.Background(), itemID)
		s.NoError(err)
		s.Equal(id.PriorityHigh, item.Priority)
		s.Equal(escalation.StatusPending, item.Status)
	})

	s.Run("resolution clears the dedup state", func() {
		err := s.queueStore.ResolveQueueItem(context.Background(), itemID, escalation.StatusValid, "admin-1", s.now)
		s.Require().NoError(err)

		s.worker.RunOnce(context.Background(), s.now.Add(time.Hour))
		s.Len(s.overdueEntries(), 1)
	})
}
