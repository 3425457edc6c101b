package attendance_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"smartattend/internal/attendance"
	attendancestore "smartattend/internal/attendance/store"
	"smartattend/internal/catalog"
	"smartattend/internal/ledger"
	ledgerstore "smartattend/internal/ledger/store"
	id "smartattend/pkg/domain"
	dErrors "smartattend/pkg/domain-errors"
	"smartattend/pkg/requestcontext"
)

type staticCatalog struct {
	snap *catalog.Snapshot
}

func (c staticCatalog) Snapshot() *catalog.Snapshot { return c.snap }

var (
	teacher     = id.Actor{ID: "teacher-1", Role: id.RoleTeacher, TenantID: "school-a"}
	coordinator = id.Actor{ID: "coord-1", Role: id.RoleCoordinator, TenantID: "school-a"}
)

// =============================================================================
// Attendance Service Test Suite
// =============================================================================

type AttendanceServiceSuite struct {
	suite.Suite
	store       *attendancestore.InMemoryStore
	ledgerStore *ledgerstore.InMemoryStore
	service     *attendance.Service
}

func TestAttendanceServiceSuite(t *testing.T) {
	suite.Run(t, new(AttendanceServiceSuite))
}

func (s *AttendanceServiceSuite) SetupTest() {
	s.store = attendancestore.NewInMemory()
	s.ledgerStore = ledgerstore.NewInMemory()

	ldg, err := ledger.New(s.ledgerStore)
	s.Require().NoError(err)

	s.service, err = attendance.New(s.store, ldg, staticCatalog{snap: catalog.DefaultSnapshot()})
	s.Require().NoError(err)
}

func (s *AttendanceServiceSuite) ctx() context.Context {
	ctx := requestcontext.WithRequestID(context.Background(), "req-1")
	ctx = requestcontext.WithClientIP(ctx, "203.0.113.7")
	return requestcontext.WithTime(ctx, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
}

// newRecord creates a record for student-1 and optionally walks it into the
// given state through real transitions.
func (s *AttendanceServiceSuite) newRecord(state id.AttendanceState) attendance.AttendanceRecord {
	rec, err := s.service.CreateRecord(s.ctx(), "student-1", "session-1", teacher)
	s.Require().NoError(err)

	switch state {
	case id.StatePending:
	case id.StateVerified:
		s.transition(rec.ID, id.StateVerified, "SCAN_ACCEPTED", "")
	case id.StateFlagged:
		s.transition(rec.ID, id.StateVerified, "SCAN_ACCEPTED", "")
		s.transition(rec.ID, id.StateFlagged, "DUPLICATE_SAME_HOUR", "second scan at 09:47")
	default:
		s.FailNow("unsupported setup state " + state.String())
	}

	rec, err = s.service.GetRecord(s.ctx(), rec.ID)
	s.Require().NoError(err)
	return rec
}

func (s *AttendanceServiceSuite) transition(recordID id.RecordID, to id.AttendanceState, reason, justification string) {
	_, err := s.service.AttemptTransition(s.ctx(), attendance.TransitionRequest{
		RecordID:      recordID,
		TargetState:   to,
		ReasonCode:    reason,
		Justification: justification,
		Actor:         coordinator,
	})
	s.Require().NoError(err)
}

func (s *AttendanceServiceSuite) ledgerEntries(action ledger.Action) []ledger.Entry {
	entries, err := s.ledgerStore.Query(context.Background(), ledger.Query{Action: action},
		ledger.CallerScope{ActorID: "root-1", Role: id.RoleSuperadmin})
	s.Require().NoError(err)
	return entries
}

// =============================================================================
// Record Creation Tests
// =============================================================================

func (s *AttendanceServiceSuite) TestCreateRecord() {
	s.Run("starts in pending and is audited", func() {
		rec, err := s.service.CreateRecord(s.ctx(), "student-1", "session-1", teacher)
		s.NoError(err)
		s.Equal(id.StatePending, rec.CurrentState)
		s.Equal(1, rec.Version)

		entries := s.ledgerEntries(attendance.ActionRecordCreated)
		s.Require().Len(entries, 1)
		s.Equal(rec.ID.String(), entries[0].ResourceID)
	})

	s.Run("students cannot create records", func() {
		student := id.Actor{ID: "student-1", Role: id.RoleStudent, TenantID: "school-a"}
		_, err := s.service.CreateRecord(s.ctx(), "student-1", "session-1", student)
		s.True(dErrors.HasCode(err, dErrors.CodePolicyViolation))
	})

	s.Run("subject and session are required", func() {
		_, err := s.service.CreateRecord(s.ctx(), "", "session-1", teacher)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

// =============================================================================
// Accepted Transition Tests
// =============================================================================

func (s *AttendanceServiceSuite) TestAcceptedTransition() {
	rec := s.newRecord(id.StateVerified)

	res, err := s.service.AttemptTransition(s.ctx(), attendance.TransitionRequest{
		RecordID:      rec.ID,
		TargetState:   id.StateFlagged,
		ReasonCode:    "DUPLICATE_SAME_HOUR",
		Justification: "second scan 12 minutes after the first",
		Actor:         coordinator,
	})
	s.Require().NoError(err)
	s.Equal(id.StateFlagged, res.NewState)
	s.False(res.Duplicate)

	s.Run("head row advances with the attempt", func() {
		head, err := s.service.GetRecord(s.ctx(), rec.ID)
		s.NoError(err)
		s.Equal(id.StateFlagged, head.CurrentState)
		s.Equal(rec.Version+1, head.Version)
		s.Equal(res.AttemptID, head.LastAttemptID)
	})

	s.Run("audit entry carries before and after state", func() {
		entries := s.ledgerEntries(attendance.ActionTransitionAccepted)
		s.Require().NotEmpty(entries)
		s.JSONEq(`{"state":"VERIFIED"}`, string(entries[0].Before))
		s.JSONEq(`{"state":"FLAGGED"}`, string(entries[0].After))
		s.Equal("second scan 12 minutes after the first", entries[0].Justification)
	})

	s.Run("attempt checksum survives a round trip through the store", func() {
		attempts, err := s.service.ListAttempts(s.ctx(), rec.ID)
		s.Require().NoError(err)
		for _, a := range attempts {
			s.Equal(attendance.ComputeAttemptChecksum(a), a.Checksum)
		}
	})
}

// =============================================================================
// Rejection Tests
// =============================================================================

func (s *AttendanceServiceSuite) TestRejectedTransition() {
	s.Run("flagged subject cannot clear its own flag", func() {
		rec := s.newRecord(id.StateFlagged)
		subject := id.Actor{ID: "student-1", Role: id.RoleStudent, TenantID: "school-a"}

		_, err := s.service.AttemptTransition(s.ctx(), attendance.TransitionRequest{
			RecordID:    rec.ID,
			TargetState: id.StateVerified,
			ReasonCode:  "REVIEW_CLEARED",
			Actor:       subject,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodePolicyViolation))
		s.Contains(err.Error(), "actor not authorized")

		head, err2 := s.service.GetRecord(s.ctx(), rec.ID)
		s.NoError(err2)
		s.Equal(id.StateFlagged, head.CurrentState)

		attempts, err2 := s.service.ListAttempts(s.ctx(), rec.ID)
		s.NoError(err2)
		last := attempts[len(attempts)-1]
		s.Equal(attendance.OutcomeRejected, last.Outcome)
		s.Contains(last.RejectionReason, "actor not authorized")
	})

	s.Run("unreachable target is rejected with the valid set", func() {
		rec := s.newRecord(id.StateVerified)

		_, err := s.service.AttemptTransition(s.ctx(), attendance.TransitionRequest{
			RecordID:    rec.ID,
			TargetState: id.StatePending,
			ReasonCode:  "SCAN_ACCEPTED",
			Actor:       coordinator,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodePolicyViolation))

		details := dErrors.DetailsOf(err)
		s.Equal("VERIFIED", details["current_state"])
		s.NotEmpty(details["valid_targets"])
		s.NotEmpty(details["attempt_id"])
	})

	s.Run("justification is required when the reason demands one", func() {
		rec := s.newRecord(id.StateVerified)

		_, err := s.service.AttemptTransition(s.ctx(), attendance.TransitionRequest{
			RecordID:    rec.ID,
			TargetState: id.StateFlagged,
			ReasonCode:  "DUPLICATE_SAME_HOUR",
			Actor:       coordinator,
		})
		s.Require().Error(err)
		s.Contains(err.Error(), "requires a justification")

		head, err2 := s.service.GetRecord(s.ctx(), rec.ID)
		s.NoError(err2)
		s.Equal(id.StateVerified, head.CurrentState)
	})

	s.Run("rejections are audited", func() {
		rec := s.newRecord(id.StateVerified)
		before := len(s.ledgerEntries(attendance.ActionTransitionRejected))

		_, err := s.service.AttemptTransition(s.ctx(), attendance.TransitionRequest{
			RecordID:    rec.ID,
			TargetState: id.StatePending,
			ReasonCode:  "SCAN_ACCEPTED",
			Actor:       coordinator,
		})
		s.Require().Error(err)
		s.Len(s.ledgerEntries(attendance.ActionTransitionRejected), before+1)
	})
}

// =============================================================================
// Idempotency Tests
// =============================================================================

func (s *AttendanceServiceSuite) TestIdempotentReplay() {
	rec := s.newRecord(id.StatePending)

	req := attendance.TransitionRequest{
		RecordID:       rec.ID,
		TargetState:    id.StateVerified,
		ReasonCode:     "SCAN_ACCEPTED",
		Actor:          teacher,
		IdempotencyKey: "scan-abc",
	}

	first, err := s.service.AttemptTransition(s.ctx(), req)
	s.Require().NoError(err)
	s.False(first.Duplicate)

	for i := 0; i < 3; i++ {
		replay, err := s.service.AttemptTransition(s.ctx(), req)
		s.Require().NoError(err)
		s.True(replay.Duplicate)
		s.Equal(first.AttemptID, replay.AttemptID)
		s.Equal(id.StateVerified, replay.NewState)
	}

	s.Run("state changed exactly once", func() {
		head, err := s.service.GetRecord(s.ctx(), rec.ID)
		s.NoError(err)
		s.Equal(id.StateVerified, head.CurrentState)
		s.Equal(rec.Version+1, head.Version)
	})

	s.Run("every submission left an attempt row", func() {
		attempts, err := s.service.ListAttempts(s.ctx(), rec.ID)
		s.NoError(err)
		s.Len(attempts, 4)

		duplicates := 0
		for _, a := range attempts {
			if a.Duplicate {
				duplicates++
				s.Equal(attendance.OutcomeDuplicate, a.Outcome)
			}
		}
		s.Equal(3, duplicates)
	})

	s.Run("every replay is audited", func() {
		entries := s.ledgerEntries(attendance.ActionTransitionReplayed)
		s.Require().Len(entries, 3)
		s.Equal(rec.ID.String(), entries[0].ResourceID)
		s.Contains(string(entries[0].After), first.AttemptID.String())
	})

	s.Run("replay reports the original outcome after the record moves on", func() {
		s.transition(rec.ID, id.StateFlagged, "DUPLICATE_SAME_HOUR", "second scan at 09:47")

		replay, err := s.service.AttemptTransition(s.ctx(), req)
		s.Require().NoError(err)
		s.True(replay.Duplicate)
		s.Equal(first.AttemptID, replay.AttemptID)
		s.Equal(id.StateVerified, replay.NewState)
	})

	s.Run("same key with a different target is a conflict", func() {
		conflicting := req
		conflicting.TargetState = id.StateExcused
		conflicting.ReasonCode = "MEDICAL_EXCUSE"
		conflicting.Justification = "doctor's note on file"
		_, err := s.service.AttemptTransition(s.ctx(), conflicting)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}
