package escalation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"smartattend/internal/catalog"
	"smartattend/internal/escalation"
	"smartattend/internal/escalation/sessions"
	escalationstore "smartattend/internal/escalation/store"
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

var admin = id.Actor{ID: "admin-1", Role: id.RoleAdmin, TenantID: "school-a"}

// =============================================================================
// Escalation Service Test Suite
// =============================================================================

type EscalationServiceSuite struct {
	suite.Suite
	store       *escalationstore.InMemoryStore
	ledgerStore *ledgerstore.InMemoryStore
	invalidator *sessions.MemoryInvalidator
	service     *escalation.Service
	now         time.Time
}

func TestEscalationServiceSuite(t *testing.T) {
	suite.Run(t, new(EscalationServiceSuite))
}

func (s *EscalationServiceSuite) SetupTest() {
	s.store = escalationstore.NewInMemory()
	s.ledgerStore = ledgerstore.NewInMemory()
	s.invalidator = sessions.NewMemory()
	s.now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	ldg, err := ledger.New(s.ledgerStore)
	s.Require().NoError(err)

	s.service, err = escalation.New(s.store, ldg, staticCatalog{snap: catalog.DefaultSnapshot()},
		escalation.WithSessions(s.invalidator))
	s.Require().NoError(err)
}

func (s *EscalationServiceSuite) ctx() context.Context {
	ctx := requestcontext.WithRequestID(context.Background(), "req-1")
	return requestcontext.WithTime(ctx, s.now)
}

func (s *EscalationServiceSuite) evaluate(from, to id.Role) escalation.Verdict {
	verdict, err := s.service.Evaluate(s.ctx(), escalation.EvaluateRequest{
		UserID:   "user-1",
		FromRole: from,
		ToRole:   to,
		Actor:    admin,
	})
	s.Require().NoError(err)
	return verdict
}

func (s *EscalationServiceSuite) ledgerEntries(action ledger.Action) []ledger.Entry {
	entries, err := s.ledgerStore.Query(context.Background(), ledger.Query{Action: action},
		ledger.CallerScope{ActorID: "root-1", Role: id.RoleSuperadmin})
	s.Require().NoError(err)
	return entries
}

// =============================================================================
// Evaluation Tests
// =============================================================================

func (s *EscalationServiceSuite) TestEvaluate() {
	s.Run("benign promotion passes without revalidation", func() {
		verdict := s.evaluate(id.RoleStudent, id.RoleTeacher)
		s.Equal(id.SeverityNone, verdict.Severity)
		s.Empty(verdict.TriggeredChecks)
		s.False(verdict.RequiresRevalidation)

		withheld, err := s.service.PermissionsWithheld(s.ctx(), "user-1")
		s.NoError(err)
		s.False(withheld)
	})

	s.Run("every evaluation is persisted and audited", func() {
		s.Positive(s.store.EventCount())
		s.NotEmpty(s.ledgerEntries(escalation.ActionRoleChangeEvaluated))
	})
}

func (s *EscalationServiceSuite) TestEvaluateCriticalJump() {
	verdict, err := s.service.Evaluate(s.ctx(), escalation.EvaluateRequest{
		UserID:   "user-2",
		FromRole: id.RoleStudent,
		ToRole:   id.RoleSuperadmin,
		Actor:    admin,
	})
	s.Require().NoError(err)

	s.Equal(id.SeverityCritical, verdict.Severity)
	s.Contains(verdict.TriggeredChecks, escalation.CheckHighestRole)
	s.Contains(verdict.TriggeredChecks, escalation.CheckPairDenied)
	s.True(verdict.RequiresRevalidation)
	s.False(verdict.QueueItemID.IsNil())

	s.Run("queue item is critical priority", func() {
		item, err := s.store.GetQueueItem(context.Background(), verdict.QueueItemID)
		s.NoError(err)
		s.Equal(id.PriorityCritical, item.Priority)
		s.Equal(escalation.StatusPending, item.Status)
	})

	s.Run("permissions stay withheld until resolution", func() {
		withheld, err := s.service.PermissionsWithheld(s.ctx(), "user-2")
		s.NoError(err)
		s.True(withheld)
	})

	s.Run("sessions were marked for re-authentication", func() {
		marked, err := s.invalidator.IsMarked(context.Background(), "user-2")
		s.NoError(err)
		s.True(marked)
		s.Len(s.ledgerEntries(escalation.ActionSessionsInvalidated), 1)
	})

	s.Run("enqueue is audited", func() {
		entries := s.ledgerEntries(escalation.ActionRevalidationEnqueued)
		s.Require().Len(entries, 1)
		s.Equal(verdict.QueueItemID.String(), entries[0].ResourceID)
	})
}

func (s *EscalationServiceSuite) TestRateWindow() {
	s.evaluate(id.RoleStudent, id.RoleTeacher)
	s.evaluate(id.RoleTeacher, id.RoleCoordinator)

	// Third change inside the window trips the rate check.
	verdict := s.evaluate(id.RoleCoordinator, id.RoleTeacher)
	s.Contains(verdict.TriggeredChecks, escalation.CheckRateExceeded)
	s.Equal(id.SeverityHigh, verdict.Severity)
	s.True(verdict.RequiresRevalidation)
}

func (s *EscalationServiceSuite) TestEvaluateValidation() {
	s.Run("user id is required", func() {
		_, err := s.service.Evaluate(s.ctx(), escalation.EvaluateRequest{
			FromRole: id.RoleStudent, ToRole: id.RoleTeacher, Actor: admin,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("roles must be known", func() {
		_, err := s.service.Evaluate(s.ctx(), escalation.EvaluateRequest{
			UserID: "user-1", FromRole: "WIZARD", ToRole: id.RoleTeacher, Actor: admin,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("actor is required", func() {
		_, err := s.service.Evaluate(s.ctx(), escalation.EvaluateRequest{
			UserID: "user-1", FromRole: id.RoleStudent, ToRole: id.RoleTeacher,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

// =============================================================================
// Queue Tests
// =============================================================================

func (s *EscalationServiceSuite) TestResolveQueueItem() {
	verdict, err := s.service.Evaluate(s.ctx(), escalation.EvaluateRequest{
		UserID:   "user-2",
		FromRole: id.RoleStudent,
		ToRole:   id.RoleSuperadmin,
		Actor:    admin,
	})
	s.Require().NoError(err)

	s.Run("resolution requires a coordinator", func() {
		student := id.Actor{ID: "student-1", Role: id.RoleStudent, TenantID: "school-a"}
		err := s.service.ResolveQueueItem(s.ctx(), student, verdict.QueueItemID, true, "looks fine")
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("resolution requires a justification", func() {
		err := s.service.ResolveQueueItem(s.ctx(), admin, verdict.QueueItemID, true, "")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("valid resolution releases the gate", func() {
		err := s.service.ResolveQueueItem(s.ctx(), admin, verdict.QueueItemID, true, "change approved by the registrar")
		s.NoError(err)

		withheld, err := s.service.PermissionsWithheld(s.ctx(), "user-2")
		s.NoError(err)
		s.False(withheld)

		entries := s.ledgerEntries(escalation.ActionRevalidationResolved)
		s.Require().Len(entries, 1)
		s.JSONEq(`{"status":"PENDING"}`, string(entries[0].Before))
		s.JSONEq(`{"status":"VALID"}`, string(entries[0].After))
	})

	s.Run("resolving twice conflicts", func() {
		err := s.service.ResolveQueueItem(s.ctx(), admin, verdict.QueueItemID, false, "revisiting")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("unknown item is not found", func() {
		err := s.service.ResolveQueueItem(s.ctx(), admin, id.NewQueueItemID(), true, "whichever")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *EscalationServiceSuite) TestInvalidResolutionKeepsGateClosed() {
	verdict, err := s.service.Evaluate(s.ctx(), escalation.EvaluateRequest{
		UserID:   "user-3",
		FromRole: id.RoleStudent,
		ToRole:   id.RoleSuperadmin,
		Actor:    admin,
	})
	s.Require().NoError(err)
	s.Require().True(verdict.RequiresRevalidation)

	err = s.service.ResolveQueueItem(s.ctx(), admin, verdict.QueueItemID, false, "anomaly confirmed, change denied")
	s.Require().NoError(err)

	// The anomaly was confirmed: the role change stays denied.
	withheld, err := s.service.PermissionsWithheld(s.ctx(), "user-3")
	s.NoError(err)
	s.True(withheld)

	s.Run("a later valid resolution releases it", func() {
		laterCtx := requestcontext.WithTime(context.Background(), s.now.Add(time.Minute))
		second, err := s.service.Evaluate(laterCtx, escalation.EvaluateRequest{
			UserID:   "user-3",
			FromRole: id.RoleStudent,
			ToRole:   id.RoleSuperadmin,
			Actor:    admin,
		})
		s.Require().NoError(err)

		s.Require().NoError(s.service.ResolveQueueItem(laterCtx, admin, second.QueueItemID, true, "identity re-verified in person"))

		withheld, err := s.service.PermissionsWithheld(s.ctx(), "user-3")
		s.NoError(err)
		s.False(withheld)
	})
}

func (s *EscalationServiceSuite) TestPendingQueueOrdering() {
	// An old high item ages past its window and outranks a fresh critical one
	// enqueued later.
	oldCtx := requestcontext.WithTime(context.Background(), s.now.Add(-6*time.Hour))
	_, err := s.service.Evaluate(oldCtx, escalation.EvaluateRequest{
		UserID:   "user-aged",
		FromRole: id.RoleStudent,
		ToRole:   id.RoleAdmin,
		Actor:    admin,
	})
	s.Require().NoError(err)

	verdict, err := s.service.Evaluate(s.ctx(), escalation.EvaluateRequest{
		UserID:   "user-fresh",
		FromRole: id.RoleStudent,
		ToRole:   id.RoleSuperadmin,
		Actor:    admin,
	})
	s.Require().NoError(err)
	s.Equal(id.SeverityCritical, verdict.Severity)

	items, err := s.service.PendingQueue(s.ctx(), admin)
	s.Require().NoError(err)
	s.Require().Len(items, 2)

	s.Run("aged item sorts first at equal effective priority", func() {
		s.Equal(id.UserID("user-aged"), items[0].UserID)
		s.Equal(id.UserID("user-fresh"), items[1].UserID)
	})

	s.Run("stored priority is never rewritten", func() {
		s.Equal(id.PriorityHigh, items[0].Priority)
		overdue := catalog.DefaultSnapshot().Queue.OverdueAfter
		s.Equal(id.PriorityCritical, items[0].EffectivePriority(s.now, overdue))
	})

	s.Run("queue access requires a coordinator", func() {
		student := id.Actor{ID: "student-1", Role: id.RoleStudent, TenantID: "school-a"}
		_, err := s.service.PendingQueue(s.ctx(), student)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}
