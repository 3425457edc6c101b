package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"smartattend/internal/catalog"
	"smartattend/internal/ledger"
	id "smartattend/pkg/domain"
	dErrors "smartattend/pkg/domain-errors"
	"smartattend/pkg/platform/sentinel"
	"smartattend/pkg/requestcontext"
)

// Ledger actions emitted by the detector.
const (
	ActionRoleChangeEvaluated  ledger.Action = "role_change_evaluated"
	ActionRevalidationEnqueued ledger.Action = "revalidation_enqueued"
	ActionRevalidationResolved ledger.Action = "revalidation_resolved"
	ActionRevalidationOverdue  ledger.Action = "revalidation_overdue"
	ActionSessionsInvalidated  ledger.Action = "sessions_invalidated"
)

// Store persists role change events and queue items. Events are insert-only;
// a queue item mutates only through its status.
type Store interface {
	InsertEvent(ctx context.Context, ev RoleChangeEvent) error
	// CountChangesSince counts committed role changes for the user inside the
	// sliding window. Consistent read: only committed events participate.
	CountChangesSince(ctx context.Context, user id.UserID, since time.Time) (int, error)
	InsertQueueItem(ctx context.Context, item RevalidationQueueItem) error
	GetQueueItem(ctx context.Context, itemID id.QueueItemID) (RevalidationQueueItem, error)
	ListQueue(ctx context.Context, status QueueStatus) ([]RevalidationQueueItem, error)
	// LatestQueueItem returns the user's most recently enqueued item,
	// regardless of status, or sentinel.ErrNotFound if none exists.
	LatestQueueItem(ctx context.Context, user id.UserID) (RevalidationQueueItem, error)
	// ResolveQueueItem moves a PENDING item to VALID or INVALID. Resolving a
	// non-pending item returns sentinel.ErrConflict.
	ResolveQueueItem(ctx context.Context, itemID id.QueueItemID, status QueueStatus, by id.UserID, at time.Time) error
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Sessions marks a user's active sessions for forced re-authentication.
type Sessions interface {
	Invalidate(ctx context.Context, user id.UserID) error
}

// Ledger is the slice of the audit ledger this service writes through.
type Ledger interface {
	Append(ctx context.Context, e ledger.Entry) (id.EntryID, error)
}

// Catalog provides the current configuration snapshot.
type Catalog interface {
	Snapshot() *catalog.Snapshot
}

// EvaluateRequest carries one proposed role change.
type EvaluateRequest struct {
	UserID         id.UserID
	FromRole       id.Role
	ToRole         id.Role
	OldPermissions []string
	NewPermissions []string
	Actor          id.Actor
}

// Verdict is the persisted outcome of one evaluation. When
// RequiresRevalidation is set, the caller must withhold the new permissions
// until the queue item resolves VALID.
type Verdict struct {
	EventID              id.RoleChangeID
	Severity             id.Severity
	TriggeredChecks      []string
	RequiresRevalidation bool
	QueueItemID          id.QueueItemID
}

// Service is the privilege escalation detector. Every evaluation is
// persisted before its verdict is returned; a change that cannot be recorded
// cannot proceed.
type Service struct {
	store    Store
	ledger   Ledger
	catalog  Catalog
	sessions Sessions
	locks    *userLocks
	logger   *slog.Logger
	metrics  *Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithSessions wires forced session invalidation for high and critical
// verdicts. Optional: without it the revalidation gate alone holds the line.
func WithSessions(sessions Sessions) Option {
	return func(s *Service) { s.sessions = sessions }
}

func New(store Store, ldg Ledger, cat Catalog, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("escalation store is required")
	}
	if ldg == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	svc := &Service{store: store, ledger: ldg, catalog: cat, locks: newUserLocks()}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Evaluate scores one proposed role change and persists the event, its audit
// entry, and (for high and critical verdicts) the revalidation queue item as
// one atomic unit. Persistence failure fails the role change itself.
func (s *Service) Evaluate(ctx context.Context, req EvaluateRequest) (Verdict, error) {
	if req.UserID.IsNil() {
		return Verdict{}, dErrors.New(dErrors.CodeValidation, "user id is required")
	}
	if !req.FromRole.IsValid() || !req.ToRole.IsValid() {
		return Verdict{}, dErrors.New(dErrors.CodeValidation, "unknown role")
	}
	if req.Actor.ID.IsNil() {
		return Verdict{}, dErrors.New(dErrors.CodeUnauthorized, "actor is required")
	}

	lock := s.locks.lock(req.UserID)
	defer lock.Unlock()

	snap := s.catalog.Snapshot()
	rules := snap.Escalation
	now := requestcontext.Now(ctx)

	recent, err := s.store.CountChangesSince(ctx, req.UserID, now.Add(-rules.RateWindow))
	if err != nil {
		// Fail closed: an unverifiable rate is treated as an exceeded one.
		if s.logger != nil {
			s.logger.WarnContext(ctx, "rate window lookup failed, assuming exceeded", "error", err, "user_id", req.UserID.String())
		}
		recent = rules.RateLimit
	}

	delta, grants := PermissionDelta(req.OldPermissions, req.NewPermissions)
	checks, sev := Score(Signals{
		PermissionDelta: delta,
		NewGrants:       grants,
		TargetRole:      req.ToRole,
		RecentChanges:   recent,
		PairDenied:      rules.DeniedPairs[catalog.RolePair{From: req.FromRole, To: req.ToRole}],
	}, rules)

	ev := RoleChangeEvent{
		ID:                   id.NewRoleChangeID(),
		UserID:               req.UserID,
		FromRole:             req.FromRole,
		ToRole:               req.ToRole,
		ActorID:              req.Actor.ID,
		TriggeredChecks:      checks,
		Severity:             sev,
		RequiresRevalidation: sev.AtLeast(id.SeverityHigh),
		Timestamp:            now,
	}

	var item RevalidationQueueItem
	if ev.RequiresRevalidation {
		item = RevalidationQueueItem{
			ID:         id.NewQueueItemID(),
			UserID:     req.UserID,
			Priority:   QueuePriorityFor(sev),
			Reason:     fmt.Sprintf("role change %s -> %s scored %s", req.FromRole, req.ToRole, sev),
			EnqueuedAt: now,
			Status:     StatusPending,
		}
	}

	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.InsertEvent(ctx, ev); err != nil {
			return translateStoreErr(err, "persist role change event")
		}
		after, _ := json.Marshal(map[string]any{
			"from_role":             ev.FromRole.String(),
			"to_role":               ev.ToRole.String(),
			"severity":              ev.Severity.String(),
			"triggered_checks":      ev.TriggeredChecks,
			"requires_revalidation": ev.RequiresRevalidation,
		})
		if _, err := s.ledger.Append(ctx, ledger.Entry{
			ActorID:      req.Actor.ID,
			ActorRole:    req.Actor.Role,
			Action:       ActionRoleChangeEvaluated,
			Scope:        ledger.AccessScope{Level: id.ScopeTenant, TenantID: req.Actor.TenantID, SubjectID: req.UserID},
			ResourceType: "role_change_event",
			ResourceID:   ev.ID.String(),
			After:        after,
		}); err != nil {
			return err
		}
		if !ev.RequiresRevalidation {
			return nil
		}
		if err := s.store.InsertQueueItem(ctx, item); err != nil {
			return translateStoreErr(err, "enqueue revalidation item")
		}
		enq, _ := json.Marshal(map[string]any{"priority": item.Priority.String(), "reason": item.Reason})
		_, err := s.ledger.Append(ctx, ledger.Entry{
			ActorID:      req.Actor.ID,
			ActorRole:    req.Actor.Role,
			Action:       ActionRevalidationEnqueued,
			Scope:        ledger.AccessScope{Level: id.ScopeTenant, TenantID: req.Actor.TenantID, SubjectID: req.UserID},
			ResourceType: "revalidation_queue_item",
			ResourceID:   item.ID.String(),
			After:        enq,
		})
		return err
	})
	if err != nil {
		return Verdict{}, err
	}

	if s.metrics != nil {
		s.metrics.Evaluations.WithLabelValues(sev.String()).Inc()
		if ev.RequiresRevalidation {
			s.metrics.QueueDepth.Inc()
		}
	}
	if s.logger != nil && sev != id.SeverityNone {
		s.logger.InfoContext(ctx, "role change scored",
			"log_type", "audit",
			"user_id", req.UserID.String(),
			"from_role", req.FromRole.String(),
			"to_role", req.ToRole.String(),
			"severity", sev.String(),
			"checks", checks,
		)
	}

	if ev.RequiresRevalidation {
		s.invalidateSessions(ctx, req)
	}

	verdict := Verdict{
		EventID:              ev.ID,
		Severity:             sev,
		TriggeredChecks:      checks,
		RequiresRevalidation: ev.RequiresRevalidation,
		QueueItemID:          item.ID,
	}
	return verdict, nil
}

// invalidateSessions marks the user's sessions after the verdict commits.
// Failure is logged, not fatal: the pending queue item already withholds the
// new permissions.
func (s *Service) invalidateSessions(ctx context.Context, req EvaluateRequest) {
	if s.sessions == nil {
		return
	}
	if err := s.sessions.Invalidate(ctx, req.UserID); err != nil {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "session invalidation failed", "error", err, "user_id", req.UserID.String())
		}
		return
	}
	_, err := s.ledger.Append(ctx, ledger.Entry{
		ActorID:      req.Actor.ID,
		ActorRole:    req.Actor.Role,
		Action:       ActionSessionsInvalidated,
		Scope:        ledger.AccessScope{Level: id.ScopeTenant, TenantID: req.Actor.TenantID, SubjectID: req.UserID},
		ResourceType: "user_sessions",
		ResourceID:   req.UserID.String(),
	})
	if err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "session invalidation audit failed", "error", err, "user_id", req.UserID.String())
	}
}

// PermissionsWithheld reports whether the user's latest role change is still
// gated by its revalidation item. Only a VALID resolution releases the gate;
// an INVALID one confirms the anomaly and keeps the permissions withheld.
func (s *Service) PermissionsWithheld(ctx context.Context, user id.UserID) (bool, error) {
	item, err := s.store.LatestQueueItem(ctx, user)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return true, translateStoreErr(err, "check revalidation gate")
	}
	return item.Status != StatusValid, nil
}

// PendingQueue returns unresolved items ordered most urgent first, ranked by
// their effective (age-escalated) priority.
func (s *Service) PendingQueue(ctx context.Context, actor id.Actor) ([]RevalidationQueueItem, error) {
	if !actor.Role.AtLeast(id.RoleCoordinator) {
		return nil, dErrors.New(dErrors.CodeForbidden, "queue access requires a coordinator")
	}
	items, err := s.store.ListQueue(ctx, StatusPending)
	if err != nil {
		return nil, translateStoreErr(err, "list revalidation queue")
	}
	overdue := s.catalog.Snapshot().Queue.OverdueAfter
	now := requestcontext.Now(ctx)
	sortByUrgency(items, now, overdue)
	return items, nil
}

// ResolveQueueItem records an operator's VALID or INVALID decision. The
// resolution is audited; an already-resolved item conflicts.
func (s *Service) ResolveQueueItem(ctx context.Context, actor id.Actor, itemID id.QueueItemID, valid bool, justification string) error {
	if !actor.Role.AtLeast(id.RoleCoordinator) {
		return dErrors.New(dErrors.CodeForbidden, "queue resolution requires a coordinator")
	}
	if justification == "" {
		return dErrors.New(dErrors.CodeValidation, "queue resolution requires a justification")
	}

	item, err := s.store.GetQueueItem(ctx, itemID)
	if err != nil {
		return translateStoreErr(err, "load queue item")
	}

	status := StatusInvalid
	if valid {
		status = StatusValid
	}
	now := requestcontext.Now(ctx)

	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.ResolveQueueItem(ctx, itemID, status, actor.ID, now); err != nil {
			return translateStoreErr(err, "resolve queue item")
		}
		before, _ := json.Marshal(map[string]any{"status": string(StatusPending)})
		after, _ := json.Marshal(map[string]any{"status": string(status)})
		_, err := s.ledger.Append(ctx, ledger.Entry{
			ActorID:       actor.ID,
			ActorRole:     actor.Role,
			Action:        ActionRevalidationResolved,
			Scope:         ledger.AccessScope{Level: id.ScopeTenant, TenantID: actor.TenantID, SubjectID: item.UserID},
			ResourceType:  "revalidation_queue_item",
			ResourceID:    itemID.String(),
			Before:        before,
			After:         after,
			Justification: justification,
		})
		return err
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.Resolutions.WithLabelValues(string(status)).Inc()
		s.metrics.QueueDepth.Dec()
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "revalidation resolved",
			"log_type", "audit",
			"item_id", itemID.String(),
			"user_id", item.UserID.String(),
			"status", string(status),
			"actor_id", actor.ID.String(),
		)
	}
	return nil
}

func sortByUrgency(items []RevalidationQueueItem, now time.Time, overdue map[id.Priority]time.Duration) {
	sort.SliceStable(items, func(i, j int) bool {
		a := items[i].EffectivePriority(now, overdue)
		b := items[j].EffectivePriority(now, overdue)
		if a != b {
			return a.Rank() > b.Rank()
		}
		return items[i].EnqueuedAt.Before(items[j].EnqueuedAt)
	})
}

// userLocks serializes evaluations per user so the sliding rate window sees
// every committed change before the next one is scored.
type userLocks struct {
	mu    sync.Mutex
	locks map[id.UserID]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[id.UserID]*sync.Mutex)}
}

func (u *userLocks) lock(user id.UserID) *sync.Mutex {
	u.mu.Lock()
	m, ok := u.locks[user]
	if !ok {
		m = &sync.Mutex{}
		u.locks[user] = m
	}
	u.mu.Unlock()
	m.Lock()
	return m
}

func translateStoreErr(err error, msg string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, msg)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, msg)
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	}
}
