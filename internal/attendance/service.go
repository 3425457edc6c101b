package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"smartattend/internal/catalog"
	"smartattend/internal/ledger"
	id "smartattend/pkg/domain"
	dErrors "smartattend/pkg/domain-errors"
	"smartattend/pkg/platform/sentinel"
	"smartattend/pkg/requestcontext"
)

// Ledger actions emitted by the validator.
const (
	ActionRecordCreated      ledger.Action = "attendance_record_created"
	ActionTransitionAccepted ledger.Action = "transition_accepted"
	ActionTransitionRejected ledger.Action = "transition_rejected"
	ActionTransitionReplayed ledger.Action = "transition_replayed"
)

// Store persists records and attempts. Attempts are insert-only; the record
// head row is the single mutable exception, guarded by version.
type Store interface {
	CreateRecord(ctx context.Context, rec AttendanceRecord) error
	GetRecord(ctx context.Context, recordID id.RecordID) (AttendanceRecord, error)
	// UpdateRecordState applies the state change only when the stored version
	// still matches; a stale version returns sentinel.ErrConflict.
	UpdateRecordState(ctx context.Context, recordID id.RecordID, version int, to id.AttendanceState, attemptID id.AttemptID) error
	InsertAttempt(ctx context.Context, a TransitionAttempt) error
	// FindAcceptedByKey returns the accepted, non-duplicate attempt carrying
	// the idempotency key, or sentinel.ErrNotFound.
	FindAcceptedByKey(ctx context.Context, recordID id.RecordID, key string) (TransitionAttempt, error)
	ListAttempts(ctx context.Context, recordID id.RecordID) ([]TransitionAttempt, error)
	// RunInTx executes fn inside one atomic unit: everything fn writes
	// commits together or not at all.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Ledger is the slice of the audit ledger this service writes through.
type Ledger interface {
	Append(ctx context.Context, e ledger.Entry) (id.EntryID, error)
}

// Catalog provides the current configuration snapshot.
type Catalog interface {
	Snapshot() *catalog.Snapshot
}

// TransitionRequest carries one attempt.
type TransitionRequest struct {
	RecordID       id.RecordID
	TargetState    id.AttendanceState
	ReasonCode     string
	Justification  string
	Actor          id.Actor
	IdempotencyKey string
}

// TransitionResult reports an accepted (or idempotently replayed) attempt.
type TransitionResult struct {
	RecordID  id.RecordID
	NewState  id.AttendanceState
	AttemptID id.AttemptID
	Duplicate bool
}

// Service is the attendance state transition validator.
type Service struct {
	store   Store
	ledger  Ledger
	catalog Catalog
	locks   *recordLocks
	logger  *slog.Logger
	metrics *Metrics
	timeout time.Duration
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithStoreTimeout bounds each atomic unit. On expiry the operation fails
// closed: treated as a rejection, never as an accept.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

func New(store Store, ldg Ledger, cat Catalog, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("attendance store is required")
	}
	if ldg == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	svc := &Service{
		store:   store,
		ledger:  ldg,
		catalog: cat,
		locks:   newRecordLocks(),
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CreateRecord registers a new attendance record in PENDING. The creation is
// audited like every other write.
func (s *Service) CreateRecord(ctx context.Context, subject id.SubjectID, session id.SessionRef, actor id.Actor) (AttendanceRecord, error) {
	if subject.IsNil() || session.IsNil() {
		return AttendanceRecord{}, dErrors.New(dErrors.CodeValidation, "subject and session are required")
	}
	if !actor.Role.AtLeast(id.RoleTeacher) {
		return AttendanceRecord{}, dErrors.New(dErrors.CodePolicyViolation, "actor not authorized to create attendance records")
	}

	rec := AttendanceRecord{
		ID:           id.NewRecordID(),
		SubjectID:    subject,
		SessionRef:   session,
		TenantID:     actor.TenantID,
		CurrentState: id.StatePending,
		Version:      1,
		CreatedAt:    requestcontext.Now(ctx),
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreateRecord(ctx, rec); err != nil {
			return translateStoreErr(err, "create attendance record")
		}
		after, _ := json.Marshal(map[string]any{"state": rec.CurrentState.String()})
		_, err := s.ledger.Append(ctx, ledger.Entry{
			ActorID:      actor.ID,
			ActorRole:    actor.Role,
			Action:       ActionRecordCreated,
			Scope:        ledger.AccessScope{Level: id.ScopeUser, TenantID: rec.TenantID, SubjectID: id.UserID(subject)},
			ResourceType: "attendance_record",
			ResourceID:   rec.ID.String(),
			After:        after,
		})
		return err
	})
	if err != nil {
		return AttendanceRecord{}, err
	}
	return rec, nil
}

// GetRecord returns the current head of one record.
func (s *Service) GetRecord(ctx context.Context, recordID id.RecordID) (AttendanceRecord, error) {
	rec, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return AttendanceRecord{}, translateStoreErr(err, "load attendance record")
	}
	return rec, nil
}

// ListAttempts returns the full attempt history of one record, oldest first.
func (s *Service) ListAttempts(ctx context.Context, recordID id.RecordID) ([]TransitionAttempt, error) {
	attempts, err := s.store.ListAttempts(ctx, recordID)
	if err != nil {
		return nil, translateStoreErr(err, "list transition attempts")
	}
	return attempts, nil
}

// AttemptTransition validates and applies one state transition. Validation
// order: matrix reachability, reason permitted for target, justification
// when required, actor authorization. Acceptance commits the state change,
// the accepted attempt, and the audit entry as one atomic unit. Rejection
// leaves the record untouched but still commits a rejected attempt and its
// audit entry: the refusal is history too.
func (s *Service) AttemptTransition(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	if req.RecordID.IsNil() {
		return TransitionResult{}, dErrors.New(dErrors.CodeValidation, "record id is required")
	}
	if !req.TargetState.IsValid() {
		return TransitionResult{}, dErrors.New(dErrors.CodeValidation, "unknown target state")
	}
	if req.Actor.ID.IsNil() {
		return TransitionResult{}, dErrors.New(dErrors.CodeUnauthorized, "actor is required")
	}

	lock := s.locks.lock(req.RecordID)
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rec, err := s.store.GetRecord(ctx, req.RecordID)
	if err != nil {
		return TransitionResult{}, translateStoreErr(err, "load attendance record")
	}

	// Idempotent replay: same key already accepted for this record. The
	// replay writes its own duplicate attempt row, so repeated-submission
	// patterns stay visible, but the state is not touched again.
	if req.IdempotencyKey != "" {
		prior, err := s.store.FindAcceptedByKey(ctx, req.RecordID, req.IdempotencyKey)
		switch {
		case err == nil && prior.ToState == req.TargetState:
			return s.recordDuplicate(ctx, rec, req, prior)
		case err == nil:
			return TransitionResult{}, dErrors.New(dErrors.CodeConflict, "idempotency key already used for a different target state").
				Add("prior_target", prior.ToState.String())
		case !errors.Is(err, sentinel.ErrNotFound):
			return TransitionResult{}, translateStoreErr(err, "idempotency lookup")
		}
	}

	snap := s.catalog.Snapshot()
	if reason := s.validate(snap, rec, req); reason != "" {
		return s.recordRejection(ctx, snap, rec, req, reason)
	}
	return s.recordAcceptance(ctx, rec, req)
}

// validate runs the ordered policy checks, returning the rejection reason or
// "" when the attempt is acceptable.
func (s *Service) validate(snap *catalog.Snapshot, rec AttendanceRecord, req TransitionRequest) string {
	if !snap.Matrix.Reachable(rec.CurrentState, req.TargetState) {
		return fmt.Sprintf("transition %s -> %s not permitted", rec.CurrentState, req.TargetState)
	}
	rc, ok := snap.Reason(req.ReasonCode)
	if !ok {
		return fmt.Sprintf("unknown reason code %q", req.ReasonCode)
	}
	if !rc.ValidTargets[req.TargetState] {
		return fmt.Sprintf("reason %s not permitted for target %s", rc.Code, req.TargetState)
	}
	if rc.RequiresJustification && req.Justification == "" {
		return fmt.Sprintf("reason %s requires a justification", rc.Code)
	}
	if reason := authorize(rec, req); reason != "" {
		return reason
	}
	return ""
}

// authorize checks the actor against the specific transition type. The
// flagged subject clearing its own flag is the canonical case this exists
// to stop.
func authorize(rec AttendanceRecord, req TransitionRequest) string {
	if id.UserID(rec.SubjectID) == req.Actor.ID {
		return "actor not authorized: subjects cannot transition their own record"
	}
	if rec.CurrentState == id.StateRevoked || req.TargetState == id.StateRevoked {
		if !req.Actor.Role.AtLeast(id.RoleCoordinator) {
			return "actor not authorized: revocation transitions require a coordinator"
		}
		return ""
	}
	if !req.Actor.Role.AtLeast(id.RoleTeacher) {
		return "actor not authorized for this transition"
	}
	return ""
}

func (s *Service) recordAcceptance(ctx context.Context, rec AttendanceRecord, req TransitionRequest) (TransitionResult, error) {
	attempt := s.newAttempt(ctx, rec, req)
	attempt.Outcome = OutcomeAccepted
	attempt.Checksum = ComputeAttemptChecksum(attempt)

	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.UpdateRecordState(ctx, rec.ID, rec.Version, req.TargetState, attempt.ID); err != nil {
			return translateStoreErr(err, "apply state change")
		}
		if err := s.store.InsertAttempt(ctx, attempt); err != nil {
			return translateStoreErr(err, "persist transition attempt")
		}
		before, _ := json.Marshal(map[string]any{"state": rec.CurrentState.String()})
		after, _ := json.Marshal(map[string]any{"state": req.TargetState.String()})
		_, err := s.ledger.Append(ctx, ledger.Entry{
			ActorID:       req.Actor.ID,
			ActorRole:     req.Actor.Role,
			Action:        ActionTransitionAccepted,
			Scope:         ledger.AccessScope{Level: id.ScopeUser, TenantID: rec.TenantID, SubjectID: id.UserID(rec.SubjectID)},
			ResourceType:  "attendance_record",
			ResourceID:    rec.ID.String(),
			Before:        before,
			After:         after,
			Justification: req.Justification,
		})
		return err
	})
	if err != nil {
		return TransitionResult{}, err
	}

	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues(string(OutcomeAccepted)).Inc()
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "transition accepted",
			"record_id", rec.ID.String(),
			"from", rec.CurrentState.String(),
			"to", req.TargetState.String(),
			"reason", req.ReasonCode,
			"actor_id", req.Actor.ID.String(),
		)
	}
	return TransitionResult{RecordID: rec.ID, NewState: req.TargetState, AttemptID: attempt.ID}, nil
}

func (s *Service) recordRejection(ctx context.Context, snap *catalog.Snapshot, rec AttendanceRecord, req TransitionRequest, reason string) (TransitionResult, error) {
	attempt := s.newAttempt(ctx, rec, req)
	attempt.Outcome = OutcomeRejected
	attempt.RejectionReason = reason
	attempt.Checksum = ComputeAttemptChecksum(attempt)

	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.InsertAttempt(ctx, attempt); err != nil {
			return translateStoreErr(err, "persist rejected attempt")
		}
		after, _ := json.Marshal(map[string]any{
			"rejected_target": req.TargetState.String(),
			"reason":          reason,
		})
		_, err := s.ledger.Append(ctx, ledger.Entry{
			ActorID:      req.Actor.ID,
			ActorRole:    req.Actor.Role,
			Action:       ActionTransitionRejected,
			Scope:        ledger.AccessScope{Level: id.ScopeUser, TenantID: rec.TenantID, SubjectID: id.UserID(rec.SubjectID)},
			ResourceType: "attendance_record",
			ResourceID:   rec.ID.String(),
			After:        after,
		})
		return err
	})
	if err != nil {
		return TransitionResult{}, err
	}

	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues(string(OutcomeRejected)).Inc()
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "transition rejected",
			"record_id", rec.ID.String(),
			"from", rec.CurrentState.String(),
			"target", req.TargetState.String(),
			"rejection", reason,
			"actor_id", req.Actor.ID.String(),
		)
	}

	valid := snap.Matrix.TargetsFrom(rec.CurrentState)
	targets := make([]string, 0, len(valid))
	for _, t := range valid {
		targets = append(targets, t.String())
	}
	return TransitionResult{}, dErrors.New(dErrors.CodePolicyViolation, reason).
		Add("attempt_id", attempt.ID.String()).
		Add("current_state", rec.CurrentState.String()).
		Add("valid_targets", targets)
}

func (s *Service) recordDuplicate(ctx context.Context, rec AttendanceRecord, req TransitionRequest, prior TransitionAttempt) (TransitionResult, error) {
	attempt := s.newAttempt(ctx, rec, req)
	attempt.Outcome = OutcomeDuplicate
	attempt.Duplicate = true
	attempt.Checksum = ComputeAttemptChecksum(attempt)

	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.InsertAttempt(ctx, attempt); err != nil {
			return translateStoreErr(err, "persist duplicate attempt")
		}
		after, _ := json.Marshal(map[string]any{
			"replayed_attempt_id": prior.ID.String(),
			"idempotency_key":     req.IdempotencyKey,
		})
		_, err := s.ledger.Append(ctx, ledger.Entry{
			ActorID:      req.Actor.ID,
			ActorRole:    req.Actor.Role,
			Action:       ActionTransitionReplayed,
			Scope:        ledger.AccessScope{Level: id.ScopeUser, TenantID: rec.TenantID, SubjectID: id.UserID(rec.SubjectID)},
			ResourceType: "attendance_record",
			ResourceID:   rec.ID.String(),
			After:        after,
		})
		return err
	})
	if err != nil {
		return TransitionResult{}, err
	}

	if s.metrics != nil {
		s.metrics.DuplicateReplays.Inc()
	}
	// The caller gets the original outcome, not whatever state the record
	// has since moved on to.
	return TransitionResult{
		RecordID:  rec.ID,
		NewState:  prior.ToState,
		AttemptID: prior.ID,
		Duplicate: true,
	}, nil
}

func (s *Service) newAttempt(ctx context.Context, rec AttendanceRecord, req TransitionRequest) TransitionAttempt {
	return TransitionAttempt{
		ID:             id.NewAttemptID(),
		RecordID:       rec.ID,
		FromState:      rec.CurrentState,
		ToState:        req.TargetState,
		ReasonCode:     req.ReasonCode,
		Justification:  req.Justification,
		IdempotencyKey: req.IdempotencyKey,
		ActorID:        req.Actor.ID,
		ActorRole:      req.Actor.Role,
		ClientIP:       requestcontext.ClientIP(ctx),
		RequestID:      requestcontext.RequestID(ctx),
		// Truncated to what TIMESTAMPTZ stores, so the checksum survives
		// a reload.
		Timestamp: requestcontext.Now(ctx).Truncate(time.Microsecond),
	}
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
