package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	id "smartattend/pkg/domain"
	dErrors "smartattend/pkg/domain-errors"
	"smartattend/pkg/platform/sentinel"
	"smartattend/pkg/requestcontext"
)

// Store is the persistence the service needs. Both implementations refuse
// update and delete below this interface; the interface simply has no way to
// ask for either.
type Store interface {
	Insert(ctx context.Context, e Entry) error
	Get(ctx context.Context, entryID id.EntryID) (Entry, error)
	Query(ctx context.Context, q Query, scope CallerScope) ([]Entry, error)
	Sample(ctx context.Context, n int) ([]Entry, error)
	InsertFlag(ctx context.Context, f IntegrityFlag) error
	IsFlagged(ctx context.Context, entryID id.EntryID) (bool, error)
}

// Service is the append/verify/query surface of the audit ledger.
type Service struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	svc := &Service{store: store}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Append computes the entry checksum over its immutable fields and persists
// it. The entry ID and timestamp are assigned here when unset; the checksum
// always is, so callers cannot append an entry whose digest disagrees with
// its content.
func (s *Service) Append(ctx context.Context, e Entry) (id.EntryID, error) {
	if e.ActorID.IsNil() {
		return id.EntryID{}, dErrors.New(dErrors.CodeValidation, "audit entry requires an actor")
	}
	if e.Action == "" {
		return id.EntryID{}, dErrors.New(dErrors.CodeValidation, "audit entry requires an action")
	}
	if e.ResourceType == "" {
		return id.EntryID{}, dErrors.New(dErrors.CodeValidation, "audit entry requires a resource type")
	}
	if !e.Scope.Level.IsValid() {
		return id.EntryID{}, dErrors.New(dErrors.CodeValidation, "audit entry requires a scope level")
	}

	if e.ID.IsNil() {
		e.ID = id.NewEntryID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = requestcontext.Now(ctx)
	}
	// TIMESTAMPTZ stores microseconds; anything finer would break checksum
	// re-verification after a reload.
	e.Timestamp = e.Timestamp.UTC().Truncate(time.Microsecond)
	if e.RequestID == "" {
		e.RequestID = requestcontext.RequestID(ctx)
	}
	if e.ClientIP == "" {
		e.ClientIP = requestcontext.ClientIP(ctx)
	}
	e.Checksum = ComputeChecksum(e)

	if err := s.store.Insert(ctx, e); err != nil {
		return id.EntryID{}, translateStoreErr(err, "append audit entry")
	}

	if s.metrics != nil {
		s.metrics.AppendsTotal.WithLabelValues(string(e.Action)).Inc()
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "audit entry appended",
			"entry_id", e.ID.String(),
			"action", string(e.Action),
			"actor_id", e.ActorID.String(),
			"resource", e.ResourceType+"/"+e.ResourceID,
			"request_id", e.RequestID,
			"log_type", "audit",
		)
	}
	return e.ID, nil
}

// Verify recomputes the entry's checksum and compares it to the stored one.
// A mismatch is an integrity fault: the entry is frozen for review via an
// insert-only flag and an incident entry is appended. The entry is never
// repaired or removed.
func (s *Service) Verify(ctx context.Context, entryID id.EntryID) error {
	return s.verify(ctx, entryID, "verify")
}

// VerifyEntry re-checks an already loaded entry. Used by the background
// verifier so one sampled batch is one store round trip.
func (s *Service) VerifyEntry(ctx context.Context, e Entry) error {
	return s.verifyLoaded(ctx, e, "background_verifier")
}

func (s *Service) verify(ctx context.Context, entryID id.EntryID, flaggedBy string) error {
	e, err := s.store.Get(ctx, entryID)
	if err != nil {
		return translateStoreErr(err, "load audit entry")
	}
	return s.verifyLoaded(ctx, e, flaggedBy)
}

func (s *Service) verifyLoaded(ctx context.Context, e Entry, flaggedBy string) error {
	computed := ComputeChecksum(e)
	if computed == e.Checksum {
		return nil
	}

	if s.metrics != nil {
		s.metrics.VerifyMismatches.Inc()
	}
	if s.logger != nil {
		s.logger.ErrorContext(ctx, "ledger integrity fault",
			"entry_id", e.ID.String(),
			"stored_checksum", e.Checksum,
			"computed_checksum", computed,
			"log_type", "audit",
		)
	}

	flag := IntegrityFlag{
		EntryID:          e.ID,
		StoredChecksum:   e.Checksum,
		ComputedChecksum: computed,
		FlaggedAt:        requestcontext.Now(ctx),
		FlaggedBy:        flaggedBy,
	}
	if err := s.store.InsertFlag(ctx, flag); err != nil {
		return translateStoreErr(err, "flag entry for review")
	}

	// The incident itself becomes history. Append failure is reported but
	// does not mask the fault.
	incident := Entry{
		ID:           id.NewEntryID(),
		ActorID:      "system",
		ActorRole:    id.RoleSuperadmin,
		Action:       ActionIntegrityFault,
		Scope:        AccessScope{Level: id.ScopeGlobal},
		ResourceType: "audit_entry",
		ResourceID:   e.ID.String(),
		Timestamp:    requestcontext.Now(ctx),
	}
	incident.Checksum = ComputeChecksum(incident)
	if err := s.store.Insert(ctx, incident); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to append integrity incident", "error", err)
	}

	return dErrors.New(dErrors.CodeIntegrityFault, "audit entry checksum mismatch, frozen for review").
		Add("entry_id", e.ID.String())
}

// IsFlagged reports whether an entry is frozen for review.
func (s *Service) IsFlagged(ctx context.Context, entryID id.EntryID) (bool, error) {
	flagged, err := s.store.IsFlagged(ctx, entryID)
	if err != nil {
		return false, translateStoreErr(err, "check integrity flag")
	}
	return flagged, nil
}

// Query runs a scoped read. The caller's scope is derived from the actor and
// is mandatory; subjects below operator rank are structurally narrowed to
// their own USER entries. Every privileged read produces its own audit entry:
// reading the ledger is itself an audited act.
func (s *Service) Query(ctx context.Context, actor id.Actor, q Query) ([]Entry, error) {
	if actor.ID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "ledger query requires an actor")
	}
	scope := CallerScope{ActorID: actor.ID, Role: actor.Role, TenantID: actor.TenantID}

	if scope.SelfOnly() && !q.SubjectID.IsNil() && q.SubjectID != actor.ID {
		if s.metrics != nil {
			s.metrics.ScopeDenialsTotal.Inc()
		}
		return nil, dErrors.New(dErrors.CodeForbidden, "caller scope does not cover requested subject")
	}

	entries, err := s.store.Query(ctx, q, scope)
	if err != nil {
		return nil, translateStoreErr(err, "query audit entries")
	}

	if !scope.SelfOnly() {
		_, err = s.Append(ctx, Entry{
			ActorID:      actor.ID,
			ActorRole:    actor.Role,
			Action:       ActionLedgerQueried,
			Scope:        AccessScope{Level: id.ScopeGlobal},
			ResourceType: "audit_ledger",
			ResourceID:   string(q.Action),
		})
		if err != nil {
			// Auditing the auditors is not optional: an unrecordable
			// privileged read returns nothing.
			return nil, err
		}
	}
	return entries, nil
}

// Sample exposes random entries to the background verifier. Not scoped: the
// verifier is a trusted internal task, not a caller.
func (s *Service) Sample(ctx context.Context, n int) ([]Entry, error) {
	entries, err := s.store.Sample(ctx, n)
	if err != nil {
		return nil, translateStoreErr(err, "sample audit entries")
	}
	return entries, nil
}

func translateStoreErr(err error, msg string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, msg)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, msg)
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
