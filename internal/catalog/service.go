package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"smartattend/internal/ledger"
	id "smartattend/pkg/domain"
	dErrors "smartattend/pkg/domain-errors"
	"smartattend/pkg/requestcontext"
)

// Store persists catalog versions. Insert-only: a new version is a new row,
// the current catalog is the highest version.
type Store interface {
	InsertVersion(ctx context.Context, snap *Snapshot) error
	LoadCurrent(ctx context.Context) (*Snapshot, error)
}

// Ledger is the slice of the audit ledger the catalog needs. Catalog changes
// go through the same audit-first write path as domain data.
type Ledger interface {
	Append(ctx context.Context, e ledger.Entry) (id.EntryID, error)
}

// Service owns the current catalog snapshot. Reads are lock-free; updates are
// serialized, audited first, and fail closed.
type Service struct {
	store   Store
	ledger  Ledger
	logger  *slog.Logger
	current atomic.Pointer[Snapshot]
	updates chan struct{} // capacity 1, serializes Update
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New loads the current snapshot from the store, seeding the default catalog
// into an empty deployment.
func New(ctx context.Context, store Store, ldg Ledger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("catalog store is required")
	}
	if ldg == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	svc := &Service{store: store, ledger: ldg, updates: make(chan struct{}, 1)}
	for _, opt := range opts {
		opt(svc)
	}
	svc.updates <- struct{}{}

	snap, err := store.LoadCurrent(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	if snap == nil {
		snap = DefaultSnapshot()
		if err := store.InsertVersion(ctx, snap); err != nil {
			return nil, fmt.Errorf("seed default catalog: %w", err)
		}
	}
	svc.current.Store(snap)
	return svc, nil
}

// Snapshot returns the current catalog version. Callers hold the returned
// pointer for the duration of one operation so a concurrent update cannot
// split their decision across versions.
func (s *Service) Snapshot() *Snapshot {
	return s.current.Load()
}

// Update produces version N+1 by applying mutate to a copy of the current
// snapshot. The AuditEntry is appended before the new version is persisted or
// published; if the append fails, the catalog does not change.
func (s *Service) Update(ctx context.Context, actor id.Actor, justification string, mutate func(*Snapshot)) (*Snapshot, error) {
	if !actor.Role.AtLeast(id.RoleAdmin) {
		return nil, dErrors.New(dErrors.CodeForbidden, "catalog updates require an operator role")
	}
	if justification == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "catalog updates require a justification")
	}

	select {
	case <-s.updates:
	case <-ctx.Done():
		return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "catalog update cancelled")
	}
	defer func() { s.updates <- struct{}{} }()

	old := s.current.Load()
	next := old.clone()
	mutate(next)
	next.Version = old.Version + 1
	next.UpdatedAt = requestcontext.Now(ctx)
	next.UpdatedBy = actor.ID

	for class, bands := range next.Drift.Bands {
		if err := bands.Validate(); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid drift bands for "+class.String())
		}
	}

	before, _ := json.Marshal(map[string]any{"version": old.Version})
	after, _ := json.Marshal(map[string]any{"version": next.Version})
	_, err := s.ledger.Append(ctx, ledger.Entry{
		ActorID:       actor.ID,
		ActorRole:     actor.Role,
		Action:        ledger.ActionCatalogUpdated,
		Scope:         ledger.AccessScope{Level: id.ScopeGlobal},
		ResourceType:  "catalog",
		ResourceID:    fmt.Sprintf("v%d", next.Version),
		Before:        before,
		After:         after,
		Justification: justification,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "catalog update not audited, refusing to apply")
	}

	if err := s.store.InsertVersion(ctx, next); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "persist catalog version")
	}
	s.current.Store(next)

	if s.logger != nil {
		s.logger.InfoContext(ctx, "catalog updated",
			"version", next.Version,
			"actor_id", actor.ID.String(),
		)
	}
	return next, nil
}

// clone deep-copies the snapshot so mutate cannot reach the published version.
func (s *Snapshot) clone() *Snapshot {
	next := &Snapshot{
		Version:     s.Version,
		ReasonCodes: make(map[string]ReasonCode, len(s.ReasonCodes)),
		Matrix:      make(TransitionMatrix, len(s.Matrix)),
		Drift: DriftConfig{
			Bands:                make(map[id.DeviceClass]DriftBands, len(s.Drift.Bands)),
			OscillationWindow:    s.Drift.OscillationWindow,
			OscillationMagnitude: s.Drift.OscillationMagnitude,
		},
		Escalation: s.Escalation,
		Queue:      QueueConfig{OverdueAfter: make(map[id.Priority]time.Duration, len(s.Queue.OverdueAfter))},
		UpdatedAt:  s.UpdatedAt,
		UpdatedBy:  s.UpdatedBy,
	}
	for code, rc := range s.ReasonCodes {
		copied := rc
		copied.ValidTargets = make(map[id.AttendanceState]bool, len(rc.ValidTargets))
		for st, ok := range rc.ValidTargets {
			copied.ValidTargets[st] = ok
		}
		next.ReasonCodes[code] = copied
	}
	for from, tos := range s.Matrix {
		copied := make(map[id.AttendanceState]bool, len(tos))
		for to, ok := range tos {
			copied[to] = ok
		}
		next.Matrix[from] = copied
	}
	for class, bands := range s.Drift.Bands {
		next.Drift.Bands[class] = bands
	}
	next.Escalation.DeniedPairs = make(map[RolePair]bool, len(s.Escalation.DeniedPairs))
	for pair, denied := range s.Escalation.DeniedPairs {
		next.Escalation.DeniedPairs[pair] = denied
	}
	for p, d := range s.Queue.OverdueAfter {
		next.Queue.OverdueAfter[p] = d
	}
	return next
}
