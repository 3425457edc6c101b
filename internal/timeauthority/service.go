package timeauthority

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

// Ledger actions emitted by the time authority.
const (
	ActionDriftClassified ledger.Action = "drift_classified"
	ActionDriftIncident   ledger.Action = "drift_incident"
)

// Store persists drift samples. Insert-only.
type Store interface {
	Insert(ctx context.Context, s DriftSample) error
	// RecentDrifts returns drifts recorded for the device since the cutoff,
	// for the oscillation heuristic. Consistent read: only committed samples.
	RecentDrifts(ctx context.Context, device id.DeviceID, since time.Time) ([]time.Duration, error)
}

// Ledger is the slice of the audit ledger this service writes through.
type Ledger interface {
	Append(ctx context.Context, e ledger.Entry) (id.EntryID, error)
}

// Catalog provides the current configuration snapshot.
type Catalog interface {
	Snapshot() *catalog.Snapshot
}

// ClassifyRequest carries one drift evaluation.
type ClassifyRequest struct {
	SubjectID   id.SubjectID
	DeviceID    id.DeviceID
	DeviceClass id.DeviceClass
	ClientTime  time.Time
	ServerTime  time.Time
	Actor       id.Actor
}

// Result is the classification plus its persisted sample.
type Result struct {
	Classification
	SampleID      id.SampleID
	ForensicFlags []string
}

// Service wraps the pure classifier with persistence and auditing. The
// classification itself never depends on store state; only the forensic
// flags do.
type Service struct {
	store   Store
	ledger  Ledger
	catalog Catalog
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

func New(store Store, ldg Ledger, cat Catalog, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("drift sample store is required")
	}
	if ldg == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	svc := &Service{store: store, ledger: ldg, catalog: cat}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// ClassifyDrift classifies the drift and persists the DriftSample and its
// ledger entry. The returned error carries CodePolicyViolation when the band
// action rejects the originating operation; the sample is persisted either
// way — a rejection is history, not a dropped request.
func (s *Service) ClassifyDrift(ctx context.Context, req ClassifyRequest) (Result, error) {
	if req.DeviceID.IsNil() {
		return Result{}, dErrors.New(dErrors.CodeValidation, "device id is required")
	}
	if !req.DeviceClass.IsValid() {
		return Result{}, dErrors.New(dErrors.CodeValidation, "unknown device class")
	}
	if req.ClientTime.IsZero() {
		return Result{}, dErrors.New(dErrors.CodeValidation, "client time is required")
	}
	if req.ServerTime.IsZero() {
		req.ServerTime = requestcontext.Now(ctx)
	}
	// Both times are checksummed and land in TIMESTAMPTZ columns; anything
	// below microseconds would not survive a reload.
	req.ClientTime = req.ClientTime.UTC().Truncate(time.Microsecond)
	req.ServerTime = req.ServerTime.UTC().Truncate(time.Microsecond)

	snap := s.catalog.Snapshot()
	cls := Classify(req.ClientTime, req.ServerTime, req.DeviceClass, snap.Drift)

	var flags []string
	since := req.ServerTime.Add(-snap.Drift.OscillationWindow)
	recent, err := s.store.RecentDrifts(ctx, req.DeviceID, since)
	if err != nil {
		// The heuristic is advisory; classification proceeds without it.
		if s.logger != nil {
			s.logger.WarnContext(ctx, "oscillation lookback failed", "error", err, "device_id", req.DeviceID.String())
		}
	} else if Oscillates(cls.Drift, recent, snap.Drift) {
		flags = append(flags, ForensicFlagOscillation)
	}

	sample := DriftSample{
		ID:            id.NewSampleID(),
		SubjectID:     req.SubjectID,
		DeviceID:      req.DeviceID,
		DeviceClass:   req.DeviceClass,
		ClientTime:    req.ClientTime,
		ServerTime:    req.ServerTime,
		Drift:         cls.Drift,
		Category:      cls.Category,
		Action:        cls.Action,
		ForensicFlags: flags,
		RequestID:     requestcontext.RequestID(ctx),
	}
	sample.Checksum = ComputeSampleChecksum(sample)

	if err := s.store.Insert(ctx, sample); err != nil {
		return Result{}, translateStoreErr(err, "persist drift sample")
	}

	action := ActionDriftClassified
	if cls.Category == id.DriftCritical {
		action = ActionDriftIncident
	}
	after, _ := json.Marshal(map[string]any{
		"category":       cls.Category.String(),
		"action":         cls.Action.String(),
		"drift_ms":       cls.Drift.Milliseconds(),
		"forensic_flags": flags,
	})
	if _, err := s.ledger.Append(ctx, ledger.Entry{
		ActorID:      actorOrDevice(req),
		ActorRole:    actorRole(req),
		Action:       action,
		Scope:        ledger.AccessScope{Level: id.ScopeUser, TenantID: req.Actor.TenantID, SubjectID: id.UserID(req.SubjectID)},
		ResourceType: "drift_sample",
		ResourceID:   sample.ID.String(),
		After:        after,
	}); err != nil {
		// Audit-first: an unrecorded classification must not be acted on.
		return Result{}, err
	}

	if s.metrics != nil {
		s.metrics.Classifications.WithLabelValues(cls.Category.String()).Inc()
		if len(flags) > 0 {
			s.metrics.ForensicFlags.Inc()
		}
	}
	if s.logger != nil && cls.Category != id.DriftAcceptable {
		s.logger.InfoContext(ctx, "drift classified",
			"device_id", req.DeviceID.String(),
			"category", cls.Category.String(),
			"drift_ms", cls.Drift.Milliseconds(),
			"forensic_flags", flags,
		)
	}

	result := Result{Classification: cls, SampleID: sample.ID, ForensicFlags: flags}
	if cls.Action.Rejects() {
		reason := "clock drift outside permitted band"
		if cls.Category == id.DriftCritical {
			reason = "clock drift at incident level"
		}
		return result, dErrors.New(dErrors.CodePolicyViolation, reason).
			Add("category", cls.Category.String()).
			Add("drift_ms", cls.Drift.Milliseconds())
	}
	return result, nil
}

func actorOrDevice(req ClassifyRequest) id.UserID {
	if !req.Actor.ID.IsNil() {
		return req.Actor.ID
	}
	return id.UserID("device:" + req.DeviceID.String())
}

func actorRole(req ClassifyRequest) id.Role {
	if req.Actor.Role.IsValid() {
		return req.Actor.Role
	}
	return id.RoleStudent
}

func translateStoreErr(err error, msg string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, msg)
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	}
}
