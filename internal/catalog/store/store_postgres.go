package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"smartattend/internal/catalog"
	id "smartattend/pkg/domain"
	"smartattend/pkg/platform/sentinel"
)

// PostgresStore persists catalog versions as JSON documents in the
// catalog_versions table. Insert-only; the current catalog is the row with
// the highest version.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed catalog store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// snapshotDoc is the JSON persistence shape. DeniedPairs is flattened to a
// slice because JSON cannot key objects by struct.
type snapshotDoc struct {
	Version     int                            `json:"version"`
	ReasonCodes map[string]catalog.ReasonCode  `json:"reason_codes"`
	Matrix      catalog.TransitionMatrix       `json:"matrix"`
	DriftBands  map[id.DeviceClass]bandsDoc    `json:"drift_bands"`
	OscWindow   time.Duration                  `json:"oscillation_window"`
	OscMag      time.Duration                  `json:"oscillation_magnitude"`
	Escalation  escalationDoc                  `json:"escalation"`
	Overdue     map[id.Priority]time.Duration  `json:"queue_overdue"`
	UpdatedAt   time.Time                      `json:"updated_at"`
	UpdatedBy   id.UserID                      `json:"updated_by"`
}

type bandsDoc struct {
	Acceptable time.Duration `json:"acceptable"`
	Warning    time.Duration `json:"warning"`
	Blocked    time.Duration `json:"blocked"`
	Critical   time.Duration `json:"critical"`
}

type escalationDoc struct {
	MaxPermissionDelta int                `json:"max_permission_delta"`
	MaxNewGrants       int                `json:"max_new_grants"`
	HighestRole        id.Role            `json:"highest_role"`
	RateWindow         time.Duration      `json:"rate_window"`
	RateLimit          int                `json:"rate_limit"`
	DeniedPairs        []catalog.RolePair `json:"denied_pairs"`
}

// InsertVersion appends a new catalog version row.
func (s *PostgresStore) InsertVersion(ctx context.Context, snap *catalog.Snapshot) error {
	doc, err := json.Marshal(toDoc(snap))
	if err != nil {
		return fmt.Errorf("marshal catalog snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO catalog_versions (version, document, updated_at, updated_by) VALUES ($1, $2, $3, $4)`,
		snap.Version, doc, snap.UpdatedAt, snap.UpdatedBy.String(),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert catalog version: %w", err)
	}
	return nil
}

// LoadCurrent returns the highest catalog version, or nil when none exists.
func (s *PostgresStore) LoadCurrent(ctx context.Context) (*catalog.Snapshot, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM catalog_versions ORDER BY version DESC LIMIT 1`,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load catalog version: %w", err)
	}
	var doc snapshotDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal catalog snapshot: %w", err)
	}
	return fromDoc(doc), nil
}

func toDoc(snap *catalog.Snapshot) snapshotDoc {
	bands := make(map[id.DeviceClass]bandsDoc, len(snap.Drift.Bands))
	for class, b := range snap.Drift.Bands {
		bands[class] = bandsDoc{Acceptable: b.Acceptable, Warning: b.Warning, Blocked: b.Blocked, Critical: b.Critical}
	}
	pairs := make([]catalog.RolePair, 0, len(snap.Escalation.DeniedPairs))
	for pair, denied := range snap.Escalation.DeniedPairs {
		if denied {
			pairs = append(pairs, pair)
		}
	}
	return snapshotDoc{
		Version:     snap.Version,
		ReasonCodes: snap.ReasonCodes,
		Matrix:      snap.Matrix,
		DriftBands:  bands,
		OscWindow:   snap.Drift.OscillationWindow,
		OscMag:      snap.Drift.OscillationMagnitude,
		Escalation: escalationDoc{
			MaxPermissionDelta: snap.Escalation.MaxPermissionDelta,
			MaxNewGrants:       snap.Escalation.MaxNewGrants,
			HighestRole:        snap.Escalation.HighestRole,
			RateWindow:         snap.Escalation.RateWindow,
			RateLimit:          snap.Escalation.RateLimit,
			DeniedPairs:        pairs,
		},
		Overdue:   snap.Queue.OverdueAfter,
		UpdatedAt: snap.UpdatedAt,
		UpdatedBy: snap.UpdatedBy,
	}
}

func fromDoc(doc snapshotDoc) *catalog.Snapshot {
	bands := make(map[id.DeviceClass]catalog.DriftBands, len(doc.DriftBands))
	for class, b := range doc.DriftBands {
		bands[class] = catalog.DriftBands{Acceptable: b.Acceptable, Warning: b.Warning, Blocked: b.Blocked, Critical: b.Critical}
	}
	denied := make(map[catalog.RolePair]bool, len(doc.Escalation.DeniedPairs))
	for _, pair := range doc.Escalation.DeniedPairs {
		denied[pair] = true
	}
	return &catalog.Snapshot{
		Version:     doc.Version,
		ReasonCodes: doc.ReasonCodes,
		Matrix:      doc.Matrix,
		Drift: catalog.DriftConfig{
			Bands:                bands,
			OscillationWindow:    doc.OscWindow,
			OscillationMagnitude: doc.OscMag,
		},
		Escalation: catalog.EscalationRules{
			MaxPermissionDelta: doc.Escalation.MaxPermissionDelta,
			MaxNewGrants:       doc.Escalation.MaxNewGrants,
			HighestRole:        doc.Escalation.HighestRole,
			RateWindow:         doc.Escalation.RateWindow,
			RateLimit:          doc.Escalation.RateLimit,
			DeniedPairs:        denied,
		},
		Queue:     catalog.QueueConfig{OverdueAfter: doc.Overdue},
		UpdatedAt: doc.UpdatedAt,
		UpdatedBy: doc.UpdatedBy,
	}
}
