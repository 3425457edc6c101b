package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"smartattend/internal/timeauthority"
	id "smartattend/pkg/domain"
	"smartattend/pkg/platform/sentinel"
)

// PostgresStore persists drift samples in the drift_samples table, which
// carries the same UPDATE/DELETE-rejecting triggers as the audit ledger.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed drift sample store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert appends one sample.
func (s *PostgresStore) Insert(ctx context.Context, sample timeauthority.DriftSample) error {
	query := `
		INSERT INTO drift_samples (
			id, subject_id, device_id, device_class, client_time, server_time,
			drift_ns, category, action, forensic_flags, request_id, checksum
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(sample.ID),
		sample.SubjectID.String(),
		sample.DeviceID.String(),
		sample.DeviceClass.String(),
		sample.ClientTime,
		sample.ServerTime,
		int64(sample.Drift),
		sample.Category.String(),
		sample.Action.String(),
		pq.Array(sample.ForensicFlags),
		sample.RequestID,
		sample.Checksum,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert drift sample: %w", err)
	}
	return nil
}

// RecentDrifts returns drifts recorded for the device since the cutoff.
func (s *PostgresStore) RecentDrifts(ctx context.Context, device id.DeviceID, since time.Time) ([]time.Duration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT drift_ns FROM drift_samples WHERE device_id = $1 AND server_time >= $2`,
		device.String(), since,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent drifts: %w", err)
	}
	defer rows.Close()

	var out []time.Duration
	for rows.Next() {
		var ns int64
		if err := rows.Scan(&ns); err != nil {
			return nil, fmt.Errorf("scan drift: %w", err)
		}
		out = append(out, time.Duration(ns))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drifts: %w", err)
	}
	return out, nil
}
