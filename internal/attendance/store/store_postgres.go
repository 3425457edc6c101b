package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"smartattend/internal/attendance"
	id "smartattend/pkg/domain"
	"smartattend/pkg/platform/sentinel"
	txcontext "smartattend/pkg/platform/tx"
)

// PostgresStore persists attendance records and transition attempts. The
// transition_attempts table carries UPDATE/DELETE-rejecting triggers; the
// attendance_records head row permits exactly one UPDATE shape, the
// version-guarded state change below.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed attendance store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// RunInTx opens one transaction, threads it through context so every store
// and ledger write inside fn lands in the same commit, and commits or rolls
// back as one unit.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CreateRecord registers a new record head.
func (s *PostgresStore) CreateRecord(ctx context.Context, rec attendance.AttendanceRecord) error {
	query := `
		INSERT INTO attendance_records (id, subject_id, session_ref, tenant_id, current_state, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(rec.ID),
		rec.SubjectID.String(),
		rec.SessionRef.String(),
		rec.TenantID.String(),
		rec.CurrentState.String(),
		rec.Version,
		rec.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert attendance record: %w", err)
	}
	return nil
}

// GetRecord returns the record head.
func (s *PostgresStore) GetRecord(ctx context.Context, recordID id.RecordID) (attendance.AttendanceRecord, error) {
	query := `
		SELECT id, subject_id, session_ref, tenant_id, current_state, last_attempt_id, version, created_at
		FROM attendance_records
		WHERE id = $1
	`
	var (
		rec           attendance.AttendanceRecord
		recID         uuid.UUID
		subject       string
		session       string
		tenant        string
		state         string
		lastAttemptID *uuid.UUID
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(recordID)).Scan(
		&recID, &subject, &session, &tenant, &state, &lastAttemptID, &rec.Version, &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.AttendanceRecord{}, sentinel.ErrNotFound
	}
	if err != nil {
		return attendance.AttendanceRecord{}, fmt.Errorf("get attendance record: %w", err)
	}
	rec.ID = id.RecordID(recID)
	rec.SubjectID = id.SubjectID(subject)
	rec.SessionRef = id.SessionRef(session)
	rec.TenantID = id.TenantID(tenant)
	rec.CurrentState = id.AttendanceState(state)
	if lastAttemptID != nil {
		rec.LastAttemptID = id.AttemptID(*lastAttemptID)
	}
	return rec, nil
}

// UpdateRecordState applies the state change only when the stored version
// still matches. Zero rows affected means a concurrent writer won.
func (s *PostgresStore) UpdateRecordState(ctx context.Context, recordID id.RecordID, version int, to id.AttendanceState, attemptID id.AttemptID) error {
	query := `
		UPDATE attendance_records
		SET current_state = $3, last_attempt_id = $4, version = version + 1
		WHERE id = $1 AND version = $2
	`
	result, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(recordID), version, to.String(), uuid.UUID(attemptID),
	)
	if err != nil {
		return fmt.Errorf("update record state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update record state rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

// InsertAttempt appends one attempt row.
func (s *PostgresStore) InsertAttempt(ctx context.Context, a attendance.TransitionAttempt) error {
	query := `
		INSERT INTO transition_attempts (
			id, record_id, from_state, to_state, reason_code, justification,
			outcome, rejection_reason, duplicate, idempotency_key, actor_id,
			actor_role, client_ip, request_id, ts, checksum
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(a.ID),
		uuid.UUID(a.RecordID),
		a.FromState.String(),
		a.ToState.String(),
		a.ReasonCode,
		a.Justification,
		string(a.Outcome),
		a.RejectionReason,
		a.Duplicate,
		a.IdempotencyKey,
		a.ActorID.String(),
		a.ActorRole.String(),
		a.ClientIP,
		a.RequestID,
		a.Timestamp,
		a.Checksum,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert transition attempt: %w", err)
	}
	return nil
}

// FindAcceptedByKey returns the accepted, non-duplicate attempt carrying the
// idempotency key.
func (s *PostgresStore) FindAcceptedByKey(ctx context.Context, recordID id.RecordID, key string) (attendance.TransitionAttempt, error) {
	query := attemptColumns + `
		FROM transition_attempts
		WHERE record_id = $1 AND idempotency_key = $2 AND outcome = 'accepted' AND duplicate = FALSE
		ORDER BY ts ASC
		LIMIT 1
	`
	a, err := scanAttempt(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(recordID), key))
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.TransitionAttempt{}, sentinel.ErrNotFound
	}
	if err != nil {
		return attendance.TransitionAttempt{}, fmt.Errorf("find attempt by idempotency key: %w", err)
	}
	return a, nil
}

// ListAttempts returns a record's attempts, oldest first.
func (s *PostgresStore) ListAttempts(ctx context.Context, recordID id.RecordID) ([]attendance.TransitionAttempt, error) {
	query := attemptColumns + `
		FROM transition_attempts
		WHERE record_id = $1
		ORDER BY ts ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(recordID))
	if err != nil {
		return nil, fmt.Errorf("list transition attempts: %w", err)
	}
	defer rows.Close()

	var out []attendance.TransitionAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transition attempt: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transition attempts: %w", err)
	}
	return out, nil
}

const attemptColumns = `
	SELECT id, record_id, from_state, to_state, reason_code, justification,
	       outcome, rejection_reason, duplicate, idempotency_key, actor_id,
	       actor_role, client_ip, request_id, ts, checksum
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (attendance.TransitionAttempt, error) {
	var (
		a         attendance.TransitionAttempt
		attemptID uuid.UUID
		recordID  uuid.UUID
		from      string
		to        string
		outcome   string
		actorID   string
		actorRole string
	)
	err := row.Scan(
		&attemptID, &recordID, &from, &to, &a.ReasonCode, &a.Justification,
		&outcome, &a.RejectionReason, &a.Duplicate, &a.IdempotencyKey, &actorID,
		&actorRole, &a.ClientIP, &a.RequestID, &a.Timestamp, &a.Checksum,
	)
	if err != nil {
		return attendance.TransitionAttempt{}, err
	}
	a.ID = id.AttemptID(attemptID)
	a.RecordID = id.RecordID(recordID)
	a.FromState = id.AttendanceState(from)
	a.ToState = id.AttendanceState(to)
	a.Outcome = attendance.Outcome(outcome)
	a.ActorID = id.UserID(actorID)
	a.ActorRole = id.Role(actorRole)
	return a, nil
}
