package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"smartattend/internal/ledger"
	id "smartattend/pkg/domain"
	"smartattend/pkg/platform/sentinel"
	txcontext "smartattend/pkg/platform/tx"
)

// PostgresStore persists ledger entries in the audit_entries table. The table
// carries triggers rejecting UPDATE and DELETE (see migrations/schema.sql),
// so write-once holds even for clients that bypass this store entirely. This
// store additionally exposes no mutation SQL: defense in depth, not either/or.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed ledger store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// execer returns the transaction from context when the caller opened one, so
// the ledger append commits atomically with the state change it describes.
func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Insert appends one entry.
func (s *PostgresStore) Insert(ctx context.Context, e ledger.Entry) error {
	query := `
		INSERT INTO audit_entries (
			id, actor_id, actor_role, action, scope_level, scope_tenant_id,
			scope_subject_id, resource_type, resource_id, before_state,
			after_state, justification, request_id, client_ip, ts, checksum
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(e.ID),
		e.ActorID.String(),
		e.ActorRole.String(),
		string(e.Action),
		e.Scope.Level.String(),
		e.Scope.TenantID.String(),
		e.Scope.SubjectID.String(),
		e.ResourceType,
		e.ResourceID,
		nullableJSON(e.Before),
		nullableJSON(e.After),
		e.Justification,
		e.RequestID,
		e.ClientIP,
		e.Timestamp,
		e.Checksum,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Get returns one entry by ID.
func (s *PostgresStore) Get(ctx context.Context, entryID id.EntryID) (ledger.Entry, error) {
	query := selectColumns + ` FROM audit_entries WHERE id = $1`
	e, err := scanEntry(s.db.QueryRowContext(ctx, query, uuid.UUID(entryID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Entry{}, sentinel.ErrNotFound
		}
		return ledger.Entry{}, fmt.Errorf("get audit entry: %w", err)
	}
	return e, nil
}

// Query returns entries matching q that the caller scope allows, newest
// first. The SQL narrows by filter; CallerScope.Allows is re-applied per row
// so the visibility rules live in exactly one place.
func (s *PostgresStore) Query(ctx context.Context, q ledger.Query, scope ledger.CallerScope) ([]ledger.Entry, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, cond+"$"+strconv.Itoa(len(args)))
	}
	if q.Action != "" {
		add("action = ", string(q.Action))
	}
	if q.ResourceType != "" {
		add("resource_type = ", q.ResourceType)
	}
	if q.ResourceID != "" {
		add("resource_id = ", q.ResourceID)
	}
	if !q.SubjectID.IsNil() {
		add("scope_subject_id = ", q.SubjectID.String())
	}
	if !q.Since.IsZero() {
		add("ts >= ", q.Since)
	}
	if !q.Until.IsZero() {
		add("ts <= ", q.Until)
	}

	query := selectColumns + ` FROM audit_entries`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY ts DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if scope.Allows(e) {
			out = append(out, e)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}

// Sample returns up to n randomly chosen entries for re-verification.
func (s *PostgresStore) Sample(ctx context.Context, n int) ([]ledger.Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	query := selectColumns + ` FROM audit_entries ORDER BY random() LIMIT $1`
	rows, err := s.db.QueryContext(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("sample audit entries: %w", err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}

// InsertFlag freezes an entry for review. Insert-only; the entry row is
// never touched.
func (s *PostgresStore) InsertFlag(ctx context.Context, f ledger.IntegrityFlag) error {
	query := `
		INSERT INTO integrity_flags (entry_id, stored_checksum, computed_checksum, flagged_at, flagged_by)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(f.EntryID), f.StoredChecksum, f.ComputedChecksum, f.FlaggedAt, f.FlaggedBy,
	)
	if err != nil {
		return fmt.Errorf("insert integrity flag: %w", err)
	}
	return nil
}

// IsFlagged reports whether an entry has been frozen for review.
func (s *PostgresStore) IsFlagged(ctx context.Context, entryID id.EntryID) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM integrity_flags WHERE entry_id = $1`, uuid.UUID(entryID),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check integrity flag: %w", err)
	}
	return count > 0, nil
}

const selectColumns = `
	SELECT id, actor_id, actor_role, action, scope_level, scope_tenant_id,
	       scope_subject_id, resource_type, resource_id, before_state,
	       after_state, justification, request_id, client_ip, ts, checksum
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (ledger.Entry, error) {
	var (
		e             ledger.Entry
		entryID       uuid.UUID
		actorID       string
		actorRole     string
		action        string
		scopeLevel    string
		scopeTenant   string
		scopeSubject  string
		before, after sql.NullString
	)
	err := row.Scan(
		&entryID, &actorID, &actorRole, &action, &scopeLevel, &scopeTenant,
		&scopeSubject, &e.ResourceType, &e.ResourceID, &before, &after,
		&e.Justification, &e.RequestID, &e.ClientIP, &e.Timestamp, &e.Checksum,
	)
	if err != nil {
		return ledger.Entry{}, err
	}
	e.ID = id.EntryID(entryID)
	e.ActorID = id.UserID(actorID)
	e.ActorRole = id.Role(actorRole)
	e.Action = ledger.Action(action)
	e.Scope = ledger.AccessScope{
		Level:     id.ScopeLevel(scopeLevel),
		TenantID:  id.TenantID(scopeTenant),
		SubjectID: id.UserID(scopeSubject),
	}
	if before.Valid {
		e.Before = []byte(before.String)
	}
	if after.Valid {
		e.After = []byte(after.String)
	}
	return e, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
