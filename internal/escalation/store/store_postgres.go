package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"smartattend/internal/escalation"
	id "smartattend/pkg/domain"
	"smartattend/pkg/platform/sentinel"
	txcontext "smartattend/pkg/platform/tx"
)

// PostgresStore persists role change events and the revalidation queue. The
// role_change_events table carries UPDATE/DELETE-rejecting triggers; the
// revalidation_queue row permits exactly one UPDATE shape, the status
// resolution below.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed escalation store.
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

// RunInTx opens one transaction and threads it through context so the event,
// queue item, and ledger writes inside fn commit as one unit.
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

func (s *PostgresStore) InsertEvent(ctx context.Context, ev escalation.RoleChangeEvent) error {
	query := `
		INSERT INTO role_change_events (id, user_id, from_role, to_role, actor_id, triggered_checks, severity, requires_revalidation, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(ev.ID),
		ev.UserID.String(),
		ev.FromRole.String(),
		ev.ToRole.String(),
		ev.ActorID.String(),
		pq.Array(ev.TriggeredChecks),
		ev.Severity.String(),
		ev.RequiresRevalidation,
		ev.Timestamp,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert role change event: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountChangesSince(ctx context.Context, user id.UserID, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM role_change_events WHERE user_id = $1 AND ts >= $2`
	var n int
	if err := s.execer(ctx).QueryRowContext(ctx, query, user.String(), since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count role changes: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) InsertQueueItem(ctx context.Context, item escalation.RevalidationQueueItem) error {
	query := `
		INSERT INTO revalidation_queue (id, user_id, priority, reason, enqueued_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(item.ID),
		item.UserID.String(),
		item.Priority.String(),
		item.Reason,
		item.EnqueuedAt,
		string(item.Status),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert queue item: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetQueueItem(ctx context.Context, itemID id.QueueItemID) (escalation.RevalidationQueueItem, error) {
	query := `
		SELECT id, user_id, priority, reason, enqueued_at, status, resolved_at, resolved_by
		FROM revalidation_queue WHERE id = $1
	`
	item, err := scanQueueItem(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(itemID)))
	if errors.Is(err, sql.ErrNoRows) {
		return escalation.RevalidationQueueItem{}, sentinel.ErrNotFound
	}
	if err != nil {
		return escalation.RevalidationQueueItem{}, fmt.Errorf("get queue item: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListQueue(ctx context.Context, status escalation.QueueStatus) ([]escalation.RevalidationQueueItem, error) {
	query := `
		SELECT id, user_id, priority, reason, enqueued_at, status, resolved_at, resolved_by
		FROM revalidation_queue WHERE status = $1 ORDER BY enqueued_at ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()

	var items []escalation.RevalidationQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) LatestQueueItem(ctx context.Context, user id.UserID) (escalation.RevalidationQueueItem, error) {
	query := `
		SELECT id, user_id, priority, reason, enqueued_at, status, resolved_at, resolved_by
		FROM revalidation_queue WHERE user_id = $1 ORDER BY enqueued_at DESC LIMIT 1
	`
	item, err := scanQueueItem(s.execer(ctx).QueryRowContext(ctx, query, user.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return escalation.RevalidationQueueItem{}, sentinel.ErrNotFound
	}
	if err != nil {
		return escalation.RevalidationQueueItem{}, fmt.Errorf("latest queue item: %w", err)
	}
	return item, nil
}

// ResolveQueueItem is the only UPDATE the revalidation_queue trigger permits:
// a PENDING row gaining a terminal status and resolution metadata.
func (s *PostgresStore) ResolveQueueItem(ctx context.Context, itemID id.QueueItemID, status escalation.QueueStatus, by id.UserID, at time.Time) error {
	query := `
		UPDATE revalidation_queue
		SET status = $1, resolved_at = $2, resolved_by = $3
		WHERE id = $4 AND status = 'PENDING'
	`
	res, err := s.execer(ctx).ExecContext(ctx, query, string(status), at, by.String(), uuid.UUID(itemID))
	if err != nil {
		return fmt.Errorf("resolve queue item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve queue item: %w", err)
	}
	if affected == 0 {
		exists, existsErr := s.itemExists(ctx, itemID)
		if existsErr != nil {
			return existsErr
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) itemExists(ctx context.Context, itemID id.QueueItemID) (bool, error) {
	var exists bool
	err := s.execer(ctx).QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM revalidation_queue WHERE id = $1)`, uuid.UUID(itemID)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check queue item: %w", err)
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueItem(row rowScanner) (escalation.RevalidationQueueItem, error) {
	var (
		item       escalation.RevalidationQueueItem
		itemID     uuid.UUID
		userID     string
		priority   string
		status     string
		resolvedAt sql.NullTime
		resolvedBy sql.NullString
	)
	if err := row.Scan(&itemID, &userID, &priority, &item.Reason, &item.EnqueuedAt, &status, &resolvedAt, &resolvedBy); err != nil {
		return escalation.RevalidationQueueItem{}, err
	}
	item.ID = id.QueueItemID(itemID)
	item.UserID = id.UserID(userID)
	item.Priority = id.Priority(priority)
	item.Status = escalation.QueueStatus(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		item.ResolvedAt = &t
	}
	if resolvedBy.Valid {
		item.ResolvedBy = id.UserID(resolvedBy.String)
	}
	return item, nil
}
