// Package verifier is the background integrity task. Each cycle it re-checks
// a random sample of ledger entries against their checksums and reports
// revalidation queue items that have outgrown their priority's allowed wait.
// The task only reads and appends; it never mutates an existing row.
package verifier

import (
	"context"
	"log/slog"
	"time"

	"smartattend/internal/catalog"
	"smartattend/internal/escalation"
	"smartattend/internal/ledger"
	id "smartattend/pkg/domain"
	dErrors "smartattend/pkg/domain-errors"
)

// Ledger is the slice of the audit ledger the verifier drives.
type Ledger interface {
	Sample(ctx context.Context, n int) ([]ledger.Entry, error)
	VerifyEntry(ctx context.Context, e ledger.Entry) error
	Append(ctx context.Context, e ledger.Entry) (id.EntryID, error)
}

// Queue is the read-only view of the revalidation queue.
type Queue interface {
	ListQueue(ctx context.Context, status escalation.QueueStatus) ([]escalation.RevalidationQueueItem, error)
}

// Catalog provides the current configuration snapshot.
type Catalog interface {
	Snapshot() *catalog.Snapshot
}

// Worker drives the periodic integrity cycle.
type Worker struct {
	ledger     Ledger
	queue      Queue
	catalog    Catalog
	logger     *slog.Logger
	metrics    *escalation.Metrics
	interval   time.Duration
	sampleSize int
	// reported remembers the highest effective priority already announced per
	// item, so each escalation step is audited once, not once per cycle.
	reported map[id.QueueItemID]id.Priority
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

func WithMetrics(m *escalation.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func WithInterval(d time.Duration) Option {
	return func(w *Worker) { w.interval = d }
}

func WithSampleSize(n int) Option {
	return func(w *Worker) { w.sampleSize = n }
}

func New(ldg Ledger, queue Queue, cat Catalog, opts ...Option) *Worker {
	w := &Worker{
		ledger:     ldg,
		queue:      queue,
		catalog:    cat,
		interval:   time.Minute,
		sampleSize: 50,
		reported:   make(map[id.QueueItemID]id.Priority),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run cycles until ctx is cancelled. A failed cycle is logged and retried on
// the next tick; the worker never stops on its own.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx, time.Now().UTC())
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce performs one verification cycle. Exported for testability; Run
// passes wall-clock time.
func (w *Worker) RunOnce(ctx context.Context, now time.Time) {
	w.verifySample(ctx)
	w.reportOverdue(ctx, now)
}

func (w *Worker) verifySample(ctx context.Context) {
	entries, err := w.ledger.Sample(ctx, w.sampleSize)
	if err != nil {
		if w.logger != nil {
			w.logger.ErrorContext(ctx, "ledger sample failed", "error", err)
		}
		return
	}
	faults := 0
	for _, e := range entries {
		if err := w.ledger.VerifyEntry(ctx, e); err != nil {
			if dErrors.HasCode(err, dErrors.CodeIntegrityFault) {
				faults++
				continue
			}
			if w.logger != nil {
				w.logger.ErrorContext(ctx, "entry verification failed", "error", err, "entry_id", e.ID.String())
			}
		}
	}
	if faults > 0 && w.logger != nil {
		w.logger.ErrorContext(ctx, "integrity faults found",
			"log_type", "audit",
			"sampled", len(entries),
			"faults", faults,
		)
	}
}

// reportOverdue appends one audit entry per item per priority step it has
// climbed. The stored row is untouched: effective priority is derived from
// enqueue age, so escalation needs no mutation.
func (w *Worker) reportOverdue(ctx context.Context, now time.Time) {
	items, err := w.queue.ListQueue(ctx, escalation.StatusPending)
	if err != nil {
		if w.logger != nil {
			w.logger.ErrorContext(ctx, "queue listing failed", "error", err)
		}
		return
	}
	overdueAfter := w.catalog.Snapshot().Queue.OverdueAfter

	seen := make(map[id.QueueItemID]bool, len(items))
	for _, item := range items {
		seen[item.ID] = true
		effective := item.EffectivePriority(now, overdueAfter)
		if effective == item.Priority {
			continue
		}
		if prev, ok := w.reported[item.ID]; ok && prev.Rank() >= effective.Rank() {
			continue
		}
		w.reported[item.ID] = effective

		if _, err := w.ledger.Append(ctx, ledger.Entry{
			ActorID:      "system",
			ActorRole:    id.RoleSuperadmin,
			Action:       escalation.ActionRevalidationOverdue,
			Scope:        ledger.AccessScope{Level: id.ScopeGlobal},
			ResourceType: "revalidation_queue_item",
			ResourceID:   item.ID.String(),
		}); err != nil {
			if w.logger != nil {
				w.logger.ErrorContext(ctx, "overdue report failed", "error", err, "item_id", item.ID.String())
			}
			delete(w.reported, item.ID)
			continue
		}
		if w.metrics != nil {
			w.metrics.Overdue.Inc()
		}
		if w.logger != nil {
			w.logger.WarnContext(ctx, "revalidation item overdue",
				"item_id", item.ID.String(),
				"user_id", item.UserID.String(),
				"priority", item.Priority.String(),
				"effective_priority", effective.String(),
				"waiting_since", item.EnqueuedAt,
			)
		}
	}
	// Resolved items no longer need dedup state.
	for itemID := range w.reported {
		if !seen[itemID] {
			delete(w.reported, itemID)
		}
	}
}
