// Package escalation evaluates privilege-change requests before they are
// allowed to take effect. The verdict is durably persisted first; if
// persistence fails, the role change must fail too.
package escalation

import (
	"time"

	id "smartattend/pkg/domain"
)

// RoleChangeEvent is the immutable record of one evaluation.
type RoleChangeEvent struct {
	ID                   id.RoleChangeID
	UserID               id.UserID
	FromRole             id.Role
	ToRole               id.Role
	ActorID              id.UserID
	TriggeredChecks      []string
	Severity             id.Severity
	RequiresRevalidation bool
	Timestamp            time.Time
}

// Queue item status. PENDING items gate the user's new permissions.
type QueueStatus string

const (
	StatusPending QueueStatus = "PENDING"
	StatusValid   QueueStatus = "VALID"
	StatusInvalid QueueStatus = "INVALID"
)

// RevalidationQueueItem gates a user's new permissions until an operator
// resolves it. Only the status (and its resolution time) ever mutates.
type RevalidationQueueItem struct {
	ID         id.QueueItemID
	UserID     id.UserID
	Priority   id.Priority
	Reason     string
	EnqueuedAt time.Time
	Status     QueueStatus
	ResolvedAt *time.Time
	ResolvedBy id.UserID
}

// EffectivePriority is the item's priority escalated by how long it has been
// pending past the per-priority overdue age. Computed at read time: the
// stored row never mutates, yet an ignored item keeps climbing.
func (q RevalidationQueueItem) EffectivePriority(now time.Time, overdueAfter map[id.Priority]time.Duration) id.Priority {
	if q.Status != StatusPending {
		return q.Priority
	}
	p := q.Priority
	waited := now.Sub(q.EnqueuedAt)
	for p != id.PriorityCritical {
		age, ok := overdueAfter[p]
		if !ok || waited <= age {
			break
		}
		waited -= age
		p = p.Escalate()
	}
	return p
}
