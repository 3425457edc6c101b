// Package ledger is the append-only audit store every component writes
// through. Entries are write-once: immutability is enforced in the storage
// layer itself, not only by the absence of a mutation method here.
package ledger

import (
	"encoding/json"
	"time"

	id "smartattend/pkg/domain"
)

// Action names the audited operation. Components define their own action
// constants; the ledger's own privileged reads are audited too.
type Action string

const (
	// ActionLedgerQueried records a privileged read of the ledger itself.
	ActionLedgerQueried Action = "ledger_queried"
	// ActionIntegrityFault records a checksum mismatch found by Verify or the
	// background verifier.
	ActionIntegrityFault Action = "integrity_fault"
	// ActionCatalogUpdated records a configuration catalog version change.
	ActionCatalogUpdated Action = "catalog_updated"
)

// AccessScope restricts an entry's visibility. Level decides the audience;
// TenantID and SubjectID pin TENANT and USER entries to their owners.
type AccessScope struct {
	Level     id.ScopeLevel
	TenantID  id.TenantID
	SubjectID id.UserID
}

// Entry is one immutable audit record. All fields participating in the
// checksum are fixed at append time; Retained indefinitely, never deleted.
type Entry struct {
	ID           id.EntryID
	ActorID      id.UserID
	ActorRole    id.Role
	Action       Action
	Scope        AccessScope
	ResourceType string
	ResourceID   string
	// Before and After are JSON snapshots of the resource around the action.
	Before json.RawMessage
	After  json.RawMessage
	// Justification is the human-supplied reason, when one was required.
	Justification string
	RequestID     string
	ClientIP      string
	Timestamp     time.Time
	Checksum      string
}

// Query filters a scoped read of the ledger. Zero fields mean "no filter".
type Query struct {
	Action       Action
	ResourceType string
	ResourceID   string
	SubjectID    id.UserID
	Since        time.Time
	Until        time.Time
	Limit        int
}

// IntegrityFlag freezes an entry for review after a checksum mismatch. The
// flag is its own insert-only record; the entry itself is never touched.
type IntegrityFlag struct {
	EntryID          id.EntryID
	StoredChecksum   string
	ComputedChecksum string
	FlaggedAt        time.Time
	FlaggedBy        string
}
