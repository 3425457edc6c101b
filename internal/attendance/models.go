// Package attendance enforces the attendance state machine. Every attempt,
// accepted or rejected, leaves exactly one immutable TransitionAttempt row:
// rejections are permanent, visible history, not swallowed errors.
package attendance

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	id "smartattend/pkg/domain"
)

// AttendanceRecord is the mutable head of one subject+session attendance
// history. CurrentState always equals the to-state of the most recent
// accepted attempt; the record is never deleted.
type AttendanceRecord struct {
	ID            id.RecordID
	SubjectID     id.SubjectID
	SessionRef    id.SessionRef
	TenantID      id.TenantID
	CurrentState  id.AttendanceState
	LastAttemptID id.AttemptID
	// Version guards the single-writer invariant: state updates carry the
	// version they read, and a stale version is a conflict, never a merge.
	Version   int
	CreatedAt time.Time
}

// Outcome of one transition attempt.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
	// OutcomeDuplicate records an idempotent replay. Only accepted attempts
	// move state; a duplicate row is evidence the replay happened.
	OutcomeDuplicate Outcome = "duplicate"
)

// TransitionAttempt is the immutable record of one attempt against one
// attendance record.
type TransitionAttempt struct {
	ID         id.AttemptID
	RecordID   id.RecordID
	FromState  id.AttendanceState
	ToState    id.AttendanceState
	ReasonCode string
	// Justification is the human-supplied text when the reason requires one.
	Justification   string
	Outcome         Outcome
	RejectionReason string
	// Duplicate marks an idempotent replay: the row exists so repeated
	// submissions stay forensically visible, but it carried no state effect.
	Duplicate      bool
	IdempotencyKey string
	ActorID        id.UserID
	ActorRole      id.Role
	ClientIP       string
	RequestID      string
	Timestamp      time.Time
	Checksum       string
}

// ComputeAttemptChecksum hashes the attempt's immutable fields, canonical
// pipe-joined form, timestamp in UTC RFC3339Nano.
func ComputeAttemptChecksum(a TransitionAttempt) string {
	duplicate := "0"
	if a.Duplicate {
		duplicate = "1"
	}
	fields := []string{
		a.ID.String(),
		a.RecordID.String(),
		a.FromState.String(),
		a.ToState.String(),
		a.ReasonCode,
		a.Justification,
		string(a.Outcome),
		a.RejectionReason,
		duplicate,
		a.IdempotencyKey,
		a.ActorID.String(),
		a.ActorRole.String(),
		a.ClientIP,
		a.RequestID,
		a.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}
