// Package domain defines the typed identifiers and enums shared across the
// attendance integrity core. IDs are domain primitives: a nil check on a typed
// ID beats a forgotten empty-string comparison on a bare string.
package domain

import "github.com/google/uuid"

// UUID-backed identifiers for entities this core owns.
type (
	// RecordID identifies an attendance record.
	RecordID uuid.UUID
	// AttemptID identifies one transition attempt row.
	AttemptID uuid.UUID
	// EntryID identifies an audit ledger entry.
	EntryID uuid.UUID
	// SampleID identifies a persisted drift sample.
	SampleID uuid.UUID
	// QueueItemID identifies a revalidation queue item.
	QueueItemID uuid.UUID
	// RoleChangeID identifies a role change event.
	RoleChangeID uuid.UUID
)

// String-backed identifiers for entities owned by external collaborators.
// This core references them but never resolves or mutates them.
type (
	// UserID identifies a user in the external identity service.
	UserID string
	// SubjectID identifies the person an attendance record is about.
	SubjectID string
	// SessionRef identifies a class/room session in the entity directory.
	SessionRef string
	// TenantID identifies an institution tenant.
	TenantID string
	// DeviceID identifies the client device that reported a timestamp.
	DeviceID string
)

func NewRecordID() RecordID         { return RecordID(uuid.New()) }
func NewAttemptID() AttemptID       { return AttemptID(uuid.New()) }
func NewEntryID() EntryID           { return EntryID(uuid.New()) }
func NewSampleID() SampleID         { return SampleID(uuid.New()) }
func NewQueueItemID() QueueItemID   { return QueueItemID(uuid.New()) }
func NewRoleChangeID() RoleChangeID { return RoleChangeID(uuid.New()) }

func (id RecordID) String() string     { return uuid.UUID(id).String() }
func (id AttemptID) String() string    { return uuid.UUID(id).String() }
func (id EntryID) String() string      { return uuid.UUID(id).String() }
func (id SampleID) String() string     { return uuid.UUID(id).String() }
func (id QueueItemID) String() string  { return uuid.UUID(id).String() }
func (id RoleChangeID) String() string { return uuid.UUID(id).String() }

func (id RecordID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id AttemptID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id EntryID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id SampleID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id QueueItemID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id RoleChangeID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// ParseRecordID validates and converts a string into a RecordID.
func ParseRecordID(s string) (RecordID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return RecordID{}, err
	}
	return RecordID(u), nil
}

// ParseEntryID validates and converts a string into an EntryID.
func ParseEntryID(s string) (EntryID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return EntryID{}, err
	}
	return EntryID(u), nil
}

// ParseQueueItemID validates and converts a string into a QueueItemID.
func ParseQueueItemID(s string) (QueueItemID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return QueueItemID{}, err
	}
	return QueueItemID(u), nil
}

func (id UserID) IsNil() bool     { return id == "" }
func (id SubjectID) IsNil() bool  { return id == "" }
func (id SessionRef) IsNil() bool { return id == "" }
func (id TenantID) IsNil() bool   { return id == "" }
func (id DeviceID) IsNil() bool   { return id == "" }

func (id UserID) String() string     { return string(id) }
func (id SubjectID) String() string  { return string(id) }
func (id SessionRef) String() string { return string(id) }
func (id TenantID) String() string   { return string(id) }
func (id DeviceID) String() string   { return string(id) }
