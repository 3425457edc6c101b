package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// ComputeChecksum hashes the entry's immutable fields. The canonical form is
// a pipe-joined field list with timestamps normalized to UTC RFC3339Nano, so
// the same entry always produces the same digest regardless of how it was
// loaded.
func ComputeChecksum(e Entry) string {
	fields := []string{
		e.ID.String(),
		e.ActorID.String(),
		e.ActorRole.String(),
		string(e.Action),
		e.Scope.Level.String(),
		e.Scope.TenantID.String(),
		e.Scope.SubjectID.String(),
		e.ResourceType,
		e.ResourceID,
		string(e.Before),
		string(e.After),
		e.Justification,
		e.RequestID,
		e.ClientIP,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}
