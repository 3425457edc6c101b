// Package timeauthority classifies the discrepancy between a caller-supplied
// timestamp and the trusted server clock. Every classification is persisted
// as a DriftSample and written through the audit ledger.
package timeauthority

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	id "smartattend/pkg/domain"
)

// Classification is the outcome of one drift evaluation: the band the drift
// fell into and the single action that band maps to.
type Classification struct {
	Drift    time.Duration
	Category id.DriftCategory
	Action   id.DriftAction
}

// DriftSample is the immutable forensic record of one classification.
type DriftSample struct {
	ID          id.SampleID
	SubjectID   id.SubjectID
	DeviceID    id.DeviceID
	DeviceClass id.DeviceClass
	ClientTime  time.Time
	ServerTime  time.Time
	Drift       time.Duration
	Category    id.DriftCategory
	Action      id.DriftAction
	// ForensicFlags mark implausible patterns (e.g. oscillating drift) found
	// by the secondary heuristic. They never change the band-based action.
	ForensicFlags []string
	RequestID     string
	Checksum      string
}

// ForensicFlagOscillation marks a device flipping between large
// opposite-sign drifts inside the configured window.
const ForensicFlagOscillation = "oscillating_drift"

// ComputeSampleChecksum hashes the sample's immutable fields, canonical
// pipe-joined form, timestamps in UTC RFC3339Nano.
func ComputeSampleChecksum(s DriftSample) string {
	fields := []string{
		s.ID.String(),
		s.SubjectID.String(),
		s.DeviceID.String(),
		s.DeviceClass.String(),
		s.ClientTime.UTC().Format(time.RFC3339Nano),
		s.ServerTime.UTC().Format(time.RFC3339Nano),
		strconv.FormatInt(int64(s.Drift), 10),
		s.Category.String(),
		s.Action.String(),
		strings.Join(s.ForensicFlags, ","),
		s.RequestID,
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}
