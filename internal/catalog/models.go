// Package catalog holds the versioned, audited configuration every other
// component reads: reason codes, the transition matrix, drift bands, and
// role-assignment rules. One immutable snapshot per version; changes go
// through the same audit-first write path as domain data, never through
// ad hoc mutable globals.
package catalog

import (
	"fmt"
	"time"

	id "smartattend/pkg/domain"
)

// ReasonCode classifies why a state transition was requested. Part of the
// catalog; edits to reason codes are themselves audited.
type ReasonCode struct {
	Code                  string
	Category              string
	Severity              id.Severity
	RequiresJustification bool
	// ValidTargets is the set of states this reason may move a record into.
	ValidTargets map[id.AttendanceState]bool
}

// TransitionMatrix maps each state to the set of states reachable from it.
// Reachability is configuration: whether REVOKED can return to VERIFIED is a
// matrix entry, not a hard-coded rule.
type TransitionMatrix map[id.AttendanceState]map[id.AttendanceState]bool

// Reachable reports whether to is reachable from from.
func (m TransitionMatrix) Reachable(from, to id.AttendanceState) bool {
	return m[from][to]
}

// TargetsFrom returns the reachable target states from a given state, for
// policy-violation responses that must name the still-valid targets.
func (m TransitionMatrix) TargetsFrom(from id.AttendanceState) []id.AttendanceState {
	var targets []id.AttendanceState
	for _, s := range []id.AttendanceState{id.StatePending, id.StateVerified, id.StateFlagged, id.StateRevoked, id.StateExcused} {
		if m[from][s] {
			targets = append(targets, s)
		}
	}
	return targets
}

// DriftBands are the per-device-class thresholds, in absolute drift. Each
// value is where its band begins: WARNING at Warning, BLOCKED at Blocked,
// CRITICAL at Critical; below Warning the drift is ACCEPTABLE. Acceptable is
// the nominal drift of a healthy clock and anchors the monotonicity check.
// Bands must be monotonically increasing.
type DriftBands struct {
	Acceptable time.Duration
	Warning    time.Duration
	Blocked    time.Duration
	Critical   time.Duration
}

// Classify returns the band an absolute drift falls into.
func (b DriftBands) Classify(abs time.Duration) id.DriftCategory {
	switch {
	case abs >= b.Critical:
		return id.DriftCritical
	case abs >= b.Blocked:
		return id.DriftBlocked
	case abs >= b.Warning:
		return id.DriftWarning
	default:
		return id.DriftAcceptable
	}
}

// Validate rejects bands that are not strictly increasing.
func (b DriftBands) Validate() error {
	if b.Acceptable < 0 || b.Acceptable >= b.Warning || b.Warning >= b.Blocked || b.Blocked >= b.Critical {
		return fmt.Errorf("drift bands must be monotonically increasing")
	}
	return nil
}

// RolePair is a (from, to) role change for the allow/deny rule table.
type RolePair struct {
	From id.Role
	To   id.Role
}

// EscalationRules configure the five escalation checks and the oscillation
// heuristic's sibling settings live in DriftConfig below.
type EscalationRules struct {
	// MaxPermissionDelta is the permission-set size change above which the
	// delta check fires.
	MaxPermissionDelta int
	// MaxNewGrants is the count of newly granted permissions above which the
	// grant check fires, independent of revocations.
	MaxNewGrants int
	// HighestRole is the role whose direct assignment always fires the
	// highest-privilege check.
	HighestRole id.Role
	// RateWindow and RateLimit bound role changes per user: more than
	// RateLimit changes inside RateWindow fires the rate check.
	RateWindow time.Duration
	RateLimit  int
	// DeniedPairs lists (from, to) role jumps the rule table forbids.
	DeniedPairs map[RolePair]bool
}

// DriftConfig couples per-class bands with the oscillation heuristic.
type DriftConfig struct {
	Bands map[id.DeviceClass]DriftBands
	// OscillationWindow and OscillationMagnitude drive the forensic
	// heuristic: a device producing opposite-sign drifts each at least the
	// magnitude within the window is flagged.
	OscillationWindow    time.Duration
	OscillationMagnitude time.Duration
}

// BandsFor returns the bands for a device class, falling back to the
// strictest configured class for unknown devices (fail closed).
func (c DriftConfig) BandsFor(class id.DeviceClass) DriftBands {
	if b, ok := c.Bands[class]; ok {
		return b
	}
	strictest := DriftBands{}
	first := true
	for _, b := range c.Bands {
		if first || b.Blocked < strictest.Blocked {
			strictest = b
			first = false
		}
	}
	return strictest
}

// QueueConfig sets how long a pending revalidation item may wait at each
// priority before the background task bumps it up one step.
type QueueConfig struct {
	OverdueAfter map[id.Priority]time.Duration
}

// Snapshot is one immutable version of the whole catalog. Components read a
// snapshot once per operation so a concurrent catalog update cannot produce a
// half-old half-new decision.
type Snapshot struct {
	Version     int
	ReasonCodes map[string]ReasonCode
	Matrix      TransitionMatrix
	Drift       DriftConfig
	Escalation  EscalationRules
	Queue       QueueConfig
	UpdatedAt   time.Time
	UpdatedBy   id.UserID
}

// Reason returns the reason code entry, if configured.
func (s *Snapshot) Reason(code string) (ReasonCode, bool) {
	rc, ok := s.ReasonCodes[code]
	return rc, ok
}
