package catalog

import (
	"time"

	id "smartattend/pkg/domain"
)

// DefaultSnapshot is the version-1 catalog an empty deployment boots with.
// Institutions tune it through the audited update path.
func DefaultSnapshot() *Snapshot {
	return &Snapshot{
		Version: 1,
		ReasonCodes: map[string]ReasonCode{
			"SCAN_ACCEPTED": {
				Code:         "SCAN_ACCEPTED",
				Category:     "capture",
				Severity:     id.SeverityNone,
				ValidTargets: targets(id.StateVerified),
			},
			"DUPLICATE_SAME_HOUR": {
				Code:                  "DUPLICATE_SAME_HOUR",
				Category:              "anomaly",
				Severity:              id.SeverityMedium,
				RequiresJustification: true,
				ValidTargets:          targets(id.StateFlagged),
			},
			"FRAUD_SUSPECTED": {
				Code:                  "FRAUD_SUSPECTED",
				Category:              "anomaly",
				Severity:              id.SeverityHigh,
				RequiresJustification: true,
				ValidTargets:          targets(id.StateFlagged, id.StateRevoked),
			},
			"MANUAL_OVERRIDE": {
				Code:                  "MANUAL_OVERRIDE",
				Category:              "correction",
				Severity:              id.SeverityLow,
				RequiresJustification: true,
				ValidTargets:          targets(id.StateVerified, id.StateExcused),
			},
			"REVIEW_CLEARED": {
				Code:         "REVIEW_CLEARED",
				Category:     "correction",
				Severity:     id.SeverityLow,
				ValidTargets: targets(id.StateVerified),
			},
			"APPEAL_APPROVED": {
				Code:                  "APPEAL_APPROVED",
				Category:              "correction",
				Severity:              id.SeverityMedium,
				RequiresJustification: true,
				ValidTargets:          targets(id.StateVerified),
			},
			"MEDICAL_EXCUSE": {
				Code:                  "MEDICAL_EXCUSE",
				Category:              "excuse",
				Severity:              id.SeverityNone,
				RequiresJustification: true,
				ValidTargets:          targets(id.StateExcused),
			},
		},
		Matrix: TransitionMatrix{
			id.StatePending:  targets(id.StateVerified, id.StateFlagged, id.StateExcused),
			id.StateVerified: targets(id.StateFlagged, id.StateRevoked, id.StateExcused),
			id.StateFlagged:  targets(id.StateVerified, id.StateRevoked),
			// REVOKED->VERIFIED reachable via appeal; a deployment wanting a
			// separate approval step removes this entry.
			id.StateRevoked: targets(id.StateVerified),
			id.StateExcused: targets(id.StateVerified),
		},
		Drift: DriftConfig{
			Bands: map[id.DeviceClass]DriftBands{
				id.DeviceMobileAndroid: {Acceptable: 7 * time.Second, Warning: 300 * time.Second, Blocked: 600 * time.Second, Critical: 3600 * time.Second},
				id.DeviceMobileIOS:     {Acceptable: 7 * time.Second, Warning: 300 * time.Second, Blocked: 600 * time.Second, Critical: 3600 * time.Second},
				id.DeviceKiosk:         {Acceptable: 2 * time.Second, Warning: 30 * time.Second, Blocked: 120 * time.Second, Critical: 600 * time.Second},
				id.DeviceWeb:           {Acceptable: 15 * time.Second, Warning: 300 * time.Second, Blocked: 900 * time.Second, Critical: 3600 * time.Second},
			},
			OscillationWindow:    10 * time.Minute,
			OscillationMagnitude: 60 * time.Second,
		},
		Escalation: EscalationRules{
			MaxPermissionDelta: 10,
			MaxNewGrants:       6,
			HighestRole:        id.RoleSuperadmin,
			RateWindow:         24 * time.Hour,
			RateLimit:          2,
			DeniedPairs: map[RolePair]bool{
				{From: id.RoleStudent, To: id.RoleAdmin}:      true,
				{From: id.RoleStudent, To: id.RoleSuperadmin}: true,
				{From: id.RoleTeacher, To: id.RoleSuperadmin}: true,
			},
		},
		Queue: QueueConfig{
			OverdueAfter: map[id.Priority]time.Duration{
				id.PriorityLow:      72 * time.Hour,
				id.PriorityNormal:   24 * time.Hour,
				id.PriorityHigh:     4 * time.Hour,
				id.PriorityCritical: time.Hour,
			},
		},
		UpdatedAt: time.Time{},
	}
}

func targets(states ...id.AttendanceState) map[id.AttendanceState]bool {
	m := make(map[id.AttendanceState]bool, len(states))
	for _, s := range states {
		m[s] = true
	}
	return m
}
