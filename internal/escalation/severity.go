package escalation

import (
	"sort"

	"smartattend/internal/catalog"
	id "smartattend/pkg/domain"
)

// Check names as they appear in RoleChangeEvent.TriggeredChecks and in the
// audit trail.
const (
	CheckPermissionDelta = "permission_delta_exceeded"
	CheckNewGrants       = "new_grants_exceeded"
	CheckHighestRole     = "highest_privilege_role"
	CheckRateExceeded    = "change_rate_exceeded"
	CheckPairDenied      = "role_pair_denied"
)

// Signals are the raw measurements a single evaluation produced. They are
// computed by the service and scored here, so the scoring stays a pure
// function that tests can drive directly.
type Signals struct {
	PermissionDelta int
	NewGrants       int
	TargetRole      id.Role
	RecentChanges   int
	PairDenied      bool
}

// Score maps signals to the set of triggered checks and the overall
// severity. Severity is the maximum over individual checks, so adding a
// violation can never lower the verdict.
func Score(s Signals, rules catalog.EscalationRules) (checks []string, sev id.Severity) {
	sev = id.SeverityNone
	hit := func(name string, level id.Severity) {
		checks = append(checks, name)
		sev = sev.Max(level)
	}

	if s.PermissionDelta > rules.MaxPermissionDelta {
		hit(CheckPermissionDelta, id.SeverityHigh)
	}
	if s.NewGrants > rules.MaxNewGrants {
		hit(CheckNewGrants, id.SeverityMedium)
	}
	if s.TargetRole == rules.HighestRole {
		hit(CheckHighestRole, id.SeverityCritical)
	}
	if s.RecentChanges >= rules.RateLimit {
		hit(CheckRateExceeded, id.SeverityHigh)
	}
	if s.PairDenied {
		hit(CheckPairDenied, id.SeverityHigh)
	}
	sort.Strings(checks)
	return checks, sev
}

// PermissionDelta is the size of the symmetric difference between the old
// and new permission sets.
func PermissionDelta(old, new []string) (delta, newGrants int) {
	oldSet := make(map[string]struct{}, len(old))
	for _, p := range old {
		oldSet[p] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(new))
	for _, p := range new {
		newSet[p] = struct{}{}
		if _, ok := oldSet[p]; !ok {
			delta++
			newGrants++
		}
	}
	for _, p := range old {
		if _, ok := newSet[p]; !ok {
			delta++
		}
	}
	return delta, newGrants
}

// QueuePriorityFor maps a verdict severity to the queue priority of the
// revalidation item it produces.
func QueuePriorityFor(sev id.Severity) id.Priority {
	if sev == id.SeverityCritical {
		return id.PriorityCritical
	}
	return id.PriorityHigh
}
