package domain

// Severity grades the outcome of an escalation evaluation.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityOrder = map[Severity]int{
	SeverityNone:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// AtLeast reports whether this severity is >= other.
func (s Severity) AtLeast(other Severity) bool {
	return severityOrder[s] >= severityOrder[other]
}

// Max returns the higher of two severities.
func (s Severity) Max(other Severity) Severity {
	if severityOrder[other] > severityOrder[s] {
		return other
	}
	return s
}

func (s Severity) String() string { return string(s) }

// Priority orders revalidation queue items. CRITICAL drains first.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityNormal   Priority = "NORMAL"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

var priorityOrder = map[Priority]int{
	PriorityLow:      0,
	PriorityNormal:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// Rank returns the numeric ordering of the priority, higher is more urgent.
func (p Priority) Rank() int { return priorityOrder[p] }

// Escalate returns the next priority step up, capping at CRITICAL.
func (p Priority) Escalate() Priority {
	switch p {
	case PriorityLow:
		return PriorityNormal
	case PriorityNormal:
		return PriorityHigh
	case PriorityHigh:
		return PriorityCritical
	default:
		return PriorityCritical
	}
}

func (p Priority) String() string { return string(p) }
