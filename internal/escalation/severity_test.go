package escalation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"smartattend/internal/catalog"
	id "smartattend/pkg/domain"
)

func testRules() catalog.EscalationRules {
	return catalog.EscalationRules{
		MaxPermissionDelta: 10,
		MaxNewGrants:       6,
		HighestRole:        id.RoleSuperadmin,
		RateWindow:         24 * time.Hour,
		RateLimit:          2,
		DeniedPairs: map[catalog.RolePair]bool{
			{From: id.RoleStudent, To: id.RoleSuperadmin}: true,
		},
	}
}

// =============================================================================
// Scoring Tests
// =============================================================================

func TestScore(t *testing.T) {
	tests := []struct {
		name    string
		signals Signals
		checks  []string
		sev     id.Severity
	}{
		{
			name:    "benign change triggers nothing",
			signals: Signals{PermissionDelta: 2, NewGrants: 1, TargetRole: id.RoleTeacher},
			sev:     id.SeverityNone,
		},
		{
			name:    "delta above threshold is high",
			signals: Signals{PermissionDelta: 11, TargetRole: id.RoleTeacher},
			checks:  []string{CheckPermissionDelta},
			sev:     id.SeverityHigh,
		},
		{
			name:    "delta at threshold does not fire",
			signals: Signals{PermissionDelta: 10, TargetRole: id.RoleTeacher},
			sev:     id.SeverityNone,
		},
		{
			name:    "grants alone are medium",
			signals: Signals{NewGrants: 7, TargetRole: id.RoleTeacher},
			checks:  []string{CheckNewGrants},
			sev:     id.SeverityMedium,
		},
		{
			name:    "highest role is always critical",
			signals: Signals{TargetRole: id.RoleSuperadmin},
			checks:  []string{CheckHighestRole},
			sev:     id.SeverityCritical,
		},
		{
			name:    "rate limit reached is high",
			signals: Signals{RecentChanges: 2, TargetRole: id.RoleTeacher},
			checks:  []string{CheckRateExceeded},
			sev:     id.SeverityHigh,
		},
		{
			name:    "denied pair is high",
			signals: Signals{PairDenied: true, TargetRole: id.RoleTeacher},
			checks:  []string{CheckPairDenied},
			sev:     id.SeverityHigh,
		},
		{
			name:    "multiple checks take the maximum severity",
			signals: Signals{NewGrants: 7, PairDenied: true, TargetRole: id.RoleSuperadmin},
			checks:  []string{CheckHighestRole, CheckNewGrants, CheckPairDenied},
			sev:     id.SeverityCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checks, sev := Score(tt.signals, testRules())
			assert.Equal(t, tt.checks, checks)
			assert.Equal(t, tt.sev, sev)
		})
	}
}

// Adding a violation to any signal set can only hold or raise the verdict.
func TestScoreMonotonic(t *testing.T) {
	base := Signals{PermissionDelta: 11, TargetRole: id.RoleTeacher}
	_, sevBase := Score(base, testRules())

	worse := base
	worse.PairDenied = true
	worse.NewGrants = 7
	_, sevWorse := Score(worse, testRules())

	assert.True(t, sevWorse.AtLeast(sevBase))
}

// =============================================================================
// Permission Delta Tests
// =============================================================================

func TestPermissionDelta(t *testing.T) {
	tests := []struct {
		name   string
		old    []string
		new    []string
		delta  int
		grants int
	}{
		{name: "identical sets", old: []string{"a", "b"}, new: []string{"a", "b"}},
		{name: "pure grants", old: []string{"a"}, new: []string{"a", "b", "c"}, delta: 2, grants: 2},
		{name: "pure revocations", old: []string{"a", "b", "c"}, new: []string{"a"}, delta: 2},
		{name: "swap counts both sides", old: []string{"a", "b"}, new: []string{"a", "c"}, delta: 2, grants: 1},
		{name: "both empty", old: nil, new: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta, grants := PermissionDelta(tt.old, tt.new)
			assert.Equal(t, tt.delta, delta)
			assert.Equal(t, tt.grants, grants)
		})
	}
}

// =============================================================================
// Queue Priority Tests
// =============================================================================

func TestQueuePriorityFor(t *testing.T) {
	assert.Equal(t, id.PriorityCritical, QueuePriorityFor(id.SeverityCritical))
	assert.Equal(t, id.PriorityHigh, QueuePriorityFor(id.SeverityHigh))
}

// =============================================================================
// Effective Priority Tests
// =============================================================================

func TestEffectivePriority(t *testing.T) {
	overdue := map[id.Priority]time.Duration{
		id.PriorityLow:      72 * time.Hour,
		id.PriorityNormal:   24 * time.Hour,
		id.PriorityHigh:     4 * time.Hour,
		id.PriorityCritical: time.Hour,
	}
	enqueued := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	item := RevalidationQueueItem{Priority: id.PriorityHigh, EnqueuedAt: enqueued, Status: StatusPending}

	tests := []struct {
		name string
		at   time.Time
		want id.Priority
	}{
		{name: "fresh item keeps its priority", at: enqueued.Add(time.Hour), want: id.PriorityHigh},
		{name: "past the high window it is critical", at: enqueued.Add(5 * time.Hour), want: id.PriorityCritical},
		{name: "critical is the ceiling", at: enqueued.Add(100 * time.Hour), want: id.PriorityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, item.EffectivePriority(tt.at, overdue))
		})
	}
}
