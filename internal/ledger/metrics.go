package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes ledger health to operators. A rising mismatch counter is an
// incident, not a statistic.
type Metrics struct {
	AppendsTotal      *prometheus.CounterVec
	VerifyMismatches  prometheus.Counter
	ScopeDenialsTotal prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		AppendsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "smartattend_ledger_appends_total",
			Help: "Total audit entries appended, by action",
		}, []string{"action"}),
		VerifyMismatches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "smartattend_ledger_verify_mismatches_total",
			Help: "Total checksum mismatches found on verification",
		}),
		ScopeDenialsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "smartattend_ledger_scope_denials_total",
			Help: "Total ledger queries narrowed or denied by caller scope",
		}),
	}
}
