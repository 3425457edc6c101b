package escalation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes detector activity. QueueDepth is the live count of
// unresolved revalidation items.
type Metrics struct {
	Evaluations *prometheus.CounterVec
	Resolutions *prometheus.CounterVec
	QueueDepth  prometheus.Gauge
	Overdue     prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		Evaluations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "smartattend_escalation_evaluations_total",
			Help: "Total role change evaluations, by severity",
		}, []string{"severity"}),
		Resolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "smartattend_revalidation_resolutions_total",
			Help: "Total revalidation queue resolutions, by status",
		}, []string{"status"}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "smartattend_revalidation_queue_depth",
			Help: "Unresolved revalidation queue items",
		}),
		Overdue: promauto.NewCounter(prometheus.CounterOpts{
			Name: "smartattend_revalidation_overdue_total",
			Help: "Overdue revalidation items reported by the background verifier",
		}),
	}
}
