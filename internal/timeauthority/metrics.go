package timeauthority

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Classifications *prometheus.CounterVec
	ForensicFlags   prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		Classifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "smartattend_drift_classifications_total",
			Help: "Total drift classifications, by category",
		}, []string{"category"}),
		ForensicFlags: promauto.NewCounter(prometheus.CounterOpts{
			Name: "smartattend_drift_forensic_flags_total",
			Help: "Total drift samples carrying forensic flags",
		}),
	}
}
