package attendance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Transitions      *prometheus.CounterVec
	DuplicateReplays prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "smartattend_transitions_total",
			Help: "Total transition attempts, by outcome",
		}, []string{"outcome"}),
		DuplicateReplays: promauto.NewCounter(prometheus.CounterOpts{
			Name: "smartattend_transition_duplicate_replays_total",
			Help: "Total idempotent replays of already-accepted transitions",
		}),
	}
}
