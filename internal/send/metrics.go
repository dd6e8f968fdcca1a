package send

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	resultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sendflow_results_total",
		Help: "Terminal session results by outcome and error kind.",
	}, []string{"outcome", "kind"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sendflow_stage_duration_seconds",
		Help:    "Duration of pipeline stages.",
		Buckets: []float64{0.05, 0.1, 0.3, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"stage"})

	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sendflow_policy_decisions_total",
		Help: "Policy decisions taken after simulation.",
	}, []string{"decision"})

	boostsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sendflow_boosts_total",
		Help: "Boost notifications by result.",
	}, []string{"result"})
)

func observeResult(r Result) {
	resultsTotal.WithLabelValues(string(r.Outcome), string(r.Kind)).Inc()
}
