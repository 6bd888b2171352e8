package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		runsSubmitted,
		runsFinalized,
		counterFlushErrors,
	)
}

var (
	runsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runs_submitted_total",
			Help: "Batch runs submitted per target kind.",
		},
		[]string{"target"}, // 'chat', 'list', 'unanalyzed'
	)

	runsFinalized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runs_finalized_total",
			Help: "Run finalizations per result.",
		},
		[]string{"result"}, // 'clean', 'partial_failure'
	)

	counterFlushErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "counter_flush_errors_total",
			Help: "Failed progress-counter flushes (logged and skipped).",
		},
	)
)

func IncRunSubmitted(target string) {
	runsSubmitted.WithLabelValues(norm(target)).Inc()
}

func IncRunFinalized(result string) {
	runsFinalized.WithLabelValues(norm(result)).Inc()
}

func IncCounterFlushError() { counterFlushErrors.Inc() }
