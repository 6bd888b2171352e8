package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		queueDepth,
		taskRetries,
		deadLetters,
		deadLetterReplays,
	)
}

var (
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Number of ready tasks per queue.",
		},
		[]string{"queue"},
	)

	taskRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_retries_total",
			Help: "Backoff retries per queue and delay tier.",
		},
		[]string{"queue", "tier"}, // tier: 'short', 'medium', 'long'
	)

	deadLetters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dead_letters_total",
			Help: "Tasks written to the dead-letter store per queue and reason.",
		},
		[]string{"queue", "reason"}, // reason: 'exhausted', 'non_retryable'
	)

	deadLetterReplays = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dead_letter_replays_total",
			Help: "Dead-letter replay attempts per trigger and result.",
		},
		[]string{"trigger", "result"}, // trigger: 'sweep', 'manual'
	)
)

func SetQueueDepth(queue string, n int64) {
	queueDepth.WithLabelValues(norm(queue)).Set(float64(n))
}

func IncTaskRetry(queue, tier string) {
	taskRetries.WithLabelValues(norm(queue), norm(tier)).Inc()
}

func IncDeadLetter(queue, reason string) {
	deadLetters.WithLabelValues(norm(queue), norm(reason)).Inc()
}

func IncDeadLetterReplay(trigger, result string) {
	deadLetterReplays.WithLabelValues(norm(trigger), norm(result)).Inc()
}
