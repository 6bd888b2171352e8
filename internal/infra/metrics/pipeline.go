package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		stageLatencyMs,
		stageOutcomes,
		aiTokensIn,
		aiTokensOut,
		aiCostMicro,
	)
}

var (
	stageLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_latency_ms",
			Help:    "Stage execution latency distribution in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000, 10000, 30000},
		},
		[]string{"stage", "success"},
	)

	stageOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_outcomes_total",
			Help: "Stage completions per stage and outcome.",
		},
		[]string{"stage", "outcome"}, // outcome: 'ok', 'retry', 'dead_letter'
	)

	aiTokensIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_in",
			Help: "Sum of prompt (input) tokens per model.",
		},
		[]string{"model"},
	)

	aiTokensOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_out",
			Help: "Sum of completion (output) tokens per model.",
		},
		[]string{"model"},
	)

	aiCostMicro = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_cost_micro",
			Help: "Total micro-credits spent per model.",
		},
		[]string{"model"},
	)
)

func ObserveStage(stage string, latencyMs int, success bool) {
	stageLatencyMs.WithLabelValues(norm(stage), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}

func IncStageOutcome(stage, outcome string) {
	stageOutcomes.WithLabelValues(norm(stage), norm(outcome)).Inc()
}

func ObserveAnalysisUsage(model string, tokensIn, tokensOut int, costMicro int64) {
	aiTokensIn.WithLabelValues(norm(model)).Add(float64(tokensIn))
	aiTokensOut.WithLabelValues(norm(model)).Add(float64(tokensOut))
	aiCostMicro.WithLabelValues(norm(model)).Add(float64(costMicro))
}
