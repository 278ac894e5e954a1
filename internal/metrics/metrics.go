package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Brain metrics. Registered on the default registry and exposed by `brain serve`.
var (
	// Question metrics
	QuestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brain_questions_total",
			Help: "Total number of questions answered, by confidence band and escalation",
		},
		[]string{"band", "escalation"},
	)

	QuestionRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brain_question_rejections_total",
			Help: "Total number of questions rejected as malformed input",
		},
		[]string{"reason"}, // unrecognized_intent, missing_assets, malformed_question
	)

	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "brain_pipeline_duration_seconds",
			Help:    "End-to-end pipeline duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
	)

	// Intent metrics
	IntentRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brain_intent_runs_total",
			Help: "Total number of intent runs by terminal state",
		},
		[]string{"intent", "state"},
	)

	// Adapter metrics
	AdapterCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brain_adapter_calls_total",
			Help: "Total number of adapter port calls",
		},
		[]string{"port", "operation", "status"},
	)

	AdapterRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brain_adapter_retries_total",
			Help: "Total number of adapter call retries",
		},
		[]string{"port"},
	)

	AdapterCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brain_adapter_call_duration_seconds",
			Help:    "Adapter call duration in seconds, retries included",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"port", "operation"},
	)

	// Evidence metrics
	GapsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brain_gaps_total",
			Help: "Total number of gaps recorded in finalized evidence",
		},
		[]string{"category", "severity"},
	)
)
