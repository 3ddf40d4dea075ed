// Package metrics holds the Prometheus collectors for the scheduler.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	PrefillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "offlinebatch",
			Subsystem: "scheduler",
			Name:      "prefills_total",
			Help:      "Prefill dispatches by mode (single or batched)",
		},
		[]string{"mode"},
	)

	PrefilledRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "offlinebatch",
			Subsystem: "scheduler",
			Name:      "prefilled_requests_total",
			Help:      "Requests prefilled, by mode",
		},
		[]string{"mode"},
	)

	DecodeDispatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "offlinebatch",
			Subsystem: "scheduler",
			Name:      "decode_dispatches_total",
			Help:      "Decode dispatches; each runs a fixed number of generate steps",
		},
	)

	DecodeStepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "offlinebatch",
			Subsystem: "scheduler",
			Name:      "decode_steps_total",
			Help:      "Generate steps executed",
		},
	)

	TokensEmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "offlinebatch",
			Subsystem: "scheduler",
			Name:      "tokens_emitted_total",
			Help:      "Tokens handed to emit callbacks",
		},
	)

	SlotsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "offlinebatch",
			Subsystem: "scheduler",
			Name:      "slots_in_flight",
			Help:      "Decode slots acquired and not yet released",
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "offlinebatch",
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Entries waiting in the result queue",
		},
	)

	VariantsCompiledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "offlinebatch",
			Subsystem: "scheduler",
			Name:      "variants_compiled_total",
			Help:      "Executables compiled during warm-up, by kind",
		},
		[]string{"kind"},
	)

	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "offlinebatch",
			Subsystem: "scheduler",
			Name:      "run_duration_seconds",
			Help:      "Duration of batch runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"desc"},
	)
)

func init() {
	prometheus.MustRegister(
		PrefillsTotal,
		PrefilledRequestsTotal,
		DecodeDispatchesTotal,
		DecodeStepsTotal,
		TokensEmittedTotal,
		SlotsInFlight,
		QueueDepth,
		VariantsCompiledTotal,
		RunDuration,
	)
}
