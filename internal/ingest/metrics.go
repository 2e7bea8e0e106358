// Package ingest – metrics
//
// Prometheus collectors for the firehose consumer. Labels are limited to the
// decode outcome so cardinality stays fixed.
package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// eventsTotal counts firehose events by decode outcome
	// (accepted, ignored, malformed).
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jetstream_events_total",
			Help: "Firehose events received, by decode outcome.",
		},
		[]string{"outcome"},
	)

	// reconnectsTotal counts transport failures that led to a reconnect.
	reconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jetstream_reconnects_total",
			Help: "Reconnect attempts after transport failures.",
		},
	)

	// applyLatency records the duration of a projection apply (transaction
	// included) in seconds.
	applyLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jetstream_apply_duration_seconds",
			Help:    "Duration of projection applies in seconds.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// cursorGauge is the last durably saved cursor (Jetstream time_us).
	cursorGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jetstream_cursor_time_us",
			Help: "Last committed Jetstream cursor (microseconds since epoch).",
		},
	)

	// stateGauge exposes the consumer State as its numeric value.
	stateGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jetstream_consumer_state",
			Help: "Consumer state: 0 disconnected, 1 connecting, 2 streaming, 3 reconnecting.",
		},
	)
)

func init() {
	prometheus.MustRegister(eventsTotal, reconnectsTotal, applyLatency, cursorGauge, stateGauge)
}
