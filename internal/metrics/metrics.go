// Package metrics provides Prometheus metrics for the relay server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stream and generation outcomes.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusCanceled = "canceled"
)

// Metrics holds the relay collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	StreamsTotal          *prometheus.CounterVec
	StreamDuration        prometheus.Histogram
	ChunksTotal           prometheus.Counter
	ImageGenerationsTotal *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{gatherer: reg}

	m.StreamsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_relay_streams_total",
			Help: "Total number of relayed chat streams by outcome",
		},
		[]string{"status"},
	)

	m.StreamDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "studio_relay_stream_duration_seconds",
			Help:    "Duration of relayed chat streams in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	m.ChunksTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "studio_relay_chunks_total",
			Help: "Total number of upstream chunks framed as events",
		},
	)

	m.ImageGenerationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_image_generations_total",
			Help: "Total number of image generations by outcome",
		},
		[]string{"status"},
	)

	return m
}

// ObserveStream records a finished relay stream.
func (m *Metrics) ObserveStream(status string, chunks int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.StreamsTotal.WithLabelValues(status).Inc()
	m.ChunksTotal.Add(float64(chunks))
	m.StreamDuration.Observe(elapsed.Seconds())
}

// ObserveImage records a finished image generation.
func (m *Metrics) ObserveImage(status string) {
	if m == nil {
		return
	}
	m.ImageGenerationsTotal.WithLabelValues(status).Inc()
}

// Handler serves the registered collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
