package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the stream wall.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal prometheus.Counter
	errorsTotal   prometheus.Counter

	streams       prometheus.Gauge
	healthy       prometheus.Gauge
	phases        *prometheus.GaugeVec
	recoveries    *prometheus.CounterVec
	reloads       *prometheus.CounterVec
	outageSeconds prometheus.Gauge

	segmentsFetched prometheus.Counter
	segmentBytes    prometheus.Counter
	fetchErrors     *prometheus.CounterVec

	originServed *prometheus.CounterVec
}

// New creates and registers the wall's metrics on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamwall_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamwall_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamwall_streams",
			Help: "Number of streams on the wall",
		}),
		healthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamwall_streams_playing",
			Help: "Number of streams currently playing",
		}),
		phases: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "streamwall_stream_phase",
			Help: "Number of streams per supervisor phase",
		}, []string{"phase"}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamwall_recoveries_total",
			Help: "Recovery steps taken by stream supervisors",
		}, []string{"action"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamwall_reloads_total",
			Help: "Full wall rebuilds by trigger",
		}, []string{"reason"}),
		outageSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamwall_outage_seconds",
			Help: "Seconds since the last healthy stream, 0 when not in an outage",
		}),
		segmentsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamwall_segments_fetched_total",
			Help: "Media segments downloaded by the adaptive engine",
		}),
		segmentBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamwall_segment_bytes_total",
			Help: "Bytes of media segments downloaded",
		}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamwall_fetch_errors_total",
			Help: "Failed engine fetch attempts by kind",
		}, []string{"kind"}),
		originServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamwall_origin_served_total",
			Help: "Responses served by the simulated origin by kind",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.streams,
		m.healthy,
		m.phases,
		m.recoveries,
		m.reloads,
		m.outageSeconds,
		m.segmentsFetched,
		m.segmentBytes,
		m.fetchErrors,
		m.originServed,
	)
	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// SetStreams records the wall size and how many streams are playing.
func (m *Metrics) SetStreams(total, playing int) {
	m.streams.Set(float64(total))
	m.healthy.Set(float64(playing))
}

// SetPhases replaces the per-phase stream counts.
func (m *Metrics) SetPhases(counts map[string]int) {
	m.phases.Reset()
	for phase, n := range counts {
		m.phases.WithLabelValues(phase).Set(float64(n))
	}
}

// IncRecovery counts a supervisor recovery step.
func (m *Metrics) IncRecovery(action string) {
	m.recoveries.WithLabelValues(action).Inc()
}

// IncReload counts a wall rebuild.
func (m *Metrics) IncReload(reason string) {
	m.reloads.WithLabelValues(reason).Inc()
}

// SetOutage records how long the wall has been without a healthy stream.
func (m *Metrics) SetOutage(d time.Duration) {
	m.outageSeconds.Set(d.Seconds())
}

// AddSegment counts a downloaded segment of n bytes.
func (m *Metrics) AddSegment(n int) {
	m.segmentsFetched.Inc()
	m.segmentBytes.Add(float64(n))
}

// IncFetchError counts a failed fetch attempt. kind is "playlist" or "segment".
func (m *Metrics) IncFetchError(kind string) {
	m.fetchErrors.WithLabelValues(kind).Inc()
}

// IncOriginServed counts a simulated origin response. kind is "master",
// "playlist" or "segment".
func (m *Metrics) IncOriginServed(kind string) {
	m.originServed.WithLabelValues(kind).Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}
