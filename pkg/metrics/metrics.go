// Package metrics exposes Prometheus collectors for stream runs.
//
// Collectors are registered on an injected Registerer so tests and embedding
// hosts keep their own registries. A nil *Metrics records nothing, which lets
// components accept metrics as optional.
//
//	reg := prometheus.NewRegistry()
//	m := metrics.New(reg)
//	m.RecordsEmitted("users", 100)
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "resttap"

// Metrics holds the collectors for one registry.
type Metrics struct {
	recordsEmitted  *prometheus.CounterVec
	pagesFetched    *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpRetries     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tokenRefreshes  *prometheus.CounterVec
	streamRuns      *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		recordsEmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_emitted_total",
				Help:      "Records emitted to the host",
			},
			[]string{"stream"},
		),
		pagesFetched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pages_fetched_total",
				Help:      "Response pages processed",
			},
			[]string{"stream"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests sent, by status class",
			},
			[]string{"stream", "code"},
		),
		httpRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_retries_total",
				Help:      "Requests retried after a backoff",
			},
			[]string{"stream"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stream"},
		),
		tokenRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "OAuth token exchanges",
			},
			[]string{"outcome"},
		),
		streamRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_runs_total",
				Help:      "Completed stream runs by outcome",
			},
			[]string{"stream", "outcome"},
		),
	}
}

// RecordsEmitted counts n records handed to the host.
func (m *Metrics) RecordsEmitted(stream string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsEmitted.WithLabelValues(stream).Add(float64(n))
}

// PageFetched counts one processed page.
func (m *Metrics) PageFetched(stream string) {
	if m == nil {
		return
	}
	m.pagesFetched.WithLabelValues(stream).Inc()
}

// HTTPRequest records one request outcome. status 0 means the request never
// got a response.
func (m *Metrics) HTTPRequest(stream string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(stream, statusClass(status)).Inc()
	m.requestDuration.WithLabelValues(stream).Observe(elapsed.Seconds())
}

// Retry counts one backoff retry.
func (m *Metrics) Retry(stream string) {
	if m == nil {
		return
	}
	m.httpRetries.WithLabelValues(stream).Inc()
}

// TokenRefresh counts one token exchange, labelled "success" or "failure".
func (m *Metrics) TokenRefresh(err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.tokenRefreshes.WithLabelValues(outcome).Inc()
}

// StreamRun counts a finished run with its outcome label.
func (m *Metrics) StreamRun(stream, outcome string) {
	if m == nil {
		return
	}
	m.streamRuns.WithLabelValues(stream, outcome).Inc()
}

func statusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}

// Timer measures how long an operation took.
type Timer struct {
	start time.Time
}

// NewTimer starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the time since the timer started.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}
