package obs

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "http_ingest"

// Metrics holds the connector's Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	documentsEmitted *prometheus.CounterVec
	ackLatency       prometheus.Histogram
	queueDepth       prometheus.Gauge
	requests         *prometheus.CounterVec
}

// NewMetrics creates collectors registered on a fresh registry, along with the Go and
// process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		documentsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_emitted_total",
			Help:      "Documents written to the control channel, by binding.",
		}, []string{"binding"}),
		ackLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "acknowledge_latency_seconds",
			Help:      "Time from checkpoint emission to acknowledgement.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_submissions",
			Help:      "Submissions queued or awaiting acknowledgement.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Webhook requests handled, by response status.",
		}, []string{"status"}),
	}
	reg.MustRegister(
		m.documentsEmitted,
		m.ackLatency,
		m.queueDepth,
		m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// DocumentEmitted counts one document for binding
func (m *Metrics) DocumentEmitted(binding int) {
	if m == nil {
		return
	}
	m.documentsEmitted.WithLabelValues(strconv.Itoa(binding)).Inc()
}

// Acknowledged observes the delay between a checkpoint and its acknowledge
func (m *Metrics) Acknowledged(d time.Duration) {
	if m == nil {
		return
	}
	m.ackLatency.Observe(d.Seconds())
}

// SetPending sets the number of pending submissions
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// Request counts a handled webhook request
func (m *Metrics) Request(status int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(strconv.Itoa(status)).Inc()
}
