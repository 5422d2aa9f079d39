// Package metrics exposes the feed's Prometheus collectors. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "townhall"

type Metrics struct {
	registry *prometheus.Registry

	postsCreated       *prometheus.CounterVec
	votes              *prometheus.CounterVec
	sweepRemoved       prometheus.Counter
	sweepDuration      prometheus.Histogram
	livePosts          prometheus.Gauge
	sessions           prometheus.Gauge
	campaignsStarted   prometheus.Counter
	campaignsArchived  prometheus.Counter
	archiveDropped     *prometheus.CounterVec
	archiveLatency     prometheus.Histogram
	classifierOutcomes *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// New registers every collector on a private registry, plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		postsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "posts_created_total",
			Help: "Posts and replies created, by channel.",
		}, []string{"channel"}),
		votes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "votes_total",
			Help: "Votes applied, by direction.",
		}, []string{"direction"}),
		sweepRemoved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweep_removed_total",
			Help: "Expired posts and replies removed by the ticker.",
		}),
		sweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "sweep_duration_seconds",
			Help:    "Time spent in one expiry sweep.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		livePosts: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "live_posts",
			Help: "Top-level posts currently held in memory.",
		}),
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions",
			Help: "Sessions with remembered view state.",
		}),
		campaignsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "campaigns_started_total",
			Help: "Paid campaigns started.",
		}),
		campaignsArchived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "campaigns_archived_total",
			Help: "Expired campaigns written to the archive.",
		}),
		archiveDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "archive_dropped_total",
			Help: "Archive jobs dropped because the queue was full.",
		}, []string{"kind"}),
		archiveLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "archive_latency_seconds",
			Help:    "Enqueue to write latency of archive jobs.",
			Buckets: prometheus.DefBuckets,
		}),
		classifierOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "classifier_outcomes_total",
			Help: "Classification calls, by outcome.",
		}, []string{"outcome"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests, by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency, by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer is used by tests to read current values.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

func (m *Metrics) PostCreated(channel string) {
	if m == nil {
		return
	}
	m.postsCreated.WithLabelValues(channel).Inc()
}

func (m *Metrics) Voted(delta int) {
	if m == nil {
		return
	}
	dir := "up"
	if delta < 0 {
		dir = "down"
	}
	m.votes.WithLabelValues(dir).Inc()
}

// Swept records one ticker pass.
func (m *Metrics) Swept(removed, live int, took time.Duration) {
	if m == nil {
		return
	}
	m.sweepRemoved.Add(float64(removed))
	m.livePosts.Set(float64(live))
	m.sweepDuration.Observe(took.Seconds())
}

func (m *Metrics) Sessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *Metrics) CampaignStarted() {
	if m == nil {
		return
	}
	m.campaignsStarted.Inc()
}

func (m *Metrics) CampaignArchived(latency time.Duration) {
	if m == nil {
		return
	}
	m.campaignsArchived.Inc()
	m.archiveLatency.Observe(latency.Seconds())
}

func (m *Metrics) ArchiveDropped(kind string) {
	if m == nil {
		return
	}
	m.archiveDropped.WithLabelValues(kind).Inc()
}

func (m *Metrics) ClassifierOutcome(outcome string) {
	if m == nil {
		return
	}
	m.classifierOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) HTTPRequest(method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(took.Seconds())
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
