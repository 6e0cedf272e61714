package crawl

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the crawl scheduler.
type Metrics struct {
	Registry        *prometheus.Registry
	FetchesTotal    *prometheus.CounterVec
	FetchDuration   prometheus.Histogram
	PagesCrawled    prometheus.Counter
	RobotsSkips     prometheus.Counter
	HostsPaused     prometheus.Counter
	RenderDecisions *prometheus.CounterVec
}

// NewMetrics constructs and registers all collectors on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		FetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siteproof_crawl_fetches_total",
			Help: "Page fetches by outcome.",
		}, []string{"outcome"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "siteproof_crawl_fetch_duration_seconds",
			Help:    "Fetch latency distribution.",
			Buckets: prometheus.DefBuckets,
		}),
		PagesCrawled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "siteproof_crawl_pages_total",
			Help: "Pages successfully crawled.",
		}),
		RobotsSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "siteproof_crawl_robots_skips_total",
			Help: "URLs skipped by robots directives.",
		}),
		HostsPaused: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "siteproof_crawl_hosts_paused_total",
			Help: "Hosts paused by the consecutive-failure breaker.",
		}),
		RenderDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siteproof_render_decisions_total",
			Help: "Site-wide render decisions by mode.",
		}, []string{"mode"}),
	}

	registry.MustRegister(m.FetchesTotal, m.FetchDuration, m.PagesCrawled,
		m.RobotsSkips, m.HostsPaused, m.RenderDecisions)
	return m
}

// ObserveFetch records one fetch outcome with its latency.
func (m *Metrics) ObserveFetch(outcome string, d time.Duration) {
	m.FetchesTotal.WithLabelValues(outcome).Inc()
	m.FetchDuration.Observe(d.Seconds())
}
