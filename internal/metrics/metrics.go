// Package metrics exposes Prometheus metrics for campaign dispatching.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for Pelican
type Metrics struct {
	EmailsSent         prometheus.Counter
	EmailsFailed       prometheus.Counter
	RateLimitHits      prometheus.Counter
	CampaignsCompleted prometheus.Counter
	CampaignsCancelled prometheus.Counter
	DispatchDuration   prometheus.Histogram

	registry *prometheus.Registry
}

// New creates a Metrics instance with all metrics registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EmailsSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pelican_emails_sent_total",
				Help: "Total number of successfully sent campaign emails",
			},
		),
		EmailsFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pelican_emails_failed_total",
				Help: "Total number of campaign emails that failed to send",
			},
		),
		RateLimitHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pelican_ratelimit_hits_total",
				Help: "Total number of provider rate-limit cooldowns triggered",
			},
		),
		CampaignsCompleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pelican_campaigns_completed_total",
				Help: "Total number of campaigns transitioned to sent",
			},
		),
		CampaignsCancelled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pelican_campaigns_cancelled_total",
				Help: "Total number of campaigns cancelled on unrecoverable errors",
			},
		),
		DispatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pelican_dispatch_duration_seconds",
				Help:    "Duration of one dispatch trigger invocation in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.EmailsSent,
		m.EmailsFailed,
		m.RateLimitHits,
		m.CampaignsCompleted,
		m.CampaignsCancelled,
		m.DispatchDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
