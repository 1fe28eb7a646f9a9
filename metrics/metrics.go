// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package metrics exposes Prometheus counters for submissions, abuse
// protection, and report generation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submission results
const (
	ResultStored      = "stored"
	ResultRateLimited = "rate_limited"
	ResultNotFound    = "not_found"
	ResultError       = "error"
)

// Report kinds
const (
	KindAnalysis = "analysis"
	KindHTML     = "html_review"
)

type Metrics struct {
	registry *prometheus.Registry

	Submissions     *prometheus.CounterVec
	RateLimitBlocks prometheus.Counter
	NotFoundBans    prometheus.Counter
	Reports         *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New registers every collector on a private registry so tests can build
// as many instances as they like.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quickform_submissions_total",
				Help: "Form submissions by outcome",
			},
			[]string{"result"},
		),
		RateLimitBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quickform_rate_limit_blocks_total",
			Help: "IPs blacklisted by the submission limiter",
		}),
		NotFoundBans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quickform_notfound_bans_total",
			Help: "IPs banned for excessive 404 responses",
		}),
		Reports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quickform_reports_total",
				Help: "Background AI runs by kind and final status",
			},
			[]string{"kind", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quickform_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "code"},
		),
	}

	m.registry.MustRegister(
		m.Submissions,
		m.RateLimitBlocks,
		m.NotFoundBans,
		m.Reports,
		m.RequestDuration,
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest records one request's latency
func (m *Metrics) ObserveRequest(method string, code int, elapsed time.Duration) {
	m.RequestDuration.WithLabelValues(method, strconv.Itoa(code)).Observe(elapsed.Seconds())
}
