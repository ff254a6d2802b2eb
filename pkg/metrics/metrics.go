// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "funnel"

// Metrics is a private registry plus the collectors funnel updates. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	checksTotal   *prometheus.CounterVec   // by check_type and status (completed/failed)
	checkDuration *prometheus.HistogramVec // by check_type
	riskScore     prometheus.Histogram
	submissions   *prometheus.CounterVec // by result (created/error)
	httpRequests  *prometheus.CounterVec // by method, route and code
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		checksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compliance",
			Name:      "checks_total",
			Help:      "Compliance checks that reached a terminal status",
		}, []string{"check_type", "status"}),
		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "compliance",
			Name:      "check_duration_seconds",
			Help:      "Time from dispatch to terminal status",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"check_type"}),
		riskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "compliance",
			Name:      "risk_score",
			Help:      "Risk scores of completed checks",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "applications",
			Name:      "submissions_total",
			Help:      "Application submissions by result",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests by route and status code",
		}, []string{"method", "route", "code"}),
	}

	m.registry.MustRegister(
		m.checksTotal,
		m.checkDuration,
		m.riskScore,
		m.submissions,
		m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveCheck records a compliance check that finished with status.
func (m *Metrics) ObserveCheck(checkType, status string, took time.Duration, score *float64) {
	if m == nil {
		return
	}
	m.checksTotal.WithLabelValues(checkType, status).Inc()
	m.checkDuration.WithLabelValues(checkType).Observe(took.Seconds())
	if score != nil {
		m.riskScore.Observe(*score)
	}
}

func (m *Metrics) IncSubmission(result string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRequest(method, route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
