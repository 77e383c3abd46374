package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	analyses        *prometheus.CounterVec
	analysisSeconds *prometheus.HistogramVec
	shares          *prometheus.CounterVec
	sessions        prometheus.Counter
	requests        *prometheus.CounterVec
}

// NewMetrics registers the collectors plus the Go and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		analyses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "splitit_analyses_total",
			Help: "Bill analyses by mode and result.",
		}, []string{"mode", "result"}),
		analysisSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "splitit_analysis_duration_seconds",
			Help:    "Time spent waiting for the analysis service.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40},
		}, []string{"mode"}),
		shares: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "splitit_shares_total",
			Help: "Shared bill writes by result.",
		}, []string{"result"}),
		sessions: factory.NewCounter(prometheus.CounterOpts{
			Name: "splitit_sessions_total",
			Help: "Anonymous sessions issued.",
		}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "splitit_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}
}

func (m *Metrics) observeAnalysis(mode string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = errorLabel(err)
	}
	m.analyses.WithLabelValues(mode, result).Inc()
	m.analysisSeconds.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeShare(err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.shares.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
