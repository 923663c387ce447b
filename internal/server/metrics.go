package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are registered on a private registry so tests can build multiple
// servers without duplicate-registration panics.
type metricsSet struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	ingestLatency prometheus.Histogram
	alertsSent    prometheus.Counter
	subscribers   prometheus.GaugeFunc
}

func newMetrics(subscriberCount func() int) *metricsSet {
	reg := prometheus.NewRegistry()

	m := &metricsSet{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartbin_http_requests_total",
			Help: "HTTP requests by route and status class.",
		}, []string{"route", "status"}),
		ingestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "smartbin_ingest_latency_seconds",
			Help:    "Latency of device ingestion requests.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		alertsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartbin_admin_alerts_total",
			Help: "Threshold alerts broadcast to admin sessions.",
		}),
	}
	m.subscribers = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "smartbin_alert_subscribers",
		Help: "Currently connected admin alert streams.",
	}, func() float64 { return float64(subscriberCount()) })

	reg.MustRegister(m.requests, m.ingestLatency, m.alertsSent, m.subscribers)
	return m
}

func (m *metricsSet) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
