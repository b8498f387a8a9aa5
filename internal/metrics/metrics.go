// Package metrics exposes Prometheus metrics for the gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	GrantsIssued      prometheus.Counter
	GrantsRevoked     prometheus.Counter
	DownloadsServed   prometheus.Counter
	QueriesServed     prometheus.Counter
	PaymentRejections prometheus.Counter
	QuotaRejections   prometheus.Counter
	ExpiryRejections  prometheus.Counter
	SweeperEvictions  prometheus.Counter
	ActiveGrants      prometheus.Gauge
}

// New creates the gateway metrics on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		GrantsIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "datagate_grants_issued_total",
			Help: "Access grants minted after successful payment validation.",
		}),
		GrantsRevoked: factory.NewCounter(prometheus.CounterOpts{
			Name: "datagate_grants_revoked_total",
			Help: "Access grants explicitly revoked.",
		}),
		DownloadsServed: factory.NewCounter(prometheus.CounterOpts{
			Name: "datagate_downloads_served_total",
			Help: "Dataset downloads served under a valid grant.",
		}),
		QueriesServed: factory.NewCounter(prometheus.CounterOpts{
			Name: "datagate_queries_served_total",
			Help: "Dataset queries served under a valid grant.",
		}),
		PaymentRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "datagate_payment_rejections_total",
			Help: "Access requests rejected for invalid or missing payment.",
		}),
		QuotaRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "datagate_quota_rejections_total",
			Help: "Operations rejected because the grant's download quota was spent.",
		}),
		ExpiryRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "datagate_expiry_rejections_total",
			Help: "Operations rejected because the grant had expired.",
		}),
		SweeperEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "datagate_sweeper_evictions_total",
			Help: "Expired grants removed by the background sweeper.",
		}),
		ActiveGrants: factory.NewGauge(prometheus.GaugeOpts{
			Name: "datagate_active_grants",
			Help: "Grants currently held in the token store.",
		}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
