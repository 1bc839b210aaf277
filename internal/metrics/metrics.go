package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the broker's prometheus collectors. A single instance is
// created in main and shared by the server and admin handler.
type Metrics struct {
	Registry *prometheus.Registry

	SessionsActive    *prometheus.GaugeVec
	MessagesTotal     *prometheus.CounterVec
	PurchasesTotal    prometheus.Counter
	SalesActive       prometheus.Gauge
	BroadcastsTotal   *prometheus.CounterVec
	BroadcastsDropped prometheus.Counter
}

// New creates and registers the broker's collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		SessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketbroker_sessions_active",
			Help: "Connected client sessions by role.",
		}, []string{"role"}),
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketbroker_messages_total",
			Help: "Inbound messages handled, by message type.",
		}, []string{"type"}),
		PurchasesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketbroker_purchases_total",
			Help: "Committed purchases.",
		}),
		SalesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketbroker_sales_active",
			Help: "Open sales as of the last stock or sale-end broadcast.",
		}),
		BroadcastsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketbroker_broadcasts_total",
			Help: "Broadcasts dispatched, by message type.",
		}, []string{"type"}),
		BroadcastsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketbroker_broadcasts_dropped_total",
			Help: "Broadcasts dropped because a queue was full.",
		}),
	}

	reg.MustRegister(
		m.SessionsActive,
		m.MessagesTotal,
		m.PurchasesTotal,
		m.SalesActive,
		m.BroadcastsTotal,
		m.BroadcastsDropped,
	)
	return m
}
