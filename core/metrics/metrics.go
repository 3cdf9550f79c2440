// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "inboxbot"

// Metrics groups every collector the bot updates.
type Metrics struct {
	UpdatesTotal         *prometheus.CounterVec
	HandlerTotal         *prometheus.CounterVec
	HandlerDuration      *prometheus.HistogramVec
	AddressesCreated     prometheus.Counter
	AddressesDeactivated prometheus.Counter
	AddressCollisions    prometheus.Counter
	TelegramCalls        *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg creates unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		UpdatesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "updates_total",
				Help:      "Inbound webhook invocations by update kind.",
			},
			[]string{"kind"},
		),
		HandlerTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handler_total",
				Help:      "Handled updates by handler and outcome.",
			},
			[]string{"handler", "outcome"},
		),
		HandlerDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "handler_duration_seconds",
				Help:      "Handler latency including outbound Bot API calls.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"handler"},
		),
		AddressesCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "addresses_created_total",
			Help:      "Addresses written to the table.",
		}),
		AddressesDeactivated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "addresses_deactivated_total",
			Help:      "Addresses switched to inactive.",
		}),
		AddressCollisions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "address_collisions_total",
			Help:      "Create attempts rejected because the address already existed.",
		}),
		TelegramCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "telegram_calls_total",
				Help:      "Outbound Bot API calls by method and status.",
			},
			[]string{"method", "status"},
		),
	}
}

// ObserveTelegramCall matches the telegram.ClientOptions.Observe signature.
func (m *Metrics) ObserveTelegramCall(method, status string) {
	if m == nil {
		return
	}
	m.TelegramCalls.WithLabelValues(method, status).Inc()
}

// ObserveCollision counts one create collision.
func (m *Metrics) ObserveCollision(string) {
	if m == nil {
		return
	}
	m.AddressCollisions.Inc()
}
