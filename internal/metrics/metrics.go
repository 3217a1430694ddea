package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Event names used as the `event` label of the events counter.
const (
	ClientConnected    = "client_connected"
	ClientDisconnected = "client_disconnected"
	ClientReplaced     = "client_replaced"

	DecodeError           = "decode_error"
	MessageTooLarge       = "message_too_large"
	OriginRejected        = "origin_rejected"
	DropReasonRateLimited = "rate_limited"

	Delivered                = "delivered"
	TargetNotFound           = "target_not_found"
	DeliveryFailure          = "delivery_failure"
	BroadcastDelivered       = "broadcast_delivered"
	BroadcastDeliveryFailure = "broadcast_delivery_failure"
)

const namespace = "aero_webrtc_signal_relay"

// Metrics holds the relay's Prometheus collectors on a private registry so
// multiple servers (e.g. in tests) never collide on the global one.
//
// A nil *Metrics is valid and discards everything.
type Metrics struct {
	reg *prometheus.Registry

	events     *prometheus.CounterVec
	registered prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Signaling relay event counters.",
		}, []string{"event"}),
		registered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_clients",
			Help:      "Number of client ids currently registered.",
		}),
	}
	reg.MustRegister(m.events, m.registered)
	return m
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.events.WithLabelValues(name).Add(float64(n))
}

// SetRegisteredClients is shaped to be passed to registry.WithOnChange.
func (m *Metrics) SetRegisteredClients(n int) {
	if m == nil {
		return
	}
	m.registered.Set(float64(n))
}

// Counter returns the counter backing the named event.
func (m *Metrics) Counter(name string) prometheus.Counter {
	return m.events.WithLabelValues(name)
}

// Gatherer exposes the underlying registry for scraping.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.reg
}
