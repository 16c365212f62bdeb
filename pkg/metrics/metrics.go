// Package metrics exposes Prometheus collectors for the relay.
//
// All methods are nil-safe: components hold a *Metrics that may be nil when
// metrics are disabled.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "relay"

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds the relay collectors.
type Metrics struct {
	connectAttempts    *prometheus.CounterVec
	connected          prometheus.Gauge
	connectionLost     prometheus.Counter
	reconnectScheduled prometheus.Counter
	reconnectAttempt   prometheus.Gauge
	messagesReceived   prometheus.Counter
	publishes          *prometheus.CounterVec
	subscriptions      prometheus.Gauge
	serviceState       *prometheus.GaugeVec
	repairs            *prometheus.CounterVec
	silence            prometheus.Gauge
	peerOnline         prometheus.Gauge
}

// New registers the relay collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		connectAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "connect_attempts_total",
			Help:      "Broker connection attempts by result",
		}, []string{"result"}),
		connected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "connected",
			Help:      "1 while the broker connection is up",
		}),
		connectionLost: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "connection_lost_total",
			Help:      "Unexpected broker connection losses",
		}),
		reconnectScheduled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "reconnect_scheduled_total",
			Help:      "Reconnection attempts scheduled",
		}),
		reconnectAttempt: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "reconnect_attempt",
			Help:      "Current reconnection backoff index",
		}),
		messagesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "messages_received_total",
			Help:      "Inbound broker messages",
		}),
		publishes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "publishes_total",
			Help:      "Outbound publishes by result",
		}, []string{"result"}),
		subscriptions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "subscriptions",
			Help:      "Tracked topic subscriptions",
		}),
		serviceState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "state",
			Help:      "1 for the current service health state",
		}, []string{"state"}),
		repairs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "repairs_total",
			Help:      "Watchdog repair actions by action and result",
		}, []string{"action", "result"}),
		silence: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "silence_seconds",
			Help:      "Seconds since the last inbound message at the last check",
		}),
		peerOnline: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pairing",
			Name:      "peer_online",
			Help:      "1 while the paired peer reports itself connected",
		}),
	}
}

func result(ok bool) string {
	if ok {
		return ResultSuccess
	}
	return ResultFailure
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ConnectResult counts a connection attempt and updates the connected gauge.
func (m *Metrics) ConnectResult(ok bool) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(result(ok)).Inc()
	m.connected.Set(boolGauge(ok))
}

// Disconnected marks the connection down.
func (m *Metrics) Disconnected() {
	if m == nil {
		return
	}
	m.connected.Set(0)
}

// ConnectionLost counts an unexpected loss.
func (m *Metrics) ConnectionLost() {
	if m == nil {
		return
	}
	m.connectionLost.Inc()
	m.connected.Set(0)
}

// ReconnectScheduled records a scheduled reconnection at attempt index.
func (m *Metrics) ReconnectScheduled(attempt int) {
	if m == nil {
		return
	}
	m.reconnectScheduled.Inc()
	m.reconnectAttempt.Set(float64(attempt))
}

// ReconnectReset records that the backoff returned to the start.
func (m *Metrics) ReconnectReset() {
	if m == nil {
		return
	}
	m.reconnectAttempt.Set(0)
}

// MessageReceived counts an inbound message.
func (m *Metrics) MessageReceived() {
	if m == nil {
		return
	}
	m.messagesReceived.Inc()
}

// Published counts a publish.
func (m *Metrics) Published(ok bool) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(result(ok)).Inc()
}

// SetSubscriptions sets the tracked subscription count.
func (m *Metrics) SetSubscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(float64(n))
}

// SetServiceState marks state as current and every other known state as 0.
func (m *Metrics) SetServiceState(state string, known []string) {
	if m == nil {
		return
	}
	for _, k := range known {
		m.serviceState.WithLabelValues(k).Set(boolGauge(k == state))
	}
}

// Repair counts a watchdog repair action.
func (m *Metrics) Repair(action string, ok bool) {
	if m == nil {
		return
	}
	m.repairs.WithLabelValues(action, result(ok)).Inc()
}

// SetSilence records the silence measured at a watchdog check.
func (m *Metrics) SetSilence(d time.Duration) {
	if m == nil {
		return
	}
	m.silence.Set(d.Seconds())
}

// SetPeerOnline records the paired peer's reported status.
func (m *Metrics) SetPeerOnline(online bool) {
	if m == nil {
		return
	}
	m.peerOnline.Set(boolGauge(online))
}
