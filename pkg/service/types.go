package service

import (
	"errors"
	"log/slog"
	"time"

	"github.com/notify-relay/relay-go/pkg/backoff"
	"github.com/notify-relay/relay-go/pkg/broker"
	"github.com/notify-relay/relay-go/pkg/connection"
	"github.com/notify-relay/relay-go/pkg/log"
	"github.com/notify-relay/relay-go/pkg/metrics"
	"github.com/notify-relay/relay-go/pkg/persistence"
	"github.com/notify-relay/relay-go/pkg/watchdog"
)

// Service errors.
var (
	ErrNotStarted       = errors.New("service not started")
	ErrAlreadyStarted   = errors.New("service already started")
	ErrStoppedByUser    = errors.New("relay stopped by user")
	ErrDisabled         = errors.New("relay disabled")
	ErrListenerDisabled = errors.New("listener disabled")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// Persistence namespaces.
const (
	NamespaceService  = "service"
	NamespaceLiveness = "liveness"
	NamespacePairing  = "pairing"
)

// WatchdogConfig tunes the watchdog. Zero durations use the watchdog
// package defaults.
type WatchdogConfig struct {
	Enabled              bool
	Interval             time.Duration
	IndependentInterval  time.Duration
	RetryThreshold       time.Duration
	IndependentThreshold time.Duration
	Ceiling              time.Duration
	Table                backoff.Table
	Pauses               watchdog.Pauses
}

// Config configures a RelayService.
type Config struct {
	// Store is the base key-value store. Each component gets its own
	// namespace. Required.
	Store persistence.Store

	// Factory builds broker clients. Required.
	Factory       broker.Factory
	BrokerOptions broker.Options

	ReconnectTable backoff.Table
	FailureDelay   time.Duration

	Watchdog WatchdogConfig

	// Listener reports the external notification-listener permission.
	// Nil uses the service's own listener flag.
	Listener watchdog.ListenerStatus

	// Restart is invoked when the watchdog wants the listener restarted.
	// Nil restarts the listener in-process.
	Restart watchdog.RestartCallback

	// Notifier shows user-visible status. Nil logs at INFO.
	Notifier connection.StatusNotifier

	// Sink receives inbound messages no component claimed.
	Sink connection.MessageSink

	Metrics *metrics.Metrics

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// TraceLogger receives relay events. Nil disables tracing.
	TraceLogger log.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns a Config with the standard timings.
func DefaultConfig() Config {
	return Config{
		BrokerOptions: broker.Options{
			ConnectTimeout: broker.DefaultConnectTimeout,
			KeepAlive:      broker.DefaultKeepAlive,
		},
		ReconnectTable: backoff.ReconnectTable(),
		FailureDelay:   connection.DefaultFailureDelay,
		Watchdog: WatchdogConfig{
			Enabled: true,
			Table:   backoff.WatchdogTable(),
		},
	}
}

// EventType identifies a service event.
type EventType uint8

const (
	EventConnected EventType = iota
	EventDisconnected
	EventStateChanged
	EventPeerStatus
	EventStoppedAlert
	EventListenerRestart
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "CONNECTED"
	case EventDisconnected:
		return "DISCONNECTED"
	case EventStateChanged:
		return "STATE_CHANGED"
	case EventPeerStatus:
		return "PEER_STATUS"
	case EventStoppedAlert:
		return "STOPPED_ALERT"
	case EventListenerRestart:
		return "LISTENER_RESTART"
	default:
		return "UNKNOWN"
	}
}

// Event is emitted on notable service changes.
type Event struct {
	Type EventType

	// State is the new health state (EventStateChanged).
	State string

	// DeviceID and Online describe a peer status report (EventPeerStatus).
	DeviceID string
	Online   bool

	// Error is set for EventDisconnected when the loss carried one.
	Error error
}

// EventHandler handles service events.
type EventHandler func(Event)

// Status is a point-in-time view of the relay.
type Status struct {
	State           string
	Connected       bool
	Reconnecting    bool
	ReconnectTry    int
	ListenerEnabled bool
	WatchdogRunning bool
	Subscriptions   int
	PeerID          string
	PeerName        string
	PeerOnline      bool
	LastMessage     time.Time
	LastConnection  time.Time
	ForceResets     int64
	DeepResets      int64
	StoppedAlerts   int64
}
