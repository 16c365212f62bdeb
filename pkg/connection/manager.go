package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/notify-relay/relay-go/pkg/broker"
	"github.com/notify-relay/relay-go/pkg/log"
	"github.com/notify-relay/relay-go/pkg/metrics"
)

// Connection errors.
var (
	// ErrNotConnected is returned when an operation needs a live connection.
	ErrNotConnected = broker.ErrNotConnected

	// ErrConnectInProgress is returned to callers that lose the single-flight
	// race in Connect.
	ErrConnectInProgress = errors.New("connect already in progress")

	// ErrNoFactory is returned by NewManager without a client factory.
	ErrNoFactory = errors.New("connection: client factory is required")
)

// Defaults.
const (
	DefaultConnectTimeout = broker.DefaultConnectTimeout
	DefaultKeepAlive      = broker.DefaultKeepAlive
	DefaultFailureDelay   = 10 * time.Second
)

// Reconnector schedules reconnection attempts. Strategy implements it.
type Reconnector interface {
	ScheduleReconnect()
	ScheduleReconnectIn(delay time.Duration)
	CancelReconnect()
}

// MessageSink receives inbound messages that no route claimed.
type MessageSink interface {
	OnNotification(msg broker.Message)
}

// StatusNotifier shows a short status line to the user.
type StatusNotifier interface {
	Show(message string)
}

// LivenessMarker records connection and message liveness.
type LivenessMarker interface {
	MarkConnected()
	MarkMessageReceived()
}

// Config configures a Manager.
type Config struct {
	// Factory builds the broker client. Required.
	Factory broker.Factory

	// Options are passed to Factory. ClientID defaults to "relay-<uuid>".
	// The callbacks are overwritten by the Manager.
	Options broker.Options

	// FailureDelay is the retry delay after a failed direct Connect.
	FailureDelay time.Duration

	Liveness LivenessMarker
	Sink     MessageSink
	Notifier StatusNotifier
	Metrics  *metrics.Metrics

	// Logger is the optional logger for operational output.
	Logger *slog.Logger

	// TraceLogger receives connection events. Nil disables tracing.
	TraceLogger log.Logger
}

type route struct {
	filter  string
	handler broker.Handler
}

// Manager owns the broker connection.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	trace  log.Logger

	mu          sync.RWMutex
	client      broker.Client
	reconnector Reconnector
	routes      []route

	preDisconnect  []func(ctx context.Context)
	postDisconnect []func()
	onConnected    []func()
	onLost         []func(err error)

	connecting atomic.Bool
	observed   atomic.Bool
}

// NewManager creates a Manager. No connection is made until Connect.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Factory == nil {
		return nil, ErrNoFactory
	}
	if cfg.Options.ClientID == "" {
		cfg.Options.ClientID = "relay-" + uuid.NewString()
	}
	if cfg.Options.ConnectTimeout <= 0 {
		cfg.Options.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Options.KeepAlive <= 0 {
		cfg.Options.KeepAlive = DefaultKeepAlive
	}
	if cfg.FailureDelay <= 0 {
		cfg.FailureDelay = DefaultFailureDelay
	}

	return &Manager{
		cfg:    cfg,
		logger: cfg.Logger,
		trace:  log.OrNoop(cfg.TraceLogger),
	}, nil
}

func (m *Manager) debugLog(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Debug(msg, args...)
	}
}

func (m *Manager) warn(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Warn(msg, args...)
	}
}

// ClientID returns the identifier presented to the broker.
func (m *Manager) ClientID() string {
	return m.cfg.Options.ClientID
}

// SetReconnector installs the reconnection strategy.
func (m *Manager) SetReconnector(r Reconnector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnector = r
}

func (m *Manager) getReconnector() Reconnector {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reconnector
}

// Handle routes messages whose topic matches filter to h. A message may
// match several routes; messages matching none go to the MessageSink.
func (m *Manager) Handle(filter string, h broker.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, route{filter: filter, handler: h})
}

// OnConnected registers a callback run after every successful connect.
func (m *Manager) OnConnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = append(m.onConnected, fn)
}

// OnConnectionLost registers a callback run after an unexpected loss.
func (m *Manager) OnConnectionLost(fn func(err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLost = append(m.onLost, fn)
}

// BeforeDisconnect registers a hook run by Disconnect while the connection
// is still up. Hooks are best-effort.
func (m *Manager) BeforeDisconnect(fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preDisconnect = append(m.preDisconnect, fn)
}

// AfterDisconnect registers a hook run by Disconnect once the client is
// closed.
func (m *Manager) AfterDisconnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postDisconnect = append(m.postDisconnect, fn)
}

// ensureClient creates the client on first use.
func (m *Manager) ensureClient() (broker.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return m.client, nil
	}

	opts := m.cfg.Options
	opts.OnConnectionLost = m.handleConnectionLost
	opts.OnMessage = m.handleMessage

	c, err := m.cfg.Factory(opts)
	if err != nil {
		return nil, fmt.Errorf("create broker client: %w", err)
	}
	m.client = c
	return c, nil
}

func (m *Manager) currentClient() broker.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// IsConnected reports whether the client is connected and no loss has been
// observed since the last successful connect.
func (m *Manager) IsConnected() bool {
	c := m.currentClient()
	return c != nil && c.IsConnected() && m.observed.Load()
}

// IsConnecting reports whether a connect attempt is in flight.
func (m *Manager) IsConnecting() bool {
	return m.connecting.Load()
}

// Connect establishes the broker connection.
//
// It returns nil immediately when already connected and
// ErrConnectInProgress when another attempt is running. A failed attempt
// schedules a retry after FailureDelay.
func (m *Manager) Connect(ctx context.Context) error {
	if m.IsConnected() {
		return nil
	}
	if !m.connecting.CompareAndSwap(false, true) {
		return ErrConnectInProgress
	}
	defer m.connecting.Store(false)

	m.trace.Log(log.Event{
		Timestamp: time.Now(),
		ClientID:  m.ClientID(),
		Layer:     log.LayerBroker,
		Category:  log.CategoryControl,
		Control:   &log.ControlEvent{Type: log.ControlConnect},
	})

	client, err := m.ensureClient()
	if err == nil {
		cctx, cancel := context.WithTimeout(ctx, m.cfg.Options.ConnectTimeout)
		err = client.Connect(cctx)
		cancel()
	}
	if err != nil {
		m.observed.Store(false)
		m.cfg.Metrics.ConnectResult(false)
		m.trace.Log(log.NewErrorEvent(log.LayerBroker, "connect", err))
		m.warn("broker connect failed", "url", m.cfg.Options.URL, "error", err)
		if r := m.getReconnector(); r != nil {
			r.ScheduleReconnectIn(m.cfg.FailureDelay)
		}
		return fmt.Errorf("connect: %w", err)
	}

	m.observed.Store(true)
	m.cfg.Metrics.ConnectResult(true)
	if m.cfg.Liveness != nil {
		m.cfg.Liveness.MarkConnected()
	}
	m.traceState("CONNECTING", "CONNECTED", "")
	m.debugLog("broker connected", "url", m.cfg.Options.URL, "client_id", m.ClientID())

	m.mu.RLock()
	callbacks := append([]func(){}, m.onConnected...)
	m.mu.RUnlock()
	for _, fn := range callbacks {
		fn()
	}
	return nil
}

// Disconnect is a full disconnect. It cancels any pending reconnect, runs
// the before-disconnect hooks, closes the client and runs the
// after-disconnect hooks.
func (m *Manager) Disconnect(ctx context.Context) error {
	return m.disconnect(ctx, true)
}

// Close cancels any pending reconnect and closes the client without
// running the disconnect hooks. Listener resets use it so the tracked
// subscriptions survive for replay.
func (m *Manager) Close(ctx context.Context) error {
	return m.disconnect(ctx, false)
}

func (m *Manager) disconnect(ctx context.Context, hooks bool) error {
	if r := m.getReconnector(); r != nil {
		r.CancelReconnect()
	}

	var (
		pre  []func(context.Context)
		post []func()
	)
	if hooks {
		m.mu.RLock()
		pre = append(pre, m.preDisconnect...)
		post = append(post, m.postDisconnect...)
		m.mu.RUnlock()
	}

	if m.IsConnected() {
		for _, fn := range pre {
			fn(ctx)
		}
	}

	m.observed.Store(false)
	m.cfg.Metrics.Disconnected()

	var err error
	if c := m.currentClient(); c != nil {
		err = c.Disconnect(ctx)
	}

	for _, fn := range post {
		fn()
	}

	m.trace.Log(log.Event{
		Timestamp: time.Now(),
		ClientID:  m.ClientID(),
		Layer:     log.LayerBroker,
		Category:  log.CategoryControl,
		Control:   &log.ControlEvent{Type: log.ControlDisconnect},
	})
	m.debugLog("broker disconnected")
	return err
}

// Publish sends payload to topic. Failures are logged and returned; they
// are never retried here.
func (m *Manager) Publish(ctx context.Context, topic string, payload []byte, qos broker.QoS) error {
	if !m.IsConnected() {
		return ErrNotConnected
	}

	err := m.currentClient().Publish(ctx, topic, payload, qos)
	m.cfg.Metrics.Published(err == nil)
	if err != nil {
		m.warn("publish failed", "topic", topic, "error", err)
		m.trace.Log(log.NewErrorEvent(log.LayerBroker, "publish "+topic, err))
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	m.trace.Log(log.Event{
		Timestamp: time.Now(),
		ClientID:  m.ClientID(),
		Direction: log.DirectionOut,
		Layer:     log.LayerBroker,
		Category:  log.CategoryMessage,
		Topic:     topic,
		Message:   log.NewMessageEvent(uint8(qos), payload),
	})
	return nil
}

// Subscribe subscribes the client to filter.
func (m *Manager) Subscribe(ctx context.Context, filter string, qos broker.QoS) error {
	if !m.IsConnected() {
		return ErrNotConnected
	}
	if err := m.currentClient().Subscribe(ctx, filter, qos); err != nil {
		return fmt.Errorf("subscribe %s: %w", filter, err)
	}
	m.traceControl(log.ControlSubscribe, filter)
	return nil
}

// Unsubscribe removes filter from the client.
func (m *Manager) Unsubscribe(ctx context.Context, filter string) error {
	if !m.IsConnected() {
		return ErrNotConnected
	}
	if err := m.currentClient().Unsubscribe(ctx, filter); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", filter, err)
	}
	m.traceControl(log.ControlUnsubscribe, filter)
	return nil
}

func (m *Manager) handleConnectionLost(err error) {
	if !m.observed.Swap(false) {
		return
	}

	m.warn("broker connection lost", "error", err)
	m.cfg.Metrics.ConnectionLost()
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	m.traceState("CONNECTED", "LOST", reason)
	m.traceControl(log.ControlConnectionLost, "")
	if m.cfg.Notifier != nil {
		m.cfg.Notifier.Show("Connection lost, reconnecting")
	}

	m.mu.RLock()
	callbacks := append([]func(error){}, m.onLost...)
	m.mu.RUnlock()
	for _, fn := range callbacks {
		fn(err)
	}

	if r := m.getReconnector(); r != nil {
		r.ScheduleReconnect()
	}
}

func (m *Manager) handleMessage(msg broker.Message) {
	if m.cfg.Liveness != nil {
		m.cfg.Liveness.MarkMessageReceived()
	}
	m.cfg.Metrics.MessageReceived()
	m.trace.Log(log.Event{
		Timestamp: msg.Received,
		ClientID:  m.ClientID(),
		Direction: log.DirectionIn,
		Layer:     log.LayerBroker,
		Category:  log.CategoryMessage,
		Topic:     msg.Topic,
		Message:   log.NewMessageEvent(uint8(msg.QoS), msg.Payload),
	})

	m.mu.RLock()
	var handlers []broker.Handler
	for _, r := range m.routes {
		if broker.Match(r.filter, msg.Topic) {
			handlers = append(handlers, r.handler)
		}
	}
	m.mu.RUnlock()

	if len(handlers) == 0 {
		if m.cfg.Sink != nil {
			m.cfg.Sink.OnNotification(msg)
		}
		return
	}
	for _, h := range handlers {
		h(msg)
	}
}

func (m *Manager) traceState(old, next, reason string) {
	m.trace.Log(log.Event{
		Timestamp: time.Now(),
		ClientID:  m.ClientID(),
		Layer:     log.LayerBroker,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: old,
			NewState: next,
			Reason:   reason,
		},
	})
}

func (m *Manager) traceControl(t log.ControlType, topic string) {
	m.trace.Log(log.Event{
		Timestamp: time.Now(),
		ClientID:  m.ClientID(),
		Layer:     log.LayerBroker,
		Category:  log.CategoryControl,
		Topic:     topic,
		Control:   &log.ControlEvent{Type: t},
	})
}
