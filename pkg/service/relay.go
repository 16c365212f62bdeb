package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/notify-relay/relay-go/pkg/broker"
	"github.com/notify-relay/relay-go/pkg/connection"
	"github.com/notify-relay/relay-go/pkg/health"
	"github.com/notify-relay/relay-go/pkg/liveness"
	"github.com/notify-relay/relay-go/pkg/log"
	"github.com/notify-relay/relay-go/pkg/pairing"
	"github.com/notify-relay/relay-go/pkg/persistence"
	"github.com/notify-relay/relay-go/pkg/subscription"
	"github.com/notify-relay/relay-go/pkg/watchdog"
	"github.com/notify-relay/relay-go/pkg/wire"
)

var knownKinds = []string{
	health.KindRunning.String(),
	health.KindDegraded.String(),
	health.KindStopped.String(),
	health.KindDisabled.String(),
}

// RelayService orchestrates the relay.
type RelayService struct {
	cfg      Config
	logger   *slog.Logger
	trace    log.Logger
	notifier connection.StatusNotifier

	machine  *health.Machine
	live     *liveness.Tracker
	conn     *connection.Manager
	strategy *connection.Strategy
	registry *subscription.Registry
	pairing  *pairing.Manager
	watchdog *watchdog.Watchdog
	listener *listener

	mu            sync.Mutex
	started       bool
	ctx           context.Context
	cancel        context.CancelFunc
	eventHandlers []EventHandler

	restarting atomic.Bool
}

// New creates a RelayService. Nothing connects until Start.
func New(cfg Config) (*RelayService, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("%w: broker factory is required", ErrInvalidConfig)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &RelayService{
		cfg:    cfg,
		logger: cfg.Logger,
		trace:  log.OrNoop(cfg.TraceLogger),
	}
	s.notifier = cfg.Notifier
	if s.notifier == nil {
		s.notifier = logNotifier{s}
	}

	var err error
	s.machine, err = health.NewMachine(health.Config{
		Store:       persistence.Namespace(cfg.Store, NamespaceService),
		Logger:      cfg.Logger,
		TraceLogger: cfg.TraceLogger,
		Now:         cfg.Now,
	})
	if err != nil {
		return nil, err
	}
	s.machine.OnStateChange(s.handleStateChange)
	cfg.Metrics.SetServiceState(s.machine.State().Kind().String(), knownKinds)

	s.live = liveness.New(
		persistence.Namespace(cfg.Store, NamespaceLiveness),
		liveness.WithLogger(cfg.Logger),
		liveness.WithClock(cfg.Now),
	)

	sink := cfg.Sink
	if sink == nil {
		sink = logSink{s}
	}
	s.conn, err = connection.NewManager(connection.Config{
		Factory:      cfg.Factory,
		Options:      cfg.BrokerOptions,
		FailureDelay: cfg.FailureDelay,
		Liveness:     s.live,
		Sink:         sink,
		Notifier:     s.notifier,
		Metrics:      cfg.Metrics,
		Logger:       cfg.Logger,
		TraceLogger:  cfg.TraceLogger,
	})
	if err != nil {
		s.machine.Close()
		return nil, err
	}

	s.registry = subscription.NewRegistry(s.conn,
		subscription.WithLogger(cfg.Logger),
		subscription.WithMetrics(cfg.Metrics),
	)
	s.strategy = connection.NewStrategy(s.conn, connection.StrategyConfig{
		Table:       cfg.ReconnectTable,
		Metrics:     cfg.Metrics,
		Logger:      cfg.Logger,
		TraceLogger: cfg.TraceLogger,
	})
	s.strategy.SetResubscriber(s.registry)
	s.conn.SetReconnector(s.strategy)
	s.conn.OnConnected(s.handleConnected)
	s.conn.OnConnectionLost(s.handleConnectionLost)

	s.pairing, err = pairing.NewManager(pairing.Config{
		Conn:        s.conn,
		Subs:        s.registry,
		Store:       persistence.Namespace(cfg.Store, NamespacePairing),
		Metrics:     cfg.Metrics,
		Logger:      cfg.Logger,
		TraceLogger: cfg.TraceLogger,
		Now:         cfg.Now,
	})
	if err != nil {
		s.machine.Close()
		return nil, err
	}
	s.pairing.Attach(s.conn)
	s.conn.BeforeDisconnect(func(ctx context.Context) {
		if err := s.pairing.UnlinkActive(ctx); err != nil {
			s.warn("unlink on disconnect", "error", err)
		}
	})
	s.conn.AfterDisconnect(s.registry.Clear)
	s.pairing.OnPeerStatus(func(id string, online bool) {
		s.emitEvent(Event{Type: EventPeerStatus, DeviceID: id, Online: online})
	})

	s.listener = &listener{s: s}
	s.listener.enabled.Store(true)

	listenerStatus := cfg.Listener
	if listenerStatus == nil {
		listenerStatus = s.listener
	}
	restart := cfg.Restart
	if restart == nil {
		restart = watchdog.RestartFunc(s.requestListenerRestart)
	}
	wd := cfg.Watchdog
	s.watchdog, err = watchdog.New(watchdog.Config{
		Component:            s.listener,
		Health:               s.machine,
		Liveness:             s.live,
		Listener:             listenerStatus,
		Restart:              restart,
		Notifier:             s.notifier,
		Interval:             wd.Interval,
		IndependentInterval:  wd.IndependentInterval,
		RetryThreshold:       wd.RetryThreshold,
		IndependentThreshold: wd.IndependentThreshold,
		Ceiling:              wd.Ceiling,
		Table:                wd.Table,
		Pauses:               wd.Pauses,
		Metrics:              cfg.Metrics,
		Logger:               cfg.Logger,
		TraceLogger:          cfg.TraceLogger,
		Now:                  cfg.Now,
	})
	if err != nil {
		s.machine.Close()
		return nil, err
	}

	return s, nil
}

func (s *RelayService) debugLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *RelayService) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

// OnEvent registers an event handler. Handlers run on their own goroutine.
func (s *RelayService) OnEvent(handler EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventHandlers = append(s.eventHandlers, handler)
}

func (s *RelayService) emitEvent(event Event) {
	s.mu.Lock()
	handlers := append([]EventHandler(nil), s.eventHandlers...)
	s.mu.Unlock()
	for _, handler := range handlers {
		go handler(event)
	}
}

// Health returns the health state machine.
func (s *RelayService) Health() *health.Machine { return s.machine }

// Liveness returns the liveness record.
func (s *RelayService) Liveness() *liveness.Tracker { return s.live }

// Connection returns the broker connection manager.
func (s *RelayService) Connection() *connection.Manager { return s.conn }

// Subscriptions returns the subscription registry.
func (s *RelayService) Subscriptions() *subscription.Registry { return s.registry }

// Pairing returns the pairing manager.
func (s *RelayService) Pairing() *pairing.Manager { return s.pairing }

// Watchdog returns the watchdog.
func (s *RelayService) Watchdog() *watchdog.Watchdog { return s.watchdog }

// IsStarted reports whether Start has run without a later shutdown.
func (s *RelayService) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *RelayService) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// Start connects and starts the watchdog.
//
// It refuses to run when the user stopped or disabled the relay. A failed
// connect is not an error: the relay is marked Degraded(NoConnectivity)
// and the reconnect strategy keeps trying.
func (s *RelayService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	switch st := s.machine.State(); {
	case st.IsStopped():
		s.mu.Unlock()
		return ErrStoppedByUser
	case st.IsDisabled():
		s.mu.Unlock()
		return ErrDisabled
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	runCtx := s.ctx
	s.mu.Unlock()

	_ = s.listener.Enable(runCtx)
	if err := s.listener.Start(ctx); err != nil {
		s.warn("initial connect failed", "error", err)
		s.degrade(health.ReasonNoConnectivity)
	}

	if s.cfg.Watchdog.Enabled {
		if err := s.watchdog.Start(runCtx); err != nil {
			s.debugLog("watchdog start", "error", err)
		}
	}
	s.debugLog("relay started", "state", s.machine.State().String())
	return nil
}

// Shutdown stops the watchdog, closes the connection and forgets the
// tracked subscriptions without touching the health state. The pairing is
// kept and its status subscription is restored on the next connect.
func (s *RelayService) Shutdown(ctx context.Context) error {
	return s.shutdown(ctx, false)
}

// shutdown tears the relay down. With unlink set it runs a full broker
// disconnect, which unlinks the active peer before closing.
func (s *RelayService) shutdown(ctx context.Context, unlink bool) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.started = false
	cancel := s.cancel
	s.ctx, s.cancel = nil, nil
	s.mu.Unlock()

	s.watchdog.Stop()
	var err error
	if unlink {
		err = s.conn.Disconnect(ctx)
	} else {
		err = s.conn.Close(ctx)
		s.registry.Clear()
	}
	if cancel != nil {
		cancel()
	}
	s.debugLog("relay shut down")
	return err
}

// Close shuts down if needed and drains pending state writes.
func (s *RelayService) Close(ctx context.Context) {
	_ = s.Shutdown(ctx)
	s.strategy.Close()
	s.machine.Close()
}

// Stop is the user's stop action. Stopped is persisted before teardown.
func (s *RelayService) Stop(ctx context.Context) error {
	s.machine.SetStateSync(health.Stopped())
	if err := s.Shutdown(ctx); err != nil && err != ErrNotStarted {
		return err
	}
	return nil
}

// Restart is the user's restart action: back to Running with the stopped
// alert re-armed, then (re)start the listener.
func (s *RelayService) Restart(ctx context.Context) error {
	s.machine.Alerts().Reset()
	s.machine.SetStateSync(health.Running())

	if !s.IsStarted() {
		return s.Start(ctx)
	}
	return s.restartListener(ctx)
}

// Acknowledge is the user dismissing the stopped alert: the relay is
// disabled until the next AppOpen.
func (s *RelayService) Acknowledge(ctx context.Context) error {
	s.machine.SetStateSync(health.Disabled())
	if err := s.Shutdown(ctx); err != nil && err != ErrNotStarted {
		return err
	}
	return nil
}

// AppOpen handles the app coming to the foreground. A disabled relay is
// re-enabled and started.
func (s *RelayService) AppOpen(ctx context.Context) (health.State, error) {
	st := s.machine.ResetOnAppOpen()
	if st.Active() && !s.IsStarted() {
		if err := s.Start(ctx); err != nil && err != ErrAlreadyStarted {
			return st, err
		}
	}
	return st, nil
}

// Disconnect is the user's full disconnect: the relay is stopped and the
// active peer is unlinked, best-effort, before the connection closes.
func (s *RelayService) Disconnect(ctx context.Context) error {
	s.machine.SetStateSync(health.Stopped())
	if err := s.shutdown(ctx, true); err != nil && err != ErrNotStarted {
		return err
	}
	return nil
}

// SetConnectivity reports network availability.
func (s *RelayService) SetConnectivity(online bool) {
	if !online {
		s.degrade(health.ReasonNoConnectivity)
		return
	}
	st := s.machine.State()
	if !st.IsDegraded() || st.Reason() == health.ReasonPermissionRevoked {
		return
	}
	if s.conn.IsConnected() {
		s.machine.ClearDegraded()
		return
	}
	if s.IsStarted() {
		s.strategy.ScheduleReconnect()
	}
}

// SetPermission reports whether the notification permission is granted.
func (s *RelayService) SetPermission(granted bool) {
	if !granted {
		s.degrade(health.ReasonPermissionRevoked)
		return
	}
	st := s.machine.State()
	if st.IsDegraded() && st.Reason() == health.ReasonPermissionRevoked {
		s.machine.ClearDegraded()
	}
}

// degrade marks the relay Degraded unless the user stopped or disabled it.
func (s *RelayService) degrade(reason health.Reason) {
	if st := s.machine.State(); st.Active() {
		s.machine.SetDegraded(reason)
	}
}

// Relay forwards a locally received notification to the active peer.
func (s *RelayService) Relay(ctx context.Context, n wire.Notification) error {
	switch st := s.machine.State(); {
	case st.IsStopped():
		return ErrStoppedByUser
	case st.IsDisabled():
		return ErrDisabled
	}
	s.live.MarkMessageReceived()
	return s.pairing.ForwardNotification(ctx, "", n)
}

// Link pairs with deviceID.
func (s *RelayService) Link(ctx context.Context, deviceID, userID, username string) error {
	return s.pairing.LinkDevice(ctx, deviceID, userID, username)
}

// Unlink removes the active pairing.
func (s *RelayService) Unlink(ctx context.Context) error {
	return s.pairing.UnlinkActive(ctx)
}

// Discover lists peers that answer a discovery request.
func (s *RelayService) Discover(ctx context.Context, timeout time.Duration) ([]pairing.Peer, error) {
	return s.pairing.Discover(ctx, timeout)
}

// Status returns a snapshot of the relay.
func (s *RelayService) Status() Status {
	snap := s.live.Snapshot()
	st := Status{
		State:           s.machine.State().String(),
		Connected:       s.conn.IsConnected(),
		Reconnecting:    s.strategy.IsReconnecting(),
		ReconnectTry:    s.strategy.CurrentAttempt(),
		ListenerEnabled: s.listener.ListenerEnabled(),
		WatchdogRunning: s.watchdog.IsRunning(),
		Subscriptions:   s.registry.Count(),
		PeerOnline:      s.pairing.PeerOnline(),
		LastMessage:     snap.LastMessage,
		LastConnection:  snap.LastConnection,
		ForceResets:     snap.ForceResetCount,
		DeepResets:      snap.DeepResetCount,
		StoppedAlerts:   s.machine.Alerts().StoppedCount(),
	}
	if p, ok := s.pairing.Active(); ok {
		st.PeerID = p.DeviceID
		st.PeerName = p.PeerName
	}
	return st
}

func (s *RelayService) handleConnected() {
	st := s.machine.State()
	if st.IsDegraded() && st.Reason() != health.ReasonPermissionRevoked {
		s.machine.ClearDegraded()
	}
	if err := s.pairing.RestoreActive(s.runContext()); err != nil {
		s.warn("restore peer status subscription", "error", err)
	}
	s.emitEvent(Event{Type: EventConnected})
}

func (s *RelayService) handleConnectionLost(err error) {
	gate := s.machine.Alerts()
	if gate.CanShowStoppedAlert() {
		s.notifier.Show("Relay stopped receiving events, reconnecting")
		gate.MarkShown()
		s.emitEvent(Event{Type: EventStoppedAlert})
	}
	s.degrade(health.ReasonConnectionLost)
	s.emitEvent(Event{Type: EventDisconnected, Error: err})
}

func (s *RelayService) handleStateChange(_, next health.State) {
	s.cfg.Metrics.SetServiceState(next.Kind().String(), knownKinds)
	s.emitEvent(Event{Type: EventStateChanged, State: next.String()})
}

// requestListenerRestart restarts the listener in the background. Calls
// while a restart is running are dropped.
func (s *RelayService) requestListenerRestart() {
	if !s.IsStarted() {
		return
	}
	if !s.restarting.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer s.restarting.Store(false)
		if err := s.restartListener(s.runContext()); err != nil {
			s.warn("listener restart failed", "error", err)
		}
	}()
}

func (s *RelayService) restartListener(ctx context.Context) error {
	s.emitEvent(Event{Type: EventListenerRestart})
	if err := s.listener.Disable(ctx); err != nil {
		s.debugLog("listener disable", "error", err)
	}
	_ = s.listener.Enable(ctx)
	if err := s.listener.Start(ctx); err != nil {
		s.degrade(health.ReasonInitializationFailed)
		return err
	}
	return nil
}

type logNotifier struct{ s *RelayService }

func (n logNotifier) Show(msg string) {
	if n.s.logger != nil {
		n.s.logger.Info(msg)
	}
}

type logSink struct{ s *RelayService }

func (l logSink) OnNotification(msg broker.Message) {
	l.s.debugLog("unrouted message", "topic", msg.Topic, "size", len(msg.Payload))
}
