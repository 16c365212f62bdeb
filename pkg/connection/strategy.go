package connection

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/notify-relay/relay-go/pkg/backoff"
	"github.com/notify-relay/relay-go/pkg/log"
	"github.com/notify-relay/relay-go/pkg/metrics"
)

// Connector is what the Strategy reconnects. Manager implements it.
type Connector interface {
	Connect(ctx context.Context) error
	IsConnected() bool
}

// Resubscriber replays subscriptions after a reconnect.
type Resubscriber interface {
	ResubscribeAll(ctx context.Context) error
}

// StrategyConfig configures a Strategy.
type StrategyConfig struct {
	// Table is the backoff sequence. Defaults to backoff.ReconnectTable.
	Table backoff.Table

	Metrics *metrics.Metrics

	// Logger is the optional logger for operational output.
	Logger *slog.Logger

	// TraceLogger receives reconnect events. Nil disables tracing.
	TraceLogger log.Logger
}

// Strategy schedules reconnection attempts with backoff. At most one
// attempt is pending or running at any time.
type Strategy struct {
	conn    Connector
	backoff *backoff.Backoff
	logger  *slog.Logger
	trace   log.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	inFlight atomic.Bool

	mu          sync.Mutex
	resub       Resubscriber
	timer       *time.Timer
	stopAttempt context.CancelFunc
	gen         uint64

	onReconnecting func(attempt int, delay time.Duration)
	onReconnected  func()
}

// NewStrategy creates a Strategy reconnecting conn.
func NewStrategy(conn Connector, cfg StrategyConfig) *Strategy {
	ctx, cancel := context.WithCancel(context.Background())
	return &Strategy{
		conn:    conn,
		backoff: backoff.New(cfg.Table),
		logger:  cfg.Logger,
		trace:   log.OrNoop(cfg.TraceLogger),
		metrics: cfg.Metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Strategy) debugLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

// SetResubscriber installs the subscription replayer.
func (s *Strategy) SetResubscriber(r Resubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resub = r
}

// OnReconnecting sets a callback invoked whenever an attempt is scheduled.
func (s *Strategy) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReconnecting = fn
}

// OnReconnected sets a callback invoked after a successful reconnect and
// subscription replay.
func (s *Strategy) OnReconnected(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReconnected = fn
}

// ScheduleReconnect schedules an attempt using the backoff table.
// It does nothing while an attempt is already pending or running.
func (s *Strategy) ScheduleReconnect() {
	s.schedule(0, false)
}

// ScheduleReconnectIn schedules an attempt after a fixed delay.
// It does nothing while an attempt is already pending or running.
func (s *Strategy) ScheduleReconnectIn(delay time.Duration) {
	s.schedule(delay, true)
}

func (s *Strategy) schedule(custom time.Duration, useCustom bool) {
	if s.ctx.Err() != nil {
		return
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		s.debugLog("reconnect already scheduled")
		return
	}

	delay := s.backoff.Peek()
	if useCustom {
		delay = custom
	}
	attempt := s.backoff.Attempts()

	s.mu.Lock()
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(s.ctx)
	s.stopAttempt = cancel
	s.timer = time.AfterFunc(delay, func() { s.fire(ctx, gen) })
	cb := s.onReconnecting
	s.mu.Unlock()

	s.metrics.ReconnectScheduled(attempt)
	s.trace.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerBroker,
		Category:  log.CategoryControl,
		Control:   &log.ControlEvent{Type: log.ControlReconnect, Attempt: attempt, Delay: delay},
	})
	s.debugLog("reconnect scheduled", "attempt", attempt, "delay", delay)

	if cb != nil {
		cb(attempt, delay)
	}
}

// fire runs one attempt. The in-flight flag stays set for the whole
// attempt so connection-loss callbacks cannot schedule a second one.
func (s *Strategy) fire(ctx context.Context, gen uint64) {
	if ctx.Err() != nil {
		return
	}

	err := s.conn.Connect(ctx)
	if ctx.Err() != nil {
		return
	}

	if err == nil {
		s.mu.Lock()
		resub := s.resub
		cb := s.onReconnected
		s.mu.Unlock()

		if resub != nil {
			if rerr := resub.ResubscribeAll(ctx); rerr != nil && s.logger != nil {
				s.logger.Warn("resubscribe after reconnect", "error", rerr)
			}
		}
		s.trace.Log(log.Event{
			Timestamp: time.Now(),
			Layer:     log.LayerBroker,
			Category:  log.CategoryControl,
			Control:   &log.ControlEvent{Type: log.ControlResubscribe},
		})
		s.ResetAttempts()
		if !s.finish(gen) {
			return
		}
		// A loss during replay was swallowed by the in-flight guard.
		if !s.conn.IsConnected() {
			s.debugLog("connection lost during reconnect, rescheduling")
			s.ScheduleReconnect()
			return
		}
		s.debugLog("reconnected")
		if cb != nil {
			cb()
		}
		return
	}

	s.debugLog("reconnect attempt failed", "attempt", s.backoff.Attempts(), "error", err)
	s.backoff.Advance()
	if s.finish(gen) {
		s.ScheduleReconnect()
	}
}

// finish clears the in-flight state if gen is still the current attempt.
func (s *Strategy) finish(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	s.timer = nil
	if s.stopAttempt != nil {
		s.stopAttempt()
		s.stopAttempt = nil
	}
	s.inFlight.Store(false)
	return true
}

// CancelReconnect cancels any pending or running attempt.
func (s *Strategy) CancelReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.stopAttempt != nil {
		s.stopAttempt()
		s.stopAttempt = nil
	}
	s.gen++
	s.inFlight.Store(false)
}

// ResetAttempts returns the backoff to its first entry.
func (s *Strategy) ResetAttempts() {
	s.backoff.Reset()
	s.metrics.ReconnectReset()
}

// CurrentAttempt returns the number of failed attempts since the last reset.
func (s *Strategy) CurrentAttempt() int {
	return s.backoff.Attempts()
}

// NextRetryInterval returns the delay the next table-driven attempt would use.
func (s *Strategy) NextRetryInterval() time.Duration {
	return s.backoff.Peek()
}

// IsReconnecting reports whether an attempt is pending or running.
func (s *Strategy) IsReconnecting() bool {
	return s.inFlight.Load()
}

// Close cancels any attempt and disables further scheduling.
func (s *Strategy) Close() {
	s.CancelReconnect()
	s.cancel()
}

var _ Reconnector = (*Strategy)(nil)
