package watchdog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/notify-relay/relay-go/pkg/backoff"
	"github.com/notify-relay/relay-go/pkg/health"
	"github.com/notify-relay/relay-go/pkg/log"
	"github.com/notify-relay/relay-go/pkg/metrics"
)

// Default intervals and thresholds.
const (
	DefaultInterval             = 15 * time.Minute
	DefaultIndependentInterval  = 3 * time.Hour
	DefaultRetryThreshold       = time.Hour
	DefaultIndependentThreshold = 6 * time.Hour
	DefaultCeiling              = 12 * time.Hour
)

// Watchdog errors.
var (
	ErrAlreadyRunning   = errors.New("watchdog already running")
	ErrRepairInProgress = errors.New("repair already in progress")
	ErrMissingDeps      = errors.New("watchdog: component, health and liveness are required")
)

// Component is the listening component the watchdog repairs.
type Component interface {
	Disable(ctx context.Context) error
	Enable(ctx context.Context) error
	Start(ctx context.Context) error
}

// ListenerStatus reports whether the notification listener is enabled.
type ListenerStatus interface {
	ListenerEnabled() bool
}

// RestartCallback asks the hosting process to restart the listening
// component.
type RestartCallback interface {
	OnRestartNeeded()
}

// RestartFunc adapts a function to RestartCallback.
type RestartFunc func()

// OnRestartNeeded calls f.
func (f RestartFunc) OnRestartNeeded() { f() }

// StatusNotifier surfaces best-effort status messages to the user.
type StatusNotifier interface {
	Show(message string)
}

// Health is the part of the health machine the watchdog uses.
type Health interface {
	State() health.State
	SetDegraded(reason health.Reason)
}

// Liveness is the part of the liveness record the watchdog uses.
type Liveness interface {
	LastMessage() time.Time
	ClearTimestamps()
	IncForceReset() int64
	IncDeepReset() int64
}

// Pauses are the waits between repair steps.
type Pauses struct {
	Short time.Duration // 1s
	Long  time.Duration // 2s
}

// DefaultPauses returns the production repair pauses.
func DefaultPauses() Pauses {
	return Pauses{Short: time.Second, Long: 2 * time.Second}
}

// Config configures a Watchdog.
type Config struct {
	Component Component
	Health    Health
	Liveness  Liveness

	// Listener may be nil, meaning always enabled.
	Listener ListenerStatus

	// Restart may be nil; simple restarts are then only logged.
	Restart RestartCallback

	Notifier StatusNotifier

	Interval             time.Duration
	IndependentInterval  time.Duration
	RetryThreshold       time.Duration
	IndependentThreshold time.Duration
	Ceiling              time.Duration

	// Table gates simple restarts. Defaults to backoff.WatchdogTable.
	Table backoff.Table

	// Pauses between repair steps. Zero values use DefaultPauses.
	Pauses Pauses

	Metrics *metrics.Metrics

	// Logger is the optional logger for operational output.
	Logger *slog.Logger

	// TraceLogger receives repair events. Nil disables tracing.
	TraceLogger log.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.IndependentInterval <= 0 {
		c.IndependentInterval = DefaultIndependentInterval
	}
	if c.RetryThreshold <= 0 {
		c.RetryThreshold = DefaultRetryThreshold
	}
	if c.IndependentThreshold <= 0 {
		c.IndependentThreshold = DefaultIndependentThreshold
	}
	if c.Ceiling <= 0 {
		c.Ceiling = DefaultCeiling
	}
	if len(c.Table) == 0 {
		c.Table = backoff.WatchdogTable()
	}
	def := DefaultPauses()
	if c.Pauses.Short <= 0 {
		c.Pauses.Short = def.Short
	}
	if c.Pauses.Long <= 0 {
		c.Pauses.Long = def.Long
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Watchdog monitors liveness and runs the repair ladder.
type Watchdog struct {
	cfg     Config
	backoff *backoff.Backoff
	trace   log.Logger

	repairing atomic.Bool

	mu        sync.Mutex
	baseline  time.Time
	lastRetry time.Time
	retryWait time.Duration
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a stopped Watchdog.
func New(cfg Config) (*Watchdog, error) {
	if cfg.Component == nil || cfg.Health == nil || cfg.Liveness == nil {
		return nil, ErrMissingDeps
	}
	cfg.applyDefaults()
	return &Watchdog{
		cfg:      cfg,
		backoff:  backoff.New(cfg.Table),
		trace:    log.OrNoop(cfg.TraceLogger),
		baseline: cfg.Now(),
	}, nil
}

func (w *Watchdog) debugLog(msg string, args ...any) {
	if w.cfg.Logger != nil {
		w.cfg.Logger.Debug(msg, args...)
	}
}

func (w *Watchdog) warn(msg string, args ...any) {
	if w.cfg.Logger != nil {
		w.cfg.Logger.Warn(msg, args...)
	}
}

func (w *Watchdog) notify(msg string) {
	if w.cfg.Notifier != nil {
		w.cfg.Notifier.Show(msg)
	}
}

// Start launches the main and independent checks. It sets the silence
// baseline to now.
func (w *Watchdog) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return ErrAlreadyRunning
	}

	w.baseline = w.cfg.Now()
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	done := make(chan struct{})
	w.done = done

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.loop(ctx, w.Check, w.NextCheckIn)
	}()
	go func() {
		defer wg.Done()
		w.loop(ctx, w.CheckIndependent, func(Action) time.Duration {
			return w.cfg.IndependentInterval
		})
	}()
	go func() {
		wg.Wait()
		close(done)
	}()

	w.debugLog("watchdog started", "interval", w.cfg.Interval, "independent", w.cfg.IndependentInterval)
	return nil
}

// Stop cancels both periodic tasks, including a repair in progress, and
// waits for them to exit.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	w.debugLog("watchdog stopped")
}

// IsRunning reports whether the periodic tasks are active.
func (w *Watchdog) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

// loop runs check after each delay chosen by next from the previous action.
func (w *Watchdog) loop(ctx context.Context, check func(context.Context) Action, next func(Action) time.Duration) {
	t := time.NewTimer(next(ActionNone))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			t.Reset(next(check(ctx)))
		}
	}
}

// NextCheckIn returns the delay before the main check runs again after
// action. While simple restarts are being retried the check wakes when the
// retry gate opens, so the early table entries apply; otherwise it runs
// every Interval.
func (w *Watchdog) NextCheckIn(action Action) time.Duration {
	if action != ActionRestart && action != ActionGated {
		return w.cfg.Interval
	}
	w.mu.Lock()
	remaining := w.retryWait - w.cfg.Now().Sub(w.lastRetry)
	w.mu.Unlock()
	if remaining <= 0 || remaining > w.cfg.Interval {
		return w.cfg.Interval
	}
	return remaining
}

// Silence returns the time since the later of the last inbound message and
// the baseline.
func (w *Watchdog) Silence() time.Duration {
	last := w.cfg.Liveness.LastMessage()
	w.mu.Lock()
	if w.baseline.After(last) {
		last = w.baseline
	}
	w.mu.Unlock()
	d := w.cfg.Now().Sub(last)
	if d < 0 {
		return 0
	}
	return d
}

// Backoff returns the simple-restart gating position.
func (w *Watchdog) Backoff() int {
	return w.backoff.Attempts()
}

func (w *Watchdog) idle() bool {
	s := w.cfg.Health.State()
	return s.IsStopped() || s.IsDisabled()
}

// Check runs one main-loop cycle and returns the action it took.
func (w *Watchdog) Check(ctx context.Context) Action {
	if w.idle() {
		return ActionSkipped
	}

	if w.cfg.Listener != nil && !w.cfg.Listener.ListenerEnabled() {
		w.warn("notification listener disabled, requesting restart")
		w.requestRestart("listener_disabled", 0)
		return ActionListenerRestart
	}

	silence := w.Silence()
	w.cfg.Metrics.SetSilence(silence)

	switch {
	case silence > w.cfg.Ceiling:
		if err := w.DeepReset(ctx, "ceiling"); errors.Is(err, ErrRepairInProgress) {
			return ActionBusy
		}
		return ActionDeepReset

	case silence > w.cfg.RetryThreshold:
		now := w.cfg.Now()
		w.mu.Lock()
		wait := w.retryWait
		gated := !w.lastRetry.IsZero() && now.Sub(w.lastRetry) < wait
		if !gated {
			w.lastRetry = now
			w.retryWait = w.backoff.Next()
		}
		w.mu.Unlock()
		if gated {
			w.debugLog("restart gated by backoff", "silence", silence, "wait", wait)
			return ActionGated
		}
		w.requestRestart("stale", silence)
		return ActionRestart

	default:
		w.resetGate()
		return ActionNone
	}
}

// CheckIndependent runs one independent check.
func (w *Watchdog) CheckIndependent(ctx context.Context) Action {
	if w.idle() {
		return ActionSkipped
	}
	if silence := w.Silence(); silence > w.cfg.IndependentThreshold {
		if err := w.ForcedReset(ctx, "independent"); errors.Is(err, ErrRepairInProgress) {
			return ActionBusy
		}
		return ActionForcedReset
	}
	return ActionNone
}

func (w *Watchdog) requestRestart(trigger string, silence time.Duration) {
	w.notify("Restarting notification listener")
	ok := w.cfg.Restart != nil
	if ok {
		w.cfg.Restart.OnRestartNeeded()
	} else {
		w.debugLog("no restart callback configured")
	}
	w.cfg.Metrics.Repair(log.RepairRestart.String(), ok)
	w.traceRepair(log.RepairRestart, trigger, silence, ok)
}

func (w *Watchdog) traceRepair(action log.RepairAction, trigger string, silence time.Duration, ok bool) {
	w.trace.Log(log.Event{
		Timestamp: w.cfg.Now(),
		Layer:     log.LayerWatchdog,
		Category:  log.CategoryRepair,
		Repair: &log.RepairEvent{
			Action:  action,
			Silence: silence,
			Trigger: trigger,
			Success: ok,
		},
	})
}
