package health

import (
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/notify-relay/relay-go/pkg/log"
	"github.com/notify-relay/relay-go/pkg/persistence"
)

// Persisted keys in the service namespace.
const (
	KeyCurrentState      = "current_state"
	KeyDegradedReason    = "degraded_reason"
	KeyLastStateChange   = "last_state_change_time"
	KeyStoppedAlertShown = "stopped_alert_shown"
	KeyStoppedAlertCount = "stopped_alert_count"
)

// DefaultQueueSize is the default depth of the persistence queue.
const DefaultQueueSize = 128

// ErrNoStore is returned by NewMachine when no store is configured.
var ErrNoStore = errors.New("health: store is required")

// Config configures a Machine.
type Config struct {
	// Store receives the persisted state. Usually a persistence.Namespace
	// scoped to "service".
	Store persistence.Store

	// Logger is the optional logger for operational output.
	Logger *slog.Logger

	// TraceLogger receives state change events. Nil disables tracing.
	TraceLogger log.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// QueueSize is the persistence queue depth.
	QueueSize int
}

// kv is one persisted key/value pair.
type kv struct {
	key   string
	value string
}

// writeOp is a batch of persisted values applied atomically with respect
// to other batches.
type writeOp struct {
	values []kv
	ack    chan struct{}
}

// Machine is the persisted service health state machine.
// It is safe for concurrent use.
type Machine struct {
	store  persistence.Store
	logger *slog.Logger
	trace  log.Logger
	now    func() time.Time

	mu         sync.RWMutex
	state      State
	lastChange time.Time
	shown      bool
	count      int64
	closed     bool
	observers  []func(old, new State)

	writes chan writeOp
	done   chan struct{}

	alerts *AlertGate
}

// NewMachine loads persisted state and starts the persistence writer.
// Missing or unreadable values fall back to Running with a fresh gate.
func NewMachine(cfg Config) (*Machine, error) {
	if cfg.Store == nil {
		return nil, ErrNoStore
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	m := &Machine{
		store:  cfg.Store,
		logger: cfg.Logger,
		trace:  log.OrNoop(cfg.TraceLogger),
		now:    cfg.Now,
		writes: make(chan writeOp, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	m.alerts = &AlertGate{m: m}
	m.load()

	go m.writer()
	return m, nil
}

func (m *Machine) load() {
	kind, err := persistence.LoadString(m.store, KeyCurrentState)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		m.warn("load state", "error", err)
	}
	reason, _ := persistence.LoadString(m.store, KeyDegradedReason)
	m.state = stateFromStore(kind, reason)

	if t, err := persistence.LoadTime(m.store, KeyLastStateChange); err == nil {
		m.lastChange = t
	}
	if b, err := persistence.LoadBool(m.store, KeyStoppedAlertShown); err == nil {
		m.shown = b
	}
	if n, err := persistence.LoadInt(m.store, KeyStoppedAlertCount); err == nil && n > 0 {
		m.count = n
	}
}

func (m *Machine) debugLog(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Debug(msg, args...)
	}
}

func (m *Machine) warn(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Warn(msg, args...)
	}
}

// writer applies queued batches in order. Persistence errors are logged and
// otherwise ignored; the in-memory state stays authoritative.
func (m *Machine) writer() {
	defer close(m.done)
	for op := range m.writes {
		for _, v := range op.values {
			if err := persistence.SaveString(m.store, v.key, v.value); err != nil {
				m.warn("persist health state", "key", v.key, "error", err)
			}
		}
		if op.ack != nil {
			close(op.ack)
		}
	}
}

// enqueue must be called with m.mu held so queue order matches the order
// of in-memory updates.
func (m *Machine) enqueue(values []kv, ack chan struct{}) {
	if m.closed {
		if ack != nil {
			close(ack)
		}
		m.warn("health machine closed, dropping write")
		return
	}
	m.writes <- writeOp{values: values, ack: ack}
}

func (m *Machine) stateValues() []kv {
	return []kv{
		{KeyCurrentState, m.state.kind.String()},
		{KeyDegradedReason, m.state.reason.String()},
		{KeyLastStateChange, strconv.FormatInt(unixMilli(m.lastChange), 10)},
	}
}

func (m *Machine) gateValues() []kv {
	return []kv{
		{KeyStoppedAlertShown, strconv.FormatBool(m.shown)},
		{KeyStoppedAlertCount, strconv.FormatInt(m.count, 10)},
	}
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// LastChange returns when the state last changed. Zero if it never has.
func (m *Machine) LastChange() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastChange
}

// Alerts returns the stopped-alert gate bound to this machine.
func (m *Machine) Alerts() *AlertGate {
	return m.alerts
}

// OnStateChange registers an observer called after every change of state.
// Observers run on the caller's goroutine.
func (m *Machine) OnStateChange(fn func(old, new State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// SetState sets the state and persists it asynchronously.
func (m *Machine) SetState(s State) {
	m.set(s, nil)
}

// SetStateSync sets the state and blocks until it and all previously
// queued writes are persisted.
func (m *Machine) SetStateSync(s State) {
	ack := make(chan struct{})
	m.set(s, ack)
	<-ack
}

// SetDegraded moves to Degraded(reason).
func (m *Machine) SetDegraded(reason Reason) {
	m.SetState(Degraded(reason))
}

// ClearDegraded returns to Running.
func (m *Machine) ClearDegraded() {
	m.SetState(Running())
}

func (m *Machine) set(s State, ack chan struct{}) {
	m.mu.Lock()
	old := m.state
	if !old.CanTransitionTo(s) {
		m.warn("unexpected health transition", "from", old.String(), "to", s.String())
	}
	m.state = s
	if old != s {
		m.lastChange = m.now()
	}
	m.enqueue(m.stateValues(), ack)
	observers := append([]func(old, new State){}, m.observers...)
	m.mu.Unlock()

	if old == s {
		return
	}
	m.debugLog("health state changed", "from", old.String(), "to", s.String())
	m.traceChange(old, s)
	for _, fn := range observers {
		fn(old, s)
	}
}

func (m *Machine) traceChange(old, s State) {
	reason := ""
	if s.IsDegraded() {
		reason = s.reason.String()
	}
	m.trace.Log(log.Event{
		Timestamp: m.now(),
		Layer:     log.LayerService,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityService,
			OldState: old.kind.String(),
			NewState: s.kind.String(),
			Reason:   reason,
		},
	})
}

// ResetOnAppOpen handles the app being brought to the foreground:
// Disabled becomes Running and the alert gate is reset. Other states are
// left unchanged.
func (m *Machine) ResetOnAppOpen() State {
	m.mu.Lock()
	old := m.state
	if old.IsDisabled() {
		m.state = Running()
		m.lastChange = m.now()
	}
	m.shown = false
	values := append(m.stateValues(), m.gateValues()...)
	m.enqueue(values, nil)
	s := m.state
	observers := append([]func(old, new State){}, m.observers...)
	m.mu.Unlock()

	if old != s {
		m.debugLog("health state reset on app open", "from", old.String())
		m.traceChange(old, s)
		for _, fn := range observers {
			fn(old, s)
		}
	}
	return s
}

// Flush blocks until every queued write has been applied.
func (m *Machine) Flush() {
	ack := make(chan struct{})
	m.mu.Lock()
	m.enqueue(nil, ack)
	m.mu.Unlock()
	<-ack
}

// Close drains the queue and stops the writer. The store is not closed.
// State can still be read after Close; further writes are dropped.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.writes)
	m.mu.Unlock()
	<-m.done
}
