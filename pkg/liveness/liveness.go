// Package liveness records evidence that the relay is still receiving
// traffic. Collaborators write timestamps as messages and connections
// happen; the watchdog reads them to decide whether repairs are needed.
//
// Writes are last-write-wins. Each mark updates memory immediately and
// persists synchronously; persistence errors are logged and ignored.
package liveness

import (
	"log/slog"
	"sync"
	"time"

	"github.com/notify-relay/relay-go/pkg/persistence"
)

// Persisted keys in the liveness namespace.
const (
	KeyLastNotification = "last_notification_received"
	KeyLastConnection   = "last_connection_time"
	KeyForceResetCount  = "force_reset_count"
	KeyDeepResetCount   = "deep_reset_count"
)

// Snapshot is a point-in-time copy of the liveness record.
type Snapshot struct {
	LastMessage     time.Time
	LastConnection  time.Time
	ForceResetCount int64
	DeepResetCount  int64
}

// Tracker holds the liveness record.
type Tracker struct {
	store  persistence.Store
	logger *slog.Logger
	now    func() time.Time

	mu   sync.RWMutex
	snap Snapshot
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger for persistence errors.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a Tracker and loads any persisted record. A nil store keeps
// the record in memory only.
func New(store persistence.Store, opts ...Option) *Tracker {
	if store == nil {
		store = persistence.NewMemoryStore()
	}
	t := &Tracker{store: store, now: time.Now}
	for _, o := range opts {
		o(t)
	}

	if v, err := persistence.LoadTime(store, KeyLastNotification); err == nil {
		t.snap.LastMessage = v
	}
	if v, err := persistence.LoadTime(store, KeyLastConnection); err == nil {
		t.snap.LastConnection = v
	}
	if v, err := persistence.LoadInt(store, KeyForceResetCount); err == nil {
		t.snap.ForceResetCount = v
	}
	if v, err := persistence.LoadInt(store, KeyDeepResetCount); err == nil {
		t.snap.DeepResetCount = v
	}
	return t
}

func (t *Tracker) persist(err error, key string) {
	if err != nil && t.logger != nil {
		t.logger.Warn("persist liveness", "key", key, "error", err)
	}
}

// MarkMessageReceived records an inbound message now.
func (t *Tracker) MarkMessageReceived() {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.LastMessage = now
	t.persist(persistence.SaveTime(t.store, KeyLastNotification, now), KeyLastNotification)
}

// MarkConnected records a successful broker connection now.
func (t *Tracker) MarkConnected() {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.LastConnection = now
	t.persist(persistence.SaveTime(t.store, KeyLastConnection, now), KeyLastConnection)
}

// IncForceReset increments the forced reset counter and returns it.
func (t *Tracker) IncForceReset() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.ForceResetCount++
	t.persist(persistence.SaveInt(t.store, KeyForceResetCount, t.snap.ForceResetCount), KeyForceResetCount)
	return t.snap.ForceResetCount
}

// IncDeepReset increments the deep reset counter and returns it.
func (t *Tracker) IncDeepReset() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.DeepResetCount++
	t.persist(persistence.SaveInt(t.store, KeyDeepResetCount, t.snap.DeepResetCount), KeyDeepResetCount)
	return t.snap.DeepResetCount
}

// ClearTimestamps forgets the last message and connection times. Counters
// are kept.
func (t *Tracker) ClearTimestamps() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.LastMessage = time.Time{}
	t.snap.LastConnection = time.Time{}
	t.persist(t.store.Delete(KeyLastNotification), KeyLastNotification)
	t.persist(t.store.Delete(KeyLastConnection), KeyLastConnection)
}

// LastMessage returns the last inbound message time, zero if none.
func (t *Tracker) LastMessage() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap.LastMessage
}

// LastConnection returns the last connection time, zero if none.
func (t *Tracker) LastConnection() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap.LastConnection
}

// Snapshot returns a copy of the record.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}
