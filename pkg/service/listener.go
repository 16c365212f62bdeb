package service

import (
	"context"
	"sync/atomic"

	"github.com/notify-relay/relay-go/pkg/watchdog"
)

// listener is the relay's broker listener as seen by the watchdog.
type listener struct {
	s       *RelayService
	enabled atomic.Bool
}

// Disable closes the connection but keeps the tracked subscriptions and
// the pairing so Start can replay them.
func (l *listener) Disable(ctx context.Context) error {
	l.enabled.Store(false)
	return l.s.conn.Close(ctx)
}

func (l *listener) Enable(ctx context.Context) error {
	l.enabled.Store(true)
	return nil
}

// Start connects and replays tracked subscriptions.
func (l *listener) Start(ctx context.Context) error {
	if !l.enabled.Load() {
		return ErrListenerDisabled
	}
	if err := l.s.conn.Connect(ctx); err != nil {
		return err
	}
	if err := l.s.registry.ResubscribeAll(ctx); err != nil {
		l.s.warn("resubscribe after start", "error", err)
	}
	return nil
}

func (l *listener) ListenerEnabled() bool {
	return l.enabled.Load()
}

var (
	_ watchdog.Component      = (*listener)(nil)
	_ watchdog.ListenerStatus = (*listener)(nil)
)
