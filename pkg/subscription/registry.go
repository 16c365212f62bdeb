package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/notify-relay/relay-go/pkg/broker"
	"github.com/notify-relay/relay-go/pkg/metrics"
)

// ErrNotConnected is returned when the broker connection is down.
var ErrNotConnected = broker.ErrNotConnected

// Subscriber is the broker side of the registry. connection.Manager
// implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, qos broker.QoS) error
	Unsubscribe(ctx context.Context, topic string) error
	IsConnected() bool
}

// Subscription is a tracked topic filter.
type Subscription struct {
	Topic string
	QoS   broker.QoS
}

// Registry is the set of tracked subscriptions, unique by topic.
// It is safe for concurrent use.
type Registry struct {
	sub     Subscriber
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	active  map[string]broker.QoS
	pending map[string]struct{}
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics reports the tracked count.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates an empty registry on top of sub.
func NewRegistry(sub Subscriber, opts ...Option) *Registry {
	r := &Registry{
		sub:     sub,
		active:  make(map[string]broker.QoS),
		pending: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) debugLog(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}

// Subscribe subscribes to topic and tracks it.
//
// It returns nil without calling the broker if topic is already tracked or
// a subscribe for it is in progress. Otherwise it fails with
// ErrNotConnected when disconnected.
func (r *Registry) Subscribe(ctx context.Context, topic string, qos broker.QoS) error {
	r.mu.Lock()
	if _, ok := r.active[topic]; ok {
		r.mu.Unlock()
		return nil
	}
	if _, ok := r.pending[topic]; ok {
		r.mu.Unlock()
		return nil
	}
	if !r.sub.IsConnected() {
		r.mu.Unlock()
		return ErrNotConnected
	}
	r.pending[topic] = struct{}{}
	r.mu.Unlock()

	err := r.sub.Subscribe(ctx, topic, qos)

	r.mu.Lock()
	delete(r.pending, topic)
	if err == nil {
		r.active[topic] = qos
	}
	n := len(r.active)
	r.mu.Unlock()

	if err != nil {
		return err
	}
	r.metrics.SetSubscriptions(n)
	r.debugLog("subscribed", "topic", topic, "qos", qos)
	return nil
}

// Unsubscribe unsubscribes from topic. The topic is untracked even when
// the broker call fails.
func (r *Registry) Unsubscribe(ctx context.Context, topic string) error {
	err := r.sub.Unsubscribe(ctx, topic)

	r.mu.Lock()
	delete(r.active, topic)
	n := len(r.active)
	r.mu.Unlock()

	r.metrics.SetSubscriptions(n)
	if err != nil {
		r.debugLog("unsubscribe failed, untracked anyway", "topic", topic, "error", err)
	}
	return err
}

// ResubscribeAll re-issues one subscribe per tracked topic. Failed topics
// stay tracked for the next replay. The returned error joins all failures.
func (r *Registry) ResubscribeAll(ctx context.Context) error {
	if !r.sub.IsConnected() {
		return ErrNotConnected
	}

	var errs []error
	for _, s := range r.ActiveSubscriptions() {
		if err := r.sub.Subscribe(ctx, s.Topic, s.QoS); err != nil {
			errs = append(errs, fmt.Errorf("resubscribe %s: %w", s.Topic, err))
		}
	}
	r.debugLog("resubscribed", "count", r.Count(), "failed", len(errs))
	return errors.Join(errs...)
}

// Clear forgets all tracked subscriptions without touching the broker.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.active = make(map[string]broker.QoS)
	r.mu.Unlock()
	r.metrics.SetSubscriptions(0)
}

// ActiveSubscriptions returns a sorted copy of the tracked set.
func (r *Registry) ActiveSubscriptions() []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Subscription, 0, len(r.active))
	for t, q := range r.active {
		out = append(out, Subscription{Topic: t, QoS: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

// Has reports whether topic is tracked.
func (r *Registry) Has(topic string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.active[topic]
	return ok
}

// Count returns the number of tracked topics.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}
