// Package natsclient implements broker.Client over NATS core subjects.
//
// Relay topics are mapped onto NATS subjects by replacing the level
// separator: "device/abc/status" becomes "device.abc.status". The MQTT
// wildcards "+" and "#" map to "*" and ">". Topic levels therefore must
// not contain ".".
//
// NATS core has no per-message QoS. Publishes at AtLeastOnce or above are
// followed by a flush so the call returns only after the server has the
// message.
package natsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/notify-relay/relay-go/pkg/broker"
)

// ErrInvalidTopic is returned for topics that cannot be mapped to a subject.
var ErrInvalidTopic = errors.New("topic cannot be mapped to a nats subject")

// TopicToSubject converts a relay topic or filter to a NATS subject.
func TopicToSubject(topic string) (string, error) {
	if topic == "" {
		return "", broker.ErrEmptyTopic
	}
	levels := strings.Split(topic, "/")
	for i, l := range levels {
		switch {
		case l == "":
			return "", fmt.Errorf("%w: %q has an empty level", ErrInvalidTopic, topic)
		case strings.ContainsAny(l, ". \t"):
			return "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
		case l == "+":
			levels[i] = "*"
		case l == "#":
			if i != len(levels)-1 {
				return "", fmt.Errorf("%w: %q uses # before the last level", ErrInvalidTopic, topic)
			}
			levels[i] = ">"
		}
	}
	return strings.Join(levels, "."), nil
}

// SubjectToTopic converts a concrete NATS subject back to a relay topic.
func SubjectToTopic(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}

// Client is a broker.Client backed by a NATS connection.
type Client struct {
	opts   broker.Options
	logger *slog.Logger

	mu   sync.Mutex
	nc   *nats.Conn
	subs map[string]*nats.Subscription

	closing atomic.Bool
}

// New creates a Client. The connection is not opened until Connect.
func New(opts broker.Options, logger *slog.Logger) (*Client, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		opts:   opts,
		logger: logger,
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// NewFactory returns a broker.Factory producing NATS clients.
func NewFactory(logger *slog.Logger) broker.Factory {
	return func(opts broker.Options) (broker.Client, error) {
		return New(opts, logger)
	}
}

func (c *Client) natsOptions() []nats.Option {
	opts := []nats.Option{
		nats.Name(c.opts.ClientID),
		nats.NoReconnect(),
		nats.Timeout(c.opts.ConnectTimeout),
		nats.PingInterval(c.opts.KeepAlive),
		nats.MaxPingsOutstanding(2),
		nats.DisconnectErrHandler(c.onDisconnect),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			c.logger.Warn("nats async error", "subject", subject, "error", err)
		}),
	}
	if c.opts.Username != "" {
		opts = append(opts, nats.UserInfo(c.opts.Username, c.opts.Password))
	}
	return opts
}

func (c *Client) onDisconnect(_ *nats.Conn, err error) {
	if c.closing.Load() {
		return
	}
	if err == nil {
		err = nats.ErrConnectionClosed
	}
	c.logger.Warn("nats connection lost", "url", c.opts.URL, "error", err)
	if c.opts.OnConnectionLost != nil {
		c.opts.OnConnectionLost(err)
	}
}

// Connect dials the server. nats.Connect has no context, so a cancelled
// ctx abandons the dial and closes whatever it produces.
func (c *Client) Connect(ctx context.Context) error {
	c.closing.Store(false)

	type result struct {
		nc  *nats.Conn
		err error
	}
	done := make(chan result, 1)
	go func() {
		nc, err := nats.Connect(c.opts.URL, c.natsOptions()...)
		done <- result{nc, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		go func() {
			if late := <-done; late.nc != nil {
				late.nc.Close()
			}
		}()
		return ctx.Err()
	}
	if r.err != nil {
		return fmt.Errorf("nats connect %s: %w", c.opts.URL, r.err)
	}

	c.mu.Lock()
	old := c.nc
	c.nc = r.nc
	c.subs = make(map[string]*nats.Subscription)
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	c.logger.Debug("nats connected", "url", c.opts.URL, "server", r.nc.ConnectedServerId())
	return nil
}

// Disconnect drains nothing and closes immediately.
func (c *Client) Disconnect(ctx context.Context) error {
	c.closing.Store(true)

	c.mu.Lock()
	nc := c.nc
	c.nc = nil
	c.subs = make(map[string]*nats.Subscription)
	c.mu.Unlock()

	if nc != nil {
		nc.Close()
	}
	return nil
}

// IsConnected reports whether the connection is in the CONNECTED state.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nc != nil && c.nc.IsConnected()
}

func (c *Client) conn() (*nats.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc == nil || !c.nc.IsConnected() {
		return nil, broker.ErrNotConnected
	}
	return c.nc, nil
}

// Publish sends payload on the subject derived from topic.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos broker.QoS) error {
	if err := broker.CheckPublish(topic, qos); err != nil {
		return err
	}
	subject, err := TopicToSubject(topic)
	if err != nil {
		return err
	}
	if strings.ContainsAny(subject, "*>") {
		return fmt.Errorf("%w: cannot publish to wildcard %q", ErrInvalidTopic, topic)
	}
	nc, err := c.conn()
	if err != nil {
		return err
	}

	if err := nc.Publish(subject, payload); err != nil {
		return err
	}
	if qos >= broker.AtLeastOnce {
		return nc.FlushWithContext(ctx)
	}
	return nil
}

// Subscribe registers filter and flushes so the server has the interest
// before returning.
func (c *Client) Subscribe(ctx context.Context, filter string, qos broker.QoS) error {
	if err := broker.CheckPublish(filter, qos); err != nil {
		return err
	}
	subject, err := TopicToSubject(filter)
	if err != nil {
		return err
	}
	nc, err := c.conn()
	if err != nil {
		return err
	}

	sub, err := nc.Subscribe(subject, func(m *nats.Msg) {
		if c.opts.OnMessage == nil {
			return
		}
		c.opts.OnMessage(broker.Message{
			Topic:    SubjectToTopic(m.Subject),
			Payload:  m.Data,
			QoS:      broker.AtMostOnce,
			Received: time.Now(),
		})
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	if prev, ok := c.subs[filter]; ok {
		_ = prev.Unsubscribe()
	}
	c.subs[filter] = sub
	c.mu.Unlock()

	return nc.FlushWithContext(ctx)
}

// Unsubscribe removes filter.
func (c *Client) Unsubscribe(ctx context.Context, filter string) error {
	if _, err := c.conn(); err != nil {
		return err
	}

	c.mu.Lock()
	sub, ok := c.subs[filter]
	delete(c.subs, filter)
	c.mu.Unlock()

	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

var _ broker.Client = (*Client)(nil)
