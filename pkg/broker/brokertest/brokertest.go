// Package brokertest provides an in-memory broker.Client for tests.
package brokertest

import (
	"context"
	"sync"
	"time"

	"github.com/notify-relay/relay-go/pkg/broker"
)

// Publication is a recorded Publish call.
type Publication struct {
	Topic   string
	Payload []byte
	QoS     broker.QoS
}

// Client is a scriptable fake broker connection.
// All methods are safe for concurrent use.
type Client struct {
	mu sync.Mutex

	opts      broker.Options
	connected bool

	connectErr     error
	publishErr     error
	subscribeErr   error
	unsubscribeErr error
	connectGate    chan struct{}

	connectCalls    int
	disconnectCalls int
	published       []Publication
	subscribes      []string
	unsubscribes    []string
	subscribed      map[string]broker.QoS

	// loopback delivers publishes back to matching subscriptions.
	loopback bool
}

// NewClient creates a disconnected fake client.
func NewClient() *Client {
	return &Client{subscribed: make(map[string]broker.QoS)}
}

// Factory returns a broker.Factory that always hands out c, capturing the
// options it was built with.
func (c *Client) Factory() broker.Factory {
	return func(opts broker.Options) (broker.Client, error) {
		c.mu.Lock()
		c.opts = opts
		c.mu.Unlock()
		return c, nil
	}
}

// Options returns the options passed to the factory.
func (c *Client) Options() broker.Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

// SetConnectErr makes subsequent Connect calls fail with err (nil clears).
func (c *Client) SetConnectErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectErr = err
}

// SetPublishErr makes subsequent Publish calls fail with err.
func (c *Client) SetPublishErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishErr = err
}

// SetSubscribeErr makes subsequent Subscribe calls fail with err.
func (c *Client) SetSubscribeErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribeErr = err
}

// SetUnsubscribeErr makes subsequent Unsubscribe calls fail with err.
func (c *Client) SetUnsubscribeErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribeErr = err
}

// SetLoopback makes publishes be delivered to matching subscriptions.
func (c *Client) SetLoopback(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loopback = on
}

// BlockConnect makes Connect wait until the returned release func is called.
func (c *Client) BlockConnect() (release func()) {
	gate := make(chan struct{})
	c.mu.Lock()
	c.connectGate = gate
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			if c.connectGate == gate {
				c.connectGate = nil
			}
			c.mu.Unlock()
			close(gate)
		})
	}
}

// Connect implements broker.Client.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.connectCalls++
	gate := c.connectGate
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		c.connected = false
		return c.connectErr
	}
	c.connected = true
	c.subscribed = make(map[string]broker.QoS)
	return nil
}

// Disconnect implements broker.Client.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCalls++
	c.connected = false
	c.subscribed = make(map[string]broker.QoS)
	return nil
}

// IsConnected implements broker.Client.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Publish implements broker.Client.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos broker.QoS) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return broker.ErrNotConnected
	}
	if c.publishErr != nil {
		err := c.publishErr
		c.mu.Unlock()
		return err
	}
	c.published = append(c.published, Publication{
		Topic:   topic,
		Payload: append([]byte(nil), payload...),
		QoS:     qos,
	})
	deliver := false
	if c.loopback {
		for f := range c.subscribed {
			if broker.Match(f, topic) {
				deliver = true
				break
			}
		}
	}
	handler := c.opts.OnMessage
	c.mu.Unlock()

	if deliver && handler != nil {
		handler(broker.Message{Topic: topic, Payload: payload, QoS: qos, Received: time.Now()})
	}
	return nil
}

// Subscribe implements broker.Client.
func (c *Client) Subscribe(ctx context.Context, filter string, qos broker.QoS) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return broker.ErrNotConnected
	}
	c.subscribes = append(c.subscribes, filter)
	if c.subscribeErr != nil {
		return c.subscribeErr
	}
	c.subscribed[filter] = qos
	return nil
}

// Unsubscribe implements broker.Client.
func (c *Client) Unsubscribe(ctx context.Context, filter string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return broker.ErrNotConnected
	}
	c.unsubscribes = append(c.unsubscribes, filter)
	if c.unsubscribeErr != nil {
		return c.unsubscribeErr
	}
	delete(c.subscribed, filter)
	return nil
}

// DropConnection simulates an unexpected connection loss.
func (c *Client) DropConnection(err error) {
	c.mu.Lock()
	c.connected = false
	c.subscribed = make(map[string]broker.QoS)
	lost := c.opts.OnConnectionLost
	c.mu.Unlock()

	if lost != nil {
		lost(err)
	}
}

// Deliver simulates an inbound message.
func (c *Client) Deliver(topic string, payload []byte) {
	c.mu.Lock()
	handler := c.opts.OnMessage
	c.mu.Unlock()

	if handler != nil {
		handler(broker.Message{Topic: topic, Payload: payload, Received: time.Now()})
	}
}

// ConnectCalls returns the number of Connect calls.
func (c *Client) ConnectCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectCalls
}

// DisconnectCalls returns the number of Disconnect calls.
func (c *Client) DisconnectCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnectCalls
}

// Published returns a copy of all recorded publishes.
func (c *Client) Published() []Publication {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Publication(nil), c.published...)
}

// PublishedTo returns recorded publishes for one topic.
func (c *Client) PublishedTo(topic string) []Publication {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Publication
	for _, p := range c.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// SubscribeCalls returns every filter passed to Subscribe, in call order.
func (c *Client) SubscribeCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subscribes...)
}

// UnsubscribeCalls returns every filter passed to Unsubscribe, in call order.
func (c *Client) UnsubscribeCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.unsubscribes...)
}

// IsSubscribed reports whether filter is currently subscribed.
func (c *Client) IsSubscribed(filter string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscribed[filter]
	return ok
}

var _ broker.Client = (*Client)(nil)
