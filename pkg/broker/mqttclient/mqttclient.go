// Package mqttclient implements broker.Client on top of Eclipse Paho.
//
// The Paho client is configured with a clean session and with both
// auto-reconnect and connect-retry disabled; the relay's connection
// manager decides when to reconnect.
package mqttclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/notify-relay/relay-go/pkg/broker"
)

// disconnectQuiesce is how long Disconnect waits for in-flight work, in ms.
const disconnectQuiesce = 250

// Client is a broker.Client backed by a Paho MQTT client.
type Client struct {
	opts   broker.Options
	client mqtt.Client
	logger *slog.Logger

	// closing suppresses OnConnectionLost during an explicit Disconnect.
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

	c := &Client{opts: opts, logger: logger}
	c.client = mqtt.NewClient(c.clientOptions())
	return c, nil
}

// NewFactory returns a broker.Factory producing MQTT clients.
func NewFactory(logger *slog.Logger) broker.Factory {
	return func(opts broker.Options) (broker.Client, error) {
		return New(opts, logger)
	}
}

func (c *Client) clientOptions() *mqtt.ClientOptions {
	o := mqtt.NewClientOptions().
		AddBroker(c.opts.URL).
		SetClientID(c.opts.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(c.opts.ConnectTimeout).
		SetKeepAlive(c.opts.KeepAlive).
		SetOrderMatters(false).
		SetConnectionLostHandler(c.onConnectionLost).
		SetDefaultPublishHandler(c.onMessage)

	if c.opts.Username != "" {
		o.SetUsername(c.opts.Username)
		o.SetPassword(c.opts.Password)
	}
	return o
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	if c.closing.Load() {
		return
	}
	c.logger.Warn("mqtt connection lost", "url", c.opts.URL, "error", err)
	if c.opts.OnConnectionLost != nil {
		c.opts.OnConnectionLost(err)
	}
}

func (c *Client) onMessage(_ mqtt.Client, m mqtt.Message) {
	if c.opts.OnMessage == nil {
		return
	}
	c.opts.OnMessage(broker.Message{
		Topic:    m.Topic(),
		Payload:  m.Payload(),
		QoS:      broker.QoS(m.Qos()),
		Received: time.Now(),
	})
}

// wait blocks on a Paho token, honouring ctx.
func wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect opens the MQTT session.
func (c *Client) Connect(ctx context.Context) error {
	c.closing.Store(false)
	if err := wait(ctx, c.client.Connect()); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", c.opts.URL, err)
	}
	c.logger.Debug("mqtt connected", "url", c.opts.URL, "client_id", c.opts.ClientID)
	return nil
}

// Disconnect closes the session without firing OnConnectionLost.
func (c *Client) Disconnect(ctx context.Context) error {
	c.closing.Store(true)
	if c.client.IsConnectionOpen() {
		c.client.Disconnect(disconnectQuiesce)
	}
	return nil
}

// IsConnected reports whether the session is open.
func (c *Client) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Publish sends a message and waits for the QoS handshake to finish.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos broker.QoS) error {
	if err := broker.CheckPublish(topic, qos); err != nil {
		return err
	}
	if !c.IsConnected() {
		return broker.ErrNotConnected
	}
	return wait(ctx, c.client.Publish(topic, byte(qos), false, payload))
}

// Subscribe registers a filter; messages go to Options.OnMessage.
func (c *Client) Subscribe(ctx context.Context, filter string, qos broker.QoS) error {
	if err := broker.CheckPublish(filter, qos); err != nil {
		return err
	}
	if !c.IsConnected() {
		return broker.ErrNotConnected
	}
	return wait(ctx, c.client.Subscribe(filter, byte(qos), nil))
}

// Unsubscribe removes a filter.
func (c *Client) Unsubscribe(ctx context.Context, filter string) error {
	if !c.IsConnected() {
		return broker.ErrNotConnected
	}
	return wait(ctx, c.client.Unsubscribe(filter))
}

var _ broker.Client = (*Client)(nil)
