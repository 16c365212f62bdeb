package broker

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Client errors.
var (
	ErrNotConnected = errors.New("not connected")
	ErrInvalidQoS   = errors.New("invalid qos")
	ErrEmptyTopic   = errors.New("empty topic")
	ErrNoURL        = errors.New("broker url is required")
)

// Default connection parameters.
const (
	DefaultConnectTimeout = 60 * time.Second
	DefaultKeepAlive      = 120 * time.Second
)

// QoS is the delivery guarantee for a publish or subscription.
type QoS uint8

const (
	// AtMostOnce delivers with no acknowledgement.
	AtMostOnce QoS = 0
	// AtLeastOnce delivers with acknowledgement; duplicates are possible.
	AtLeastOnce QoS = 1
	// ExactlyOnce delivers once via a two-phase handshake.
	ExactlyOnce QoS = 2
)

// Valid reports whether q is 0, 1 or 2.
func (q QoS) Valid() bool {
	return q <= ExactlyOnce
}

// String returns the QoS name.
func (q QoS) String() string {
	switch q {
	case AtMostOnce:
		return "AT_MOST_ONCE"
	case AtLeastOnce:
		return "AT_LEAST_ONCE"
	case ExactlyOnce:
		return "EXACTLY_ONCE"
	default:
		return fmt.Sprintf("QOS(%d)", uint8(q))
	}
}

// Message is an inbound message delivered by the broker.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      QoS
	Received time.Time
}

// Handler receives inbound messages. It is called from the client's
// delivery goroutine and must not block.
type Handler func(Message)

// Options configure a Client.
type Options struct {
	// URL of the broker, e.g. "tcp://broker.local:1883" or "nats://host:4222".
	URL string

	// ClientID identifies this relay to the broker.
	ClientID string

	Username string
	Password string

	// ConnectTimeout bounds a single connection attempt.
	ConnectTimeout time.Duration

	// KeepAlive is the ping interval used to detect dead connections.
	KeepAlive time.Duration

	// OnConnectionLost is called when an established connection drops
	// without Disconnect having been called.
	OnConnectionLost func(err error)

	// OnMessage receives every message on every subscription.
	OnMessage Handler
}

// WithDefaults returns a copy of o with zero timeouts replaced by defaults.
func (o Options) WithDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = DefaultKeepAlive
	}
	return o
}

// Validate checks that the options can be used to connect.
func (o Options) Validate() error {
	if o.URL == "" {
		return ErrNoURL
	}
	return nil
}

// Client is a single broker connection.
//
// Implementations never reconnect on their own. After OnConnectionLost fires,
// the owner decides when to call Connect again.
type Client interface {
	// Connect establishes the connection. It blocks until the broker
	// acknowledges, the connect timeout elapses, or ctx is done.
	Connect(ctx context.Context) error

	// Disconnect closes the connection. OnConnectionLost is not called.
	Disconnect(ctx context.Context) error

	// IsConnected reports the client's own view of the connection.
	IsConnected() bool

	// Publish sends payload to topic.
	Publish(ctx context.Context, topic string, payload []byte, qos QoS) error

	// Subscribe registers interest in a topic filter.
	Subscribe(ctx context.Context, filter string, qos QoS) error

	// Unsubscribe removes a topic filter.
	Unsubscribe(ctx context.Context, filter string) error
}

// Factory builds a Client from options.
type Factory func(opts Options) (Client, error)

// CheckPublish validates the arguments of a publish.
func CheckPublish(topic string, qos QoS) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if !qos.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidQoS, qos)
	}
	return nil
}
