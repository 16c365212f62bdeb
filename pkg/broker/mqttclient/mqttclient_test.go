package mqttclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notify-relay/relay-go/pkg/broker"
)

func TestClientOptions(t *testing.T) {
	c, err := New(broker.Options{
		URL:      "tcp://127.0.0.1:1883",
		ClientID: "relay-test",
		Username: "user",
		Password: "secret",
	}, nil)
	require.NoError(t, err)

	o := c.clientOptions()
	assert.False(t, o.AutoReconnect, "auto-reconnect must be disabled")
	assert.False(t, o.ConnectRetry)
	assert.True(t, o.CleanSession)
	assert.Equal(t, 60*time.Second, o.ConnectTimeout)
	assert.Equal(t, int64(120), o.KeepAlive)
	assert.Equal(t, "relay-test", o.ClientID)
	assert.Equal(t, "user", o.Username)
	require.Len(t, o.Servers, 1)
	assert.Equal(t, "127.0.0.1:1883", o.Servers[0].Host)
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(broker.Options{}, nil)
	assert.ErrorIs(t, err, broker.ErrNoURL)
}

func TestOperationsWhenDisconnected(t *testing.T) {
	c, err := New(broker.Options{URL: "tcp://127.0.0.1:1"}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.Publish(ctx, "broadcast", []byte("{}"), broker.AtLeastOnce), broker.ErrNotConnected)
	assert.ErrorIs(t, c.Subscribe(ctx, "device/+/status", broker.AtLeastOnce), broker.ErrNotConnected)
	assert.ErrorIs(t, c.Unsubscribe(ctx, "device/+/status"), broker.ErrNotConnected)
	assert.ErrorIs(t, c.Publish(ctx, "", nil, broker.AtMostOnce), broker.ErrEmptyTopic)
	assert.NoError(t, c.Disconnect(ctx))
}

func TestConnectRefused(t *testing.T) {
	lost := make(chan error, 1)
	c, err := New(broker.Options{
		URL:              "tcp://127.0.0.1:1",
		ConnectTimeout:   2 * time.Second,
		OnConnectionLost: func(err error) { lost <- err },
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = c.Connect(ctx)
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.DeadlineExceeded), "connect should fail on refusal, not time out")
	assert.False(t, c.IsConnected())

	select {
	case <-lost:
		t.Fatal("a failed connect is not a lost connection")
	default:
	}
}
