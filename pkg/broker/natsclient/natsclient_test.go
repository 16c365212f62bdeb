package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notify-relay/relay-go/pkg/broker"
)

func TestTopicToSubject(t *testing.T) {
	tests := []struct {
		topic   string
		want    string
		wantErr bool
	}{
		{"device/abc/status", "device.abc.status", false},
		{"device/+/status", "device.*.status", false},
		{"discover-response/#", "discover-response.>", false},
		{"broadcast", "broadcast", false},
		{"", "", true},
		{"device//status", "", true},
		{"device/a.b/status", "", true},
		{"device/#/status", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, err := TopicToSubject(tt.topic)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "device/abc/status", SubjectToTopic("device.abc.status"))
}

func runServer(t *testing.T) *server.Server {
	t.Helper()

	srv, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)

	go srv.Start()

	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatalf("embedded NATS server not ready for connections")
	}
	return srv
}

func TestClientAgainstEmbeddedServer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded server test in short mode")
	}

	srv := runServer(t)
	t.Cleanup(srv.Shutdown)

	received := make(chan broker.Message, 4)
	lost := make(chan error, 1)

	c, err := New(broker.Options{
		URL:              srv.ClientURL(),
		ClientID:         "relay-test",
		ConnectTimeout:   5 * time.Second,
		OnMessage:        func(m broker.Message) { received <- m },
		OnConnectionLost: func(err error) { lost <- err },
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	assert.ErrorIs(t, c.Publish(ctx, "broadcast", nil, broker.AtMostOnce), broker.ErrNotConnected)

	require.NoError(t, c.Connect(ctx))
	assert.True(t, c.IsConnected())

	require.NoError(t, c.Subscribe(ctx, "device/+/status", broker.AtLeastOnce))
	require.NoError(t, c.Publish(ctx, "device/d1/status", []byte(`{"connected":true}`), broker.AtLeastOnce))

	select {
	case m := <-received:
		assert.Equal(t, "device/d1/status", m.Topic)
		assert.JSONEq(t, `{"connected":true}`, string(m.Payload))
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}

	assert.Error(t, c.Publish(ctx, "device/+/status", nil, broker.AtMostOnce), "wildcard publish must fail")

	require.NoError(t, c.Unsubscribe(ctx, "device/+/status"))
	require.NoError(t, c.Publish(ctx, "device/d1/status", []byte(`{}`), broker.AtLeastOnce))
	select {
	case m := <-received:
		t.Fatalf("unexpected delivery after unsubscribe: %s", m.Topic)
	case <-time.After(200 * time.Millisecond):
	}

	srv.Shutdown()

	select {
	case err := <-lost:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("OnConnectionLost not called after server shutdown")
	}
	assert.Eventually(t, func() bool { return !c.IsConnected() }, 2*time.Second, 20*time.Millisecond)
}

func TestDisconnectDoesNotReportLoss(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded server test in short mode")
	}

	srv := runServer(t)
	t.Cleanup(srv.Shutdown)

	lost := make(chan error, 1)
	c, err := New(broker.Options{
		URL:              srv.ClientURL(),
		OnConnectionLost: func(err error) { lost <- err },
	}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Disconnect(ctx))
	assert.False(t, c.IsConnected())

	select {
	case err := <-lost:
		t.Fatalf("explicit disconnect reported as loss: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
}
