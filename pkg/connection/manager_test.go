package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/notify-relay/relay-go/pkg/broker"
	"github.com/notify-relay/relay-go/pkg/broker/brokertest"
)

type stubReconnector struct{ mock.Mock }

func (s *stubReconnector) ScheduleReconnect()                  { s.Called() }
func (s *stubReconnector) ScheduleReconnectIn(d time.Duration) { s.Called(d) }
func (s *stubReconnector) CancelReconnect()                    { s.Called() }

type stubLiveness struct {
	connected atomic.Int32
	messages  atomic.Int32
}

func (s *stubLiveness) MarkConnected()       { s.connected.Add(1) }
func (s *stubLiveness) MarkMessageReceived() { s.messages.Add(1) }

type sinkFunc func(broker.Message)

func (f sinkFunc) OnNotification(m broker.Message) { f(m) }

type notifierFunc func(string)

func (f notifierFunc) Show(msg string) { f(msg) }

func newManager(t *testing.T, fake *brokertest.Client, mutate ...func(*Config)) *Manager {
	t.Helper()
	cfg := Config{
		Factory: fake.Factory(),
		Options: broker.Options{URL: "tcp://test:1883"},
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	m, err := NewManager(cfg)
	require.NoError(t, err)
	return m
}

func TestNewManagerDefaults(t *testing.T) {
	fake := brokertest.NewClient()
	m := newManager(t, fake)

	assert.Contains(t, m.ClientID(), "relay-")
	require.NoError(t, m.Connect(context.Background()))

	opts := fake.Options()
	assert.Equal(t, 60*time.Second, opts.ConnectTimeout)
	assert.Equal(t, 120*time.Second, opts.KeepAlive)
	assert.NotNil(t, opts.OnConnectionLost)
	assert.NotNil(t, opts.OnMessage)

	_, err := NewManager(Config{})
	assert.ErrorIs(t, err, ErrNoFactory)
}

func TestConnect(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		fake := brokertest.NewClient()
		live := &stubLiveness{}
		m := newManager(t, fake, func(c *Config) { c.Liveness = live })

		var connectedCalls int
		m.OnConnected(func() { connectedCalls++ })

		require.NoError(t, m.Connect(context.Background()))
		assert.True(t, m.IsConnected())
		assert.Equal(t, int32(1), live.connected.Load())
		assert.Equal(t, 1, connectedCalls)

		require.NoError(t, m.Connect(context.Background()), "already connected is a no-op")
		assert.Equal(t, 1, fake.ConnectCalls())
	})

	t.Run("FailureSchedulesRetryIn10s", func(t *testing.T) {
		fake := brokertest.NewClient()
		fake.SetConnectErr(errors.New("refused"))
		m := newManager(t, fake)

		r := &stubReconnector{}
		r.On("ScheduleReconnectIn", 10*time.Second).Once()
		m.SetReconnector(r)

		err := m.Connect(context.Background())
		require.Error(t, err)
		assert.False(t, m.IsConnected())
		r.AssertExpectations(t)
	})

	t.Run("ConcurrentCallersCollapse", func(t *testing.T) {
		fake := brokertest.NewClient()
		release := fake.BlockConnect()
		m := newManager(t, fake)

		first := make(chan error, 1)
		go func() { first <- m.Connect(context.Background()) }()
		require.Eventually(t, m.IsConnecting, time.Second, time.Millisecond)

		var wg sync.WaitGroup
		var inProgress atomic.Int32
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if errors.Is(m.Connect(context.Background()), ErrConnectInProgress) {
					inProgress.Add(1)
				}
			}()
		}
		wg.Wait()
		release()

		require.NoError(t, <-first)
		assert.Equal(t, int32(8), inProgress.Load())
		assert.Equal(t, 1, fake.ConnectCalls(), "exactly one underlying attempt")
	})
}

func TestIsConnectedRequiresBothFlags(t *testing.T) {
	fake := brokertest.NewClient()
	m := newManager(t, fake)
	assert.False(t, m.IsConnected(), "no client yet")

	require.NoError(t, m.Connect(context.Background()))
	m.observed.Store(false)
	assert.False(t, m.IsConnected(), "observed flag down")

	m.observed.Store(true)
	fake.DropConnection(nil)
	assert.False(t, m.IsConnected(), "client flag down")
}

func TestConnectionLost(t *testing.T) {
	fake := brokertest.NewClient()
	var shown []string
	m := newManager(t, fake, func(c *Config) {
		c.Notifier = notifierFunc(func(s string) { shown = append(shown, s) })
	})

	r := &stubReconnector{}
	r.On("ScheduleReconnect").Once()
	m.SetReconnector(r)

	var lostErr error
	m.OnConnectionLost(func(err error) { lostErr = err })

	require.NoError(t, m.Connect(context.Background()))
	fake.DropConnection(errors.New("eof"))

	assert.False(t, m.IsConnected())
	assert.EqualError(t, lostErr, "eof")
	assert.Len(t, shown, 1)
	r.AssertExpectations(t)

	fake.DropConnection(errors.New("again"))
	r.AssertNumberOfCalls(t, "ScheduleReconnect", 1)
}

func TestPublish(t *testing.T) {
	fake := brokertest.NewClient()
	m := newManager(t, fake)
	ctx := context.Background()

	err := m.Publish(ctx, "broadcast", []byte(`{}`), broker.AtLeastOnce)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, "not connected", err.Error())

	require.NoError(t, m.Connect(ctx))
	require.NoError(t, m.Publish(ctx, "broadcast", []byte(`{"title":"x"}`), broker.AtLeastOnce))
	require.Len(t, fake.Published(), 1)

	fake.SetPublishErr(errors.New("broker full"))
	err = m.Publish(ctx, "broadcast", nil, broker.AtMostOnce)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker full")
	assert.Len(t, fake.Published(), 1, "publish is not retried")
}

func TestSubscribeGuards(t *testing.T) {
	fake := brokertest.NewClient()
	m := newManager(t, fake)
	ctx := context.Background()

	assert.ErrorIs(t, m.Subscribe(ctx, "a", broker.AtLeastOnce), ErrNotConnected)
	assert.ErrorIs(t, m.Unsubscribe(ctx, "a"), ErrNotConnected)

	require.NoError(t, m.Connect(ctx))
	require.NoError(t, m.Subscribe(ctx, "a", broker.AtLeastOnce))
	assert.True(t, fake.IsSubscribed("a"))
	require.NoError(t, m.Unsubscribe(ctx, "a"))
	assert.False(t, fake.IsSubscribed("a"))
}

func TestMessageRouting(t *testing.T) {
	fake := brokertest.NewClient()
	live := &stubLiveness{}

	var sunk []string
	m := newManager(t, fake, func(c *Config) {
		c.Liveness = live
		c.Sink = sinkFunc(func(msg broker.Message) { sunk = append(sunk, msg.Topic) })
	})

	var routed []string
	m.Handle("device/+/status", func(msg broker.Message) { routed = append(routed, msg.Topic) })

	require.NoError(t, m.Connect(context.Background()))
	fake.Deliver("device/d1/status", []byte(`{"connected":true}`))
	fake.Deliver("broadcast", []byte(`{"title":"t"}`))

	assert.Equal(t, []string{"device/d1/status"}, routed)
	assert.Equal(t, []string{"broadcast"}, sunk)
	assert.Equal(t, int32(2), live.messages.Load(), "every message refreshes liveness")
}

func TestDisconnect(t *testing.T) {
	fake := brokertest.NewClient()
	m := newManager(t, fake)
	ctx := context.Background()

	r := &stubReconnector{}
	r.On("CancelReconnect").Once()
	m.SetReconnector(r)

	var order []string
	m.BeforeDisconnect(func(ctx context.Context) {
		order = append(order, "before")
		assert.True(t, m.IsConnected(), "before hooks run while connected")
		_ = m.Publish(ctx, broker.LinkTopic("d1"), []byte(`{"action":"unlink"}`), broker.AtLeastOnce)
	})
	m.AfterDisconnect(func() { order = append(order, "after") })

	require.NoError(t, m.Connect(ctx))
	require.NoError(t, m.Disconnect(ctx))

	assert.Equal(t, []string{"before", "after"}, order)
	assert.False(t, m.IsConnected())
	assert.Equal(t, 1, fake.DisconnectCalls())
	assert.Len(t, fake.PublishedTo("device/d1/link"), 1)
	r.AssertExpectations(t)
}

func TestCloseSkipsDisconnectHooks(t *testing.T) {
	fake := brokertest.NewClient()
	m := newManager(t, fake)
	ctx := context.Background()

	r := &stubReconnector{}
	r.On("CancelReconnect").Once()
	m.SetReconnector(r)

	hooks := 0
	m.BeforeDisconnect(func(context.Context) { hooks++ })
	m.AfterDisconnect(func() { hooks++ })

	require.NoError(t, m.Connect(ctx))
	require.NoError(t, m.Close(ctx))

	assert.Zero(t, hooks)
	assert.False(t, m.IsConnected())
	assert.Equal(t, 1, fake.DisconnectCalls())
	r.AssertExpectations(t)
}
