package console

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notify-relay/relay-go/pkg/broker"
	"github.com/notify-relay/relay-go/pkg/broker/brokertest"
	"github.com/notify-relay/relay-go/pkg/persistence"
	"github.com/notify-relay/relay-go/pkg/service"
)

// syncBuffer is written to by event handlers on their own goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

func newTestConsole(t *testing.T) (*Console, *brokertest.Client, *syncBuffer) {
	t.Helper()
	fake := brokertest.NewClient()

	cfg := service.DefaultConfig()
	cfg.Store = persistence.NewMemoryStore()
	cfg.Factory = fake.Factory()
	cfg.BrokerOptions.URL = "tcp://test:1883"
	cfg.Watchdog.Enabled = false
	svc, err := service.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close(context.Background()) })
	require.NoError(t, svc.Start(context.Background()))

	buf := &syncBuffer{}
	c := &Console{out: buf}
	c.Attach(svc, "u-1", "alice")
	return c, fake, buf
}

func TestExecBasics(t *testing.T) {
	c, _, out := newTestConsole(t)
	ctx := context.Background()

	assert.False(t, c.Exec(ctx, "   "))

	assert.False(t, c.Exec(ctx, "status"))
	assert.Contains(t, out.String(), "State:         RUNNING")
	assert.Contains(t, out.String(), "Peer:          none")

	out.Reset()
	assert.False(t, c.Exec(ctx, "bogus"))
	assert.Contains(t, out.String(), "Unknown command: bogus")

	assert.True(t, c.Exec(ctx, "quit"))
	assert.True(t, c.Exec(ctx, "Q"))
}

func TestExecLinkAndNotify(t *testing.T) {
	c, fake, out := newTestConsole(t)
	ctx := context.Background()

	c.Exec(ctx, "link")
	assert.Contains(t, out.String(), "Usage: link <device-id>")

	out.Reset()
	c.Exec(ctx, "link phone-1")
	assert.Contains(t, out.String(), "linked to phone-1")
	assert.Len(t, fake.PublishedTo(broker.LinkTopic("phone-1")), 1)

	out.Reset()
	c.Exec(ctx, "notify Hello from the console")
	assert.Contains(t, out.String(), "sent ")
	assert.Len(t, fake.PublishedTo(broker.NotificationTopic("phone-1")), 1)

	out.Reset()
	c.Exec(ctx, "notify")
	assert.Contains(t, out.String(), "Usage: notify")
}

func TestExecLifecycle(t *testing.T) {
	c, _, out := newTestConsole(t)
	ctx := context.Background()

	c.Exec(ctx, "stop")
	assert.Contains(t, out.String(), "relay stopped")
	assert.True(t, c.svc.Health().State().IsStopped())

	out.Reset()
	c.Exec(ctx, "restart")
	assert.Contains(t, out.String(), "relay restarted")
	assert.True(t, c.svc.Health().State().IsRunning())

	c.Exec(ctx, "permission off")
	assert.True(t, c.svc.Health().State().IsDegraded())
	c.Exec(ctx, "permission on")
	assert.True(t, c.svc.Health().State().IsRunning())

	out.Reset()
	c.Exec(ctx, "permission maybe")
	assert.Contains(t, out.String(), "Usage: permission on|off")

	out.Reset()
	c.Exec(ctx, "ack")
	assert.Contains(t, out.String(), "relay disabled")

	out.Reset()
	c.Exec(ctx, "open")
	assert.Contains(t, out.String(), "state: RUNNING")
}

func TestShow(t *testing.T) {
	var buf bytes.Buffer
	c := &Console{out: &buf}
	c.Show("Connection lost, reconnecting")
	assert.Contains(t, buf.String(), "[status] Connection lost, reconnecting")
}
