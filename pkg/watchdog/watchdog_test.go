package watchdog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notify-relay/relay-go/pkg/health"
	"github.com/notify-relay/relay-go/pkg/liveness"
	"github.com/notify-relay/relay-go/pkg/persistence"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingComponent struct {
	mu       sync.Mutex
	steps    []string
	startErr error

	// disableGate, when set, blocks Disable until closed.
	disableGate chan struct{}
	disabling   chan struct{}
}

func (c *recordingComponent) record(step string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, step)
}

func (c *recordingComponent) Disable(ctx context.Context) error {
	c.record("disable")
	if c.disableGate != nil {
		close(c.disabling)
		<-c.disableGate
	}
	return nil
}

func (c *recordingComponent) Enable(ctx context.Context) error {
	c.record("enable")
	return nil
}

func (c *recordingComponent) Start(ctx context.Context) error {
	c.record("start")
	return c.startErr
}

func (c *recordingComponent) Steps() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.steps...)
}

type listenerFlag struct{ enabled atomic.Bool }

func (l *listenerFlag) ListenerEnabled() bool { return l.enabled.Load() }

type notes struct {
	mu   sync.Mutex
	msgs []string
}

func (n *notes) Show(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *notes) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

type fixture struct {
	clock    *fakeClock
	comp     *recordingComponent
	machine  *health.Machine
	live     *liveness.Tracker
	listener *listenerFlag
	notes    *notes
	restarts atomic.Int32
	w        *Watchdog
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		clock:    &fakeClock{t: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)},
		comp:     &recordingComponent{},
		listener: &listenerFlag{},
		notes:    &notes{},
	}
	f.listener.enabled.Store(true)

	m, err := health.NewMachine(health.Config{Store: persistence.NewMemoryStore(), Now: f.clock.Now})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	f.machine = m
	f.live = liveness.New(nil, liveness.WithClock(f.clock.Now))

	cfg := Config{
		Component: f.comp,
		Health:    f.machine,
		Liveness:  f.live,
		Listener:  f.listener,
		Restart:   RestartFunc(func() { f.restarts.Add(1) }),
		Notifier:  f.notes,
		Pauses:    Pauses{Short: time.Millisecond, Long: 2 * time.Millisecond},
		Now:       f.clock.Now,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	w, err := New(cfg)
	require.NoError(t, err)
	f.w = w
	return f
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrMissingDeps)
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "DEEP_RESET", ActionDeepReset.String())
	assert.Equal(t, "GATED", ActionGated.String())
	assert.Equal(t, "UNKNOWN", Action(99).String())
}

func TestCheckSkipsWhenIdle(t *testing.T) {
	for _, s := range []health.State{health.Stopped(), health.Disabled()} {
		t.Run(s.String(), func(t *testing.T) {
			f := newFixture(t)
			f.machine.SetStateSync(s)
			f.listener.enabled.Store(false)
			f.clock.Advance(24 * time.Hour)

			ctx := context.Background()
			assert.Equal(t, ActionSkipped, f.w.Check(ctx))
			assert.Equal(t, ActionSkipped, f.w.CheckIndependent(ctx))
			assert.Empty(t, f.comp.Steps())
			assert.Zero(t, f.restarts.Load())
		})
	}
}

func TestCheckRunsWhileDegraded(t *testing.T) {
	f := newFixture(t)
	f.machine.SetStateSync(health.Degraded(health.ReasonNoConnectivity))
	f.clock.Advance(2 * time.Hour)

	assert.Equal(t, ActionRestart, f.w.Check(context.Background()))
}

func TestListenerDisabledRestartsImmediately(t *testing.T) {
	f := newFixture(t)
	f.listener.enabled.Store(false)
	f.clock.Advance(24 * time.Hour)

	assert.Equal(t, ActionListenerRestart, f.w.Check(context.Background()))
	assert.Equal(t, int32(1), f.restarts.Load())
	assert.Empty(t, f.comp.Steps(), "no further checks this cycle")
}

func TestFreshRelayDoesNothing(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(30 * time.Minute)

	assert.Equal(t, ActionNone, f.w.Check(context.Background()))
	assert.Zero(t, f.restarts.Load())
}

func TestSilenceUsesBaseline(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(10 * time.Minute)
	assert.Equal(t, 10*time.Minute, f.w.Silence(), "no message yet: measured from baseline")

	f.live.MarkMessageReceived()
	f.clock.Advance(time.Minute)
	assert.Equal(t, time.Minute, f.w.Silence())
}

func TestSimpleRestartIsGatedByBackoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.clock.Advance(2 * time.Hour)

	assert.Equal(t, ActionRestart, f.w.Check(ctx))
	assert.Equal(t, ActionGated, f.w.Check(ctx))

	f.clock.Advance(2 * time.Minute)
	assert.Equal(t, ActionRestart, f.w.Check(ctx))

	f.clock.Advance(2 * time.Minute)
	assert.Equal(t, ActionGated, f.w.Check(ctx), "second wait is 5 minutes")

	f.clock.Advance(3 * time.Minute)
	assert.Equal(t, ActionRestart, f.w.Check(ctx))
	assert.Equal(t, int32(3), f.restarts.Load())
	assert.Equal(t, 3, f.w.Backoff())

	// Traffic resumes: the ladder resets.
	f.live.MarkMessageReceived()
	assert.Equal(t, ActionNone, f.w.Check(ctx))
	assert.Equal(t, 0, f.w.Backoff())

	f.clock.Advance(90 * time.Minute)
	assert.Equal(t, ActionRestart, f.w.Check(ctx), "first retry after reset is not gated")
}

func TestCeilingEscalatesToDeepReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.live.MarkMessageReceived()
	f.live.MarkConnected()
	f.clock.Advance(2 * time.Hour)
	require.Equal(t, ActionRestart, f.w.Check(ctx))
	require.Equal(t, ActionGated, f.w.Check(ctx))

	f.clock.Advance(11 * time.Hour)
	assert.Equal(t, ActionDeepReset, f.w.Check(ctx), "ceiling ignores backoff gating")

	assert.Equal(t, []string{"disable", "enable", "start"}, f.comp.Steps())
	snap := f.live.Snapshot()
	assert.True(t, snap.LastMessage.IsZero())
	assert.True(t, snap.LastConnection.IsZero())
	assert.Equal(t, int64(1), snap.DeepResetCount)
	assert.Zero(t, f.w.Silence(), "baseline moves to the reset time")
	assert.Equal(t, 0, f.w.Backoff())
	assert.True(t, f.machine.State().IsRunning())
}

func TestIndependentCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.clock.Advance(5 * time.Hour)
	assert.Equal(t, ActionNone, f.w.CheckIndependent(ctx))

	f.clock.Advance(2 * time.Hour)
	assert.Equal(t, ActionForcedReset, f.w.CheckIndependent(ctx))
	assert.Equal(t, []string{"disable", "enable", "start"}, f.comp.Steps())
	assert.Equal(t, int64(1), f.live.Snapshot().ForceResetCount)
	assert.Positive(t, f.notes.Count())
}

func TestFailedStartDegrades(t *testing.T) {
	f := newFixture(t)
	f.comp.startErr = errors.New("listener unavailable")

	require.NoError(t, f.w.ForcedReset(context.Background(), "manual"))

	assert.Equal(t, health.Degraded(health.ReasonInitializationFailed), f.machine.State())
	assert.Equal(t, int64(1), f.live.Snapshot().ForceResetCount, "failed repairs are still counted")
}

func TestOnlyOneRepairAtATime(t *testing.T) {
	f := newFixture(t)
	f.comp.disableGate = make(chan struct{})
	f.comp.disabling = make(chan struct{})

	errc := make(chan error, 1)
	go func() { errc <- f.w.ForcedReset(context.Background(), "first") }()
	<-f.comp.disabling

	assert.ErrorIs(t, f.w.DeepReset(context.Background(), "second"), ErrRepairInProgress)
	f.clock.Advance(13 * time.Hour)
	assert.Equal(t, ActionBusy, f.w.Check(context.Background()))

	close(f.comp.disableGate)
	require.NoError(t, <-errc)
	assert.Equal(t, []string{"disable", "enable", "start"}, f.comp.Steps())
}

func TestRepairStopsOnCancel(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Pauses = Pauses{Short: time.Minute, Long: time.Minute}
	})
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- f.w.DeepReset(ctx, "manual") }()

	require.Eventually(t, func() bool { return len(f.comp.Steps()) == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("repair did not observe cancellation")
	}
	assert.Equal(t, []string{"disable"}, f.comp.Steps())
	assert.Zero(t, f.live.Snapshot().DeepResetCount)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Interval = 5 * time.Millisecond
		c.IndependentInterval = time.Hour
	})
	f.listener.enabled.Store(false)

	require.NoError(t, f.w.Start(context.Background()))
	assert.True(t, f.w.IsRunning())
	assert.ErrorIs(t, f.w.Start(context.Background()), ErrAlreadyRunning)

	require.Eventually(t, func() bool { return f.restarts.Load() >= 2 }, 2*time.Second, time.Millisecond)

	f.w.Stop()
	assert.False(t, f.w.IsRunning())
	n := f.restarts.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, f.restarts.Load(), "no checks after Stop")

	f.w.Stop()
}

func TestNextCheckFollowsRetryGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, DefaultInterval, f.w.NextCheckIn(ActionNone))

	f.clock.Advance(2 * time.Hour)
	require.Equal(t, ActionRestart, f.w.Check(ctx))
	assert.Equal(t, 2*time.Minute, f.w.NextCheckIn(ActionRestart), "wake when the first gate opens")

	f.clock.Advance(30 * time.Second)
	require.Equal(t, ActionGated, f.w.Check(ctx))
	assert.Equal(t, 90*time.Second, f.w.NextCheckIn(ActionGated))

	f.clock.Advance(90 * time.Second)
	require.Equal(t, ActionRestart, f.w.Check(ctx))
	assert.Equal(t, 5*time.Minute, f.w.NextCheckIn(ActionRestart))

	f.clock.Advance(5 * time.Minute)
	require.Equal(t, ActionRestart, f.w.Check(ctx))
	assert.Equal(t, DefaultInterval, f.w.NextCheckIn(ActionRestart), "the 15 minute entry matches the base interval")

	f.clock.Advance(15 * time.Minute)
	require.Equal(t, ActionRestart, f.w.Check(ctx))
	assert.Equal(t, DefaultInterval, f.w.NextCheckIn(ActionRestart), "longer gates are still checked every interval")
}
