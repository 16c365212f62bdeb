package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notify-relay/relay-go/pkg/broker"
	"github.com/notify-relay/relay-go/pkg/broker/brokertest"
	"github.com/notify-relay/relay-go/pkg/config"
	"github.com/notify-relay/relay-go/pkg/discovery"
	"github.com/notify-relay/relay-go/pkg/log"
	"github.com/notify-relay/relay-go/pkg/pairing"
	"github.com/notify-relay/relay-go/pkg/persistence"
	"github.com/notify-relay/relay-go/pkg/service"
)

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
broker:
  transport: nats
  url: nats://file:4222
storage:
  backend: memory
`), 0644))

	g := &globalFlags{
		configPath: path,
		brokerURL:  "nats://flag:4222",
		logLevel:   "debug",
		tracePath:  "/tmp/relay.rlog",
	}
	cfg, err := loadConfig(g)
	require.NoError(t, err)
	assert.Equal(t, config.TransportNATS, cfg.Broker.Transport)
	assert.Equal(t, "nats://flag:4222", cfg.Broker.URL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, config.StorageMemory, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/relay.rlog", cfg.Trace.Path)

	_, err = loadConfig(&globalFlags{transport: "amqp"})
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		cfg  config.StorageConfig
	}{
		{"File", config.StorageConfig{Backend: config.StorageFile, Path: filepath.Join(dir, "state.json")}},
		{"Badger", config.StorageConfig{Backend: config.StorageBadger, Path: filepath.Join(dir, "badger")}},
		{"Memory", config.StorageConfig{Backend: config.StorageMemory}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := openStore(tt.cfg, nil)
			require.NoError(t, err)
			require.NoError(t, s.Save("k", []byte("v")))
			require.NoError(t, s.Close())
		})
	}

	_, err := openStore(config.StorageConfig{Backend: "tape"}, nil)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestOpenStoreRefusesHeldFile(t *testing.T) {
	cfg := config.StorageConfig{Backend: config.StorageFile, Path: filepath.Join(t.TempDir(), "state.json")}
	daemon, err := openStore(cfg, nil)
	require.NoError(t, err)
	defer daemon.Close()

	_, err = openStore(cfg, nil)
	assert.ErrorIs(t, err, persistence.ErrLocked)
	assert.Contains(t, err.Error(), "relayd console")
}

func TestBrokerFactory(t *testing.T) {
	for _, tr := range []string{config.TransportMQTT, config.TransportNATS} {
		f, err := brokerFactory(tr, nil)
		require.NoError(t, err)
		assert.NotNil(t, f)
	}
	_, err := brokerFactory("amqp", nil)
	assert.ErrorIs(t, err, discovery.ErrUnknownTransport)
}

func TestResolveBrokerURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	url, err := resolveBrokerURL(context.Background(), config.BrokerConfig{URL: "tcp://x:1883"}, logger)
	require.NoError(t, err)
	assert.Equal(t, "tcp://x:1883", url)

	_, err = resolveBrokerURL(context.Background(), config.BrokerConfig{}, logger)
	assert.Error(t, err)
}

func TestServiceConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Broker.URL = "tcp://broker:1883"
	cfg.Reconnect.FailureDelay = 3 * time.Second
	cfg.Watchdog.Enabled = false
	cfg.Watchdog.Table = []time.Duration{time.Minute}

	sc := serviceConfig(cfg)
	assert.Equal(t, "tcp://broker:1883", sc.BrokerOptions.URL)
	assert.Equal(t, 3*time.Second, sc.FailureDelay)
	assert.Equal(t, cfg.Reconnect.Table, []time.Duration(sc.ReconnectTable))
	assert.False(t, sc.Watchdog.Enabled)
	assert.Equal(t, time.Minute, sc.Watchdog.Table[0])
	assert.Equal(t, cfg.Watchdog.Ceiling, sc.Watchdog.Ceiling)
}

func TestTraceLogger(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	debug := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))

	assert.Nil(t, traceLogger(nil, quiet))
	_, ok := traceLogger(nil, debug).(*log.SlogAdapter)
	assert.True(t, ok)

	file, err := log.NewFileLogger(filepath.Join(t.TempDir(), "t.rlog"))
	require.NoError(t, err)
	defer file.Close()
	assert.Equal(t, log.Logger(file), traceLogger(file, quiet))
	_, ok = traceLogger(file, debug).(*log.MultiLogger)
	assert.True(t, ok)
}

func TestStartErrorHints(t *testing.T) {
	assert.Contains(t, startError(service.ErrStoppedByUser).Error(), "relayd restart")
	assert.ErrorIs(t, startError(service.ErrDisabled), service.ErrDisabled)
	assert.Equal(t, io.EOF, startError(io.EOF))
}

func TestDefaultInstanceName(t *testing.T) {
	name := defaultInstanceName()
	assert.True(t, strings.HasPrefix(name, "relay-broker-"))
	assert.NoError(t, discovery.ValidateInstanceName(name))
}

func TestRelayLines(t *testing.T) {
	fake := brokertest.NewClient()
	store := persistence.NewMemoryStore()
	require.NoError(t, pairing.NewStore(persistence.Namespace(store, service.NamespacePairing)).
		Save(pairing.Pairing{DeviceID: "phone-1"}))

	cfg := service.DefaultConfig()
	cfg.Store = store
	cfg.Factory = fake.Factory()
	cfg.Watchdog.Enabled = false
	svc, err := service.New(cfg)
	require.NoError(t, err)
	defer svc.Close(context.Background())
	require.NoError(t, svc.Start(context.Background()))

	a := &app{logger: slog.New(slog.NewTextHandler(io.Discard, nil)), svc: svc}
	input := strings.NewReader(`{"title":"one","content":"a"}

not json
{"title":"two","content":"b"}
`)
	a.relayLines(context.Background(), input)

	assert.Len(t, fake.PublishedTo(broker.NotificationTopic("phone-1")), 2)
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printStatus(&buf, service.Status{
		State:    "DEGRADED(CONNECTION_LOST)",
		PeerID:   "phone-1",
		PeerName: "Pixel",
	}, false))
	out := buf.String()
	assert.Contains(t, out, "DEGRADED(CONNECTION_LOST)")
	assert.Contains(t, out, "phone-1 (Pixel), offline")
	assert.Contains(t, out, "never")

	buf.Reset()
	require.NoError(t, printStatus(&buf, service.Status{State: "RUNNING"}, true))
	assert.Contains(t, buf.String(), `"State": "RUNNING"`)
}
