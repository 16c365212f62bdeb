package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/notify-relay/relay-go/pkg/backoff"
	"github.com/notify-relay/relay-go/pkg/broker"
	"github.com/notify-relay/relay-go/pkg/broker/mqttclient"
	"github.com/notify-relay/relay-go/pkg/broker/natsclient"
	"github.com/notify-relay/relay-go/pkg/config"
	"github.com/notify-relay/relay-go/pkg/connection"
	"github.com/notify-relay/relay-go/pkg/discovery"
	"github.com/notify-relay/relay-go/pkg/log"
	"github.com/notify-relay/relay-go/pkg/metrics"
	"github.com/notify-relay/relay-go/pkg/persistence"
	"github.com/notify-relay/relay-go/pkg/service"
	"github.com/notify-relay/relay-go/pkg/watchdog"
)

// app bundles everything a command needs and how to tear it down.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    persistence.Store
	trace    *log.FileLogger
	registry *prometheus.Registry
	svc      *service.RelayService
}

// loadConfig reads the config file (if any) and applies flag overrides.
func loadConfig(g *globalFlags) (config.Config, error) {
	cfg := config.Default()
	if g.configPath != "" {
		var err error
		if cfg, err = config.Load(g.configPath); err != nil {
			return config.Config{}, err
		}
	}

	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.brokerURL != "" {
		cfg.Broker.URL = g.brokerURL
	}
	if g.transport != "" {
		cfg.Broker.Transport = g.transport
	}
	if g.storePath != "" {
		cfg.Storage.Path = g.storePath
	}
	if g.tracePath != "" {
		cfg.Trace.Path = g.tracePath
	}
	return cfg, cfg.Validate()
}

// newLogger builds the operational logger described by cfg.Log.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openStore opens the configured persistence backend.
func openStore(cfg config.StorageConfig, logger *slog.Logger) (persistence.Store, error) {
	switch cfg.Backend {
	case config.StorageFile:
		s, err := persistence.NewFileStore(cfg.Path)
		if errors.Is(err, persistence.ErrLocked) {
			return nil, fmt.Errorf("%w (a running relayd owns it; use 'relayd console' there)", err)
		}
		return s, err
	case config.StorageBadger:
		return persistence.OpenBadgerStore(persistence.BadgerConfig{
			Path:       cfg.Path,
			SyncWrites: true,
			Logger:     logger,
		})
	case config.StorageMemory:
		return persistence.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: storage backend %q", config.ErrInvalid, cfg.Backend)
	}
}

// brokerFactory returns the client factory for the configured transport.
func brokerFactory(transport string, logger *slog.Logger) (broker.Factory, error) {
	switch transport {
	case config.TransportMQTT:
		return mqttclient.NewFactory(logger), nil
	case config.TransportNATS:
		return natsclient.NewFactory(logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", discovery.ErrUnknownTransport, transport)
	}
}

// resolveBrokerURL looks the broker up over mDNS when no URL is set.
func resolveBrokerURL(ctx context.Context, cfg config.BrokerConfig, logger *slog.Logger) (string, error) {
	if cfg.URL != "" {
		return cfg.URL, nil
	}
	if !cfg.Discover {
		return "", errors.New("no broker URL configured")
	}

	browser := discovery.NewBrowser(discovery.BrowserConfig{
		Timeout: cfg.DiscoverTimeout,
		Logger:  logger,
	})
	br, err := browser.Find(ctx, cfg.Transport)
	if err != nil {
		return "", fmt.Errorf("locate %s broker: %w", cfg.Transport, err)
	}
	url, err := br.URL()
	if err != nil {
		return "", err
	}
	logger.Info("using discovered broker", "instance", br.Instance, "url", url)
	return url, nil
}

// traceLogger combines the trace file and, at debug level, an slog echo.
func traceLogger(file *log.FileLogger, logger *slog.Logger) log.Logger {
	var sinks []log.Logger
	if file != nil {
		sinks = append(sinks, file)
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		sinks = append(sinks, log.NewSlogAdapter(logger))
	}
	switch len(sinks) {
	case 0:
		return nil
	case 1:
		return sinks[0]
	default:
		return log.NewMultiLogger(sinks...)
	}
}

// serviceConfig maps the file configuration onto the service.
func serviceConfig(cfg config.Config) service.Config {
	sc := service.DefaultConfig()
	sc.BrokerOptions = cfg.BrokerOptions()
	sc.ReconnectTable = backoff.Table(cfg.Reconnect.Table)
	sc.FailureDelay = cfg.Reconnect.FailureDelay
	sc.Watchdog = service.WatchdogConfig{
		Enabled:              cfg.Watchdog.Enabled,
		Interval:             cfg.Watchdog.Interval,
		IndependentInterval:  cfg.Watchdog.IndependentInterval,
		RetryThreshold:       cfg.Watchdog.RetryThreshold,
		IndependentThreshold: cfg.Watchdog.IndependentThreshold,
		Ceiling:              cfg.Watchdog.Ceiling,
		Table:                backoff.Table(cfg.Watchdog.Table),
		Pauses:               watchdog.DefaultPauses(),
	}
	return sc
}

// appOptions tune newApp for a command.
type appOptions struct {
	// connect resolves the broker URL; offline commands leave it unset.
	connect bool

	// logOutput overrides stderr (the console routes logs through readline).
	logOutput io.Writer

	// notifier receives user-visible status lines. Nil logs them.
	notifier connection.StatusNotifier
}

// newApp wires the relay service from flags and config.
func newApp(ctx context.Context, g *globalFlags, opts appOptions) (*app, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	if opts.logOutput == nil {
		opts.logOutput = os.Stderr
	}
	a := &app{cfg: cfg, logger: newLogger(cfg.Log, opts.logOutput)}

	if opts.connect {
		url, err := resolveBrokerURL(ctx, cfg.Broker, a.logger)
		if err != nil {
			return nil, err
		}
		a.cfg.Broker.URL = url
	}

	factory, err := brokerFactory(a.cfg.Broker.Transport, a.logger)
	if err != nil {
		return nil, err
	}

	a.store, err = openStore(a.cfg.Storage, a.logger)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	if a.cfg.Trace.Path != "" {
		a.trace, err = log.NewFileLogger(a.cfg.Trace.Path)
		if err != nil {
			a.store.Close()
			return nil, fmt.Errorf("open trace: %w", err)
		}
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sc := serviceConfig(a.cfg)
	sc.Store = a.store
	sc.Factory = factory
	sc.Metrics = metrics.New(a.registry)
	sc.Logger = a.logger
	sc.TraceLogger = traceLogger(a.trace, a.logger)
	sc.Notifier = opts.notifier

	a.svc, err = service.New(sc)
	if err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *app) closeResources() {
	if a.trace != nil {
		a.trace.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close state store", "error", err)
		}
	}
}

// Close shuts the service down and releases the store and trace.
func (a *app) Close(ctx context.Context) {
	if a.svc != nil {
		a.svc.Close(ctx)
	}
	a.closeResources()
}
