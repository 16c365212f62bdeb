// Package config loads relayd configuration from YAML.
//
// Durations are Go duration strings ("15m", "2s"). Fields left out of the
// file keep their Default() values.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/notify-relay/relay-go/pkg/backoff"
	"github.com/notify-relay/relay-go/pkg/broker"
	"github.com/notify-relay/relay-go/pkg/connection"
	"github.com/notify-relay/relay-go/pkg/watchdog"
)

// Broker transports.
const (
	TransportMQTT = "mqtt"
	TransportNATS = "nats"
)

// Storage backends.
const (
	StorageFile   = "file"
	StorageBadger = "badger"
	StorageMemory = "memory"
)

// Config is the complete relayd configuration.
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Watchdog  WatchdogConfig  `yaml:"watchdog"`
	Storage   StorageConfig   `yaml:"storage"`
	Trace     TraceConfig     `yaml:"trace"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	User      UserConfig      `yaml:"user"`
}

// BrokerConfig selects and configures the broker connection.
type BrokerConfig struct {
	// Transport is "mqtt" or "nats".
	Transport string `yaml:"transport"`

	// URL of the broker. When empty and Discover is set, the broker is
	// located over mDNS at startup.
	URL      string `yaml:"url"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	KeepAlive      time.Duration `yaml:"keep_alive"`

	Discover        bool          `yaml:"discover"`
	DiscoverTimeout time.Duration `yaml:"discover_timeout"`
}

// ReconnectConfig tunes the connection recovery ladder.
type ReconnectConfig struct {
	Table        []time.Duration `yaml:"table"`
	FailureDelay time.Duration   `yaml:"failure_delay"`
}

// WatchdogConfig tunes the liveness watchdog.
type WatchdogConfig struct {
	Enabled              bool            `yaml:"enabled"`
	Interval             time.Duration   `yaml:"interval"`
	IndependentInterval  time.Duration   `yaml:"independent_interval"`
	RetryThreshold       time.Duration   `yaml:"retry_threshold"`
	IndependentThreshold time.Duration   `yaml:"independent_threshold"`
	Ceiling              time.Duration   `yaml:"ceiling"`
	Table                []time.Duration `yaml:"table"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// TraceConfig controls the binary event trace.
type TraceConfig struct {
	// Path of the trace file. Empty disables the file trace.
	Path string `yaml:"path"`
}

// LogConfig controls operational logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Listen address for /metrics. Empty disables the endpoint.
	Listen string `yaml:"listen"`
}

// UserConfig identifies the local user in link requests.
type UserConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Broker: BrokerConfig{
			Transport:       TransportMQTT,
			ConnectTimeout:  broker.DefaultConnectTimeout,
			KeepAlive:       broker.DefaultKeepAlive,
			Discover:        true,
			DiscoverTimeout: 5 * time.Second,
		},
		Reconnect: ReconnectConfig{
			Table:        backoff.ReconnectTable(),
			FailureDelay: connection.DefaultFailureDelay,
		},
		Watchdog: WatchdogConfig{
			Enabled:              true,
			Interval:             watchdog.DefaultInterval,
			IndependentInterval:  watchdog.DefaultIndependentInterval,
			RetryThreshold:       watchdog.DefaultRetryThreshold,
			IndependentThreshold: watchdog.DefaultIndependentThreshold,
			Ceiling:              watchdog.DefaultCeiling,
			Table:                backoff.WatchdogTable(),
		},
		Storage: StorageConfig{
			Backend: StorageFile,
			Path:    "relay-state.json",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Parse decodes YAML on top of Default() and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses a configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks the configuration for values the relay cannot run with.
func (c Config) Validate() error {
	var errs []error

	switch c.Broker.Transport {
	case TransportMQTT, TransportNATS:
	default:
		errs = append(errs, invalid("broker.transport %q (want mqtt or nats)", c.Broker.Transport))
	}
	if c.Broker.URL == "" && !c.Broker.Discover {
		errs = append(errs, invalid("broker.url is required when broker.discover is off"))
	}
	if c.Broker.ConnectTimeout <= 0 || c.Broker.KeepAlive <= 0 {
		errs = append(errs, invalid("broker timeouts must be positive"))
	}

	if err := positiveTable("reconnect.table", c.Reconnect.Table); err != nil {
		errs = append(errs, err)
	}
	if err := positiveTable("watchdog.table", c.Watchdog.Table); err != nil {
		errs = append(errs, err)
	}

	w := c.Watchdog
	if w.Interval <= 0 || w.IndependentInterval <= 0 {
		errs = append(errs, invalid("watchdog intervals must be positive"))
	}
	if w.RetryThreshold <= 0 || w.RetryThreshold >= w.Ceiling {
		errs = append(errs, invalid("watchdog.retry_threshold must be positive and below watchdog.ceiling"))
	}
	if w.IndependentThreshold <= 0 {
		errs = append(errs, invalid("watchdog.independent_threshold must be positive"))
	}

	switch c.Storage.Backend {
	case StorageFile, StorageBadger:
		if c.Storage.Path == "" {
			errs = append(errs, invalid("storage.path is required for the %s backend", c.Storage.Backend))
		}
	case StorageMemory:
	default:
		errs = append(errs, invalid("storage.backend %q", c.Storage.Backend))
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, invalid("log.format %q (want text or json)", c.Log.Format))
	}

	return errors.Join(errs...)
}

func positiveTable(name string, t []time.Duration) error {
	if len(t) == 0 {
		return invalid("%s must not be empty", name)
	}
	for i, d := range t {
		if d <= 0 {
			return invalid("%s[%d] must be positive", name, i)
		}
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, invalid("log.level %q", s)
	}
}

// BrokerOptions converts the broker section into client options.
func (c Config) BrokerOptions() broker.Options {
	return broker.Options{
		URL:            c.Broker.URL,
		ClientID:       c.Broker.ClientID,
		Username:       c.Broker.Username,
		Password:       c.Broker.Password,
		ConnectTimeout: c.Broker.ConnectTimeout,
		KeepAlive:      c.Broker.KeepAlive,
	}
}
