package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the broker process.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Broker  BrokerConfig  `mapstructure:"broker"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`

	v *viper.Viper
}

// ServerConfig contains the HTTP listener and authentication settings.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// Secret authenticates the privileged control-plane endpoints via
	// the X-Channelstream-Secret header.
	Secret string `mapstructure:"secret"`

	// AdminUser/AdminSecret guard the admin JSON endpoint (basic auth).
	AdminUser   string `mapstructure:"admin_user"`
	AdminSecret string `mapstructure:"admin_secret"`
}

// BrokerConfig controls delivery and lifecycle timing.
type BrokerConfig struct {
	// WakeConnectionsAfter bounds the primary long-poll wait.
	WakeConnectionsAfter time.Duration `mapstructure:"wake_connections_after"`

	// DrainTimeout is the tail wait used to coalesce message bursts
	// into a single poll response.
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`

	// GCConnsAfter is the idle age past which a connection is reaped.
	GCConnsAfter time.Duration `mapstructure:"gc_conns_after"`

	// GCInterval is the sweep cadence.
	GCInterval time.Duration `mapstructure:"gc_interval"`

	// QueueSize caps the per-connection delivery queue (in batches).
	QueueSize int `mapstructure:"queue_size"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Load reads configuration from an optional file plus CHANNELSTREAM_*
// environment variables, falling back to the documented defaults.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 60*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.secret", "secret")
	v.SetDefault("server.admin_user", "admin")
	v.SetDefault("server.admin_secret", "admin_secret")

	v.SetDefault("broker.wake_connections_after", 3*time.Second)
	v.SetDefault("broker.drain_timeout", 250*time.Millisecond)
	v.SetDefault("broker.gc_conns_after", 30*time.Second)
	v.SetDefault("broker.gc_interval", 5*time.Second)
	v.SetDefault("broker.queue_size", 128)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.endpoint", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", false)

	v.SetEnvPrefix("channelstream")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Watch re-reads the config file on change and retunes the log level in
// place. Only hot-reloadable settings are applied; everything else
// requires a restart.
func (c *Config) Watch(logger *slog.Logger, level *slog.LevelVar) {
	if c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if err := c.v.Unmarshal(c); err != nil {
			logger.Warn("config reload failed", "file", e.Name, "err", err)
			return
		}
		level.Set(ParseLevel(c.Logging.Level))
		logger.Info("config reloaded", "file", e.Name, "log_level", c.Logging.Level)
	})
	c.v.WatchConfig()
}

// ParseLevel maps a config string onto a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
