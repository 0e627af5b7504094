// Package config loads and validates profiled configuration via Viper.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Frontier  FrontierConfig  `mapstructure:"frontier"`
	Events    EventsConfig    `mapstructure:"events"`
	DB        DBConfig        `mapstructure:"db"`
	Profiles  ProfilesConfig  `mapstructure:"profiles"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                int `mapstructure:"port"`
	RequestTimeoutSec   int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSecs int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// FrontierConfig bounds the in-memory URL queue.
type FrontierConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// EventsConfig tunes the lifecycle event hub.
type EventsConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
}

// DBConfig controls access to the profile database. An empty DSN keeps
// profiles in memory only.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ProfilesConfig holds registry-wide profile policy.
type ProfilesConfig struct {
	ReservedNames    []string `mapstructure:"reserved_names"`
	DomainListLength int      `mapstructure:"domain_list_length"`
}

// RateLimitConfig throttles admission requests per profile handle.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// TelemetryConfig toggles OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PROFILED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// DefaultReservedNames lists the built-in profiles that cannot be
// terminated or deleted through the API.
var DefaultReservedNames = []string{
	"proxy",
	"remote",
	"snippetLocalText",
	"snippetGlobalText",
	"snippetLocalMedia",
	"snippetGlobalMedia",
	"surrogates",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("logging.development", true)
	v.SetDefault("frontier.capacity", 10000)
	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.max_batch_events", 256)
	v.SetDefault("events.max_batch_wait_ms", 250)
	v.SetDefault("db.table", "crawl_profiles")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("profiles.reserved_names", DefaultReservedNames)
	v.SetDefault("profiles.domain_list_length", 160)
	v.SetDefault("ratelimit.rps", 50.0)
	v.SetDefault("ratelimit.burst", 100)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "profiled")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Frontier.Capacity <= 0 {
		return fmt.Errorf("frontier.capacity must be > 0")
	}
	if c.Events.BufferSize < 0 || c.Events.MaxBatchEvents < 0 || c.Events.MaxBatchWaitMs < 0 {
		return fmt.Errorf("events settings must be >= 0")
	}
	if c.Profiles.DomainListLength < 0 {
		return fmt.Errorf("profiles.domain_list_length must be >= 0")
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("ratelimit settings must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// RequestTimeout returns the per-request deadline for the admin API.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSec) * time.Second
}

// ShutdownTimeout bounds graceful shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSecs) * time.Second
}

// BatchWait converts the event batch wait into a duration.
func (c Config) BatchWait() time.Duration {
	return time.Duration(c.Events.MaxBatchWaitMs) * time.Millisecond
}

// IsReserved reports whether name is protected from termination.
func (c Config) IsReserved(name string) bool {
	return slices.Contains(c.Profiles.ReservedNames, name)
}
