// Package config loads QueryFlow settings from defaults, an optional YAML
// file, QUERYFLOW_ environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"

	"queryflow/internal/router"
	dbconfig "queryflow/pkg/database"
)

// EnvPrefix marks the environment variables read by the loader.
// QUERYFLOW_HTTP_READ_TIMEOUT maps to http.read_timeout.
const EnvPrefix = "QUERYFLOW_"

// DefaultFiles are looked up in the working directory when no file is named.
var DefaultFiles = []string{"queryflow.yaml", "queryflow.yml"}

type Config struct {
	Database  *dbconfig.Config `koanf:"database"`
	HTTP      *HTTPConfig      `koanf:"http"`
	WebSocket *WebSocketConfig `koanf:"websocket"`
	Limiter   *LimiterConfig   `koanf:"limiter"`
	Query     *QueryConfig     `koanf:"query"`
	Session   *SessionConfig   `koanf:"session"`
	Ingress   *IngressConfig   `koanf:"ingress"`
	Log       *LogConfig       `koanf:"log"`
}

type HTTPConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// Addr returns the listen address.
func (h *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

type WebSocketConfig struct {
	// AllowedOrigins lists the Origin values accepted on upgrade. Empty
	// accepts any origin.
	AllowedOrigins []string `koanf:"allowed_origins"`
	HubBuffer      int      `koanf:"hub_buffer"`
}

// LimiterConfig sizes the per-session sliding window.
type LimiterConfig struct {
	Limit        int           `koanf:"limit"`
	Window       time.Duration `koanf:"window"`
	TickInterval time.Duration `koanf:"tick_interval"`
}

type QueryConfig struct {
	Policy  string        `koanf:"policy"`
	Latency time.Duration `koanf:"latency"`
}

type SessionConfig struct {
	IdleTimeout   time.Duration `koanf:"idle_timeout"`
	MaxSessions   int           `koanf:"max_sessions"`
	SweepSchedule string        `koanf:"sweep_schedule"`
	CookieName    string        `koanf:"cookie_name"`
	CookieSecret  string        `koanf:"cookie_secret"`
}

// IngressConfig throttles HTTP requests per client address, independently of
// the per-session query limit.
type IngressConfig struct {
	Enabled           bool    `koanf:"enabled"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DefaultConfig returns the settings used when nothing overrides them.
func DefaultConfig() *Config {
	return &Config{
		Database: dbconfig.DefaultConfig(),
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		WebSocket: &WebSocketConfig{
			AllowedOrigins: []string{},
			HubBuffer:      1000,
		},
		Limiter: &LimiterConfig{
			Limit:        10,
			Window:       time.Minute,
			TickInterval: time.Second,
		},
		Query: &QueryConfig{
			Policy:  string(router.PolicyStrict),
			Latency: time.Second,
		},
		Session: &SessionConfig{
			IdleTimeout:   30 * time.Minute,
			MaxSessions:   1000,
			SweepSchedule: "@every 1m",
			CookieName:    "queryflow",
		},
		Ingress: &IngressConfig{
			Enabled:           true,
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// defaults flattens DefaultConfig into koanf keys.
func defaults() map[string]any {
	d := DefaultConfig()
	return map[string]any{
		"database.path":               d.Database.DatabasePath,
		"database.max_connections":    d.Database.MaxConnections,
		"database.conn_max_lifetime":  d.Database.ConnMaxLifetime,
		"database.conn_max_idle_time": d.Database.ConnMaxIdleTime,
		"http.host":                   d.HTTP.Host,
		"http.port":                   d.HTTP.Port,
		"http.read_timeout":           d.HTTP.ReadTimeout,
		"http.write_timeout":          d.HTTP.WriteTimeout,
		"http.shutdown_timeout":       d.HTTP.ShutdownTimeout,
		"http.cors_origins":           d.HTTP.CORSOrigins,
		"websocket.allowed_origins":   d.WebSocket.AllowedOrigins,
		"websocket.hub_buffer":        d.WebSocket.HubBuffer,
		"limiter.limit":               d.Limiter.Limit,
		"limiter.window":              d.Limiter.Window,
		"limiter.tick_interval":       d.Limiter.TickInterval,
		"query.policy":                d.Query.Policy,
		"query.latency":               d.Query.Latency,
		"session.idle_timeout":        d.Session.IdleTimeout,
		"session.max_sessions":        d.Session.MaxSessions,
		"session.sweep_schedule":      d.Session.SweepSchedule,
		"session.cookie_name":         d.Session.CookieName,
		"session.cookie_secret":       d.Session.CookieSecret,
		"ingress.enabled":             d.Ingress.Enabled,
		"ingress.requests_per_second": d.Ingress.RequestsPerSecond,
		"ingress.burst":               d.Ingress.Burst,
		"log.level":                   d.Log.Level,
		"log.format":                  d.Log.Format,
	}
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Database == nil {
		return errors.New("database configuration is required")
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}

	if c.HTTP == nil {
		return errors.New("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return errors.New("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP write timeout must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("HTTP shutdown timeout must be positive")
	}

	if c.WebSocket == nil {
		return errors.New("WebSocket configuration is required")
	}
	if c.WebSocket.HubBuffer <= 0 {
		return errors.New("WebSocket hub buffer must be positive")
	}

	if c.Limiter == nil {
		return errors.New("limiter configuration is required")
	}
	if c.Limiter.Limit <= 0 {
		return errors.New("limiter limit must be positive")
	}
	if c.Limiter.Window <= 0 {
		return errors.New("limiter window must be positive")
	}
	if c.Limiter.TickInterval <= 0 {
		return errors.New("limiter tick interval must be positive")
	}

	if c.Query == nil {
		return errors.New("query configuration is required")
	}
	if _, err := router.ParsePolicy(c.Query.Policy); err != nil {
		return err
	}
	if c.Query.Latency < 0 {
		return errors.New("query latency cannot be negative")
	}

	if c.Session == nil {
		return errors.New("session configuration is required")
	}
	if c.Session.IdleTimeout < 0 {
		return errors.New("session idle timeout cannot be negative")
	}
	if c.Session.MaxSessions < 0 {
		return errors.New("max sessions cannot be negative")
	}
	if c.Session.SweepSchedule != "" {
		if _, err := cron.ParseStandard(c.Session.SweepSchedule); err != nil {
			return fmt.Errorf("invalid session sweep schedule %q: %w", c.Session.SweepSchedule, err)
		}
	}
	if c.Session.CookieName == "" {
		return errors.New("session cookie name cannot be empty")
	}

	if c.Ingress == nil {
		return errors.New("ingress configuration is required")
	}
	if c.Ingress.Enabled && (c.Ingress.RequestsPerSecond <= 0 || c.Ingress.Burst <= 0) {
		return errors.New("ingress rate and burst must be positive when enabled")
	}

	if c.Log == nil {
		return errors.New("log configuration is required")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// flagKeys maps command-line flag names to configuration keys. Flags not
// listed here are not configuration.
var flagKeys = map[string]string{
	"host":       "http.host",
	"port":       "http.port",
	"database":   "database.path",
	"rate-limit": "limiter.limit",
	"policy":     "query.policy",
	"latency":    "query.latency",
	"log-level":  "log.level",
	"log-format": "log.format",
}

// LoadFromEnv returns the defaults overridden by QUERYFLOW_ variables.
func LoadFromEnv() (*Config, error) {
	return loadLayers("", true, nil)
}

// LoadFromFile returns the defaults overridden by the YAML file at path.
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config file path is required")
	}
	return loadLayers(path, false, nil)
}

// LoadConfigWithPrecedence loads every layer. Precedence, highest first:
// flags, environment, file, defaults. An empty path falls back to
// DefaultFiles in the working directory; a named file must exist.
func LoadConfigWithPrecedence(path string, flags *pflag.FlagSet) (*Config, error) {
	if path == "" {
		path = findConfigFile()
	}
	return loadLayers(path, true, flags)
}

func findConfigFile() string {
	for _, name := range DefaultFiles {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

func loadLayers(path string, withEnv bool, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if withEnv {
		if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
			return nil, fmt.Errorf("failed to load environment: %w", err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
		}
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// listKeys are the settings whose environment values are comma-separated.
var listKeys = map[string]bool{
	"http.cors_origins":         true,
	"websocket.allowed_origins": true,
}

// envValue maps an environment variable onto its key, splitting list
// settings on commas.
func envValue(name, value string) (string, interface{}) {
	key := envKey(name)
	if !listKeys[key] {
		return key, value
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return key, items
}

// envKey turns QUERYFLOW_SECTION_SOME_KEY into section.some_key.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(key, "_", ".", 1)
}
