package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. HOURLY_LOG_LEVEL.
const EnvPrefix = "HOURLY"

// Config is the effective configuration of the hourly CLI and daemon
type Config struct {
	Backend     BackendConfig     `mapstructure:"backend" yaml:"backend"`
	Correlation CorrelationConfig `mapstructure:"correlation" yaml:"correlation"`
	Poll        PollConfig        `mapstructure:"poll" yaml:"poll"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Tracing     TracingConfig     `mapstructure:"tracing" yaml:"tracing"`
	Serve       ServeConfig       `mapstructure:"serve" yaml:"serve"`
	Report      ReportConfig      `mapstructure:"report" yaml:"report"`
}

// BackendConfig configures the analytics backend client
type BackendConfig struct {
	Origin           string        `mapstructure:"origin" yaml:"origin"`
	TargetCollection string        `mapstructure:"target_collection" yaml:"target_collection"`
	SessionCookie    string        `mapstructure:"session_cookie" yaml:"session_cookie"`
	CSRFCookie       string        `mapstructure:"csrf_cookie" yaml:"csrf_cookie"`
	CSRFHeader       string        `mapstructure:"csrf_header" yaml:"csrf_header"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RateLimit        float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst            int           `mapstructure:"burst" yaml:"burst"`
}

// CorrelationConfig bounds how long a run waits for matching traffic
type CorrelationConfig struct {
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// PollConfig is the job completion budget
type PollConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
}

// StoreConfig locates the last-match database. Empty keeps it in memory.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
	File  string `mapstructure:"file" yaml:"file"`
}

// MetricsConfig configures metric export for one-shot CLI runs
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile" yaml:"textfile"`
}

// TracingConfig configures OpenTelemetry export
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

// ServeConfig configures the daemon
type ServeConfig struct {
	Addr      string  `mapstructure:"addr" yaml:"addr"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst     int     `mapstructure:"burst" yaml:"burst"`

	// APIKeyHash is a bcrypt hash; when set every endpoint but /health and
	// /metrics requires the matching key
	APIKeyHash string `mapstructure:"api_key_hash" yaml:"api_key_hash"`

	TLSCert       string `mapstructure:"tls_cert" yaml:"tls_cert"`
	TLSKey        string `mapstructure:"tls_key" yaml:"tls_key"`
	TLSSelfSigned bool   `mapstructure:"tls_self_signed" yaml:"tls_self_signed"`
}

// TLSEnabled reports whether the daemon serves HTTPS
func (s ServeConfig) TLSEnabled() bool {
	return s.TLSSelfSigned || (s.TLSCert != "" && s.TLSKey != "")
}

// ReportConfig is the default hour range of a report
type ReportConfig struct {
	StartHour int `mapstructure:"start_hour" yaml:"start_hour"`
	EndHour   int `mapstructure:"end_hour" yaml:"end_hour"`
}

// DefaultDir is the per-user configuration and state directory
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".usm-hourly"
	}
	return filepath.Join(home, ".usm-hourly")
}

// SetDefaults registers every key with its default on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("backend.origin", "https://app.frontapp.com")
	v.SetDefault("backend.target_collection", "workload")
	v.SetDefault("backend.session_cookie", "")
	v.SetDefault("backend.csrf_cookie", "front.csrf")
	v.SetDefault("backend.csrf_header", "x-front-xsrf")
	v.SetDefault("backend.timeout", 30*time.Second)
	v.SetDefault("backend.rate_limit", 5.0)
	v.SetDefault("backend.burst", 5)

	v.SetDefault("correlation.timeout", 8*time.Second)
	v.SetDefault("correlation.poll_interval", 120*time.Millisecond)

	v.SetDefault("poll.max_attempts", 60)
	v.SetDefault("poll.interval", 200*time.Millisecond)

	v.SetDefault("store.path", filepath.Join(DefaultDir(), "state.db"))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.file", "")

	v.SetDefault("metrics.textfile", "")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")

	v.SetDefault("serve.addr", "127.0.0.1:8787")
	v.SetDefault("serve.rate_limit", 20.0)
	v.SetDefault("serve.burst", 40)
	v.SetDefault("serve.api_key_hash", "")
	v.SetDefault("serve.tls_cert", "")
	v.SetDefault("serve.tls_key", "")
	v.SetDefault("serve.tls_self_signed", false)

	v.SetDefault("report.start_hour", 10)
	v.SetDefault("report.end_hour", 18)
}

// BindEnv enables HOURLY_* overrides, e.g. HOURLY_BACKEND_TIMEOUT=10s
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Short aliases for the values people set most
	v.BindEnv("backend.session_cookie", "HOURLY_SESSION_COOKIE", "HOURLY_BACKEND_SESSION_COOKIE")
	v.BindEnv("backend.origin", "HOURLY_ORIGIN", "HOURLY_BACKEND_ORIGIN")
}

// Load decodes and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and required values
func (c *Config) Validate() error {
	if c.Backend.Origin != "" {
		u, err := url.Parse(c.Backend.Origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("backend.origin must be an absolute URL, got %q", c.Backend.Origin)
		}
	}
	if c.Backend.TargetCollection == "" || strings.Contains(c.Backend.TargetCollection, "/") {
		return fmt.Errorf("backend.target_collection must be a single path segment, got %q", c.Backend.TargetCollection)
	}
	if c.Backend.RateLimit < 0 {
		return fmt.Errorf("backend.rate_limit must not be negative")
	}
	if c.Correlation.Timeout <= 0 {
		return fmt.Errorf("correlation.timeout must be positive")
	}
	if c.Correlation.PollInterval <= 0 {
		return fmt.Errorf("correlation.poll_interval must be positive")
	}
	if c.Poll.MaxAttempts < 1 {
		return fmt.Errorf("poll.max_attempts must be at least 1, got %d", c.Poll.MaxAttempts)
	}
	if c.Poll.Interval < 0 {
		return fmt.Errorf("poll.interval must not be negative")
	}
	if c.Report.StartHour < 0 || c.Report.StartHour > 23 || c.Report.EndHour < 0 || c.Report.EndHour > 23 {
		return fmt.Errorf("report hours must be between 0 and 23")
	}
	if c.Report.EndHour < c.Report.StartHour {
		return fmt.Errorf("report.end_hour must not be before report.start_hour")
	}
	if c.Serve.RateLimit < 0 {
		return fmt.Errorf("serve.rate_limit must not be negative")
	}
	if (c.Serve.TLSCert == "") != (c.Serve.TLSKey == "") {
		return fmt.Errorf("serve.tls_cert and serve.tls_key must be set together")
	}
	return nil
}

// Redacted returns a copy safe to print, with secrets masked
func (c Config) Redacted() Config {
	if c.Backend.SessionCookie != "" {
		c.Backend.SessionCookie = "<redacted>"
	}
	if c.Serve.APIKeyHash != "" {
		c.Serve.APIKeyHash = "<redacted>"
	}
	return c
}
