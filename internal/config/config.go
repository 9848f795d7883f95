// Package config provides YAML configuration loading and validation for the
// wsclient command-line probe (cmd/wsclient-probe; cmd/wsecho takes flags
// only). Grounded on
// internal/config/config.go's read-unmarshal-default-validate pipeline,
// adapted from the agent's dashboard/TLS/rules shape to a single target
// endpoint plus the optional features in SPEC_FULL.md §3.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure for the CLI tools. The
// wsclient.Client itself is always configured via its setters/options; this
// type exists only so a CLI binary can describe a client declaratively.
type Config struct {
	// URL is the target WebSocket endpoint, e.g. "wss://example.com/chat".
	// Required.
	URL string `yaml:"url"`

	// DialTimeout bounds the TCP connect + TLS handshake window; the WS
	// upgrade exchange that follows is not bounded by it. Defaults to 10s
	// when omitted.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// BearerToken, if set, is attached as an Authorization header on the
	// handshake request.
	BearerToken string `yaml:"bearer_token"`

	// OutboxPath, if set, enables the persistent send outbox (internal/queue).
	OutboxPath string `yaml:"outbox_path"`

	// JournalPath, if set, enables the tamper-evident event journal
	// (internal/journal).
	JournalPath string `yaml:"journal_path"`

	// MetricsAddr is the listen address for the Prometheus /metrics HTTP
	// server. Defaults to "127.0.0.1:9100" when omitted.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`

	// TLS holds optional client certificate/CA material for wss:// targets.
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig holds optional certificate and key paths for a wss:// target.
type TLSConfig struct {
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`
	CAPath   string `yaml:"ca_path"`
	Insecure bool   `yaml:"insecure"`
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Load reads the YAML file at path, unmarshals it into Config, applies
// defaults, and validates all required fields. It returns a wrapped error
// describing every validation failure found, not just the first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = "127.0.0.1:9100"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.URL == "" {
		errs = append(errs, errors.New("url is required"))
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.DialTimeout < 0 {
		errs = append(errs, errors.New("dial_timeout must not be negative"))
	}
	if cfg.TLS.CertPath != "" && cfg.TLS.KeyPath == "" {
		errs = append(errs, errors.New("tls.key_path is required when tls.cert_path is set"))
	}
	if cfg.TLS.KeyPath != "" && cfg.TLS.CertPath == "" {
		errs = append(errs, errors.New("tls.cert_path is required when tls.key_path is set"))
	}

	return errors.Join(errs...)
}
