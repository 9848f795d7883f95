package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wsclient.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "url: wss://example.com/chat\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log_level = %q, want info", cfg.LogLevel)
	}
	if cfg.MetricsAddr != "127.0.0.1:9100" {
		t.Errorf("metrics_addr = %q, want default", cfg.MetricsAddr)
	}
	if cfg.DialTimeout.Seconds() != 10 {
		t.Errorf("dial_timeout = %v, want 10s", cfg.DialTimeout)
	}
}

func TestLoadRejectsMissingURL(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "log_level: debug\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing url")
	}
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "url: ws://example.com/\nlog_level: verbose\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for invalid log_level")
	}
}

func TestLoadRejectsPartialTLSConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "url: wss://example.com/\ntls:\n  cert_path: a.pem\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for cert without key")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
