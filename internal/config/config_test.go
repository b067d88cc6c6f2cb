package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "8787")
	t.Setenv("UPSTREAM_MODE", "http")
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("RATE_LIMIT_WINDOW", "1m")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RELAY_URL", "http://relay.local/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RateLimit.WindowDuration != time.Minute {
		t.Errorf("expected 1m window, got %v", cfg.RateLimit.WindowDuration)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("expected debug level, got %v", cfg.LogLevel)
	}
	if cfg.Client.RelayURL != "http://relay.local" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.Client.RelayURL)
	}
	if cfg.Store.QuotaBytes <= 0 {
		t.Errorf("expected a positive default quota, got %d", cfg.Store.QuotaBytes)
	}
}

func TestLoadRejectsUnknownUpstreamMode(t *testing.T) {
	t.Setenv("UPSTREAM_MODE", "carrier-pigeon")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown upstream mode")
	}
}

func TestValidateServerRequiresURLForHTTP(t *testing.T) {
	cfg := &Config{Upstream: UpstreamConfig{Mode: UpstreamModeHTTP}}
	if err := cfg.ValidateServer(); err == nil {
		t.Fatal("expected error when UPSTREAM_URL is missing")
	}
	cfg.Upstream.URL = "https://example.invalid/ai"
	if err := cfg.ValidateServer(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStoreConfigValidate(t *testing.T) {
	if err := (StoreConfig{Backend: "floppy"}).Validate(); err == nil {
		t.Error("expected error for unknown backend")
	}
	if err := (StoreConfig{Backend: StoreBackendSQLite}).Validate(); err == nil {
		t.Error("expected error for empty sqlite path")
	}
	if err := (StoreConfig{Backend: StoreBackendMemory}).Validate(); err != nil {
		t.Errorf("memory backend should validate, got %v", err)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" https://a.example , ,https://b.example")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Errorf("unexpected split result: %v", got)
	}
}
