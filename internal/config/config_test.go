package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
database_url: "postgres://localhost/hub"
hubs:
  - url: "https://hub1.example.com"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Concurrency.Backfill != 5 {
		t.Errorf("Concurrency.Backfill = %d, want 5", cfg.Concurrency.Backfill)
	}
	if cfg.Concurrency.Realtime != 1 {
		t.Errorf("Concurrency.Realtime = %d, want 1", cfg.Concurrency.Realtime)
	}
	if cfg.BatchSize != 100 {
		t.Errorf("BatchSize = %d, want 100", cfg.BatchSize)
	}
	if cfg.BatchTimeoutMS != 1000 {
		t.Errorf("BatchTimeoutMS = %d, want 1000", cfg.BatchTimeoutMS)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.RequestTimeoutMS != 30000 {
		t.Errorf("RequestTimeoutMS = %d, want 30000", cfg.RequestTimeoutMS)
	}
}

func TestLoad_MissingHubsFails(t *testing.T) {
	path := writeTempConfig(t, `
database_url: "postgres://localhost/hub"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for config with no hub endpoints")
	}
}

func TestLoad_MissingDatabaseURLFails(t *testing.T) {
	path := writeTempConfig(t, `
hubs:
  - url: "https://hub1.example.com"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for config with no database_url")
	}
}

func TestLoad_RealtimeConcurrencyMustBeOne(t *testing.T) {
	path := writeTempConfig(t, `
database_url: "postgres://localhost/hub"
hubs:
  - url: "https://hub1.example.com"
concurrency:
  realtime: 2
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for concurrency.realtime != 1")
	}
}

func TestLoad_EnvOverridesFileValues(t *testing.T) {
	path := writeTempConfig(t, `
database_url: "postgres://localhost/hub"
hubs:
  - url: "https://hub1.example.com"
concurrency:
  backfill: 2
`)
	t.Setenv("DB_URL", "postgres://override/hub")
	t.Setenv("HUB_URLS", "https://a.example.com, https://b.example.com")
	t.Setenv("BACKFILL_CONCURRENCY", "9")
	t.Setenv("ENABLE_CLIENT_DISCOVERY", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://override/hub" {
		t.Errorf("DatabaseURL = %q, want env override", cfg.DatabaseURL)
	}
	if len(cfg.Hubs) != 2 || cfg.Hubs[0].URL != "https://a.example.com" || cfg.Hubs[1].URL != "https://b.example.com" {
		t.Errorf("Hubs = %+v, want two hubs from HUB_URLS", cfg.Hubs)
	}
	if cfg.Concurrency.Backfill != 9 {
		t.Errorf("Concurrency.Backfill = %d, want 9 from env", cfg.Concurrency.Backfill)
	}
	if !cfg.Strategy.EnableClientDiscovery {
		t.Error("expected EnableClientDiscovery true from env override")
	}
}

func TestHubEndpoint_AuthHeaderValue(t *testing.T) {
	t.Setenv("HUB1_TOKEN", "secret-token")
	h := HubEndpoint{URL: "https://hub1.example.com", AuthHeaderName: "Authorization", AuthHeaderEnv: "HUB1_TOKEN"}

	name, value, ok := h.AuthHeaderValue()
	if !ok {
		t.Fatal("expected ok=true when auth env var is set")
	}
	if name != "Authorization" || value != "secret-token" {
		t.Errorf("AuthHeaderValue() = (%q, %q), want (Authorization, secret-token)", name, value)
	}
}

func TestHubEndpoint_AuthHeaderValueMissingEnv(t *testing.T) {
	h := HubEndpoint{URL: "https://hub1.example.com", AuthHeaderName: "Authorization", AuthHeaderEnv: "UNSET_TOKEN_VAR"}
	if _, _, ok := h.AuthHeaderValue(); ok {
		t.Fatal("expected ok=false when auth env var is unset")
	}
}

func TestHubEndpoint_AuthHeaderValueNoAuthConfigured(t *testing.T) {
	h := HubEndpoint{URL: "https://hub1.example.com"}
	if _, _, ok := h.AuthHeaderValue(); ok {
		t.Fatal("expected ok=false when no auth header is configured")
	}
}
