// Package config loads the ingestion core's configuration: hub endpoints,
// seed strategy, worker concurrency, and batch/rate-limit knobs (spec.md
// §6), the same env-over-YAML layering as the teacher's main.go.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// HubEndpoint is one upstream hub in the ordered fallback list.
type HubEndpoint struct {
	URL            string `yaml:"url"`
	AuthHeaderName string `yaml:"auth_header_name"`
	AuthHeaderEnv  string `yaml:"auth_header_env"` // env var holding the secret value
}

// Strategy controls target seeding and dynamic client discovery.
type Strategy struct {
	RootTargets           []uint64 `yaml:"root_targets"`
	TargetClients         []uint64 `yaml:"target_clients"`
	EnableClientDiscovery bool     `yaml:"enable_client_discovery"`
}

// Concurrency controls worker pool sizes. Realtime must be 1 per spec.md §6.
type Concurrency struct {
	Backfill int `yaml:"backfill"`
	Realtime int `yaml:"realtime"`
}

// Config is the full recognized option set from spec.md §6.
type Config struct {
	DatabaseURL string        `yaml:"database_url"`
	Hubs        []HubEndpoint `yaml:"hubs"`
	Strategy    Strategy      `yaml:"strategy"`
	Concurrency Concurrency   `yaml:"concurrency"`

	BatchSize        int `yaml:"batch_size"`
	BatchTimeoutMS   int `yaml:"batch_timeout_ms"`
	RateLimitDelayMS int `yaml:"rate_limit_delay_ms"`
	MaxRetries       int `yaml:"max_retries"`
	RequestTimeoutMS int `yaml:"request_timeout_ms"`
}

// Load reads a YAML file at path, applies semantic defaults, and layers
// environment variable overrides on top — the same order main.go used to
// layer os.Getenv over config-file values for the Flow access node.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DB_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("HUB_URLS")); v != "" {
		c.Hubs = nil
		for _, u := range strings.Split(v, ",") {
			u = strings.TrimSpace(u)
			if u != "" {
				c.Hubs = append(c.Hubs, HubEndpoint{URL: u})
			}
		}
	}
	if v := os.Getenv("ENABLE_CLIENT_DISCOVERY"); v != "" {
		c.Strategy.EnableClientDiscovery = v == "true"
	}
	if v := os.Getenv("BACKFILL_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Concurrency.Backfill = n
		}
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRetries = n
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Concurrency.Backfill <= 0 {
		c.Concurrency.Backfill = 5
	}
	if c.Concurrency.Realtime <= 0 {
		c.Concurrency.Realtime = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BatchTimeoutMS <= 0 {
		c.BatchTimeoutMS = 1000
	}
	if c.RateLimitDelayMS <= 0 {
		c.RateLimitDelayMS = 1000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RequestTimeoutMS <= 0 {
		c.RequestTimeoutMS = 30000
	}
}

func (c *Config) validate() error {
	if len(c.Hubs) == 0 {
		return fmt.Errorf("config: at least one hub endpoint is required")
	}
	if c.Concurrency.Realtime != 1 {
		return fmt.Errorf("config: concurrency.realtime must be 1, got %d", c.Concurrency.Realtime)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: database_url (or DB_URL) is required")
	}
	return nil
}

// AuthHeaderValue returns the auth header name and its value (read from the
// AuthHeaderEnv environment variable) for this endpoint, with ok=false if
// either setting is empty or the variable is unset. main.go calls it from
// the hub.Endpoint's Transform.
func (h HubEndpoint) AuthHeaderValue() (name, value string, ok bool) {
	if h.AuthHeaderName == "" || h.AuthHeaderEnv == "" {
		return "", "", false
	}
	v := os.Getenv(h.AuthHeaderEnv)
	if v == "" {
		return "", "", false
	}
	return h.AuthHeaderName, v, true
}
