// Package config provides configuration for the sync core. Values start
// from defaults suitable for the mobile app and may be overridden through
// EVOS_-prefixed environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds every tunable of the sync core. The UI layer constructs it
// once at startup and injects it into the component constructors.
type Config struct {
	// DataDir is the root directory for the database and photo vault.
	DataDir string `envconfig:"DATA_DIR" default:"./data"`

	// RemoteBaseURL is the base URL of the backend API.
	RemoteBaseURL string `envconfig:"REMOTE_BASE_URL" default:""`

	// RemoteAPIKey authenticates backend calls when non-empty.
	RemoteAPIKey string `envconfig:"REMOTE_API_KEY" default:""`

	// RemoteTimeout bounds a single backend call.
	RemoteTimeout time.Duration `envconfig:"REMOTE_TIMEOUT" default:"15s"`

	// CacheTTL is the validity window of a cache entry.
	CacheTTL time.Duration `envconfig:"CACHE_TTL" default:"10m"`

	// CacheSyncInterval is the staleness window after which a served
	// entry also triggers a background refresh.
	CacheSyncInterval time.Duration `envconfig:"CACHE_SYNC_INTERVAL" default:"5m"`

	// SyncDebounce delays a connectivity-triggered sync so a flapping
	// link does not fire overlapping attempts.
	SyncDebounce time.Duration `envconfig:"SYNC_DEBOUNCE" default:"3s"`

	// ProbeInterval is how often the connectivity monitor polls
	// reachability.
	ProbeInterval time.Duration `envconfig:"PROBE_INTERVAL" default:"10s"`

	// PhotoRetentionDays is the horizon for deleting synced photos.
	PhotoRetentionDays int `envconfig:"PHOTO_RETENTION_DAYS" default:"30"`

	// ActionRetentionDays is the horizon for purging synced actions.
	ActionRetentionDays int `envconfig:"ACTION_RETENTION_DAYS" default:"90"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	// envconfig fills the struct tags' defaults when the variables are
	// unset, so Load with an empty environment equals Default.
	if err := envconfig.Process("EVOS", cfg); err != nil {
		// Only reachable with malformed struct tags.
		panic(err)
	}
	return cfg
}

// Load builds the configuration from defaults and EVOS_* environment
// overrides, then validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("EVOS", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the core cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data dir must not be empty")
	}
	if c.CacheSyncInterval > c.CacheTTL {
		return fmt.Errorf("cache sync interval %s exceeds ttl %s", c.CacheSyncInterval, c.CacheTTL)
	}
	if c.SyncDebounce <= 0 {
		return fmt.Errorf("sync debounce must be positive")
	}
	return nil
}
