// Package config provides configuration loading and management for feedsync.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/feedsync/realtime"
)

// Config represents the complete feedsync configuration
type Config struct {
	NATS NATSConfig `yaml:"nats"`
	Auth AuthConfig `yaml:"auth"`
	Sync SyncConfig `yaml:"sync"`
	Blob BlobConfig `yaml:"blob"`
	Log  LogConfig  `yaml:"log"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL
	URL string `yaml:"url"`
	// Name identifies this client on the server
	Name string `yaml:"name"`
	// MaxReconnects bounds reconnection attempts (-1 = unlimited)
	MaxReconnects int `yaml:"max_reconnects"`
	// ReconnectWait is the delay between reconnection attempts
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// AuthConfig configures session token verification
type AuthConfig struct {
	// Secret is the HMAC secret for session tokens and upload grants.
	// Loaded from FEEDSYNC_AUTH_SECRET when empty.
	Secret string `yaml:"secret"`
	// Required controls whether submissions must carry a valid token
	Required bool `yaml:"required"`
}

// SyncConfig configures the reconciliation behavior
type SyncConfig struct {
	// IntentTimeout bounds how long a speculative intent waits for the
	// remote outcome before rolling back
	IntentTimeout time.Duration `yaml:"intent_timeout"`
	// CorrelationWindow bounds temp-id matching of pushed inserts
	// against speculative ones
	CorrelationWindow time.Duration `yaml:"correlation_window"`
	// EnrichmentPolicy is "placeholder" or "drop" for message pushes
	// whose sender profile cannot be resolved
	EnrichmentPolicy string `yaml:"enrichment_policy"`
}

// BlobConfig configures attachment storage
type BlobConfig struct {
	// AllowPatterns are glob patterns an upload path must match
	// (empty = built-in image/document defaults)
	AllowPatterns []string `yaml:"allow_patterns"`
	// GrantTTL bounds upload grant validity
	GrantTTL time.Duration `yaml:"grant_ttl"`
}

// LogConfig configures logging
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Name:          "feedsync",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Auth: AuthConfig{
			Required: true,
		},
		Sync: SyncConfig{
			IntentTimeout:     15 * time.Second,
			CorrelationWindow: 30 * time.Second,
			EnrichmentPolicy:  realtime.EnrichPlaceholder,
		},
		Blob: BlobConfig{
			GrantTTL: 5 * time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	if c.Auth.Required && c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required when auth.required is set")
	}
	if c.Sync.IntentTimeout <= 0 {
		return fmt.Errorf("sync.intent_timeout must be positive")
	}
	if c.Sync.CorrelationWindow < 0 {
		return fmt.Errorf("sync.correlation_window must not be negative")
	}
	switch c.Sync.EnrichmentPolicy {
	case realtime.EnrichPlaceholder, realtime.EnrichDrop:
	default:
		return fmt.Errorf("sync.enrichment_policy must be %q or %q",
			realtime.EnrichPlaceholder, realtime.EnrichDrop)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.Name != "" {
		c.NATS.Name = other.NATS.Name
	}
	if other.NATS.MaxReconnects != 0 {
		c.NATS.MaxReconnects = other.NATS.MaxReconnects
	}
	if other.NATS.ReconnectWait != 0 {
		c.NATS.ReconnectWait = other.NATS.ReconnectWait
	}

	if other.Auth.Secret != "" {
		c.Auth.Secret = other.Auth.Secret
	}

	if other.Sync.IntentTimeout != 0 {
		c.Sync.IntentTimeout = other.Sync.IntentTimeout
	}
	if other.Sync.CorrelationWindow != 0 {
		c.Sync.CorrelationWindow = other.Sync.CorrelationWindow
	}
	if other.Sync.EnrichmentPolicy != "" {
		c.Sync.EnrichmentPolicy = other.Sync.EnrichmentPolicy
	}

	if len(other.Blob.AllowPatterns) > 0 {
		c.Blob.AllowPatterns = other.Blob.AllowPatterns
	}
	if other.Blob.GrantTTL != 0 {
		c.Blob.GrantTTL = other.Blob.GrantTTL
	}

	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
}
