// Package config loads bridge configuration from a YAML file with
// environment-variable overrides, grounded on jra3-linear-fuse's
// internal/config (itself a sqlite-backed, single-user tool in the same
// shape as this bridge).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// TagPolicyMode names one of the Tag Policy Engine strategies (spec.md §4.10).
type TagPolicyMode string

const (
	TagPolicyAllowAll      TagPolicyMode = "allow_all"
	TagPolicyFilterUnknown TagPolicyMode = "filter_unknown"
	TagPolicyWarnUnknown   TagPolicyMode = "warn_unknown"
	TagPolicyRejectUnknown TagPolicyMode = "reject_unknown"
)

// Config is the bridge's full runtime configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Automation AutomationConfig `yaml:"automation"`
	Queue     QueueConfig     `yaml:"queue"`
	Cache     CacheConfig     `yaml:"cache"`
	Shaper    ShaperConfig    `yaml:"shaper"`
	TagPolicy TagPolicyMode   `yaml:"tag_policy"`
}

// DatabaseConfig locates the Things SQLite store (spec.md §6.5).
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AutomationConfig locates the automation subprocess binaries and the
// URL-scheme auth token (spec.md §6.5).
type AutomationConfig struct {
	BinaryPath     string        `yaml:"binary_path"`      // osascript
	OpenBinaryPath string        `yaml:"open_binary_path"` // platform URL opener
	AuthToken      string        `yaml:"auth_token"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxTimeout     time.Duration `yaml:"max_timeout"`
}

// QueueConfig configures the Operation Queue (spec.md §4.7).
type QueueConfig struct {
	MaxDepth       int           `yaml:"max_depth"`
	MaxAttempts    int           `yaml:"max_attempts"`
	MaxWait        time.Duration `yaml:"max_wait"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffCap     time.Duration `yaml:"backoff_cap"`
	BulkConcurrency int          `yaml:"bulk_concurrency"`
	RecentHistory  int           `yaml:"recent_history"`
}

// CacheConfig configures the Shared Read Cache (spec.md §4.6).
type CacheConfig struct {
	DefaultTTL time.Duration `yaml:"default_ttl"`
	TagListTTL time.Duration `yaml:"tag_list_ttl"`
}

// ShaperConfig configures the Response Shaper (spec.md §4.11).
type ShaperConfig struct {
	MaxResponseBytes int `yaml:"max_response_bytes"`
}

// Default returns the configuration used when no file and no env overrides
// are present.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: defaultDatabasePath(),
		},
		Automation: AutomationConfig{
			BinaryPath:     "/usr/bin/osascript",
			OpenBinaryPath: "/usr/bin/open",
			DefaultTimeout: 30 * time.Second,
			MaxTimeout:     300 * time.Second,
		},
		Queue: QueueConfig{
			MaxDepth:        256,
			MaxAttempts:     3,
			MaxWait:         2 * time.Minute,
			BackoffBase:     1 * time.Second,
			BackoffCap:      10 * time.Second,
			BulkConcurrency: 5,
			RecentHistory:   50,
		},
		Cache: CacheConfig{
			DefaultTTL: 30 * time.Second,
			TagListTTL: 2 * time.Minute,
		},
		Shaper: ShaperConfig{
			MaxResponseBytes: 80 * 1024,
		},
		TagPolicy: TagPolicyAllowAll,
	}
}

func defaultDatabasePath() string {
	home, _ := os.UserHomeDir()
	// Things stores its database under a per-install Group Containers path;
	// the exact container suffix varies by install (App Store vs. direct),
	// so this default is one fixed best-effort path the caller can override.
	return filepath.Join(home, "Library", "Group Containers", "JLMPQHK86H.com.culturedcode.ThingsMac",
		"ThingsData-0Z5", "Things Database.thingsdatabase", "main.sqlite")
}

// Load reads configuration using the real environment.
func Load() (*Config, error) {
	return LoadWithEnv(os.Getenv)
}

// LoadWithEnv loads configuration the same way Load does, but takes an
// injectable environment lookup so tests can provide isolated values
// (grounded on jra3-linear-fuse/internal/config.LoadWithEnv).
func LoadWithEnv(getenv func(string) string) (*Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(configPath(getenv)); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if v := getenv("THINGS_MCP_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := getenv("THINGS_MCP_AUTOMATION_BINARY"); v != "" {
		cfg.Automation.BinaryPath = v
	}
	if v := getenv("THINGS_MCP_OPEN_BINARY"); v != "" {
		cfg.Automation.OpenBinaryPath = v
	}
	if v := getenv("THINGS_MCP_AUTH_TOKEN"); v != "" {
		cfg.Automation.AuthToken = v
	}
	if v := getenv("THINGS_MCP_TAG_POLICY"); v != "" {
		cfg.TagPolicy = TagPolicyMode(v)
	}

	return cfg, nil
}

func configPath(getenv func(string) string) string {
	if xdg := getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "things-mcp", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "things-mcp", "config.yaml")
}
