package config

import (
	"fmt"
	"strings"
	"time"
)

// Config represents the complete commcore configuration.
type Config struct {
	Service  ServiceConfig   `yaml:"service"`
	Comm     CommConfig      `yaml:"comm"`
	Journal  JournalConfig   `yaml:"journal"`
	API      APIConfig       `yaml:"api,omitempty"`
	Commands []CommandConfig `yaml:"commands"`

	// path of the file this config was loaded from
	source string
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// CommConfig sizes the dispatcher.
type CommConfig struct {
	Capacity          int           `yaml:"capacity"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	SubmitLockTimeout time.Duration `yaml:"submit_lock_timeout"`
	Tick              time.Duration `yaml:"tick"`
}

// JournalConfig defines completion journal storage.
type JournalConfig struct {
	Path          string        `yaml:"path"`
	Retention     time.Duration `yaml:"retention"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token with full access.
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// Command modes.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

// TimeoutInfinite disables the timeout of an async command.
const TimeoutInfinite = "infinite"

// CommandConfig binds an (object, action) pair to a built-in executor.
type CommandConfig struct {
	Name     string         `yaml:"name"`
	Object   uint8          `yaml:"object"`
	Action   uint8          `yaml:"action"`
	Executor string         `yaml:"executor"`
	Mode     string         `yaml:"mode"`
	Timeout  string         `yaml:"timeout,omitempty"` // duration, "0" or "infinite"
	Params   map[string]any `yaml:"params,omitempty"`
}

// Sync reports whether the command runs synchronously.
func (c CommandConfig) Sync() bool {
	return c.Mode != ModeAsync
}

// Infinite reports whether the command has no timeout.
func (c CommandConfig) Infinite() bool {
	return strings.EqualFold(strings.TrimSpace(c.Timeout), TimeoutInfinite)
}

// TimeoutDuration parses the timeout. Empty means zero (dispatcher default).
// Callers check Infinite first.
func (c CommandConfig) TimeoutDuration() (time.Duration, error) {
	s := strings.TrimSpace(c.Timeout)
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", c.Timeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("timeout must not be negative: %q", c.Timeout)
	}
	return d, nil
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "commcore",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Comm: CommConfig{
			Capacity:          32,
			PollInterval:      50 * time.Millisecond,
			SubmitLockTimeout: 10 * time.Millisecond,
			Tick:              time.Millisecond,
		},
		Journal: JournalConfig{
			Path:          "./data/journal.db",
			Retention:     7 * 24 * time.Hour,
			PruneInterval: time.Hour,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}

// Source returns the path the config was loaded from, if any.
func (c *Config) Source() string {
	return c.source
}
