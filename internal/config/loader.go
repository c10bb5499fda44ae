package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// EnvConfigPath names the environment variable consulted by Discover.
const EnvConfigPath = "COMMCORE_CONFIG"

// Load reads, verifies and validates the configuration at configPath. A
// directory is taken to contain config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.source = absPath

	cfg = applyConfigDefaults(cfg)

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Discover finds the config file. Priority order: explicit path,
// $COMMCORE_CONFIG, ~/.config/commcore/config.yaml,
// /etc/commcore/config.yaml, ./config.yaml.
func Discover(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	candidates := []string{}
	if p := os.Getenv(EnvConfigPath); p != "" {
		candidates = append(candidates, p)
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "commcore", "config.yaml"))
	}
	candidates = append(candidates, "/etc/commcore/config.yaml", "./config.yaml")

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config found (checked: $%s, ~/.config/commcore/config.yaml, /etc/commcore/config.yaml, ./config.yaml)", EnvConfigPath)
}

func resolveConfigFile(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// loadConfigFile loads and parses a single config file without defaults.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &cfg, nil
}

// verifyConfigHash checks the file against .checksums in its directory. A
// missing manifest skips verification.
func verifyConfigHash(path string) error {
	dir := filepath.Dir(path)
	checksums, err := LoadChecksums(dir)
	if err != nil {
		if errors.Is(err, ErrNoChecksums) {
			return nil
		}
		return err
	}

	basename := filepath.Base(path)
	expectedHash, ok := checksums.Hashes[basename]
	if !ok {
		return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
			"Run: commcore config lock --config %s", basename, dir, path)
	}

	if err := VerifyFileHash(path, expectedHash); err != nil {
		return fmt.Errorf("config verification failed for %s: %w\n"+
			"This indicates tampering or unauthorized modification.\n"+
			"If you edited this file intentionally, run: commcore config lock --config %s", path, err, path)
	}
	return nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.Comm.Capacity == 0 {
		cfg.Comm.Capacity = defaults.Comm.Capacity
	}
	if cfg.Comm.PollInterval == 0 {
		cfg.Comm.PollInterval = defaults.Comm.PollInterval
	}
	if cfg.Comm.SubmitLockTimeout == 0 {
		cfg.Comm.SubmitLockTimeout = defaults.Comm.SubmitLockTimeout
	}
	if cfg.Comm.Tick == 0 {
		cfg.Comm.Tick = defaults.Comm.Tick
	}

	if cfg.Journal.Path == "" {
		cfg.Journal.Path = defaults.Journal.Path
	}
	if cfg.Journal.Retention == 0 {
		cfg.Journal.Retention = defaults.Journal.Retention
	}
	if cfg.Journal.PruneInterval == 0 {
		cfg.Journal.PruneInterval = defaults.Journal.PruneInterval
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	for i := range cfg.Commands {
		if cfg.Commands[i].Mode == "" {
			cfg.Commands[i].Mode = ModeSync
		}
	}

	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// left in place, validation reports it where it matters
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if f := strings.ToLower(cfg.Service.LogFormat); f != "json" && f != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Comm.Capacity < 1 {
		return fmt.Errorf("comm.capacity must be positive")
	}
	if cfg.Comm.PollInterval <= 0 {
		return fmt.Errorf("comm.poll_interval must be positive")
	}
	if cfg.Comm.SubmitLockTimeout <= 0 {
		return fmt.Errorf("comm.submit_lock_timeout must be positive")
	}
	if cfg.Comm.Tick <= 0 {
		return fmt.Errorf("comm.tick must be positive")
	}

	if cfg.Journal.Path == "" {
		return fmt.Errorf("journal.path is required")
	}
	if cfg.Journal.Retention <= 0 {
		return fmt.Errorf("journal.retention must be positive")
	}
	if cfg.Journal.PruneInterval <= 0 {
		return fmt.Errorf("journal.prune_interval must be positive")
	}

	if cfg.API.Enabled {
		if err := checkUnresolved(cfg.API.Auth.APIKey, "api.auth.api_key"); err != nil {
			return err
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if tok.Token == "" {
				return fmt.Errorf("api.auth.tokens[%d].token is required", i)
			}
			if err := checkUnresolved(tok.Token, fmt.Sprintf("api.auth.tokens[%d].token", i)); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
		}
	}

	return validateCommands(cfg)
}

func validateCommands(cfg *Config) error {
	if len(cfg.Commands) > cfg.Comm.Capacity {
		return fmt.Errorf("commands: %d configured but comm.capacity is %d", len(cfg.Commands), cfg.Comm.Capacity)
	}

	names := make(map[string]bool, len(cfg.Commands))
	pairs := make(map[[2]uint8]string, len(cfg.Commands))
	for i, cmd := range cfg.Commands {
		if cmd.Name == "" {
			return fmt.Errorf("commands[%d].name is required", i)
		}
		if names[cmd.Name] {
			return fmt.Errorf("command %q: duplicate name", cmd.Name)
		}
		names[cmd.Name] = true

		key := [2]uint8{cmd.Object, cmd.Action}
		if other, ok := pairs[key]; ok {
			return fmt.Errorf("command %q: object %d action %d already bound to %q", cmd.Name, cmd.Object, cmd.Action, other)
		}
		pairs[key] = cmd.Name

		if cmd.Executor == "" {
			return fmt.Errorf("command %q: executor is required", cmd.Name)
		}
		if cmd.Mode != ModeSync && cmd.Mode != ModeAsync {
			return fmt.Errorf("command %q: mode must be %s or %s (got %q)", cmd.Name, ModeSync, ModeAsync, cmd.Mode)
		}
		if !cmd.Infinite() {
			if _, err := cmd.TimeoutDuration(); err != nil {
				return fmt.Errorf("command %q: %w", cmd.Name, err)
			}
		}
		if cmd.Params != nil {
			if err := checkUnresolvedEnvVars(cmd.Params, cmd.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkUnresolved(value, field string) error {
	if !envVarPattern.MatchString(value) {
		return nil
	}
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return fmt.Errorf("%s: unresolved environment variable", field)
}

// checkUnresolvedEnvVars recursively checks for ${VAR} placeholders in params.
func checkUnresolvedEnvVars(data map[string]any, command string) error {
	for key, value := range data {
		switch v := value.(type) {
		case string:
			if err := checkUnresolved(v, fmt.Sprintf("command %q: params.%s", command, key)); err != nil {
				return err
			}
		case map[string]any:
			if err := checkUnresolvedEnvVars(v, command); err != nil {
				return err
			}
		}
	}
	return nil
}
