package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/fwup/internal/log"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ErrNoConfig is returned by DiscoverConfig when no candidate file exists.
var ErrNoConfig = errors.New("no config found")

// Load reads, expands, defaults and validates the config file at configPath.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s\n"+
				"Hint: Check the path or run with --config flag", absPath)
		}
		return nil, fmt.Errorf("failed to read config %s: %w", absPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}

	// Relative state paths are resolved against the config file, not the cwd.
	baseDir := filepath.Dir(absPath)
	if !filepath.IsAbs(cfg.State.Path) {
		cfg.State.Path = filepath.Join(baseDir, cfg.State.Path)
	}
	if cfg.State.LockPath != "" && !filepath.IsAbs(cfg.State.LockPath) {
		cfg.State.LockPath = filepath.Join(baseDir, cfg.State.LockPath)
	}
	return cfg, nil
}

// Parse decodes a YAML document, then applies defaults and validates it.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	expanded := interpolateEnv(string(data))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg = applyConfigDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// DiscoverConfig finds the config file by checking standard locations.
// Priority order: $FWUP_CONFIG, ~/.config/fwup/config.yaml, /etc/fwup/config.yaml, ./config.yaml
func DiscoverConfig() (string, error) {
	if path := os.Getenv("FWUP_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		log.Warn("FWUP_CONFIG points at a missing file, trying defaults", "path", path)
	}

	var candidates []string
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "fwup", "config.yaml"))
	}
	candidates = append(candidates, "/etc/fwup/config.yaml", "./config.yaml")

	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w (checked: $FWUP_CONFIG, ~/.config/fwup/config.yaml, /etc/fwup/config.yaml, ./config.yaml)", ErrNoConfig)
}

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

	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}

	if cfg.Interpreter.Path == "" {
		cfg.Interpreter.Path = defaults.Interpreter.Path
	}
	// An explicit empty list (args: []) is respected.
	if cfg.Interpreter.Args == nil {
		cfg.Interpreter.Args = defaults.Interpreter.Args
	}
	if cfg.Interpreter.FlushInterval == 0 {
		cfg.Interpreter.FlushInterval = defaults.Interpreter.FlushInterval
	}
	if cfg.Interpreter.RetryInterval == 0 {
		cfg.Interpreter.RetryInterval = defaults.Interpreter.RetryInterval
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	for i := range cfg.Sets {
		cfg.Sets[i] = cfg.Sets[i].WithDefaults()
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
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: trace, debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	switch strings.ToLower(cfg.Service.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	if !filepath.IsAbs(cfg.Interpreter.Path) {
		return fmt.Errorf("interpreter.path must be absolute (got %q)", cfg.Interpreter.Path)
	}
	if cfg.Interpreter.FlushInterval < 0 {
		return fmt.Errorf("interpreter.flush_interval must be positive")
	}
	if cfg.Interpreter.RetryInterval < 0 {
		return fmt.Errorf("interpreter.retry_interval must be positive")
	}

	if cfg.API.Enabled {
		if cfg.API.Auth.APIKey == "" {
			return fmt.Errorf("api.auth.api_key is required when the api is enabled")
		}
		if matches := envVarPattern.FindStringSubmatch(cfg.API.Auth.APIKey); len(matches) > 1 {
			return fmt.Errorf("api.auth.api_key: environment variable ${%s} is not set", matches[1])
		}
	}

	seen := make(map[string]bool, len(cfg.Sets))
	for i, set := range cfg.Sets {
		if err := set.Validate(); err != nil {
			return fmt.Errorf("sets[%d]: %w", i, err)
		}
		if seen[set.Name] {
			return fmt.Errorf("sets[%d]: duplicate set %q", i, set.Name)
		}
		seen[set.Name] = true
	}

	return nil
}
