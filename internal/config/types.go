package config

import (
	"path/filepath"
	"time"

	"github.com/mattjoyce/fwup/internal/ipset"
	"github.com/mattjoyce/fwup/internal/queue"
)

// Config represents the complete fwup configuration.
type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	State       StateConfig       `yaml:"state"`
	Interpreter InterpreterConfig `yaml:"interpreter"`
	API         APIConfig         `yaml:"api,omitempty"`

	// Sets are created at startup if the store does not know them yet.
	Sets []ipset.Set `yaml:"sets,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path     string `yaml:"path"`
	LockPath string `yaml:"lock_path,omitempty"`
}

// InterpreterConfig describes the ipset restore child. The values are fixed
// for the lifetime of the process.
type InterpreterConfig struct {
	Path          string        `yaml:"path"`
	Args          []string      `yaml:"args,omitempty"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// QueueConfig converts the interpreter section for queue.WithConfig.
func (c InterpreterConfig) QueueConfig() queue.Config {
	return queue.Config{
		Path:          c.Path,
		Args:          c.Args,
		FlushInterval: c.FlushInterval,
		RetryInterval: c.RetryInterval,
	}
}

// LockFile returns the pid lock location, next to the state database unless
// configured explicitly.
func (c *Config) LockFile() string {
	if c.State.LockPath != "" {
		return c.State.LockPath
	}
	return filepath.Join(filepath.Dir(c.State.Path), "fwup.lock")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	q := queue.DefaultConfig()
	return &Config{
		Service: ServiceConfig{
			Name:      "fwup",
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Path: "./data/fwup.db",
		},
		Interpreter: InterpreterConfig{
			Path:          q.Path,
			Args:          q.Args,
			FlushInterval: q.FlushInterval,
			RetryInterval: q.RetryInterval,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8090",
		},
	}
}
