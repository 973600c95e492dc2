package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the daemon's startup configuration. Every field here has a
// flag equivalent in cmd/sessiond; values loaded from a file are
// defaults that flags explicitly set on the command line override.
type Config struct {
	// Port is the TCP port the control listener binds, all interfaces.
	Port int `yaml:"port"`

	// SessionCap is the maximum number of concurrently registered
	// sessions. Zero means unlimited.
	SessionCap int `yaml:"session_cap"`

	// MaxTotalBytes is the aggregate byte cap across every admitted
	// session's image, evaluated at upload admission time. Zero means
	// unlimited.
	MaxTotalBytes int64 `yaml:"max_total_bytes"`

	// User, if set, is the name of the user the daemon drops privileges
	// to after binding its listening socket.
	User string `yaml:"user"`

	// Group, if set, is the name of the group the daemon drops
	// privileges to after binding its listening socket. Defaults to
	// User's primary group when User is set and Group is not.
	Group string `yaml:"group"`

	// DebugStub is the external debugger-stub binary name looked up on
	// PATH for DEBUG and --debug START. Defaults to "gdbserver".
	DebugStub string `yaml:"debug_stub"`

	// LogLevel selects the minimum slog level: "debug", "info", "warn",
	// or "error".
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration the daemon runs with when no file
// is loaded and no flags override it.
func Default() *Config {
	return &Config{
		Port:       4444,
		SessionCap: 0,
		DebugStub:  "gdbserver",
		LogLevel:   "info",
	}
}

// LoadFile loads a single YAML configuration file, merging its values
// on top of Default. The file is the single source of truth for
// whatever fields it sets — there is no further fallback or discovery
// beyond the path given.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for internally inconsistent
// values that flag parsing and YAML decoding cannot catch on their own.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.SessionCap < 0 {
		return fmt.Errorf("session_cap must not be negative")
	}
	if c.MaxTotalBytes < 0 {
		return fmt.Errorf("max_total_bytes must not be negative")
	}
	if c.Group != "" && c.User == "" {
		return fmt.Errorf("group %q set without a user to drop to", c.Group)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug/info/warn/error, got %q", c.LogLevel)
	}
	return nil
}
