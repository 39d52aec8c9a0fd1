// Package config provides configuration management for the pldbg-mcp server.
//
// Configuration controls:
//   - Capability mode (readonly vs full): whether sessions may be started
//   - Database: the default connection string for control and debug connections
//   - Port signal: the marker token pldebugger prints before the debug port
//   - Timeouts: attach, release and idle-session limits
//   - Logging and the optional DAP event stream for the debug panel
//
// Values come from a YAML or JSON file, PLDBG_ environment variables and
// the defaults below, in that order of precedence.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ctagard/pldbg-mcp/internal/errors"
)

// CapabilityMode defines the level of debugging capabilities exposed
type CapabilityMode string

const (
	ModeReadOnly CapabilityMode = "readonly" // status and listing only
	ModeFull     CapabilityMode = "full"     // sessions may be started and closed
)

// DefaultPortMarker is the token pldebugger prints in the notice that carries the port.
const DefaultPortMarker = "PLDBGBREAK"

// Config holds the server configuration
type Config struct {
	Mode CapabilityMode `mapstructure:"mode"`

	// DSN is the server the control and debug connections open against.
	DSN string `mapstructure:"dsn"`

	PortMarker string `mapstructure:"port_marker"`

	AttachTimeout  time.Duration `mapstructure:"attach_timeout"`
	CloseTimeout   time.Duration `mapstructure:"close_timeout"`
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
	// Retention is how long closed sessions stay visible to debug_status.
	Retention time.Duration `mapstructure:"retention"`

	Log    LogConfig    `mapstructure:"log"`
	Events EventsConfig `mapstructure:"events"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// EventsConfig holds the DAP event stream settings
type EventsConfig struct {
	// Address is a host:port the panel events are streamed to. Empty disables the stream.
	Address string `mapstructure:"address"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Mode:           ModeFull,
		DSN:            "postgres://postgres@localhost:5432/postgres",
		PortMarker:     DefaultPortMarker,
		AttachTimeout:  10 * time.Second,
		CloseTimeout:   3 * time.Second,
		SessionTimeout: 30 * time.Minute,
		Retention:      5 * time.Minute,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix("PLDBG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfg := DefaultConfig()
	v.SetDefault("mode", string(cfg.Mode))
	v.SetDefault("dsn", cfg.DSN)
	v.SetDefault("port_marker", cfg.PortMarker)
	v.SetDefault("attach_timeout", cfg.AttachTimeout)
	v.SetDefault("close_timeout", cfg.CloseTimeout)
	v.SetDefault("session_timeout", cfg.SessionTimeout)
	v.SetDefault("retention", cfg.Retention)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("events.address", cfg.Events.Address)
	return v
}

// LoadConfig loads configuration from a file. An empty path searches the
// user config directory and the working directory for pldbg.yaml, and falls
// back to defaults plus environment when none exists.
func LoadConfig(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else {
		v.SetConfigName("pldbg")
		if configDir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(configDir, "pldbg"))
		}
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the session controller cannot work with.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeFull, ModeReadOnly:
	default:
		return errors.ConfigInvalid("mode", "must be 'readonly' or 'full'")
	}
	if strings.TrimSpace(c.PortMarker) == "" {
		return errors.ConfigInvalid("port_marker", "must not be empty")
	}
	if c.AttachTimeout <= 0 {
		return errors.ConfigInvalid("attach_timeout", "must be positive")
	}
	if c.CloseTimeout <= 0 {
		return errors.ConfigInvalid("close_timeout", "must be positive")
	}
	if c.SessionTimeout <= 0 {
		return errors.ConfigInvalid("session_timeout", "must be positive")
	}
	if c.Retention < 0 {
		return errors.ConfigInvalid("retention", "must not be negative")
	}
	return nil
}

// CanStartSessions returns true if debug sessions may be started
func (c *Config) CanStartSessions() bool {
	return c.Mode == ModeFull
}
