// Package config loads toolasha configuration from a YAML file with
// environment variable overrides. Environment always wins over the file,
// and the file wins over built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads Go duration strings ("300ms",
// "2s") from YAML and environment variables.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for env overrides.
func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", string(b), err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the root configuration for the toolasha runtime.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Relay     RelayConfig     `yaml:"relay"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Observer  ObserverConfig  `yaml:"observer"`
	Settings  SettingsConfig  `yaml:"settings"`
	Console   ConsoleConfig   `yaml:"console"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level string `yaml:"level" env:"TOOLASHA_LOG_LEVEL"`
}

// RelayConfig controls the websocket relay the game client connects through.
type RelayConfig struct {
	// Listen is the local address the game client is pointed at.
	Listen string `yaml:"listen" env:"TOOLASHA_RELAY_LISTEN"`
	// Upstream is the game server websocket URL.
	Upstream string `yaml:"upstream" env:"TOOLASHA_RELAY_UPSTREAM"`
	// AttachAttempts bounds the retry window when waiting for a live
	// connection to appear. Zero disables interception entirely.
	AttachAttempts int      `yaml:"attach_attempts" env:"TOOLASHA_RELAY_ATTACH_ATTEMPTS"`
	AttachInterval Duration `yaml:"attach_interval" env:"TOOLASHA_RELAY_ATTACH_INTERVAL"`
}

// LifecycleConfig controls character-switch handling.
type LifecycleConfig struct {
	// ReinitDelay is the settle delay before features are re-initialized
	// after a character switch, giving the page's own rendering a chance
	// to finish first.
	ReinitDelay Duration `yaml:"reinit_delay" env:"TOOLASHA_REINIT_DELAY"`
}

// ObserverConfig controls the mutation multiplexer.
type ObserverConfig struct {
	// DebounceDelay is the default quiescence window for debounced
	// watch registrations.
	DebounceDelay Duration `yaml:"debounce_delay" env:"TOOLASHA_DEBOUNCE_DELAY"`
}

// SettingsConfig locates the persisted feature-flag store.
type SettingsConfig struct {
	Path string `yaml:"path" env:"TOOLASHA_SETTINGS_PATH"`
}

// ConsoleConfig controls the developer console.
type ConsoleConfig struct {
	Enabled bool `yaml:"enabled" env:"TOOLASHA_CONSOLE"`
}

// DefaultConfig returns the built-in baseline.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Relay: RelayConfig{
			Listen:         "127.0.0.1:8866",
			Upstream:       "",
			AttachAttempts: 20,
			AttachInterval: Duration(500 * time.Millisecond),
		},
		Lifecycle: LifecycleConfig{ReinitDelay: Duration(300 * time.Millisecond)},
		Observer:  ObserverConfig{DebounceDelay: Duration(200 * time.Millisecond)},
		Settings:  SettingsConfig{Path: defaultSettingsPath()},
		Console:   ConsoleConfig{Enabled: false},
	}
}

func defaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "toolasha.db"
	}
	return filepath.Join(home, ".toolasha", "toolasha.db")
}

// Load reads the config file at path (if it exists) over the defaults, then
// applies environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults only.
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env overrides: %w", err)
	}
	return cfg, nil
}

// Save writes the config back out as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
