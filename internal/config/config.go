// Package config loads the engine's YAML-backed configuration file,
// grounded on the teacher's internal/config/settings.go: a typed Config
// struct with yaml tags, loaded with gopkg.in/yaml.v3 and overridable by
// CLI flags on top of whatever the file declares.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LPM-HMS/cosmos2/cosmos"
	"github.com/LPM-HMS/cosmos2/cosmos/cosmoserrors"
	"github.com/LPM-HMS/cosmos2/internal/log"
)

// Config is the on-disk shape of a cosmos engine config file (spec §6's
// Execution factory options, plus ambient logging/daemon settings).
type Config struct {
	// DatabaseURL is a connection string or bare path (spec §6); a bare
	// path is coerced relative to the working directory.
	DatabaseURL string `yaml:"database_url"`
	DefaultDRM  string `yaml:"default_drm"`
	// DefaultQueue is passed as -q to every lsf/ge submission; Tasks
	// carry no queue of their own.
	DefaultQueue string `yaml:"default_queue,omitempty"`

	Concurrency      int           `yaml:"concurrency,omitempty"`
	TickIntervalMS   int           `yaml:"tick_interval_ms,omitempty"`
	SubmitHost       string        `yaml:"submit_host,omitempty"`
	SubmitUser       string        `yaml:"submit_user,omitempty"`

	Log LogConfig `yaml:"log"`

	Daemon DaemonConfig `yaml:"daemon,omitempty"`
}

// LogConfig mirrors internal/log.Config in YAML form.
type LogConfig struct {
	Level     string `yaml:"level,omitempty"`
	Format    string `yaml:"format,omitempty"`
	AddSource bool   `yaml:"add_source,omitempty"`
}

// DaemonConfig configures cmd/cosmosd's listen/poll settings.
type DaemonConfig struct {
	ListenAddr   string `yaml:"listen_addr,omitempty"`
	PollInterval string `yaml:"poll_interval,omitempty"`
}

// Default returns a Config suitable for local development: an in-memory
// store, the local DRM, and text logging at info level.
func Default() Config {
	return Config{
		DefaultDRM:   "local",
		Concurrency:  8,
		Log:          LogConfig{Level: "info", Format: "text"},
		Daemon:       DaemonConfig{ListenAddr: ":8089", PollInterval: "500ms"},
	}
}

// Load reads and parses a YAML config file at path. A missing file is
// not an error; Default() is returned instead, matching the teacher's
// "absent config file falls back to defaults" CLI convention.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, &cosmoserrors.ConfigError{Key: "path", Reason: "read config file", Cause: err}
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, &cosmoserrors.ConfigError{Key: "path", Reason: "parse yaml", Cause: err}
	}
	return cfg, nil
}

// LoggerConfig builds an internal/log.Config from the parsed LogConfig section.
func (c Config) LoggerConfig() *log.Config {
	format := log.FormatText
	if c.Log.Format == "json" {
		format = log.FormatJSON
	}
	level := c.Log.Level
	if level == "" {
		level = "info"
	}
	return &log.Config{Level: level, Format: format, Output: os.Stderr, AddSource: c.Log.AddSource}
}

// EngineConfig translates the parsed file into a cosmos.Config, the
// shape the Execution factory (cosmos.New) actually consumes.
func (c Config) EngineConfig() cosmos.Config {
	tick := 500 * time.Millisecond
	if c.TickIntervalMS > 0 {
		tick = time.Duration(c.TickIntervalMS) * time.Millisecond
	}
	return cosmos.Config{
		DatabaseURL:  c.DatabaseURL,
		DefaultDRM:   c.DefaultDRM,
		DefaultQueue: c.DefaultQueue,
		Concurrency:  c.Concurrency,
		TickInterval: tick,
		SubmitHost:   c.SubmitHost,
		SubmitUser:   c.SubmitUser,
	}
}

// Validate enforces spec §6's "Invalid DRM is a fatal config error".
func (c Config) Validate() error {
	switch c.DefaultDRM {
	case "local", "lsf", "ge", "":
		return nil
	default:
		return fmt.Errorf("config: %w", &cosmoserrors.UnsupportedDRM{Name: c.DefaultDRM})
	}
}
