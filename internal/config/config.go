// Package config loads streakly's runtime configuration. Values are layered:
// built-in defaults, then the YAML config file, then a .env file in the
// working directory, then STREAKLY_* environment variables. Command line
// flags are applied last by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/julianstephens/streakly/internal/constants"
	"github.com/julianstephens/streakly/internal/storage/postgres"
	"github.com/julianstephens/streakly/internal/utils"
)

// Remote drivers
const (
	DriverNone     = "none"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "STREAKLY_"

var ErrInvalidConfig = errors.New("invalid configuration")

type RemoteConfig struct {
	Driver   string        `yaml:"driver"`
	URI      string        `yaml:"uri"`
	Database string        `yaml:"database"`
	Timeout  time.Duration `yaml:"timeout"`
}

type SessionConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

type RemindersConfig struct {
	Enabled bool `yaml:"enabled"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type Config struct {
	LocalPath string          `yaml:"local_path"`
	Remote    RemoteConfig    `yaml:"remote"`
	Session   SessionConfig   `yaml:"session"`
	Timezone  string          `yaml:"timezone"`
	Reminders RemindersConfig `yaml:"reminders"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Debug     bool            `yaml:"debug"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		LocalPath: constants.DefaultLocalPath,
		Remote: RemoteConfig{
			Driver:   DriverNone,
			Database: constants.DefaultRemoteDatabase,
			Timeout:  constants.DefaultRemoteTimeout,
		},
		Session: SessionConfig{
			TTL: constants.DefaultSessionTTL,
		},
		Timezone:  constants.DefaultTimezone,
		Reminders: RemindersConfig{Enabled: true},
	}
}

// DefaultPath is ~/.config/streakly/config.yaml with ~ expanded.
func DefaultPath() string {
	return ExpandHome(filepath.Join(constants.DefaultConfigDir, constants.ConfigFileName))
}

// Load builds a Config from path (DefaultPath when empty), .env and the
// environment. A missing config file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}

	if err := cfg.mergeFile(ExpandHome(path)); err != nil {
		return cfg, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}

	cfg.LocalPath = ExpandHome(cfg.LocalPath)
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides fields from STREAKLY_* variables. lookup has the
// signature of os.LookupEnv so tests can pass a map.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s: %v", ErrInvalidConfig, EnvPrefix, name, err)
		}
		*dst = d
		return nil
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s: %v", ErrInvalidConfig, EnvPrefix, name, err)
		}
		*dst = b
		return nil
	}

	str("LOCAL_PATH", &c.LocalPath)
	str("REMOTE_DRIVER", &c.Remote.Driver)
	str("REMOTE_URI", &c.Remote.URI)
	str("REMOTE_DATABASE", &c.Remote.Database)
	str("SESSION_SECRET", &c.Session.Secret)
	str("TIMEZONE", &c.Timezone)
	str("METRICS_ADDR", &c.Metrics.Addr)

	return errors.Join(
		dur("REMOTE_TIMEOUT", &c.Remote.Timeout),
		dur("SESSION_TTL", &c.Session.TTL),
		boolean("REMINDERS_ENABLED", &c.Reminders.Enabled),
		boolean("DEBUG", &c.Debug),
	)
}

// Validate checks values that would otherwise fail late at connect time.
func (c Config) Validate() error {
	if strings.TrimSpace(c.LocalPath) == "" {
		return fmt.Errorf("%w: local_path cannot be empty", ErrInvalidConfig)
	}
	if !utils.ValidateTimezone(c.Timezone) {
		return fmt.Errorf("%w: unknown timezone %q", ErrInvalidConfig, c.Timezone)
	}

	switch c.Remote.Driver {
	case DriverNone, "":
		return nil
	case DriverPostgres:
		if c.Remote.URI != "" {
			if _, err := postgres.ValidateConnString(c.Remote.URI); err != nil {
				return fmt.Errorf("%w: remote.uri: %v", ErrInvalidConfig, err)
			}
		}
	case DriverMongo:
		if c.Remote.Database == "" {
			return fmt.Errorf("%w: remote.database is required for mongo", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown remote.driver %q (want postgres, mongo or none)", ErrInvalidConfig, c.Remote.Driver)
	}

	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("%w: remote.timeout must be positive", ErrInvalidConfig)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("%w: session.ttl must be positive", ErrInvalidConfig)
	}
	return nil
}

// RemoteEnabled reports whether a remote driver is selected.
func (c Config) RemoteEnabled() bool {
	return c.Remote.Driver != "" && c.Remote.Driver != DriverNone
}

// ConfigDir is the directory holding the local database, logs and backups.
func (c Config) ConfigDir() string {
	return filepath.Dir(c.LocalPath)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
