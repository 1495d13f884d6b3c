// ABOUTME: Configuration loading and parsing for coven-bridge
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/coven-bridge/internal/metrics"
	"github.com/2389/coven-bridge/internal/upgrade"
)

// Defaults applied by ApplyDefaults
const (
	DefaultHostname       = "0.0.0.0"
	DefaultPort           = 29340
	DefaultDatabasePath   = "coven-bridge.db"
	DefaultProfileTTL     = 5 * time.Minute
	DefaultProfileMaxSize = 500
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
)

// Config represents the complete coven-bridge configuration
type Config struct {
	Homeserver HomeserverConfig `yaml:"homeserver" toml:"homeserver"`
	AppService AppServiceConfig `yaml:"appservice" toml:"appservice"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Cache      CacheConfig      `yaml:"cache" toml:"cache"`
	Upgrade    upgrade.Options  `yaml:"upgrade" toml:"upgrade"`
	Metrics    metrics.Config   `yaml:"metrics" toml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// HomeserverConfig holds the Matrix homeserver connection settings
type HomeserverConfig struct {
	URL    string `yaml:"url" toml:"url"`
	Domain string `yaml:"domain" toml:"domain"`
}

// AppServiceConfig holds the application service listener settings
type AppServiceConfig struct {
	Registration string `yaml:"registration" toml:"registration"` // path to registration.yaml
	Hostname     string `yaml:"hostname" toml:"hostname"`
	Port         uint16 `yaml:"port" toml:"port"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// CacheConfig holds the profile request cache settings
type CacheConfig struct {
	ProfileTTL     time.Duration `yaml:"-" toml:"-"`
	ProfileMaxSize int           `yaml:"profile_max_size" toml:"profile_max_size"`

	// Raw string value for unmarshaling
	ProfileTTLRaw string `yaml:"profile_ttl" toml:"profile_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, formatFromPath(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Format names a config file syntax
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes raw config bytes, then applies defaults and validates.
func Parse(data []byte, format Format) (*Config, error) {
	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults fills in unset optional fields
func (c *Config) ApplyDefaults() {
	if c.AppService.Hostname == "" {
		c.AppService.Hostname = DefaultHostname
	}
	if c.AppService.Port == 0 {
		c.AppService.Port = DefaultPort
	}
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}
	if c.Cache.ProfileTTL == 0 {
		c.Cache.ProfileTTL = DefaultProfileTTL
	}
	if c.Cache.ProfileMaxSize == 0 {
		c.Cache.ProfileMaxSize = DefaultProfileMaxSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	c.Metrics.ApplyDefaults()
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Homeserver.URL == "" {
		return fmt.Errorf("homeserver.url is required")
	}
	if u, err := url.Parse(c.Homeserver.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("homeserver.url %q is not an absolute URL", c.Homeserver.URL)
	}
	if c.Homeserver.Domain == "" {
		return fmt.Errorf("homeserver.domain is required")
	}

	if c.AppService.Registration == "" {
		return fmt.Errorf("appservice.registration is required")
	}

	if c.Cache.ProfileTTL < time.Millisecond || c.Cache.ProfileTTL%time.Millisecond != 0 {
		return fmt.Errorf("cache.profile_ttl must be a positive whole number of milliseconds")
	}
	if c.Cache.ProfileMaxSize < 0 {
		return fmt.Errorf("cache.profile_max_size must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	if c.Metrics.Enabled {
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with /")
		}
		if _, err := metrics.NewAgeCounters(c.Metrics.AgePeriods); err != nil {
			return fmt.Errorf("metrics.age_periods: %w", err)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Cache.ProfileTTLRaw != "" {
		cfg.Cache.ProfileTTL, err = time.ParseDuration(cfg.Cache.ProfileTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing profile_ttl %q: %w", cfg.Cache.ProfileTTLRaw, err)
		}
	}

	return nil
}
