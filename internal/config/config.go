// Package config loads punchsync settings.
// Priority: PUNCHSYNC_* environment variables > YAML file > defaults.
// A .env file in the working directory is loaded into the environment first.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of the attendance core.
type Config struct {
	// BaseURL of the remote attendance service, e.g. https://hr.example.com/api
	BaseURL string `yaml:"base_url"`
	// DataDir holds the SQLite database and the encrypted session file.
	DataDir string `yaml:"data_dir"`
	// MachineID overrides the identifier the at-rest key is derived from.
	MachineID string `yaml:"machine_id"`
	// TimeZone names the zone calendar days are computed in ("Local" by default).
	TimeZone string `yaml:"time_zone"`
	LogLevel string `yaml:"log_level"`

	RequestTimeout    time.Duration `yaml:"request_timeout"`
	CooldownWindow    time.Duration `yaml:"cooldown_window"`
	DrainInterval     time.Duration `yaml:"drain_interval"`
	EventRetention    time.Duration `yaml:"event_retention"`
	CooldownRetention time.Duration `yaml:"cooldown_retention"`
	// FutureTolerance is how far in the future a queued event may be stamped
	// and still validate.
	FutureTolerance time.Duration `yaml:"future_tolerance"`
}

// Bounds of RequestTimeout.
const (
	MinRequestTimeout = 15 * time.Second
	MaxRequestTimeout = 30 * time.Second
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BaseURL:           "http://localhost:8080",
		DataDir:           "./data",
		TimeZone:          "Local",
		LogLevel:          "info",
		RequestTimeout:    20 * time.Second,
		CooldownWindow:    2 * time.Minute,
		DrainInterval:     5 * time.Minute,
		EventRetention:    7 * 24 * time.Hour,
		CooldownRetention: 30 * 24 * time.Hour,
	}
}

// Load reads path (optional, may be empty or missing) and applies env overrides.
func Load(path string) (*Config, error) {
	// Missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.BaseURL = getEnv("PUNCHSYNC_BASE_URL", c.BaseURL)
	c.DataDir = getEnv("PUNCHSYNC_DATA_DIR", c.DataDir)
	c.MachineID = getEnv("PUNCHSYNC_MACHINE_ID", c.MachineID)
	c.TimeZone = getEnv("PUNCHSYNC_TIME_ZONE", c.TimeZone)
	c.LogLevel = getEnv("PUNCHSYNC_LOG_LEVEL", c.LogLevel)
	c.RequestTimeout = getEnvDuration("PUNCHSYNC_REQUEST_TIMEOUT", c.RequestTimeout)
	c.CooldownWindow = getEnvDuration("PUNCHSYNC_COOLDOWN_WINDOW", c.CooldownWindow)
	c.DrainInterval = getEnvDuration("PUNCHSYNC_DRAIN_INTERVAL", c.DrainInterval)
	c.FutureTolerance = getEnvDuration("PUNCHSYNC_FUTURE_TOLERANCE", c.FutureTolerance)
	if days := getEnvInt("PUNCHSYNC_EVENT_RETENTION_DAYS", 0); days > 0 {
		c.EventRetention = time.Duration(days) * 24 * time.Hour
	}
}

// Validate checks the configuration for values the engine cannot work with.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.RequestTimeout < MinRequestTimeout || c.RequestTimeout > MaxRequestTimeout {
		return fmt.Errorf("request_timeout %s outside [%s, %s]", c.RequestTimeout, MinRequestTimeout, MaxRequestTimeout)
	}
	if c.CooldownWindow <= 0 {
		return fmt.Errorf("cooldown_window must be positive")
	}
	if c.DrainInterval <= 0 {
		return fmt.Errorf("drain_interval must be positive")
	}
	if c.FutureTolerance < 0 {
		return fmt.Errorf("future_tolerance must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves TimeZone.
func (c *Config) Location() (*time.Location, error) {
	if c.TimeZone == "" || c.TimeZone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid time_zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
