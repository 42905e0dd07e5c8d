package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// Defaults applied by Validate.
const (
	DefaultListen           = ":8700"
	DefaultHeartbeatTimeout = 30 * time.Second
	DefaultSweepInterval    = 10 * time.Second
	DefaultRetention        = 1000
	DefaultMaxPoll          = 50
	DefaultMaxWait          = 30 * time.Second
	DefaultInstance         = "default"
	DefaultSQLitePath       = "warren.db"
)

// MaxInstanceLength bounds store.instance, which namespaces every Redis key.
const MaxInstanceLength = 63

// InstancePattern is lowercase alphanumeric with hyphens, not at start or end.
var InstancePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// WarrenConfig represents the top-level warren.yml configuration
type WarrenConfig struct {
	Version string      `yaml:"version"`
	Hub     HubConfig   `yaml:"hub"`
	Store   StoreConfig `yaml:"store"`
}

// HubConfig specifies the coordination hub's behaviour
type HubConfig struct {
	Listen           string        `yaml:"listen"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"` // Silence after which an online agent is marked offline
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	Retention        int           `yaml:"retention"` // Messages kept in the log
	MaxPoll          int           `yaml:"max_poll"`
	MaxWait          time.Duration `yaml:"max_wait"`      // Upper bound on long-poll waits
	RequestRate      float64       `yaml:"request_rate"`  // Requests/second per caller; 0 disables throttling
	RequestBurst     int           `yaml:"request_burst"` // Defaults to the rounded-up rate
}

// StoreConfig selects the durable store
type StoreConfig struct {
	Driver     string `yaml:"driver"` // memory, redis or sqlite
	RedisURL   string `yaml:"redis_url,omitempty"`
	Instance   string `yaml:"instance,omitempty"` // Redis key namespace
	SQLitePath string `yaml:"sqlite_path,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *WarrenConfig {
	c := &WarrenConfig{Version: "1.0"}
	// Defaults always validate.
	_ = c.Validate()
	return c
}

// Validate performs strict validation on the configuration and applies defaults
func (c *WarrenConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}
	if err := c.Hub.Validate(); err != nil {
		return err
	}
	return c.Store.Validate()
}

// Validate checks hub settings and fills zero values with defaults
func (h *HubConfig) Validate() error {
	if h.Listen == "" {
		h.Listen = DefaultListen
	}

	durations := []struct {
		name string
		val  *time.Duration
		def  time.Duration
	}{
		{"heartbeat_timeout", &h.HeartbeatTimeout, DefaultHeartbeatTimeout},
		{"sweep_interval", &h.SweepInterval, DefaultSweepInterval},
		{"max_wait", &h.MaxWait, DefaultMaxWait},
	}
	for _, d := range durations {
		if *d.val < 0 {
			return fmt.Errorf("hub.%s must be positive, got %s", d.name, *d.val)
		}
		if *d.val == 0 {
			*d.val = d.def
		}
	}

	if h.Retention < 0 {
		return fmt.Errorf("hub.retention must be positive, got %d", h.Retention)
	}
	if h.Retention == 0 {
		h.Retention = DefaultRetention
	}
	if h.MaxPoll < 0 {
		return fmt.Errorf("hub.max_poll must be positive, got %d", h.MaxPoll)
	}
	if h.MaxPoll == 0 {
		h.MaxPoll = DefaultMaxPoll
	}

	if h.RequestRate < 0 {
		return fmt.Errorf("hub.request_rate must be >= 0 (0 = unlimited), got %g", h.RequestRate)
	}
	if h.RequestBurst < 0 {
		return fmt.Errorf("hub.request_burst must be >= 0, got %d", h.RequestBurst)
	}
	if h.RequestRate > 0 && h.RequestBurst == 0 {
		h.RequestBurst = int(h.RequestRate)
		if float64(h.RequestBurst) < h.RequestRate {
			h.RequestBurst++
		}
	}
	return nil
}

// Validate checks the store driver and its required settings
func (s *StoreConfig) Validate() error {
	if s.Driver == "" {
		s.Driver = DriverMemory
	}

	switch s.Driver {
	case DriverMemory:
	case DriverRedis:
		if s.RedisURL == "" {
			return fmt.Errorf("store.redis_url is required when store.driver is %q", DriverRedis)
		}
		if s.Instance == "" {
			s.Instance = DefaultInstance
		}
		if err := ValidateInstance(s.Instance); err != nil {
			return err
		}
	case DriverSQLite:
		if s.SQLitePath == "" {
			s.SQLitePath = DefaultSQLitePath
		}
	default:
		return fmt.Errorf("invalid store.driver: %q (must be '%s', '%s', or '%s')",
			s.Driver, DriverMemory, DriverRedis, DriverSQLite)
	}
	return nil
}

// ValidateInstance checks a Redis instance name.
func ValidateInstance(name string) error {
	if name == "" {
		return fmt.Errorf("store.instance cannot be empty")
	}
	if len(name) > MaxInstanceLength {
		return fmt.Errorf("store.instance too long: %d characters (max: %d)", len(name), MaxInstanceLength)
	}
	if !InstancePattern.MatchString(name) {
		return fmt.Errorf("invalid store.instance '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}
	return nil
}

// Load reads and validates a warren.yml file
func Load(path string) (*WarrenConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config WarrenConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadOptional is Load, except a missing file yields the defaults.
func LoadOptional(path string) (*WarrenConfig, error) {
	config, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return config, err
}

// Path returns the config file named by WARREN_CONFIG, or warren.yml.
func Path() string {
	if p := os.Getenv("WARREN_CONFIG"); p != "" {
		return p
	}
	return "warren.yml"
}
