package runtime

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dyluth/warren/internal/backend"
	"github.com/dyluth/warren/internal/dedup"
	"github.com/dyluth/warren/internal/ratelimit"
	"github.com/dyluth/warren/pkg/comms"
)

// Default cadences.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultPollInterval      = 60 * time.Second
	DefaultAutonomousPeriod  = 120 * time.Second
	DefaultPollLimit         = 1
	DefaultRegisterBackoff   = time.Second
	DefaultRegisterMaxWait   = time.Minute
)

// Config holds an agent runtime's configuration, loaded from environment variables.
type Config struct {
	// HubURL is the coordination hub's base URL (from WARREN_HUB_URL)
	HubURL string

	// AgentID is this agent's unique id (from WARREN_AGENT_ID)
	AgentID string

	// Name, Description and Capabilities are sent on registration
	// (from WARREN_AGENT_NAME, WARREN_AGENT_DESCRIPTION, WARREN_AGENT_CAPABILITIES as a JSON array)
	Name         string
	Description  string
	Capabilities []string

	// HeartbeatInterval is the loop period; a heartbeat is sent every iteration (WARREN_HEARTBEAT_INTERVAL)
	HeartbeatInterval time.Duration

	// PollInterval is how often messages are fetched, independent of heartbeats (WARREN_POLL_INTERVAL)
	PollInterval time.Duration

	// PollLimit bounds the messages fetched per poll (WARREN_POLL_LIMIT)
	PollLimit int

	// PollWait, if positive, turns each poll into a long poll (WARREN_POLL_WAIT)
	PollWait time.Duration

	// AutonomousPeriod is the slot length of the autonomous cycle; zero disables it (WARREN_AUTONOMOUS_PERIOD)
	AutonomousPeriod time.Duration

	// DedupCapacity bounds the processed-message memory (WARREN_DEDUP_CAPACITY)
	DedupCapacity int

	// RateCap and RateWindow bound backend calls (WARREN_RATE_CAP, WARREN_RATE_WINDOW)
	RateCap    int
	RateWindow time.Duration

	// Backend settings (ANTHROPIC_API_KEY, WARREN_BACKEND_MODEL, WARREN_BACKEND_URL, WARREN_BACKEND_TIMEOUT).
	// Without an API key the agent answers with its fallback responder.
	BackendAPIKey  string
	BackendModel   string
	BackendURL     string
	BackendTimeout time.Duration

	// FallbackReply is the deterministic reply used when no backend is configured (WARREN_FALLBACK_REPLY)
	FallbackReply string

	// RegisterBackoff and RegisterMaxBackoff bound registration retries
	// (WARREN_REGISTER_BACKOFF, WARREN_REGISTER_MAX_BACKOFF)
	RegisterBackoff    time.Duration
	RegisterMaxBackoff time.Duration

	// HealthAddr, if set, serves /healthz on this address (WARREN_HEALTH_ADDR)
	HealthAddr string

	// Announce, if set, is broadcast once after startup (WARREN_ANNOUNCE)
	Announce string
}

// LoadConfig reads and validates configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		HubURL:        os.Getenv("WARREN_HUB_URL"),
		AgentID:       strings.TrimSpace(os.Getenv("WARREN_AGENT_ID")),
		Name:          os.Getenv("WARREN_AGENT_NAME"),
		Description:   os.Getenv("WARREN_AGENT_DESCRIPTION"),
		BackendAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		BackendModel:  os.Getenv("WARREN_BACKEND_MODEL"),
		BackendURL:    os.Getenv("WARREN_BACKEND_URL"),
		FallbackReply: os.Getenv("WARREN_FALLBACK_REPLY"),
		HealthAddr:    os.Getenv("WARREN_HEALTH_ADDR"),
		Announce:      os.Getenv("WARREN_ANNOUNCE"),
	}

	if raw := os.Getenv("WARREN_AGENT_CAPABILITIES"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.Capabilities); err != nil {
			return nil, fmt.Errorf("failed to parse WARREN_AGENT_CAPABILITIES as JSON array: %w", err)
		}
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"WARREN_HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval},
		{"WARREN_POLL_INTERVAL", &cfg.PollInterval},
		{"WARREN_POLL_WAIT", &cfg.PollWait},
		{"WARREN_AUTONOMOUS_PERIOD", &cfg.AutonomousPeriod},
		{"WARREN_RATE_WINDOW", &cfg.RateWindow},
		{"WARREN_BACKEND_TIMEOUT", &cfg.BackendTimeout},
		{"WARREN_REGISTER_BACKOFF", &cfg.RegisterBackoff},
		{"WARREN_REGISTER_MAX_BACKOFF", &cfg.RegisterMaxBackoff},
	}
	for _, d := range durations {
		raw := os.Getenv(d.env)
		if raw == "" {
			continue
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", d.env, err)
		}
		*d.dst = v
	}
	if _, set := os.LookupEnv("WARREN_AUTONOMOUS_PERIOD"); !set {
		cfg.AutonomousPeriod = DefaultAutonomousPeriod
	}

	ints := []struct {
		env string
		dst *int
	}{
		{"WARREN_POLL_LIMIT", &cfg.PollLimit},
		{"WARREN_DEDUP_CAPACITY", &cfg.DedupCapacity},
		{"WARREN_RATE_CAP", &cfg.RateCap},
	}
	for _, n := range ints {
		raw := os.Getenv(n.env)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", n.env, err)
		}
		*n.dst = v
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields. AutonomousPeriod is left alone so
// that zero keeps meaning "disabled".
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = c.AgentID
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PollLimit <= 0 {
		c.PollLimit = DefaultPollLimit
	}
	if c.DedupCapacity <= 0 {
		c.DedupCapacity = dedup.DefaultCapacity
	}
	if c.RateCap <= 0 {
		c.RateCap = ratelimit.DefaultCap
	}
	if c.RateWindow <= 0 {
		c.RateWindow = ratelimit.DefaultWindow
	}
	if c.BackendTimeout <= 0 {
		c.BackendTimeout = backend.DefaultTimeout
	}
	if c.RegisterBackoff <= 0 {
		c.RegisterBackoff = DefaultRegisterBackoff
	}
	if c.RegisterMaxBackoff <= 0 {
		c.RegisterMaxBackoff = DefaultRegisterMaxWait
	}
	if c.FallbackReply == "" {
		c.FallbackReply = "Acknowledged."
	}
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.HubURL == "" {
		return fmt.Errorf("WARREN_HUB_URL environment variable is required")
	}
	if c.AgentID == "" {
		return fmt.Errorf("WARREN_AGENT_ID environment variable is required")
	}
	if c.AgentID == comms.BroadcastSentinel {
		return fmt.Errorf("WARREN_AGENT_ID cannot be the reserved id %q", comms.BroadcastSentinel)
	}
	if c.AutonomousPeriod < 0 {
		return fmt.Errorf("WARREN_AUTONOMOUS_PERIOD cannot be negative")
	}
	if c.PollWait >= c.HeartbeatInterval {
		return fmt.Errorf("WARREN_POLL_WAIT (%s) must be shorter than WARREN_HEARTBEAT_INTERVAL (%s)", c.PollWait, c.HeartbeatInterval)
	}
	return nil
}
