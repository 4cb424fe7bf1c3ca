// Package config holds all blockmind configuration. Configuration is loaded
// from an optional yaml file and then overridden from the process environment.
// Environment keys win over file values so deployments can flip safety gates
// without editing files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all blockmind configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Data directory for logs and audit output
	DataDir string `yaml:"data_dir"`

	// Autonomous executor settings
	Executor ExecutorConfig `yaml:"executor"`

	// Execution gateway / bot endpoint settings
	Gateway GatewayConfig `yaml:"gateway"`

	// Sterling reasoning service settings
	Sterling SterlingConfig `yaml:"sterling"`

	// Planning integration settings
	Planning PlanningConfig `yaml:"planning"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ExecutorConfig configures the autonomous executor loop and its guards.
type ExecutorConfig struct {
	Enabled           bool           `yaml:"enabled"`              // tick gate (kill switch)
	Mode              string         `yaml:"mode"`                 // shadow or live
	LiveConfirm       string         `yaml:"live_confirm"`         // must be "YES" to allow live
	MaxStepsPerMinute int            `yaml:"max_steps_per_minute"` // rate limiter budget
	FailureCooldownMs int            `yaml:"failure_cooldown_ms"`
	PollMs            int            `yaml:"poll_ms"`
	MaxBackoffMs      int            `yaml:"max_backoff_ms"`
	BreakerOpenMs     int            `yaml:"breaker_open_ms"`
	AllowedLeaves     []string       `yaml:"allowed_leaves"`
	Geofence          GeofenceConfig `yaml:"geofence"`
}

// GeofenceConfig bounds where the bot may act. Fail-closed: when enabled and
// the bot position is unknown, execution is blocked.
type GeofenceConfig struct {
	Enabled bool     `yaml:"enabled"`
	CenterX float64  `yaml:"center_x"`
	CenterZ float64  `yaml:"center_z"`
	CenterY *float64 `yaml:"center_y,omitempty"`
	Radius  float64  `yaml:"radius"`
	YMin    *float64 `yaml:"y_min,omitempty"`
	YMax    *float64 `yaml:"y_max,omitempty"`
}

// GatewayConfig configures the single sanctioned egress to the bot endpoint.
type GatewayConfig struct {
	BotEndpoint     string `yaml:"bot_endpoint"`
	ActionTimeoutMs int    `yaml:"action_timeout_ms"`
}

// SterlingConfig configures the Sterling reasoning service client.
type SterlingConfig struct {
	Endpoint      string `yaml:"endpoint"`
	IntentResolve bool   `yaml:"intent_resolve"` // fail-closed kill switch for intent resolution
}

// PlanningConfig configures task finalization behavior.
type PlanningConfig struct {
	StrictFinalize           bool `yaml:"strict_finalize"`
	JoinKeysDeprecatedCompat bool `yaml:"join_keys_deprecated_compat"`

	// GoalResolverEnabled gates goal-binding resolution for goal-sourced
	// tasks. Distinct from the Sterling intent-resolution kill switch.
	GoalResolverEnabled bool `yaml:"goal_resolver_enabled"`
}

// LoggingConfig configures categorized file logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// Executor modes.
const (
	ModeShadow = "shadow"
	ModeLive   = "live"
)

// Default returns a Config with all defaults applied.
func Default() *Config {
	return &Config{
		Name:    "blockmind",
		DataDir: ".blockmind",
		Executor: ExecutorConfig{
			Mode:              ModeShadow,
			MaxStepsPerMinute: 6,
			FailureCooldownMs: 10000,
			PollMs:            10000,
			MaxBackoffMs:      60000,
			BreakerOpenMs:     15000,
			Geofence: GeofenceConfig{
				Radius: 100,
			},
		},
		Gateway: GatewayConfig{
			BotEndpoint:     "http://localhost:3005",
			ActionTimeoutMs: 15000,
		},
		Sterling: SterlingConfig{
			Endpoint:      "http://localhost:3010",
			IntentResolve: true,
		},
		Planning: PlanningConfig{
			GoalResolverEnabled: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the given yaml file (if it exists), applies
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides reads the recognized environment keys into the config.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ENABLE_PLANNING_EXECUTOR"); v != "" {
		c.Executor.Enabled = v == "1"
	}
	if v := os.Getenv("EXECUTOR_MODE"); v != "" {
		c.Executor.Mode = v
	}
	if v := os.Getenv("EXECUTOR_LIVE_CONFIRM"); v != "" {
		c.Executor.LiveConfirm = v
	}
	if v, ok := envInt("EXECUTOR_MAX_STEPS_PER_MINUTE"); ok {
		c.Executor.MaxStepsPerMinute = v
	}
	if v, ok := envInt("EXECUTOR_FAILURE_COOLDOWN_MS"); ok {
		c.Executor.FailureCooldownMs = v
	}
	if v, ok := envInt("EXECUTOR_POLL_MS"); ok {
		c.Executor.PollMs = v
	}
	if v, ok := envInt("EXECUTOR_MAX_BACKOFF_MS"); ok {
		c.Executor.MaxBackoffMs = v
	}
	if v, ok := envInt("BOT_BREAKER_OPEN_MS"); ok {
		c.Executor.BreakerOpenMs = v
	}
	if v := os.Getenv("EXECUTOR_GEOFENCE_CENTER"); v != "" {
		if err := c.Executor.Geofence.parseCenter(v); err != nil {
			fmt.Fprintf(os.Stderr, "[config] invalid EXECUTOR_GEOFENCE_CENTER %q: %v\n", v, err)
		}
	}
	if v, ok := envFloat("EXECUTOR_GEOFENCE_RADIUS"); ok {
		c.Executor.Geofence.Radius = v
	}
	if v := os.Getenv("EXECUTOR_GEOFENCE_Y_RANGE"); v != "" {
		if err := c.Executor.Geofence.parseYRange(v); err != nil {
			fmt.Fprintf(os.Stderr, "[config] invalid EXECUTOR_GEOFENCE_Y_RANGE %q: %v\n", v, err)
		}
	}
	if v := os.Getenv("STERLING_INTENT_RESOLVE"); v != "" {
		c.Sterling.IntentResolve = v == "1"
	}
	if v := os.Getenv("PLANNING_STRICT_FINALIZE"); v != "" {
		c.Planning.StrictFinalize = v == "1"
	}
	if v := os.Getenv("JOIN_KEYS_DEPRECATED_COMPAT"); v != "" {
		c.Planning.JoinKeysDeprecatedCompat = v == "1"
	}
	if v := os.Getenv("GOAL_RESOLVER_ENABLED"); v != "" {
		c.Planning.GoalResolverEnabled = v == "1"
	}
	if v := os.Getenv("BOT_ENDPOINT_URL"); v != "" {
		c.Gateway.BotEndpoint = v
	}
	if v, ok := envInt("EXECUTOR_ACTION_TIMEOUT_MS"); ok {
		c.Gateway.ActionTimeoutMs = v
	}
	if v := os.Getenv("STERLING_ENDPOINT_URL"); v != "" {
		c.Sterling.Endpoint = v
	}
	if v := os.Getenv("BLOCKMIND_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("BLOCKMIND_DEBUG"); v != "" {
		c.Logging.DebugMode = v == "1"
	}
}

// ResolveMode returns the effective executor mode. Live mode requires the
// explicit confirmation literal; anything else falls back to shadow.
// The returned bool reports whether a downgrade happened.
func (c *Config) ResolveMode() (string, bool) {
	if c.Executor.Mode != ModeLive {
		return ModeShadow, false
	}
	if c.Executor.LiveConfirm != "YES" {
		return ModeShadow, true
	}
	return ModeLive, false
}

func (c *Config) validate() error {
	switch c.Executor.Mode {
	case "", ModeShadow, ModeLive:
	default:
		return fmt.Errorf("invalid executor mode %q (want shadow or live)", c.Executor.Mode)
	}
	if c.Executor.MaxStepsPerMinute <= 0 {
		return fmt.Errorf("max_steps_per_minute must be positive, got %d", c.Executor.MaxStepsPerMinute)
	}
	if c.Executor.PollMs <= 0 {
		return fmt.Errorf("poll_ms must be positive, got %d", c.Executor.PollMs)
	}
	return nil
}

// parseCenter parses "x,z" or "x,y,z" into the geofence center and enables it.
func (g *GeofenceConfig) parseCenter(v string) error {
	parts := strings.Split(v, ",")
	switch len(parts) {
	case 2:
		x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return err
		}
		z, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return err
		}
		g.CenterX, g.CenterZ = x, z
		g.CenterY = nil
	case 3:
		x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return err
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return err
		}
		z, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil {
			return err
		}
		g.CenterX, g.CenterY, g.CenterZ = x, &y, z
	default:
		return fmt.Errorf("want 2 or 3 comma-separated values, got %d", len(parts))
	}
	g.Enabled = true
	return nil
}

// parseYRange parses "min,max" into the geofence Y bounds.
func (g *GeofenceConfig) parseYRange(v string) error {
	parts := strings.Split(v, ",")
	if len(parts) != 2 {
		return fmt.Errorf("want min,max, got %d values", len(parts))
	}
	min, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return err
	}
	max, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return err
	}
	if min > max {
		return fmt.Errorf("y range min %v > max %v", min, max)
	}
	g.YMin, g.YMax = &min, &max
	return nil
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[config] invalid %s=%q: %v\n", key, v, err)
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[config] invalid %s=%q: %v\n", key, v, err)
		return 0, false
	}
	return f, true
}
