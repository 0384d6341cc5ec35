package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides (TINKERPEN_PORT, ...).
const EnvPrefix = "tinkerpen"

// Config represents the tinkerpen configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Playground PlaygroundConfig `yaml:"playground"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port  int    `yaml:"port"`
	Host  string `yaml:"host"`
	Debug bool   `yaml:"debug"`
}

// PlaygroundConfig holds the defaults every pen is created with.
type PlaygroundConfig struct {
	Debounce      string `yaml:"debounce"`        // Auto-run quiet period (e.g., "500ms")
	AutoRun       bool   `yaml:"auto_run"`        // Re-run after edits
	RunTimeout    string `yaml:"run_timeout"`     // Headless watchdog budget (e.g., "2s")
	SessionTTL    string `yaml:"session_ttl"`     // Idle pens are dropped after this (e.g., "1h")
	MaxLogEntries int    `yaml:"max_log_entries"` // Console cap per run (0 = unlimited)
	BridgeName    string `yaml:"bridge_name"`     // postMessage type of console messages
}

// CatalogConfig holds lesson catalog configuration
type CatalogConfig struct {
	Dir    string   `yaml:"dir"`
	Watch  bool     `yaml:"watch"`
	Ignore []string `yaml:"ignore"`
}

// RateLimitConfig holds rate limiting configuration for pen creation (per
// client IP) and for runs and resets requested over the WebSocket (per pen)
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"` // 0 disables the limit
	Burst             int     `yaml:"burst"`
	MaxTrackedIPs     int     `yaml:"max_tracked_ips"`
}

// GetMaxTrackedIPs returns the LRU capacity of the limiter (default: 10000)
func (c RateLimitConfig) GetMaxTrackedIPs() int {
	if c.MaxTrackedIPs <= 0 {
		return 10000
	}
	return c.MaxTrackedIPs
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

const (
	defaultDebounce   = 500 * time.Millisecond
	defaultRunTimeout = 2 * time.Second
	defaultSessionTTL = time.Hour
)

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Playground: PlaygroundConfig{
			Debounce:      defaultDebounce.String(),
			AutoRun:       true,
			RunTimeout:    defaultRunTimeout.String(),
			SessionTTL:    defaultSessionTTL.String(),
			MaxLogEntries: 1000,
			BridgeName:    "tinkerpen:console",
		},
		Catalog: CatalogConfig{
			Dir:   ".",
			Watch: true,
			Ignore: []string{
				"drafts/**",
				"_*.md",
			},
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// GetDebounce returns the parsed debounce delay (default: 500ms)
func (c PlaygroundConfig) GetDebounce() time.Duration {
	return parseDuration(c.Debounce, defaultDebounce)
}

// GetRunTimeout returns the parsed watchdog budget (default: 2s)
func (c PlaygroundConfig) GetRunTimeout() time.Duration {
	return parseDuration(c.RunTimeout, defaultRunTimeout)
}

// GetSessionTTL returns the parsed idle expiry (default: 1h)
func (c PlaygroundConfig) GetSessionTTL() time.Duration {
	return parseDuration(c.SessionTTL, defaultSessionTTL)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Validate reports configuration values that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	for key, value := range map[string]string{
		"playground.debounce":    c.Playground.Debounce,
		"playground.run_timeout": c.Playground.RunTimeout,
		"playground.session_ttl": c.Playground.SessionTTL,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	if c.Playground.MaxLogEntries < 0 {
		errs = append(errs, fmt.Errorf("playground.max_log_entries must not be negative"))
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 || c.RateLimit.MaxTrackedIPs < 0 {
		errs = append(errs, fmt.Errorf("rate_limit values must not be negative"))
	}
	return errors.Join(errs...)
}

// envOverlay lists the settings that can be overridden from the
// environment. Unset variables leave the loaded value alone.
type envOverlay struct {
	Host          *string  `envconfig:"HOST"`
	Port          *int     `envconfig:"PORT"`
	Debug         *bool    `envconfig:"DEBUG"`
	Debounce      *string  `envconfig:"DEBOUNCE"`
	AutoRun       *bool    `envconfig:"AUTO_RUN"`
	RunTimeout    *string  `envconfig:"RUN_TIMEOUT"`
	SessionTTL    *string  `envconfig:"SESSION_TTL"`
	MaxLogEntries *int     `envconfig:"MAX_LOG_ENTRIES"`
	BridgeName    *string  `envconfig:"BRIDGE_NAME"`
	CatalogDir    *string  `envconfig:"CATALOG_DIR"`
	Watch         *bool    `envconfig:"WATCH"`
	RPS           *float64 `envconfig:"RATE_LIMIT_RPS"`
	Burst         *int     `envconfig:"RATE_LIMIT_BURST"`
	LogLevel      *string  `envconfig:"LOG_LEVEL"`
	LogDev        *bool    `envconfig:"LOG_DEV"`
}

// ApplyEnv overlays TINKERPEN_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	var env envOverlay
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}

	set(&c.Server.Host, env.Host)
	set(&c.Server.Port, env.Port)
	set(&c.Server.Debug, env.Debug)
	set(&c.Playground.Debounce, env.Debounce)
	set(&c.Playground.AutoRun, env.AutoRun)
	set(&c.Playground.RunTimeout, env.RunTimeout)
	set(&c.Playground.SessionTTL, env.SessionTTL)
	set(&c.Playground.MaxLogEntries, env.MaxLogEntries)
	set(&c.Playground.BridgeName, env.BridgeName)
	set(&c.Catalog.Dir, env.CatalogDir)
	set(&c.Catalog.Watch, env.Watch)
	set(&c.RateLimit.RequestsPerSecond, env.RPS)
	set(&c.RateLimit.Burst, env.Burst)
	set(&c.Logging.Level, env.LogLevel)
	set(&c.Logging.Development, env.LogDev)
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Load loads configuration from a YAML file
// If the file doesn't exist, returns the default configuration
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig() // Start with defaults
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadFromDir looks for tinkerpen.yaml, then tinkerpen.yml, in the given
// directory. If neither is found, returns the default configuration
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range []string{"tinkerpen.yaml", "tinkerpen.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return DefaultConfig(), nil
}

// Resolve loads the file configuration for dir, applies the environment
// and validates the result.
func Resolve(dir string) (*Config, error) {
	cfg, err := LoadFromDir(dir)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
