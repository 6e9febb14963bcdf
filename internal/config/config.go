package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// maxPrefix bounds the outer 4-digit prefix key space, end exclusive.
const maxPrefix = 0x10000

// Range errors, distinguishable so callers can tell bad bounds from other
// configuration mistakes. Out-of-range values are rejected, never clamped.
var (
	ErrPrefixRange = errors.New("config: prefix out of range")
	ErrStepRange   = errors.New("config: step out of range")
)

// Config defines configuration for the hibpdl CLI.
type Config struct {
	Output      string      `yaml:"output"`
	Threads     int         `yaml:"threads"`
	FirstPrefix int         `yaml:"first_prefix"`
	LastPrefix  int         `yaml:"last_prefix"`
	PrefixStep  int         `yaml:"prefix_step"`
	BaseURL     string      `yaml:"base_url"`
	UserAgent   string      `yaml:"user_agent"`
	StateDir    string      `yaml:"state_dir"`
	StateURL    string      `yaml:"state_url"`
	Quiet       bool        `yaml:"quiet"`
	Verbosity   int         `yaml:"verbosity"`
	Retry       RetryConfig `yaml:"retry"`
}

// RetryConfig defines retry behavior for failed range requests.
// Attempts <= 0 means retry forever.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Default returns a Config with sensible defaults: the full key space in
// batches of 64 outer prefixes, one worker per CPU (at least 4), and
// unlimited retries with backoff.
func Default() Config {
	return Config{
		Output:      "hash+count.bin",
		Threads:     max(runtime.NumCPU(), 4),
		FirstPrefix: 0x0000,
		LastPrefix:  maxPrefix,
		PrefixStep:  0x40,
		BaseURL:     "https://api.pwnedpasswords.com",
		StateDir:    DefaultStateDir(),
		Retry: RetryConfig{
			Attempts:   0,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
	}
}

// DefaultStateDir returns ~/.hibpdl, or a relative .hibpdl when the home
// directory cannot be resolved.
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hibpdl"
	}
	return filepath.Join(home, ".hibpdl")
}

// DefaultPath returns the default config file location inside the state
// directory.
func DefaultPath() string {
	return filepath.Join(DefaultStateDir(), "config.yaml")
}

// ParsePrefix parses a hex prefix bound such as "ffc0" or "0x0040".
// Values beyond the end of the key space are ErrPrefixRange.
func ParsePrefix(s string) (int, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("config: malformed hex value %q", s)
	}
	if v > maxPrefix {
		return 0, fmt.Errorf("%w: %s", ErrPrefixRange, s)
	}
	return int(v), nil
}

// yamlConfig is used for YAML unmarshaling with string prefix and
// duration fields.
type yamlConfig struct {
	Output      string          `yaml:"output"`
	Threads     int             `yaml:"threads"`
	FirstPrefix string          `yaml:"first_prefix"`
	LastPrefix  string          `yaml:"last_prefix"`
	PrefixStep  string          `yaml:"prefix_step"`
	BaseURL     string          `yaml:"base_url"`
	UserAgent   string          `yaml:"user_agent"`
	StateDir    string          `yaml:"state_dir"`
	StateURL    string          `yaml:"state_url"`
	Quiet       bool            `yaml:"quiet"`
	Verbosity   int             `yaml:"verbosity"`
	Retry       yamlRetryConfig `yaml:"retry"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file on top of the
// defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.Output != "" {
		cfg.Output = yc.Output
	}
	if yc.Threads != 0 {
		cfg.Threads = yc.Threads
	}
	if yc.FirstPrefix != "" {
		v, err := ParsePrefix(yc.FirstPrefix)
		if err != nil {
			return Config{}, fmt.Errorf("parse first_prefix: %w", err)
		}
		cfg.FirstPrefix = v
	}
	if yc.LastPrefix != "" {
		v, err := ParsePrefix(yc.LastPrefix)
		if err != nil {
			return Config{}, fmt.Errorf("parse last_prefix: %w", err)
		}
		cfg.LastPrefix = v
	}
	if yc.PrefixStep != "" {
		v, err := ParsePrefix(yc.PrefixStep)
		if err != nil {
			return Config{}, fmt.Errorf("parse prefix_step: %w", err)
		}
		cfg.PrefixStep = v
	}
	if yc.BaseURL != "" {
		cfg.BaseURL = yc.BaseURL
	}
	if yc.UserAgent != "" {
		cfg.UserAgent = yc.UserAgent
	}
	if yc.StateDir != "" {
		cfg.StateDir = yc.StateDir
	}
	if yc.StateURL != "" {
		cfg.StateURL = yc.StateURL
	}
	cfg.Quiet = yc.Quiet
	if yc.Verbosity != 0 {
		cfg.Verbosity = yc.Verbosity
	}
	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	if yc.Retry.Backoff != "" {
		d, err := time.ParseDuration(yc.Retry.Backoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.backoff: %w", err)
		}
		cfg.Retry.Backoff = d
	}
	if yc.Retry.MaxBackoff != "" {
		d, err := time.ParseDuration(yc.Retry.MaxBackoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.max_backoff: %w", err)
		}
		cfg.Retry.MaxBackoff = d
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the HIBPDL_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("HIBPDL_OUTPUT"); v != "" {
		c.Output = v
	}
	if v := os.Getenv("HIBPDL_THREADS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse HIBPDL_THREADS: %w", err)
		}
		c.Threads = n
	}
	if v := os.Getenv("HIBPDL_FIRST_PREFIX"); v != "" {
		n, err := ParsePrefix(v)
		if err != nil {
			return fmt.Errorf("parse HIBPDL_FIRST_PREFIX: %w", err)
		}
		c.FirstPrefix = n
	}
	if v := os.Getenv("HIBPDL_LAST_PREFIX"); v != "" {
		n, err := ParsePrefix(v)
		if err != nil {
			return fmt.Errorf("parse HIBPDL_LAST_PREFIX: %w", err)
		}
		c.LastPrefix = n
	}
	if v := os.Getenv("HIBPDL_PREFIX_STEP"); v != "" {
		n, err := ParsePrefix(v)
		if err != nil {
			return fmt.Errorf("parse HIBPDL_PREFIX_STEP: %w", err)
		}
		c.PrefixStep = n
	}
	if v := os.Getenv("HIBPDL_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("HIBPDL_USER_AGENT"); v != "" {
		c.UserAgent = v
	}
	if v := os.Getenv("HIBPDL_STATE_DIR"); v != "" {
		c.StateDir = v
	}
	if v := os.Getenv("HIBPDL_STATE_URL"); v != "" {
		c.StateURL = v
	}
	if v := os.Getenv("HIBPDL_QUIET"); v != "" {
		c.Quiet = v == "true" || v == "1"
	}
	if v := os.Getenv("HIBPDL_VERBOSITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse HIBPDL_VERBOSITY: %w", err)
		}
		c.Verbosity = n
	}
	if v := os.Getenv("HIBPDL_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse HIBPDL_RETRY_ATTEMPTS: %w", err)
		}
		c.Retry.Attempts = n
	}
	if v := os.Getenv("HIBPDL_RETRY_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse HIBPDL_RETRY_BACKOFF: %w", err)
		}
		c.Retry.Backoff = d
	}
	if v := os.Getenv("HIBPDL_RETRY_MAX_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse HIBPDL_RETRY_MAX_BACKOFF: %w", err)
		}
		c.Retry.MaxBackoff = d
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Output == "" {
		return errors.New("config: output path is required")
	}
	if c.Threads <= 0 {
		return errors.New("config: threads must be positive")
	}
	if c.BaseURL == "" {
		return errors.New("config: base_url is required")
	}
	if c.FirstPrefix < 0 || c.FirstPrefix >= maxPrefix {
		return fmt.Errorf("%w: first_prefix %04x", ErrPrefixRange, c.FirstPrefix)
	}
	if c.LastPrefix < 1 || c.LastPrefix > maxPrefix {
		return fmt.Errorf("%w: last_prefix %04x", ErrPrefixRange, c.LastPrefix)
	}
	if c.FirstPrefix >= c.LastPrefix {
		return fmt.Errorf("%w: first_prefix %04x not below last_prefix %04x", ErrPrefixRange, c.FirstPrefix, c.LastPrefix)
	}
	if c.PrefixStep < 1 || c.PrefixStep > 0xffff {
		return fmt.Errorf("%w: prefix_step %04x", ErrStepRange, c.PrefixStep)
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.Output != "" {
		c.Output = override.Output
	}
	if override.Threads != 0 {
		c.Threads = override.Threads
	}
	if override.FirstPrefix != 0 {
		c.FirstPrefix = override.FirstPrefix
	}
	if override.LastPrefix != 0 {
		c.LastPrefix = override.LastPrefix
	}
	if override.PrefixStep != 0 {
		c.PrefixStep = override.PrefixStep
	}
	if override.BaseURL != "" {
		c.BaseURL = override.BaseURL
	}
	if override.UserAgent != "" {
		c.UserAgent = override.UserAgent
	}
	if override.StateDir != "" {
		c.StateDir = override.StateDir
	}
	if override.StateURL != "" {
		c.StateURL = override.StateURL
	}
	if override.Quiet {
		c.Quiet = override.Quiet
	}
	if override.Verbosity != 0 {
		c.Verbosity = override.Verbosity
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	return c
}
