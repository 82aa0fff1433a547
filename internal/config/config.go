// Package config loads and validates the agent configuration.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kubalaguna/santa/pkg/types"
)

type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	USB       USBConfig       `yaml:"usb"`
	Deadlines DeadlinesConfig `yaml:"deadlines"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// USBConfig controls removable-media policy.
type USBConfig struct {
	// BlockMounts denies mounts of removable, non-virtual media.
	BlockMounts bool `yaml:"block_mounts"`

	// RemountArgs lists restriction names applied by the corrective
	// remount of a denied mount, e.g. [noexec, rdonly]. Empty leaves
	// denied devices unmounted.
	RemountArgs []string `yaml:"remount_args"`

	// OnStart is the disposition for volumes already mounted when the
	// agent starts: none, unmount, or remount.
	OnStart string `yaml:"on_start"`
}

// DeadlinesConfig tunes how much of a message's deadline may be spent on
// policy work.
type DeadlinesConfig struct {
	// MinHeadroom is the least remaining time under which handlers take
	// the fast-path default instead of evaluating policy.
	MinHeadroom string `yaml:"min_headroom"`

	// MaxHeadroom is the remaining time under which long side effects
	// must be scheduled asynchronously.
	MaxHeadroom string `yaml:"max_headroom"`

	// FastPathDenyKinds lists event kinds whose fast-path default is
	// deny instead of allow.
	FastPathDenyKinds []string `yaml:"fastpath_deny_kinds"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromBytes loads configuration from bytes without applying environment
// overrides. This is intended for testing where env vars should not interfere.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = "127.0.0.1:9756"
	}
	if cfg.USB.OnStart == "" {
		cfg.USB.OnStart = "none"
	}
	if cfg.Deadlines.MinHeadroom == "" {
		cfg.Deadlines.MinHeadroom = "1s"
	}
	if cfg.Deadlines.MaxHeadroom == "" {
		cfg.Deadlines.MaxHeadroom = "5s"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SANTAD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SANTAD_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("SANTAD_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("SANTAD_BLOCK_USB"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.USB.BlockMounts = b
		}
	}
}

func validateConfig(cfg *Config) error {
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging.format %q", cfg.Logging.Format)
	}
	switch cfg.USB.OnStart {
	case "none", "unmount", "remount":
	default:
		return fmt.Errorf("invalid usb.on_start %q", cfg.USB.OnStart)
	}
	if _, err := cfg.Deadlines.Min(); err != nil {
		return fmt.Errorf("invalid deadlines.min_headroom: %w", err)
	}
	if _, err := cfg.Deadlines.Max(); err != nil {
		return fmt.Errorf("invalid deadlines.max_headroom: %w", err)
	}
	min, _ := cfg.Deadlines.Min()
	max, _ := cfg.Deadlines.Max()
	if max < min {
		return fmt.Errorf("deadlines.max_headroom must be >= min_headroom")
	}
	for _, k := range cfg.Deadlines.FastPathDenyKinds {
		if !slices.Contains(types.AllEventKinds, types.EventKind(k)) {
			return fmt.Errorf("invalid deadlines.fastpath_deny_kinds entry %q", k)
		}
	}
	return nil
}

// Min returns the parsed minimum headroom.
func (d DeadlinesConfig) Min() (time.Duration, error) {
	return time.ParseDuration(d.MinHeadroom)
}

// Max returns the parsed maximum headroom.
func (d DeadlinesConfig) Max() (time.Duration, error) {
	return time.ParseDuration(d.MaxHeadroom)
}
