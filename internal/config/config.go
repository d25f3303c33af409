// Package config loads the histeq command configuration.
//
// Values are layered: defaults, then an optional TOML file, then HISTEQ_*
// environment variables. Command-line flags are applied last by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"

	"github.com/gogpu/histeq"
)

// EnvPrefix is the prefix of every environment variable.
const EnvPrefix = "HISTEQ"

// Backend names accepted by Config.Backend.
const (
	BackendAuto = "auto"
	BackendGPU  = "gpu"
	BackendCPU  = "cpu"
)

// Config holds the command configuration.
type Config struct {
	Device  DeviceConfig  `toml:"device"`
	Kernel  KernelConfig  `toml:"kernel"`
	Metrics MetricsConfig `toml:"metrics"`
	Logging LogConfig     `toml:"logging"`
}

// DeviceConfig selects the compute device.
type DeviceConfig struct {
	Backend      string   `toml:"backend" envconfig:"BACKEND"`
	Platform     int      `toml:"platform" envconfig:"PLATFORM"`
	Index        int      `toml:"index" envconfig:"DEVICE"`
	Workers      int      `toml:"workers" envconfig:"WORKERS"`
	FenceTimeout Duration `toml:"fence_timeout" envconfig:"FENCE_TIMEOUT"`
}

// KernelConfig holds pipeline parameters.
type KernelConfig struct {
	ScanWidth  int    `toml:"scan_width" envconfig:"SCAN_WIDTH"`
	Degenerate string `toml:"degenerate" envconfig:"DEGENERATE"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `toml:"addr" envconfig:"METRICS_ADDR"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level   string `toml:"level" envconfig:"LOG_LEVEL"`
	Verbose bool   `toml:"verbose" envconfig:"VERBOSE"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Backend:      BackendAuto,
			Index:        -1,
			FenceTimeout: Duration(5 * time.Second),
		},
		Kernel: KernelConfig{
			ScanWidth:  histeq.DefaultScanWidth,
			Degenerate: histeq.DegenerateIdentity.String(),
		},
		Logging: LogConfig{
			Level: "warn",
		},
	}
}

// Load reads the TOML file at path, if any, and applies environment
// overrides. A missing file is not an error when path is empty.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // user-supplied config path
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return fmt.Errorf("config: %s:%d:%d: %w", path, row, col, err)
		}
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides fields whose HISTEQ_* variable is set. The section
// structs carry no default tags: unset variables leave the field alone.
func (c *Config) applyEnv() error {
	sections := []any{&c.Device, &c.Kernel, &c.Metrics, &c.Logging}
	for _, s := range sections {
		if err := envconfig.Process(EnvPrefix, s); err != nil {
			return fmt.Errorf("config: environment: %w", err)
		}
	}
	return nil
}

// Validate checks values that the library would otherwise reject late.
func (c *Config) Validate() error {
	switch c.Device.Backend {
	case BackendAuto, BackendGPU, BackendCPU:
	default:
		return fmt.Errorf("config: backend %q, want auto, gpu or cpu", c.Device.Backend)
	}
	if c.Device.Platform < 0 {
		return fmt.Errorf("config: platform %d must not be negative", c.Device.Platform)
	}
	if c.Device.FenceTimeout < 0 {
		return fmt.Errorf("config: fence timeout %s must not be negative", c.Device.FenceTimeout)
	}
	if c.Device.Workers < 0 {
		return fmt.Errorf("config: workers %d must not be negative", c.Device.Workers)
	}
	if _, err := histeq.ParseDegeneratePolicy(c.Kernel.Degenerate); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Policy returns the parsed degenerate policy.
func (c *Config) Policy() histeq.DegeneratePolicy {
	p, _ := histeq.ParseDegeneratePolicy(c.Kernel.Degenerate)
	return p
}

// Marshal encodes c as TOML.
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}

// Duration is a time.Duration written as a string such as "5s" in TOML and
// in the environment.
type Duration time.Duration

// String formats d like time.Duration.
func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
