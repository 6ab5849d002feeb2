// Package config loads the monitor configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Logger  LoggerConfig  `yaml:"logger"`
	Plot    PlotConfig    `yaml:"plot"`
	Metrics MetricsConfig `yaml:"metrics"`
	Relay   RelayConfig   `yaml:"relay"`
}

// DeviceConfig selects the sensor to connect to.
type DeviceConfig struct {
	ID          string        `yaml:"id"` // Polar device id or Bluetooth address
	ScanTimeout time.Duration `yaml:"scan_timeout"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stderr, stdout or a file path
}

// PlotConfig holds the ECG chart settings.
type PlotConfig struct {
	Capacity int     `yaml:"capacity"`
	Width    int     `yaml:"width"`
	FPS      float64 `yaml:"fps"`
	Min      float64 `yaml:"min"`
	Max      float64 `yaml:"max"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	ListenAddress string `yaml:"listen_address"` // empty disables the endpoint
}

// RelayConfig holds the heart rate relay settings.
type RelayConfig struct {
	Address string        `yaml:"address"` // host:port, empty disables the relay
	Timeout time.Duration `yaml:"timeout"`
}

// Defaults returns the default configuration. It has no device id.
func Defaults() *Config {
	return &Config{
		Device: DeviceConfig{
			ScanTimeout: 10 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Plot: PlotConfig{
			Capacity: 650,
			Width:    130,
			FPS:      25,
			Min:      -1.5,
			Max:      1.5,
		},
		Relay: RelayConfig{
			Timeout: 5 * time.Second,
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// and caller overrides in that order and validates the result. A missing
// file yields the defaults.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	ApplyEnvOverrides(cfg)
	for _, override := range overrides {
		override(cfg)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies POLAR_* environment variables to cfg.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POLAR_DEVICE_ID"); v != "" {
		cfg.Device.ID = v
	}
	if v := os.Getenv("POLAR_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("POLAR_METRICS_LISTEN_ADDRESS"); v != "" {
		cfg.Metrics.ListenAddress = v
	}
	if v := os.Getenv("POLAR_RELAY_ADDRESS"); v != "" {
		cfg.Relay.Address = v
	}
}
