package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg. It returns a *ValidationError listing every problem.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateDevice(cfg, ve)
	validateLogger(cfg, ve)
	validatePlot(cfg, ve)
	validateMetrics(cfg, ve)
	validateRelay(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateDevice(cfg *Config, ve *ValidationError) {
	if strings.TrimSpace(cfg.Device.ID) == "" {
		ve.Add("device.id is required")
	}
	if cfg.Device.ScanTimeout < 0 {
		ve.Add("device.scan_timeout must not be negative, got %s", cfg.Device.ScanTimeout)
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is not one of text, json", cfg.Logger.Format)
	}
}

func validatePlot(cfg *Config, ve *ValidationError) {
	if cfg.Plot.Capacity <= 0 {
		ve.Add("plot.capacity must be positive, got %d", cfg.Plot.Capacity)
	}
	if cfg.Plot.Width <= 0 || cfg.Plot.Width > cfg.Plot.Capacity {
		ve.Add("plot.width must be in (0, capacity], got %d", cfg.Plot.Width)
	}
	if cfg.Plot.FPS < 0 {
		ve.Add("plot.fps must not be negative, got %g", cfg.Plot.FPS)
	}
	if cfg.Plot.Max <= cfg.Plot.Min {
		ve.Add("plot.max (%g) must be greater than plot.min (%g)", cfg.Plot.Max, cfg.Plot.Min)
	}
}

func validateMetrics(cfg *Config, ve *ValidationError) {
	if cfg.Metrics.ListenAddress == "" {
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Metrics.ListenAddress); err != nil {
		ve.Add("metrics.listen_address %q: %v", cfg.Metrics.ListenAddress, err)
	}
}

func validateRelay(cfg *Config, ve *ValidationError) {
	if cfg.Relay.Timeout < 0 {
		ve.Add("relay.timeout must not be negative, got %s", cfg.Relay.Timeout)
	}
	if cfg.Relay.Address == "" {
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Relay.Address); err != nil {
		ve.Add("relay.address %q: %v", cfg.Relay.Address, err)
	}
}
