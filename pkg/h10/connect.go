package h10

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tinygo.org/x/bluetooth"
)

const (
	DefaultScanTimeout = 10 * time.Second
	DeviceNamePrefix   = "Polar H10 "
)

var ErrDeviceNotFound = errors.New("polar device not found")

// ScanOptions selects the device Connect connects to.
type ScanOptions struct {
	// DeviceID is the Polar device identifier printed on the sensor and
	// advertised as the name suffix, or the Bluetooth address of the device.
	DeviceID string
	// ScanTimeout bounds the scan. Defaults to DefaultScanTimeout.
	ScanTimeout time.Duration
}

// matchDevice reports whether an advertisement belongs to the device with id.
// An empty id matches any Polar H10.
func matchDevice(name, address, id string) bool {
	if id == "" {
		return strings.HasPrefix(name, DeviceNamePrefix)
	}
	if strings.EqualFold(address, id) {
		return true
	}
	i := strings.LastIndexByte(name, ' ')
	return strings.HasPrefix(name, "Polar ") && strings.EqualFold(name[i+1:], id)
}

// Connect scans for the selected device and connects to it.
func Connect(ctx context.Context, adapter *bluetooth.Adapter, opts ScanOptions) (*bluetooth.Device, error) {
	timeout := opts.ScanTimeout
	if timeout == 0 {
		timeout = DefaultScanTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	go func() {
		<-ctx.Done()
		adapter.StopScan()
	}()

	var found *bluetooth.ScanResult
	err := adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if found == nil && matchDevice(result.LocalName(), result.Address.String(), opts.DeviceID) {
			found = &result
			adapter.StopScan()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed at scanning: %w", err)
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, opts.DeviceID)
	}

	device, err := adapter.Connect(found.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", found.Address.String(), err)
	}
	return &device, nil
}
