package h10

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/siiimooon/polar-ecg/pkg/stream"
)

var ErrUnbufferedChannel = errors.New("unbuffered channels are not supported")

// New creates a new Reader from the provided device - which is expected to be a Polar H10 device.
// The device must be connected before creating a new Reader.
// If not a Polar H10 device, the behaviour is undefined.
func New(device *bluetooth.Device) Reader {
	return Reader{
		device: device,
		log:    logrus.StandardLogger(),
		cp:     &sync.Mutex{},
	}
}

// WithLogger returns a copy of the Reader logging to log.
func (receiver Reader) WithLogger(log logrus.FieldLogger) Reader {
	receiver.log = log
	return receiver
}

// Disconnect disconnects the device.
func (receiver Reader) Disconnect() error {
	return receiver.device.Disconnect()
}

// GetBatteryLevel retrieves the battery level (percentage) of the device.
func (receiver Reader) GetBatteryLevel() (int, error) {
	characteristic, err := receiver.retrieveDeviceCharacteristic(BATTERY_SERVICE, BATTERY_CHARACTERISTIC_LEVEL)
	if err != nil {
		return 0, fmt.Errorf("failed to retrieve device characteristic: %w", err)
	}

	characteristicResponse, err := receiver.readCharacteristic(characteristic)
	if err != nil {
		return 0, fmt.Errorf("failed at reading characteristic: %w", err)
	}
	if len(characteristicResponse) == 0 {
		return 0, errors.New("empty battery level response")
	}
	return int(characteristicResponse[0]), nil
}

// GetFirmwareVersion retrieves the software revision string of the device.
func (receiver Reader) GetFirmwareVersion() (string, error) {
	characteristic, err := receiver.retrieveDeviceCharacteristic(DIS_SERVICE, DIS_CHARACTERISTIC_SW_VERSION)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve device characteristic: %w", err)
	}

	characteristicResponse, err := receiver.readCharacteristic(characteristic)
	if err != nil {
		return "", fmt.Errorf("failed at reading characteristic: %w", err)
	}
	return strings.TrimSpace(string(bytes.TrimRight(characteristicResponse, "\x00"))), nil
}

// StreamHeartRate streams heart rate data from the device to the provided channel.
func (receiver Reader) StreamHeartRate(ctx context.Context, sink chan HeartRateMeasurement) error {
	if cap(sink) == 0 {
		return ErrUnbufferedChannel
	}

	deviceCharacteristic, err := receiver.retrieveDeviceCharacteristic(HR_SERVICES, HR_CHARACTERISTIC_MEASUREMENT)
	if err != nil {
		return fmt.Errorf("failed to retrieve device characteristic: %w", err)
	}
	hrStream := make(chan []byte, 1)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	err = streamNotification(streamCtx, deviceCharacteristic, hrStream)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return suppressCancellationError(ctx.Err())
		case rawMeasurement := <-hrStream:
			hrMeasurement, err := decodeHeartRateData(rawMeasurement)
			if err != nil {
				return fmt.Errorf("failed at parsing heart rate measurement: %w", err)
			}
			select {
			case sink <- hrMeasurement:
			case <-ctx.Done():
				return suppressCancellationError(ctx.Err())
			}
		}
	}
}

// RequestStreamSettings queries the settings the device offers for a measurement type.
func (receiver Reader) RequestStreamSettings(ctx context.Context, measurement MeasurementType) (stream.Settings, error) {
	pmdCp, err := receiver.retrieveDeviceCharacteristic(PMD_SERVICES, PMD_CHARACTERISTIC_CP)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve device PMD CP characteristic: %w", err)
	}
	req, err := encodeCommand(PMD_GET_MEASUREMENT_SETTINGS, measurement, nil)
	if err != nil {
		return nil, err
	}
	resp, err := receiver.controlPoint(ctx, pmdCp, req)
	if err != nil {
		return nil, fmt.Errorf("failed at requesting measurement settings: %w", err)
	}
	return parseSettings(resp.parameters)
}

// StreamECG starts an ECG measurement with the selected settings and streams
// the decoded frames to the provided channel until ctx is done.
func (receiver Reader) StreamECG(ctx context.Context, settings stream.Settings, sink chan ECGMeasurement) error {
	if cap(sink) == 0 {
		return ErrUnbufferedChannel
	}

	pmdCp, err := receiver.retrieveDeviceCharacteristic(PMD_SERVICES, PMD_CHARACTERISTIC_CP)
	if err != nil {
		return fmt.Errorf("failed to retrieve device PMD CP characteristic: %w", err)
	}
	pmdData, err := receiver.retrieveDeviceCharacteristic(PMD_SERVICES, PMD_CHARACTERISTIC_ECG)
	if err != nil {
		return fmt.Errorf("failed to retrieve device PMD Data characteristic: %w", err)
	}
	start, err := encodeCommand(PMD_START_MEASUREMENT, MEASUREMENT_ECG, settings)
	if err != nil {
		return err
	}

	ecgStream := make(chan []byte, 1)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	err = streamNotification(streamCtx, pmdData, ecgStream)
	if err != nil {
		return err
	}

	if _, err := receiver.controlPoint(ctx, pmdCp, start); err != nil {
		return fmt.Errorf("failed at starting ecg measurement: %w", err)
	}
	defer receiver.stopMeasurement(pmdCp, MEASUREMENT_ECG)

	for {
		select {
		case <-ctx.Done():
			return suppressCancellationError(ctx.Err())
		case rawEcgMeasurement := <-ecgStream:
			ecgMeasurement, err := decodeECGData(rawEcgMeasurement)
			if err != nil {
				return fmt.Errorf("failed at parsing ecg measurement: %w", err)
			}
			select {
			case sink <- ecgMeasurement:
			case <-ctx.Done():
				return suppressCancellationError(ctx.Err())
			}
		}
	}
}

// stopMeasurement asks the device to stop a measurement. Failures are only
// logged: the caller is already shutting the stream down.
func (receiver Reader) stopMeasurement(pmdCp bluetooth.DeviceCharacteristic, measurement MeasurementType) {
	req, err := encodeCommand(PMD_STOP_MEASUREMENT, measurement, nil)
	if err == nil {
		_, err = receiver.controlPoint(context.Background(), pmdCp, req)
	}
	if err != nil {
		receiver.log.WithError(err).WithField("measurement", measurement).Debug("failed to stop measurement")
	}
}

// controlPoint writes a request to the PMD control point and waits for its response.
// Only one request is in flight at a time.
func (receiver Reader) controlPoint(ctx context.Context, pmdCp bluetooth.DeviceCharacteristic, req []byte) (pmdResponse, error) {
	receiver.cp.Lock()
	defer receiver.cp.Unlock()

	ctx, cancel := context.WithTimeout(ctx, PMD_RESPONSE_TIMEOUT)
	defer cancel()

	responses := make(chan []byte, 4)
	err := pmdCp.EnableNotifications(func(buf []byte) {
		select {
		case responses <- bytes.Clone(buf):
		default:
		}
	})
	if err != nil {
		return pmdResponse{}, fmt.Errorf("failed to enable control point notifications: %w", err)
	}
	defer pmdCp.EnableNotifications(nil)

	if err := receiver.writeCharacteristic(pmdCp, req); err != nil {
		return pmdResponse{}, err
	}
	return awaitResponse(ctx, responses, req[0], receiver.log)
}

// retrieveDeviceCharacteristic retrieves a device characteristic from a service.
func (receiver Reader) retrieveDeviceCharacteristic(serviceID, characteristicID string) (bluetooth.DeviceCharacteristic, error) {
	service, err := bluetooth.ParseUUID(serviceID)
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, err
	}
	characteristic, err := bluetooth.ParseUUID(characteristicID)
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, err
	}
	services, err := receiver.device.DiscoverServices([]bluetooth.UUID{service})
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("failed at discovering service %s: %w", service.String(), err)
	}
	for _, service := range services {
		characteristics, err := service.DiscoverCharacteristics([]bluetooth.UUID{characteristic})
		if err != nil {
			return bluetooth.DeviceCharacteristic{}, fmt.Errorf("failed at discovering device characteristic %s: %w", characteristic.String(), err)
		}
		for _, characteristic := range characteristics {
			return characteristic, nil
		}
	}
	return bluetooth.DeviceCharacteristic{}, fmt.Errorf("device characteristic %s not found", characteristicID)
}

// readCharacteristic reads a response from a device characteristic.
func (receiver Reader) readCharacteristic(characteristic bluetooth.DeviceCharacteristic) ([]byte, error) {
	mtu, err := characteristic.GetMTU()
	if err != nil {
		return nil, fmt.Errorf("failed to obtain MTU of characteristic: %w", err)
	}
	data := make([]byte, mtu)
	dataLen, err := characteristic.Read(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from characteristic: %w", err)
	}
	return data[:dataLen], nil
}

// writeCharacteristic writes a request to a device characteristic.
func (receiver Reader) writeCharacteristic(characteristic bluetooth.DeviceCharacteristic, req []byte) error {
	if _, err := characteristic.Write(req); err != nil {
		return fmt.Errorf("failed to write request to characteristic: %w", err)
	}
	return nil
}

// streamNotification streams notifications from a device characteristic to the provided channel.
// Notifications arriving after ctx is done are discarded.
func streamNotification(ctx context.Context, characteristic bluetooth.DeviceCharacteristic, sink chan []byte) error {
	err := characteristic.EnableNotifications(func(buf []byte) {
		select {
		case sink <- bytes.Clone(buf):
		case <-ctx.Done():
		}
	})
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		characteristic.EnableNotifications(nil)
	}()

	return nil
}
