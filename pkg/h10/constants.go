package h10

import "time"

// GATT services and characteristics used by the Polar H10.
const (
	BATTERY_SERVICE              = "0000180f-0000-1000-8000-00805f9b34fb"
	BATTERY_CHARACTERISTIC_LEVEL = "00002a19-0000-1000-8000-00805f9b34fb"

	DIS_SERVICE                   = "0000180a-0000-1000-8000-00805f9b34fb"
	DIS_CHARACTERISTIC_SW_VERSION = "00002a28-0000-1000-8000-00805f9b34fb"

	HR_SERVICES                   = "0000180d-0000-1000-8000-00805f9b34fb"
	HR_CHARACTERISTIC_MEASUREMENT = "00002a37-0000-1000-8000-00805f9b34fb"

	PMD_SERVICES           = "fb005c80-02e7-f387-1cad-8acd2d8df0c8"
	PMD_CHARACTERISTIC_CP  = "fb005c81-02e7-f387-1cad-8acd2d8df0c8"
	PMD_CHARACTERISTIC_ECG = "fb005c82-02e7-f387-1cad-8acd2d8df0c8"
)

// PMD control point op codes.
const (
	PMD_GET_MEASUREMENT_SETTINGS = 0x01
	PMD_START_MEASUREMENT        = 0x02
	PMD_STOP_MEASUREMENT         = 0x03

	PMD_CONTROL_POINT_RESPONSE = 0xF0
)

// MeasurementType is a PMD measurement type.
type MeasurementType byte

const (
	MEASUREMENT_ECG MeasurementType = 0x00
	MEASUREMENT_PPG MeasurementType = 0x01
	MEASUREMENT_ACC MeasurementType = 0x02
	MEASUREMENT_PPI MeasurementType = 0x03
)

const (
	// ECG_SAMPLING_STEP is the size in bytes of a single ECG sample.
	ECG_SAMPLING_STEP = 3
	// ECG_FRAME_HEADER is the size of the measurement type, timestamp and
	// frame type preceding the samples of a PMD data notification.
	ECG_FRAME_HEADER = 10

	// PMD_RESPONSE_TIMEOUT bounds the wait for a control point response.
	PMD_RESPONSE_TIMEOUT = 5 * time.Second
)
