package h10

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
)

// decodeHeartRateData decodes the heart rate payload from the Polar H10.
func decodeHeartRateData(data []byte) (HeartRateMeasurement, error) {
	mapRr1024ToRrMs := func(rrsRaw int) int {
		return int(float64(rrsRaw) / 1024.0 * 1000.0)
	}

	if len(data) < 2 {
		return HeartRateMeasurement{}, fmt.Errorf("heart rate payload too short: %#x", data)
	}
	hrFormat := int(data[0]) & 0x01
	sensorContact := int(data[0])&0x06>>1 == 0x03
	contactSupported := int(data[0])&0x04 != 0
	energyExpended := int(data[0]) & 0x08 >> 3
	rrPresent := int(data[0]) & 0x10 >> 4
	if len(data) < hrFormat+2+energyExpended*2 {
		return HeartRateMeasurement{}, fmt.Errorf("heart rate payload too short: %#x", data)
	}
	var hrValue int
	if hrFormat == 1 {
		hrValue = int(binary.LittleEndian.Uint16(data[1:]))
	} else {
		hrValue = int(data[1])
	}
	offset := hrFormat + 2
	energy := 0
	if energyExpended == 1 {
		energy = int(binary.LittleEndian.Uint16(data[offset:]))
		offset += 2
	}
	rrs := make([]int, 0)
	rrsMs := make([]int, 0)
	if rrPresent == 1 {
		for offset+1 < len(data) {
			rrValue := int(binary.LittleEndian.Uint16(data[offset:]))
			offset += 2
			rrs = append(rrs, rrValue)
			rrsMs = append(rrsMs, mapRr1024ToRrMs(rrValue))
		}
	}
	return HeartRateMeasurement{
		hrValue:                hrValue,
		sensorContact:          sensorContact,
		energy:                 energy,
		rrs:                    rrs,
		rrsMs:                  rrsMs,
		sensorContactSupported: contactSupported,
		rrPresent:              rrPresent == 1,
	}, nil
}

// decodeECGData decodes the ECG payload from the Polar H10.
func decodeECGData(data []byte) (ECGMeasurement, error) {
	if len(data) < ECG_FRAME_HEADER {
		return ECGMeasurement{}, fmt.Errorf("ecg payload too short: %#x", data)
	}
	sampleType := MeasurementType(data[0])
	frameType := data[9]
	sampleTimestamp := binary.LittleEndian.Uint64(data[1:9]) / 1e6
	samples := data[ECG_FRAME_HEADER:]
	if sampleType != MEASUREMENT_ECG {
		return ECGMeasurement{}, fmt.Errorf("expected sample type ecg: %v", sampleType)
	}
	if frameType != 0x00 {
		return ECGMeasurement{}, fmt.Errorf("expected frame type ecg: %v", frameType)
	}
	if len(samples)%ECG_SAMPLING_STEP != 0 {
		return ECGMeasurement{}, fmt.Errorf("number of samples not a factor of 3: %v", len(samples)%ECG_SAMPLING_STEP)
	}

	ecgSamples := make([]int, 0, len(samples)/ECG_SAMPLING_STEP)
	for offset := 0; offset < len(samples); offset += ECG_SAMPLING_STEP {
		sampleBytes := samples[offset : offset+ECG_SAMPLING_STEP]
		sample := int(int32(sampleBytes[0]) | int32(sampleBytes[1])<<8 | int32(int8(sampleBytes[2]))<<16)
		ecgSamples = append(ecgSamples, sample)
	}

	return ECGMeasurement{
		timestamp: sampleTimestamp,
		samples:   ecgSamples,
	}, nil
}

func suppressCancellationError(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
