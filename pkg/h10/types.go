package h10

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

// Reader is a struct that represents a Polar H10 heart rate monitor.
type Reader struct {
	device *bluetooth.Device
	log    logrus.FieldLogger
	// cp serializes PMD control point requests: a request holds it until
	// its response arrived.
	cp *sync.Mutex
}

// HeartRateMeasurement is a struct that represents a heart rate measurement.
type HeartRateMeasurement struct {
	hrValue                int
	sensorContact          bool
	energy                 int
	rrs                    []int
	rrsMs                  []int
	sensorContactSupported bool
	rrPresent              bool
}

func (receiver HeartRateMeasurement) GetHeartRate() int {
	return receiver.hrValue
}

// GetRRIntervals returns the RR intervals in units of 1/1024 seconds.
func (receiver HeartRateMeasurement) GetRRIntervals() []int {
	return receiver.rrs
}

// GetRRIntervalsMs returns the RR intervals in milliseconds.
func (receiver HeartRateMeasurement) GetRRIntervalsMs() []int {
	return receiver.rrsMs
}

func (receiver HeartRateMeasurement) GetEnergyExpended() int {
	return receiver.energy
}

func (receiver HeartRateMeasurement) HasSensorContact() bool {
	return receiver.sensorContact
}

func (receiver HeartRateMeasurement) IsSensorContactSupported() bool {
	return receiver.sensorContactSupported
}

func (receiver HeartRateMeasurement) String() string {
	return fmt.Sprintf("Heart rate: %v, RR interval(s): %vms", receiver.hrValue, receiver.rrsMs)
}

// ECGMeasurement is a struct that represents an ECG measurement.
type ECGMeasurement struct {
	timestamp uint64
	samples   []int
}

// GetSamples returns the samples of the frame in microvolts.
func (receiver ECGMeasurement) GetSamples() []int {
	return receiver.samples
}

// GetTimestamp returns the sensor timestamp of the last sample in milliseconds.
func (receiver ECGMeasurement) GetTimestamp() uint64 {
	return receiver.timestamp
}

func (receiver ECGMeasurement) String() string {
	return fmt.Sprintf("Timestamp: %v, Samples: %v", receiver.GetTimestamp(), receiver.GetSamples())
}
