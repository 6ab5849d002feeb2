package h10

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/siiimooon/polar-ecg/pkg/stream"
)

var ErrUnsupportedKind = errors.New("unsupported stream kind")

// ECGDevice is a device offering PMD ECG measurements. Reader implements it.
type ECGDevice interface {
	RequestStreamSettings(ctx context.Context, measurement MeasurementType) (stream.Settings, error)
	StreamECG(ctx context.Context, settings stream.Settings, sink chan ECGMeasurement) error
}

// ECGSource provides the ECG stream of a device as a stream.Source.
// Samples are converted from microvolts to millivolts.
type ECGSource struct {
	device ECGDevice
}

// NewECGSource returns an ECGSource for device.
func NewECGSource(device ECGDevice) *ECGSource {
	return &ECGSource{device: device}
}

func (s *ECGSource) Settings(ctx context.Context, kind stream.Kind) (stream.Settings, error) {
	if kind != stream.ECG {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
	return s.device.RequestStreamSettings(ctx, MEASUREMENT_ECG)
}

// Open starts the measurement and returns once the first frame arrived,
// so that failures to start are reported by Open rather than Recv.
func (s *ECGSource) Open(ctx context.Context, kind stream.Kind, settings stream.Settings) (stream.Stream, error) {
	if kind != stream.ECG {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	es := &ecgStream{
		frames: make(chan ECGMeasurement, 1),
		errc:   make(chan error, 1),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go func() {
		defer close(es.done)
		es.errc <- s.device.StreamECG(streamCtx, settings, es.frames)
	}()

	select {
	case m := <-es.frames:
		es.pending = m.GetSamples()
		return es, nil
	case err := <-es.errc:
		if err == nil {
			es.finished = true
			return es, nil
		}
		es.Close()
		return nil, err
	case <-ctx.Done():
		es.Close()
		return nil, ctx.Err()
	}
}

// ecgStream flattens ECG frames into single samples.
type ecgStream struct {
	frames chan ECGMeasurement
	errc   chan error
	done   chan struct{}
	cancel context.CancelFunc

	pending  []int
	finished bool
	err      error
}

func (s *ecgStream) Recv(ctx context.Context) (stream.Sample, error) {
	for len(s.pending) == 0 {
		if s.finished {
			// Frames sent before the measurement ended are still delivered.
			select {
			case m := <-s.frames:
				s.pending = m.GetSamples()
				continue
			default:
			}
			if s.err == nil {
				return 0, io.EOF
			}
			return 0, s.err
		}
		select {
		case m := <-s.frames:
			s.pending = m.GetSamples()
		case err := <-s.errc:
			s.err, s.finished = err, true
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	v := s.pending[0]
	s.pending = s.pending[1:]
	return stream.Sample(float64(v) / 1000.0), nil
}

// Close stops the measurement and waits until the device has been told to stop.
func (s *ecgStream) Close() error {
	s.cancel()
	<-s.done
	return nil
}
