// Package stream implements a controller that toggles a single live
// subscription to a sensor data stream and forwards its samples, in order,
// to one observer.
package stream

import (
	"context"
	"fmt"
)

// Sample is a single decoded measurement value. ECG samples are in millivolts.
type Sample float64

// Kind names a data stream offered by a Source.
type Kind string

const ECG Kind = "ecg"

// State is the state of a Controller.
type State int

const (
	Idle State = iota
	Streaming
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Observer receives the samples forwarded by a Controller.
// Both methods are always called from the controller's owner goroutine.
type Observer interface {
	// OnSample is called once for every sample, in arrival order.
	OnSample(Sample)
	// Render is called after a sample has been delivered.
	Render()
}

// Source is the external provider of streams.
type Source interface {
	// Settings returns the settings the source offers for the stream kind.
	Settings(ctx context.Context, kind Kind) (Settings, error)
	// Open starts the stream with the selected settings.
	Open(ctx context.Context, kind Kind, settings Settings) (Stream, error)
}

// Stream is an open stream of samples.
type Stream interface {
	// Recv blocks until the next sample is available. It returns io.EOF
	// once the source has no more samples.
	Recv(ctx context.Context) (Sample, error)
	// Close cancels the stream. No sample is returned by Recv after Close.
	Close() error
}
