package stream

import "errors"

var (
	// ErrNegotiation is returned when the source rejects the settings query.
	ErrNegotiation = errors.New("stream settings negotiation failed")
	// ErrOpen is returned when the stream could not be established.
	ErrOpen = errors.New("stream open failed")
	// ErrRuntime is returned when an open stream fails while delivering.
	ErrRuntime = errors.New("stream failed")
	// ErrNoObserver fails a subscription whose sample had no observer to go to.
	ErrNoObserver = errors.New("no observer for sample")
)

// failureReason returns the metric label for a terminal failure.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrNegotiation):
		return "negotiation"
	case errors.Is(err, ErrOpen):
		return "open"
	default:
		return "runtime"
	}
}
