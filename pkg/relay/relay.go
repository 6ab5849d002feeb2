// Package relay forwards readings to a TCP listener. Every message is sent on
// its own connection as a big-endian uint16 byte length followed by the UTF-8
// text, the framing of Java's DataOutputStream.writeUTF.
package relay

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const DefaultTimeout = 5 * time.Second

var ErrMessageTooLong = errors.New("relay message too long")

// Relay sends text messages to a fixed address.
type Relay struct {
	addr    string
	timeout time.Duration
	dialer  net.Dialer

	reg    prometheus.Registerer
	sent   prometheus.Counter
	failed prometheus.Counter
}

// Option configures a Relay.
type Option func(*Relay)

// WithTimeout bounds connecting and writing a single message.
func WithTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRegisterer registers the relay metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(r *Relay) {
		r.reg = reg
	}
}

// New returns a Relay sending to addr, a host:port.
func New(addr string, opts ...Option) *Relay {
	r := &Relay{
		addr:    addr,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}

	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "polar_relay_messages_total",
		Help: "Number of messages sent to the relay address, by result.",
	}, []string{"result"})
	if r.reg != nil {
		r.reg.MustRegister(messages)
	}
	r.sent = messages.WithLabelValues("sent")
	r.failed = messages.WithLabelValues("failed")
	return r
}

// Send delivers msg on a new connection.
func (r *Relay) Send(ctx context.Context, msg string) error {
	if err := r.send(ctx, msg); err != nil {
		r.failed.Inc()
		return err
	}
	r.sent.Inc()
	return nil
}

func (r *Relay) send(ctx context.Context, msg string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	conn, err := r.dialer.DialContext(ctx, "tcp", r.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to relay %s: %w", r.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}
	if err := writeUTF(conn, msg); err != nil {
		return fmt.Errorf("failed to write to relay %s: %w", r.addr, err)
	}
	return nil
}

func writeUTF(w io.Writer, msg string) error {
	if len(msg) > math.MaxUint16 {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLong, len(msg))
	}
	buf := make([]byte, 2, 2+len(msg))
	binary.BigEndian.PutUint16(buf, uint16(len(msg)))
	_, err := w.Write(append(buf, msg...))
	return err
}
