// Package plot renders a live ECG trace in a terminal.
package plot

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/siiimooon/polar-ecg/pkg/stream"
)

// Options configures a Plotter.
type Options struct {
	// Capacity is the number of samples kept for the trace.
	Capacity int
	// Width is the number of columns drawn.
	Width int
	// Min and Max are the fixed range boundaries in millivolts.
	Min, Max float64
	// FPS limits how often the trace is redrawn. Zero redraws on every Render.
	FPS float64
}

// DefaultOptions shows five seconds of ECG sampled at 130Hz.
var DefaultOptions = Options{
	Capacity: 650,
	Width:    130,
	Min:      -1.5,
	Max:      1.5,
	FPS:      25,
}

var levels = []rune("▁▂▃▄▅▆▇█")

// Plotter keeps the most recent samples of a stream and draws them as a
// sparkline. It implements stream.Observer.
type Plotter struct {
	w       io.Writer
	opts    Options
	limiter *rate.Limiter

	mu   sync.Mutex
	ring []float64
	next int
	full bool

	received *atomic.Uint64
	redraws  *atomic.Uint64
}

// New returns a Plotter drawing to w.
func New(w io.Writer, opts Options) *Plotter {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultOptions.Capacity
	}
	if opts.Width <= 0 || opts.Width > opts.Capacity {
		opts.Width = min(DefaultOptions.Width, opts.Capacity)
	}
	if opts.Max <= opts.Min {
		opts.Min, opts.Max = DefaultOptions.Min, DefaultOptions.Max
	}
	limit := rate.Inf
	if opts.FPS > 0 {
		limit = rate.Limit(opts.FPS)
	}
	return &Plotter{
		w:        w,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, 1),
		ring:     make([]float64, opts.Capacity),
		received: atomic.NewUint64(0),
		redraws:  atomic.NewUint64(0),
	}
}

// OnSample appends a sample, replacing the oldest one once full.
func (p *Plotter) OnSample(s stream.Sample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ring[p.next] = float64(s)
	p.next = (p.next + 1) % len(p.ring)
	if p.next == 0 {
		p.full = true
	}
	p.received.Inc()
}

// Render redraws the trace unless the last redraw was too recent.
func (p *Plotter) Render() {
	if !p.limiter.AllowN(time.Now(), 1) {
		return
	}
	line := p.Line()
	p.redraws.Inc()
	fmt.Fprintf(p.w, "\r%s", line)
}

// Snapshot returns the kept samples, oldest first.
func (p *Plotter) Snapshot() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.full {
		return append([]float64(nil), p.ring[:p.next]...)
	}
	out := make([]float64, 0, len(p.ring))
	out = append(out, p.ring[p.next:]...)
	return append(out, p.ring[:p.next]...)
}

// Line returns the sparkline of the newest Width samples. Samples outside
// the range boundaries are drawn at the boundary, NaN samples as a gap.
func (p *Plotter) Line() string {
	samples := p.Snapshot()
	if len(samples) > p.opts.Width {
		samples = samples[len(samples)-p.opts.Width:]
	}
	var b strings.Builder
	span := p.opts.Max - p.opts.Min
	for _, v := range samples {
		if math.IsNaN(v) {
			b.WriteByte(' ')
			continue
		}
		v = max(p.opts.Min, min(p.opts.Max, v))
		i := int((v - p.opts.Min) / span * float64(len(levels)-1))
		b.WriteRune(levels[i])
	}
	return b.String()
}

// Received returns the number of samples received.
func (p *Plotter) Received() uint64 {
	return p.received.Load()
}

// Redraws returns the number of times the trace was drawn.
func (p *Plotter) Redraws() uint64 {
	return p.redraws.Load()
}
