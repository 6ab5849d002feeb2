package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// Option configures a Controller at construction time.
type Option func(*Controller)

// WithObserver registers the observer that receives forwarded samples.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		c.observer = o
	}
}

// WithLogger sets the logger stream events and failures are reported to.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Controller) {
		c.log = log
	}
}

// WithRegisterer registers the controller metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Controller) {
		c.reg = reg
	}
}

// WithFailureHandler sets a function called once for every stream that ends
// with a failure. It is called from the owner goroutine, so it must not call
// Toggle, State or SetObserver.
func WithFailureHandler(f func(error)) Option {
	return func(c *Controller) {
		c.onFailure = f
	}
}

// WithSettingsSelector sets the function choosing the settings a stream is
// opened with from those offered by the source. Defaults to Settings.Max.
func WithSettingsSelector(f func(Settings) Settings) Option {
	return func(c *Controller) {
		c.selectSettings = f
	}
}

// Controller owns at most one live subscription to a stream of a Source.
//
// All state changes and every Observer call happen on a single owner
// goroutine started by NewController. Samples are handed from the
// subscription to the owner one at a time, so a slow observer slows the
// source down instead of losing samples.
type Controller struct {
	source         Source
	kind           Kind
	log            logrus.FieldLogger
	reg            prometheus.Registerer
	onFailure      func(error)
	selectSettings func(Settings) Settings

	sessionsStarted  prometheus.Counter
	samplesForwarded prometheus.Counter
	completions      prometheus.Counter
	failures         *prometheus.CounterVec
	active           prometheus.Gauge

	ops    chan func()
	events chan delivery
	quit   chan struct{}
	done   chan struct{}
	closed atomic.Bool
	pumps  sync.WaitGroup

	// Owned by the owner goroutine.
	observer Observer
	handle   *handle
	lastID   uint64
	// lastDone is closed once the most recently started subscription has
	// been closed.
	lastDone chan struct{}
}

// handle is the live, cancellable reference to an open subscription.
type handle struct {
	id     uint64
	cancel context.CancelFunc
}

// delivery is posted by a subscription to the owner goroutine. A delivery
// with done set is terminal: err is nil for a completed stream.
type delivery struct {
	id     uint64
	sample Sample
	done   bool
	err    error
}

// NewController returns a Controller for the kind stream of src. The
// controller is Idle until Toggle is called.
func NewController(src Source, kind Kind, opts ...Option) *Controller {
	c := &Controller{
		source:         src,
		kind:           kind,
		log:            logrus.StandardLogger(),
		selectSettings: Settings.Max,
		ops:            make(chan func()),
		events:         make(chan delivery),
		quit:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("stream", kind)

	m := newMetrics(c.reg)
	c.sessionsStarted = m.sessionsStarted.WithLabelValues(string(kind))
	c.samplesForwarded = m.samplesForwarded.WithLabelValues(string(kind))
	c.completions = m.completions.WithLabelValues(string(kind))
	c.failures = m.failures.MustCurryWith(prometheus.Labels{labelKind: string(kind)})
	c.active = m.active.WithLabelValues(string(kind))

	go c.run()
	return c
}

// Toggle starts a subscription when the controller is Idle and cancels the
// live one when it is Streaming. Stream setup happens asynchronously:
// failures are reported through the logger, the metrics and the failure
// handler, never returned here.
//
// Toggle must not be called from Observer methods or the failure handler.
func (c *Controller) Toggle() {
	c.do(c.toggle)
}

// SetObserver replaces the observer samples are forwarded to. A sample
// arriving while no observer is set fails the live subscription.
func (c *Controller) SetObserver(o Observer) {
	c.do(func() { c.observer = o })
}

// State returns the current state. A closed controller is always Idle.
func (c *Controller) State() State {
	reply := make(chan State, 1)
	if !c.do(func() { reply <- c.state() }) {
		return Idle
	}
	return <-reply
}

// Close cancels the live subscription, if any, and stops the controller.
// It waits until no subscription goroutine is left running.
func (c *Controller) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		close(c.quit)
	}
	<-c.done
	c.pumps.Wait()
	return nil
}

// do runs op on the owner goroutine. It reports false if the controller
// has been closed.
func (c *Controller) do(op func()) bool {
	select {
	case c.ops <- op:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) run() {
	defer close(c.done)
	for {
		select {
		case op := <-c.ops:
			op()
		case d := <-c.events:
			c.deliver(d)
		case <-c.quit:
			if c.handle != nil {
				c.cancel()
			}
			return
		}
	}
}

func (c *Controller) state() State {
	if c.handle == nil {
		return Idle
	}
	return Streaming
}

func (c *Controller) toggle() {
	if c.handle != nil {
		c.cancel()
		c.log.Debug("stream stopped")
		return
	}
	c.start()
}

func (c *Controller) start() {
	c.lastID++
	ctx, cancel := context.WithCancel(context.Background())
	c.handle = &handle{id: c.lastID, cancel: cancel}
	c.sessionsStarted.Inc()
	c.active.Set(1)
	c.log.WithField("subscription", c.lastID).Debug("starting stream")

	id := c.lastID
	prev, done := c.lastDone, make(chan struct{})
	c.lastDone = done
	c.pumps.Add(1)
	go func() {
		defer c.pumps.Done()
		defer close(done)
		c.pump(ctx, id, prev)
	}()
}

// cancel cancels and clears the live handle. Deliveries already in flight
// carry the old id and are discarded by deliver.
func (c *Controller) cancel() {
	c.handle.cancel()
	c.handle = nil
	c.active.Set(0)
}

func (c *Controller) deliver(d delivery) {
	if c.handle == nil || c.handle.id != d.id {
		return
	}
	if d.done {
		c.finish(d.err)
		return
	}
	if c.observer == nil {
		c.finish(fmt.Errorf("%w: %w", ErrRuntime, ErrNoObserver))
		return
	}
	c.observer.OnSample(d.sample)
	c.observer.Render()
	c.samplesForwarded.Inc()
}

// finish ends the live subscription. A nil err is a completion.
func (c *Controller) finish(err error) {
	c.cancel()
	if err == nil {
		c.completions.Inc()
		c.log.Info("stream complete")
		return
	}
	c.failures.WithLabelValues(failureReason(err)).Inc()
	c.log.WithError(err).Error("stream failed")
	if c.onFailure != nil {
		c.onFailure(err)
	}
}

// pump runs a subscription until it ends or ctx is cancelled and posts its
// samples and outcome to the owner goroutine. It does not touch the source
// before prev, the previous subscription, has been closed.
func (c *Controller) pump(ctx context.Context, id uint64, prev <-chan struct{}) {
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}
	err := c.subscribe(ctx, id)
	if ctx.Err() != nil {
		return
	}
	c.post(ctx, delivery{id: id, done: true, err: err})
}

func (c *Controller) subscribe(ctx context.Context, id uint64) error {
	offered, err := c.source.Settings(ctx, c.kind)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNegotiation, err)
	}
	settings := c.selectSettings(offered)
	c.log.WithField("settings", settings).Debug("opening stream")

	s, err := c.source.Open(ctx, c.kind, settings)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpen, err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			c.log.WithError(err).Warn("failed to close stream")
		}
	}()

	for {
		sample, err := s.Recv(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrRuntime, err)
		}
		if !c.post(ctx, delivery{id: id, sample: sample}) {
			return ctx.Err()
		}
	}
}

func (c *Controller) post(ctx context.Context, d delivery) bool {
	select {
	case c.events <- d:
		return true
	case <-ctx.Done():
		return false
	}
}
