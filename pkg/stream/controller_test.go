package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// recorder is an Observer that records forwarded samples.
type recorder struct {
	mu      sync.Mutex
	samples []Sample
	renders int
}

func (r *recorder) OnSample(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

func (r *recorder) Render() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renders++
}

func (r *recorder) Samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sample(nil), r.samples...)
}

func (r *recorder) Renders() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.renders
}

func (r *recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// stubSource offers fixed settings and opens stubStreams.
type stubSource struct {
	settingsErr error
	// failOnce clears settingsErr after it was returned once.
	failOnce bool
	openErr  error
	// samples emitted by every opened stream before end.
	samples []Sample
	// end is returned once samples are exhausted. A nil end blocks until
	// the stream is cancelled.
	end error
	// ignoreCancel makes streams emit samples forever regardless of ctx.
	ignoreCancel bool
	// blockSettings makes Settings block until ctx is done.
	blockSettings bool
	// closeDelay delays every stream Close.
	closeDelay time.Duration

	mu     sync.Mutex
	opened []Settings
	closed int
	calls  []string
}

func (s *stubSource) Settings(ctx context.Context, kind Kind) (Settings, error) {
	s.mu.Lock()
	s.calls = append(s.calls, "settings")
	err := s.settingsErr
	if s.failOnce {
		s.settingsErr = nil
	}
	s.mu.Unlock()
	if s.blockSettings {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return Settings{
		SampleRate: {130},
		Resolution: {14},
		Range:      {2, 4, 8},
	}, nil
}

func (s *stubSource) Open(ctx context.Context, kind Kind, settings Settings) (Stream, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.mu.Lock()
	s.opened = append(s.opened, settings)
	s.calls = append(s.calls, "open")
	s.mu.Unlock()
	return &stubStream{src: s}, nil
}

func (s *stubSource) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *stubSource) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type stubStream struct {
	src  *stubSource
	next int
}

func (s *stubStream) Recv(ctx context.Context) (Sample, error) {
	if s.src.ignoreCancel {
		s.next++
		return Sample(s.next), nil
	}
	if s.next < len(s.src.samples) {
		s.next++
		return s.src.samples[s.next-1], nil
	}
	if s.src.end != nil {
		return 0, s.src.end
	}
	<-ctx.Done()
	return 0, ctx.Err()
}

func (s *stubStream) Close() error {
	time.Sleep(s.src.closeDelay)
	s.src.mu.Lock()
	defer s.src.mu.Unlock()
	s.src.closed++
	s.src.calls = append(s.src.calls, "close")
	return nil
}

func newTestController(t *testing.T, src Source, opts ...Option) (*Controller, *recorder, *logtest.Hook) {
	t.Helper()
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	rec := &recorder{}
	opts = append([]Option{
		WithObserver(rec),
		WithLogger(log),
		WithRegisterer(prometheus.NewRegistry()),
	}, opts...)
	c := NewController(src, ECG, opts...)
	t.Cleanup(func() { require.NoError(t, c.Close()) })
	return c, rec, hook
}

func errorEntries(hook *logtest.Hook) int {
	var n int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			n++
		}
	}
	return n
}

func TestToggleParity(t *testing.T) {
	c, _, _ := newTestController(t, &stubSource{})

	require.Equal(t, Idle, c.State())
	for n := 1; n <= 7; n++ {
		c.Toggle()
		want := Idle
		if n%2 == 1 {
			want = Streaming
		}
		require.Equal(t, want, c.State(), "after %d toggles", n)
	}
}

func TestSamplesForwardedInOrder(t *testing.T) {
	want := []Sample{0.1, -0.2, 0.05, 1.2}
	c, rec, _ := newTestController(t, &stubSource{samples: want})

	c.Toggle()
	require.Eventually(t, func() bool { return rec.Len() == len(want) }, waitFor, tick)
	assert.Equal(t, want, rec.Samples())
	assert.Equal(t, Streaming, c.State())
	assert.Equal(t, float64(len(want)), testutil.ToFloat64(c.samplesForwarded))
}

func TestStreamCompletion(t *testing.T) {
	src := &stubSource{samples: []Sample{0.3, 0.2, 0.1}, end: io.EOF}
	var failures []error
	c, rec, hook := newTestController(t, src, WithFailureHandler(func(err error) {
		failures = append(failures, err)
	}))

	c.Toggle()
	require.Eventually(t, func() bool { return c.State() == Idle }, waitFor, tick)

	assert.Equal(t, []Sample{0.3, 0.2, 0.1}, rec.Samples())
	assert.Empty(t, failures)
	assert.Zero(t, errorEntries(hook))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.completions))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.active))
	assert.Equal(t, 1, src.Closed())
}

func TestToggleBeforeFirstSample(t *testing.T) {
	src := &stubSource{blockSettings: true}
	c, rec, hook := newTestController(t, src)

	c.Toggle()
	c.Toggle()

	assert.Equal(t, Idle, c.State())
	assert.Zero(t, rec.Len())
	assert.Zero(t, errorEntries(hook))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.failures.WithLabelValues("negotiation")))
}

func TestNegotiationFailure(t *testing.T) {
	errRejected := errors.New("settings rejected")
	src := &stubSource{settingsErr: errRejected}
	var failures []error
	c, rec, hook := newTestController(t, src, WithFailureHandler(func(err error) {
		failures = append(failures, err)
	}))

	c.Toggle()
	require.Eventually(t, func() bool { return c.State() == Idle }, waitFor, tick)

	assert.Zero(t, rec.Len())
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], ErrNegotiation)
	assert.ErrorIs(t, failures[0], errRejected)
	assert.Equal(t, 1, errorEntries(hook))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failures.WithLabelValues("negotiation")))
}

func TestOpenFailure(t *testing.T) {
	src := &stubSource{openErr: errors.New("gatt write failed")}
	var failures []error
	c, _, _ := newTestController(t, src, WithFailureHandler(func(err error) {
		failures = append(failures, err)
	}))

	c.Toggle()
	require.Eventually(t, func() bool { return c.State() == Idle }, waitFor, tick)

	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], ErrOpen)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failures.WithLabelValues("open")))
}

func TestRuntimeFailure(t *testing.T) {
	src := &stubSource{samples: []Sample{1, 2}, end: errors.New("link lost")}
	var failures []error
	c, rec, _ := newTestController(t, src, WithFailureHandler(func(err error) {
		failures = append(failures, err)
	}))

	c.Toggle()
	require.Eventually(t, func() bool { return c.State() == Idle }, waitFor, tick)

	assert.Equal(t, []Sample{1, 2}, rec.Samples())
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], ErrRuntime)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failures.WithLabelValues("runtime")))
}

func TestToggleAfterFailureStartsFresh(t *testing.T) {
	src := &stubSource{settingsErr: errors.New("busy"), failOnce: true}
	c, _, _ := newTestController(t, src)

	c.Toggle()
	require.Eventually(t, func() bool { return c.State() == Idle }, waitFor, tick)

	c.Toggle()
	assert.Equal(t, Streaming, c.State())
	assert.Equal(t, 2.0, testutil.ToFloat64(c.sessionsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failures.WithLabelValues("negotiation")))
}

func TestNoSamplesAfterCancel(t *testing.T) {
	src := &stubSource{ignoreCancel: true}
	c, rec, _ := newTestController(t, src)

	c.Toggle()
	require.Eventually(t, func() bool { return rec.Len() > 10 }, waitFor, tick)

	c.Toggle()
	require.Equal(t, Idle, c.State())
	n := rec.Len()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, rec.Len())

	// Forwarded samples are consecutive: nothing was dropped.
	for i, s := range rec.Samples() {
		require.Equal(t, Sample(i+1), s)
	}
}

func TestMaxSettingsRequested(t *testing.T) {
	src := &stubSource{}
	c, _, _ := newTestController(t, src)

	c.Toggle()
	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return len(src.opened) == 1
	}, waitFor, tick)

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Equal(t, Settings{
		SampleRate: {130},
		Resolution: {14},
		Range:      {8},
	}, src.opened[0])
}

func TestSetObserver(t *testing.T) {
	src := &stubSource{samples: []Sample{1, 2, 3}}
	c, first, _ := newTestController(t, src, WithObserver(nil))

	second := &recorder{}
	c.SetObserver(second)
	c.Toggle()
	require.Eventually(t, func() bool { return second.Renders() == 3 }, waitFor, tick)
	assert.Equal(t, []Sample{1, 2, 3}, second.Samples())
	assert.Zero(t, first.Len())
}

func TestRestartWaitsForPreviousClose(t *testing.T) {
	src := &stubSource{samples: []Sample{1}, closeDelay: 50 * time.Millisecond}
	c, rec, _ := newTestController(t, src)

	c.Toggle()
	require.Eventually(t, func() bool { return rec.Len() == 1 }, waitFor, tick)
	c.Toggle()
	c.Toggle()
	require.Eventually(t, func() bool { return rec.Len() == 2 }, waitFor, tick)

	assert.Equal(t, []string{"settings", "open", "close", "settings", "open"}, src.Calls())
	assert.Equal(t, Streaming, c.State())
}

func TestRestartCancelledWhileWaitingForClose(t *testing.T) {
	src := &stubSource{samples: []Sample{1}, closeDelay: 50 * time.Millisecond}
	c, rec, _ := newTestController(t, src)

	c.Toggle()
	require.Eventually(t, func() bool { return rec.Len() == 1 }, waitFor, tick)
	c.Toggle()
	c.Toggle()
	c.Toggle()
	require.Eventually(t, func() bool { return src.Closed() == 1 }, waitFor, tick)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"settings", "open", "close"}, src.Calls())
	assert.Equal(t, Idle, c.State())
}

func TestSampleWithoutObserverFails(t *testing.T) {
	src := &stubSource{samples: []Sample{1, 2, 3}}
	var failures []error
	c, _, hook := newTestController(t, src, WithObserver(nil), WithFailureHandler(func(err error) {
		failures = append(failures, err)
	}))

	c.Toggle()
	require.Eventually(t, func() bool { return c.State() == Idle }, waitFor, tick)

	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], ErrRuntime)
	assert.ErrorIs(t, failures[0], ErrNoObserver)
	assert.Equal(t, 1, errorEntries(hook))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failures.WithLabelValues("runtime")))
	assert.Zero(t, testutil.ToFloat64(c.samplesForwarded))

	// A later observer gets a fresh subscription.
	rec := &recorder{}
	c.SetObserver(rec)
	c.Toggle()
	require.Eventually(t, func() bool { return rec.Len() == 3 }, waitFor, tick)
	assert.Equal(t, []Sample{1, 2, 3}, rec.Samples())
	assert.Len(t, failures, 1)
}

func TestClose(t *testing.T) {
	src := &stubSource{ignoreCancel: true}
	log, _ := logtest.NewNullLogger()
	c := NewController(src, ECG, WithLogger(log))

	c.Toggle()
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Equal(t, Idle, c.State())
	c.Toggle()
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, 1, src.Closed())
}
