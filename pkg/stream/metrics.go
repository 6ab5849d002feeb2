package stream

import "github.com/prometheus/client_golang/prometheus"

const labelKind = "kind"

type metrics struct {
	sessionsStarted  *prometheus.CounterVec
	samplesForwarded *prometheus.CounterVec
	failures         *prometheus.CounterVec
	completions      *prometheus.CounterVec
	active           *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	var m metrics

	m.sessionsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "polar_stream_sessions_started_total",
		Help: "Number of stream subscriptions started.",
	}, []string{labelKind})
	m.samplesForwarded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "polar_stream_samples_forwarded_total",
		Help: "Number of samples forwarded to the observer.",
	}, []string{labelKind})
	m.failures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "polar_stream_failures_total",
		Help: "Number of stream subscriptions that ended with a failure.",
	}, []string{labelKind, "reason"})
	m.completions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "polar_stream_completions_total",
		Help: "Number of stream subscriptions completed by the source.",
	}, []string{labelKind})
	m.active = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "polar_stream_active",
		Help: "Whether a stream subscription is live.",
	}, []string{labelKind})

	if reg != nil {
		reg.MustRegister(
			m.sessionsStarted,
			m.samplesForwarded,
			m.failures,
			m.completions,
			m.active,
		)
	}
	return &m
}
