package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DispatcherMetrics records outbox dispatch activity.
type DispatcherMetrics struct {
	claimed      prometheus.Counter
	outcomes     *prometheus.CounterVec
	sendDuration *prometheus.HistogramVec
	queueDepth   prometheus.Gauge
}

// NewDispatcherMetrics registers the dispatcher metrics on the provided registerer.
func NewDispatcherMetrics(reg prometheus.Registerer) *DispatcherMetrics {
	if reg == nil {
		return &DispatcherMetrics{}
	}
	claimed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outbox_messages_claimed_total",
		Help: "Messages claimed for processing.",
	})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_message_outcomes_total",
		Help: "Per-message processing outcomes.",
	}, []string{"topic", "outcome"})
	sendDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outbox_send_duration_seconds",
		Help:    "Duration of downstream delivery attempts in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic"})
	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_last_batch_size",
		Help: "Size of the most recently claimed batch.",
	})
	reg.MustRegister(claimed, outcomes, sendDuration, queueDepth)
	return &DispatcherMetrics{
		claimed:      claimed,
		outcomes:     outcomes,
		sendDuration: sendDuration,
		queueDepth:   queueDepth,
	}
}

// ObserveBatch records a claimed batch.
func (d *DispatcherMetrics) ObserveBatch(size int) {
	if d == nil || d.claimed == nil {
		return
	}
	d.claimed.Add(float64(size))
	d.queueDepth.Set(float64(size))
}

// IncOutcome increments the counter for a per-message result.
func (d *DispatcherMetrics) IncOutcome(topic, outcome string) {
	if d == nil || d.outcomes == nil {
		return
	}
	d.outcomes.WithLabelValues(normalizeLabel(topic), normalizeLabel(outcome)).Inc()
}

// ObserveSend records the duration of one delivery attempt.
func (d *DispatcherMetrics) ObserveSend(topic string, duration time.Duration) {
	if d == nil || d.sendDuration == nil {
		return
	}
	d.sendDuration.WithLabelValues(normalizeLabel(topic)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
