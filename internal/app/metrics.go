package app

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus collectors for the payout pipeline. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	replies       *prometheus.CounterVec
	confirmations prometheus.Counter
	tasks         *prometheus.CounterVec
	queueDepth    prometheus.Gauge
	batchPairs    *prometheus.CounterVec
	disbursements *prometheus.CounterVec
	providerCalls *prometheus.HistogramVec
}

// NewMetrics registers the pipeline collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		replies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ambassador",
			Subsystem: "sms",
			Name:      "replies_total",
			Help:      "Inbound SMS replies segmented by classification and outcome.",
		}, []string{"reply", "outcome"}),
		confirmations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ambassador",
			Subsystem: "triplers",
			Name:      "confirmed_total",
			Help:      "Triplers moved to confirmed, each creating one pending payout.",
		}),
		tasks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ambassador",
			Subsystem: "queue",
			Name:      "tasks_total",
			Help:      "Queue tasks segmented by outcome (enqueued, duplicate, succeeded, failed, panicked).",
		}, []string{"outcome"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ambassador",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Tasks waiting in the disbursement queue.",
		}),
		batchPairs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ambassador",
			Subsystem: "scheduler",
			Name:      "pairs_total",
			Help:      "Eligible payout pairs seen by the batch scheduler segmented by outcome.",
		}, []string{"outcome"}),
		disbursements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ambassador",
			Subsystem: "disburser",
			Name:      "attempts_total",
			Help:      "Disbursement attempts segmented by provider and outcome.",
		}, []string{"provider", "outcome"}),
		providerCalls: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ambassador",
			Subsystem: "disburser",
			Name:      "provider_call_duration_seconds",
			Help:      "Latency of payment provider calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}
}

func (m *Metrics) RecordReply(reply, outcome string) {
	if m == nil {
		return
	}
	m.replies.WithLabelValues(reply, outcome).Inc()
}

func (m *Metrics) RecordConfirmation() {
	if m == nil {
		return
	}
	m.confirmations.Inc()
}

func (m *Metrics) RecordTask(outcome string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) RecordBatchPair(outcome string) {
	if m == nil {
		return
	}
	m.batchPairs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordDisbursement(provider, outcome string) {
	if m == nil {
		return
	}
	if provider == "" {
		provider = "none"
	}
	m.disbursements.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) ObserveProviderCall(provider string, duration time.Duration) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider).Observe(duration.Seconds())
}
