package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SagaMetrics records the outcome of every economy saga plus the health of the
// shared signer pipeline.
type SagaMetrics struct {
	sagas          *prometheus.CounterVec
	sagaLatency    *prometheus.HistogramVec
	paymentOrphans prometheus.Counter
	queueDepth     prometheus.Gauge
	submitLatency  prometheus.Histogram
	ledgerCalls    *prometheus.HistogramVec
}

var (
	sagaMetricsOnce sync.Once
	sagaRegistry    *SagaMetrics
)

// Metrics returns the lazily-initialised saga metrics registry.
func Metrics() *SagaMetrics {
	sagaMetricsOnce.Do(func() {
		sagaRegistry = &SagaMetrics{
			sagas: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "flapgate",
				Subsystem: "economy",
				Name:      "sagas_total",
				Help:      "Completed sagas segmented by kind and outcome code.",
			}, []string{"saga", "outcome"}),
			sagaLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "flapgate",
				Subsystem: "economy",
				Name:      "saga_duration_seconds",
				Help:      "End-to-end saga latency including ledger confirmation waits.",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			}, []string{"saga"}),
			paymentOrphans: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "flapgate",
				Subsystem: "economy",
				Name:      "payment_collected_reward_failed_total",
				Help:      "Sagas that collected payment but failed the reward step; requires out-of-band reconciliation.",
			}),
			queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "flapgate",
				Subsystem: "sequencer",
				Name:      "queue_depth",
				Help:      "Transactions waiting on the backend signer sequencer.",
			}),
			submitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "flapgate",
				Subsystem: "sequencer",
				Name:      "submit_duration_seconds",
				Help:      "Time from enqueue to acceptance by the ledger client.",
				Buckets:   prometheus.DefBuckets,
			}),
			ledgerCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "flapgate",
				Subsystem: "ledger",
				Name:      "call_duration_seconds",
				Help:      "Latency of ledger gateway calls segmented by method.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			sagaRegistry.sagas,
			sagaRegistry.sagaLatency,
			sagaRegistry.paymentOrphans,
			sagaRegistry.queueDepth,
			sagaRegistry.submitLatency,
			sagaRegistry.ledgerCalls,
		)
	})
	return sagaRegistry
}

// ObserveSaga records one finished saga.
func (m *SagaMetrics) ObserveSaga(saga, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.sagas.WithLabelValues(saga, outcome).Inc()
	m.sagaLatency.WithLabelValues(saga).Observe(took.Seconds())
}

// ObservePaymentOrphan counts a payment whose reward step failed.
func (m *SagaMetrics) ObservePaymentOrphan() {
	if m == nil {
		return
	}
	m.paymentOrphans.Inc()
}

// SetQueueDepth publishes the sequencer backlog.
func (m *SagaMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// ObserveSubmit records one sequenced submission.
func (m *SagaMetrics) ObserveSubmit(took time.Duration) {
	if m == nil {
		return
	}
	m.submitLatency.Observe(took.Seconds())
}

// ObserveLedgerCall records one gateway call.
func (m *SagaMetrics) ObserveLedgerCall(method string, took time.Duration) {
	if m == nil {
		return
	}
	m.ledgerCalls.WithLabelValues(method).Observe(took.Seconds())
}
