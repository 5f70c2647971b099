package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tsukuba-hpcs/gradsync/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	stepDuration     *prometheus.HistogramVec
	topologyChanges  *prometheus.CounterVec
	optimizerSteps   prometheus.Counter
	warmupSkips      prometheus.Counter
	broadcastLatency prometheus.Histogram
	allreduceLatency *prometheus.HistogramVec
	payloadBytes     *prometheus.HistogramVec
	asyncWaitLatency prometheus.Histogram
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer interface (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "gradsync" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "gradsync"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.stepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "trainer",
			Name:      "step_duration_seconds",
			Help:      "Wall time of one Update call by branch (broadcast/reduce).",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms .. ~8s
		}, []string{"path"})

		p.topologyChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "trainer",
			Name:      "topology_changes_total",
			Help:      "Structural parameter-set changes by kind (added/removed).",
		}, []string{"kind"})

		p.optimizerSteps = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "trainer",
			Name:      "optimizer_steps_total",
			Help:      "Total delegated local optimizer updates.",
		})

		p.warmupSkips = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "trainer",
			Name:      "warmup_skips_total",
			Help:      "Iterations where the double-buffered trainer had no valid stale gradients.",
		})

		p.broadcastLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "collective",
			Name:      "broadcast_duration_seconds",
			Help:      "Latency of blocking data broadcast rounds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		})

		p.allreduceLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "collective",
			Name:      "allreduce_duration_seconds",
			Help:      "Latency of gradient all-reduce rounds by mode (sync/async).",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"mode"})

		p.payloadBytes = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "collective",
			Name:      "payload_bytes",
			Help:      "Serialized collective payload sizes by operation.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 12), // 64B .. ~1GB
		}, []string{"op"})

		p.asyncWaitLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "collective",
			Name:      "async_wait_duration_seconds",
			Help:      "Time spent blocked on a previously issued asynchronous all-reduce.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		})

		p.reg.MustRegister(p.stepDuration)
		p.reg.MustRegister(p.topologyChanges)
		p.reg.MustRegister(p.optimizerSteps)
		p.reg.MustRegister(p.warmupSkips)
		p.reg.MustRegister(p.broadcastLatency)
		p.reg.MustRegister(p.allreduceLatency)
		p.reg.MustRegister(p.payloadBytes)
		p.reg.MustRegister(p.asyncWaitLatency)
	})
}

// TrainerMetrics implementation

// RecordStepDuration observes one Update call's wall time for the given branch.
func (p *PrometheusCollector) RecordStepDuration(seconds float64, path string) {
	p.ensureRegistered()
	p.stepDuration.WithLabelValues(path).Observe(seconds)
}

// RecordTopologyChange counts added/removed parameter names.
func (p *PrometheusCollector) RecordTopologyChange(added, removed int) {
	p.ensureRegistered()
	if added > 0 {
		p.topologyChanges.WithLabelValues("added").Add(float64(added))
	}
	if removed > 0 {
		p.topologyChanges.WithLabelValues("removed").Add(float64(removed))
	}
}

// RecordOptimizerStep counts one delegated optimizer update.
func (p *PrometheusCollector) RecordOptimizerStep() {
	p.ensureRegistered()
	p.optimizerSteps.Inc()
}

// RecordWarmupSkip counts one skipped warm-up iteration.
func (p *PrometheusCollector) RecordWarmupSkip() {
	p.ensureRegistered()
	p.warmupSkips.Inc()
}

// CollectiveMetrics implementation

// RecordBroadcastDuration observes a blocking broadcast round.
func (p *PrometheusCollector) RecordBroadcastDuration(seconds float64) {
	p.ensureRegistered()
	p.broadcastLatency.Observe(seconds)
}

// RecordAllReduceDuration observes an all-reduce round.
func (p *PrometheusCollector) RecordAllReduceDuration(seconds float64, async bool) {
	p.ensureRegistered()
	mode := "sync"
	if async {
		mode = "async"
	}
	p.allreduceLatency.WithLabelValues(mode).Observe(seconds)
}

// RecordCollectivePayload observes a serialized payload size.
func (p *PrometheusCollector) RecordCollectivePayload(op string, bytes int) {
	p.ensureRegistered()
	p.payloadBytes.WithLabelValues(op).Observe(float64(bytes))
}

// RecordAsyncWait observes time spent blocked on a pending async collective.
func (p *PrometheusCollector) RecordAsyncWait(seconds float64) {
	p.ensureRegistered()
	p.asyncWaitLatency.Observe(seconds)
}
