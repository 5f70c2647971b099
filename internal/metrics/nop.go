// Package metrics provides types.MetricsCollector implementations: a no-op
// default and a Prometheus-backed collector.
package metrics

import "github.com/tsukuba-hpcs/gradsync/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Returns:
//   - *NopMetrics: A new no-op metrics collector instance
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// TrainerMetrics implementation

// RecordStepDuration discards the step duration metric.
func (n *NopMetrics) RecordStepDuration(_ /* seconds */ float64, _ /* path */ string) {
	// No-op
}

// RecordTopologyChange discards the topology change metric.
func (n *NopMetrics) RecordTopologyChange(_ /* added */, _ /* removed */ int) {
	// No-op
}

// RecordOptimizerStep discards the optimizer step counter.
func (n *NopMetrics) RecordOptimizerStep() {
	// No-op
}

// RecordWarmupSkip discards the warm-up skip counter.
func (n *NopMetrics) RecordWarmupSkip() {
	// No-op
}

// CollectiveMetrics implementation

// RecordBroadcastDuration discards the broadcast duration metric.
func (n *NopMetrics) RecordBroadcastDuration(_ /* seconds */ float64) {
	// No-op
}

// RecordAllReduceDuration discards the all-reduce duration metric.
func (n *NopMetrics) RecordAllReduceDuration(_ /* seconds */ float64, _ /* async */ bool) {
	// No-op
}

// RecordCollectivePayload discards the payload size metric.
func (n *NopMetrics) RecordCollectivePayload(_ /* op */ string, _ /* bytes */ int) {
	// No-op
}

// RecordAsyncWait discards the async wait duration metric.
func (n *NopMetrics) RecordAsyncWait(_ /* seconds */ float64) {
	// No-op
}
