package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods may be called from internal goroutines and must be thread-safe.
//
// This interface composes smaller, domain-focused interfaces for better modularity.
type MetricsCollector interface {
	TrainerMetrics
	CollectiveMetrics
}

// TrainerMetrics defines metrics for trainer-level operations.
type TrainerMetrics interface {
	// RecordStepDuration records the wall time of one Update call.
	//
	// Parameters:
	//   - seconds: Time taken in seconds
	//   - path: Which branch the step took ("broadcast" or "reduce")
	RecordStepDuration(seconds float64, path string)

	// RecordTopologyChange records a detected structural change.
	//
	// Parameters:
	//   - added: Number of parameter names that appeared (0 if none)
	//   - removed: Number of parameter names that disappeared (0 if none)
	RecordTopologyChange(added, removed int)

	// RecordOptimizerStep records one delegated local optimizer update.
	RecordOptimizerStep()

	// RecordWarmupSkip records an iteration where the double-buffered
	// trainer skipped the optimizer update because no valid stale
	// gradients existed yet.
	RecordWarmupSkip()
}

// CollectiveMetrics defines metrics for collective communication operations.
type CollectiveMetrics interface {
	// RecordBroadcastDuration records a blocking broadcast round.
	RecordBroadcastDuration(seconds float64)

	// RecordAllReduceDuration records an all-reduce round.
	//
	// Parameters:
	//   - seconds: Time taken in seconds (dispatch-to-completion for async)
	//   - async: true for asynchronous dispatch, false for blocking
	RecordAllReduceDuration(seconds float64, async bool)

	// RecordCollectivePayload records the payload size of a collective.
	//
	// Parameters:
	//   - op: Operation kind ("broadcast", "allreduce")
	//   - bytes: Serialized payload size in bytes
	RecordCollectivePayload(op string, bytes int)

	// RecordAsyncWait records time spent blocked waiting for a previously
	// issued asynchronous collective at the top of an update.
	RecordAsyncWait(seconds float64)
}
