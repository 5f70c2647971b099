package gradsync

import "sync/atomic"

// Stats is a point-in-time copy of a trainer's operation counters.
//
// Counters are purely observational; they replace the ambient profiling
// globals a training script would otherwise keep.
type Stats struct {
	// Steps is the number of completed Update calls.
	Steps uint64

	// Broadcasts is the number of rounds that took the broadcast path.
	Broadcasts uint64

	// Reductions is the number of all-reduce rounds (blocking or async).
	Reductions uint64

	// OptimizerSteps is the number of delegated local optimizer updates.
	OptimizerSteps uint64

	// SkippedUpdates is the number of warm-up iterations where the
	// double-buffered trainer had no valid stale gradients to apply.
	SkippedUpdates uint64
}

// counters holds the live atomic counters behind Stats.
//
// Update itself is single-threaded per trainer, but Stats() may be called
// from monitoring goroutines at any time.
type counters struct {
	steps          atomic.Uint64
	broadcasts     atomic.Uint64
	reductions     atomic.Uint64
	optimizerSteps atomic.Uint64
	skippedUpdates atomic.Uint64
}

// snapshot copies the counters into a Stats value.
func (c *counters) snapshot() Stats {
	return Stats{
		Steps:          c.steps.Load(),
		Broadcasts:     c.broadcasts.Load(),
		Reductions:     c.reductions.Load(),
		OptimizerSteps: c.optimizerSteps.Load(),
		SkippedUpdates: c.skippedUpdates.Load(),
	}
}
