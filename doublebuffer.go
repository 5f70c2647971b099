package gradsync

import (
	"context"
	"fmt"
	"time"

	"github.com/tsukuba-hpcs/gradsync/params"
	"github.com/tsukuba-hpcs/gradsync/types"
)

// DoubleBufferedTrainer overlaps gradient communication with computation.
//
// It keeps a deep copy of the parameter set taken at the last broadcast
// (the "communicated" set) and double-buffers gradient ownership between
// that copy and the live set: each steady-state Update swaps the gradient
// buffers, issues an asynchronous all-reduce on the communicated set's
// (now current) gradients, and applies the local optimizer step using the
// live set's gradients, which finished their all-reduce during the previous
// iteration. The optimizer therefore always consumes gradients that are
// exactly one iteration stale; this is a deliberate accuracy/latency
// trade-off, not a defect.
//
// At most one asynchronous all-reduce is outstanding at any time. Every
// branch of Update waits for the previous one before touching gradient
// buffers.
//
// Known consistency gap: because the optimizer step lags the all-reduce by
// one iteration, an async failure surfaced at a wait point means the
// pending reduction result was never applied. The previous parameter state
// is the last one confirmed consistent across workers; no recovery protocol
// is attempted.
//
// Update is not safe for concurrent use.
type DoubleBufferedTrainer struct {
	cfg     Config
	comm    types.Communicator
	opt     types.Optimizer
	engine  types.GradientEngine
	logger  types.Logger
	metrics types.MetricsCollector
	hooks   types.Hooks

	detector changeDetector
	counters counters

	// communicated is the deep copy taken at the last broadcast round.
	// Nil until the first Update.
	communicated *params.Set

	// pending is the in-flight async all-reduce, if any. Its target is
	// always the communicated set; the live set is free for compute.
	pending types.AsyncOp

	// needsUpdate is true once the live set holds valid already-reduced
	// gradients for the optimizer to consume.
	needsUpdate bool
}

// NewDoubleBuffered creates a double-buffered trainer wrapping the given
// communicator and local optimizer.
//
// Parameters:
//   - cfg: Trainer configuration (nil selects defaults)
//   - comm: Collective communication fabric; must support asynchronous
//     all-reduce dispatch
//   - opt: Local optimizer, already bound to its target set
//   - opts: Optional dependencies (logger, metrics, hooks, engine)
//
// Returns:
//   - *DoubleBufferedTrainer: Initialized trainer
//   - error: ErrCommunicatorRequired, ErrOptimizerRequired, ErrNoTarget, or
//     a config validation error
func NewDoubleBuffered(cfg *Config, comm types.Communicator, opt types.Optimizer, opts ...Option) (*DoubleBufferedTrainer, error) {
	cfg, deps, err := buildTrainer(cfg, comm, opt, opts)
	if err != nil {
		return nil, err
	}

	return &DoubleBufferedTrainer{
		cfg:     *cfg,
		comm:    comm,
		opt:     opt,
		engine:  deps.engine,
		logger:  deps.logger,
		metrics: deps.metrics,
		hooks:   deps.hooks,
	}, nil
}

// Update performs one training step with communication/compute overlap.
//
// The gradient-computation prologue matches Trainer.Update. Afterwards the
// structural change detector compares the live set against the shape of the
// communicated copy:
//
// Changed (first call, or topology changed): wait for any in-flight
// all-reduce, broadcast full data from rank 0, deep-copy the synchronized
// set as the new communicated copy, and clear the warm-up flag. No
// optimizer step runs on this path.
//
// Unchanged: wait for the in-flight all-reduce, swap gradient ownership
// between live and communicated sets (zero copy), dispatch an asynchronous
// all-reduce on the communicated set, and, if the live set now holds valid
// stale gradients, run the optimizer step. The first unchanged call after
// a broadcast has no stale gradients yet and skips the step (warm-up).
//
// Parameters:
//   - ctx: Context for cancellation (collectives additionally honor
//     Config.CollectiveTimeout)
//   - lossFn: Loss evaluation callback, or nil to reuse current gradients
//
// Returns:
//   - error: First fatal error of the step, or nil
func (t *DoubleBufferedTrainer) Update(ctx context.Context, lossFn types.LossFunc) error {
	start := time.Now()
	set := t.opt.Target()

	lossVal, err := computeGradients(ctx, t.engine, set, lossFn)
	if err != nil {
		return t.fail(err)
	}

	changed, added, removed := t.detector.refresh(set)

	var path string
	// The communicated copy only exists after a successful broadcast; the
	// swap path has nothing to exchange without it, so a failed resync is
	// retried before any reduction can run.
	if changed || t.communicated == nil {
		path = "broadcast"
		if err := t.resync(ctx, set, added, removed); err != nil {
			t.detector.reset()
			return t.fail(err)
		}
	} else {
		path = "reduce"
		if err := t.overlapStep(ctx, set); err != nil {
			return t.fail(err)
		}
	}

	step := t.counters.steps.Add(1)
	t.metrics.RecordStepDuration(time.Since(start).Seconds(), path)
	fireStepCompleted(t.hooks, t.logger, step, lossVal)

	return nil
}

// resync handles the structural-change branch: drain the pipeline, then
// broadcast and re-snapshot.
func (t *DoubleBufferedTrainer) resync(ctx context.Context, set *params.Set, added, removed []string) error {
	if err := t.waitPending(ctx); err != nil {
		return err
	}

	bctx, cancel := t.cfg.collectiveContext(ctx)
	defer cancel()

	if err := t.comm.BroadcastData(bctx, set); err != nil {
		return fmt.Errorf("broadcast round failed: %w", err)
	}

	// Deep copy only here, at the rare topology boundary. The hot path
	// below transfers ownership by swapping and never copies buffers.
	t.communicated = set.DeepCopy()
	t.needsUpdate = false

	t.counters.broadcasts.Add(1)
	t.metrics.RecordTopologyChange(len(added), len(removed))
	t.logger.Info("parameter topology synchronized",
		"rank", t.comm.Rank(),
		"added", len(added),
		"removed", len(removed),
		"fingerprint", t.detector.fingerprint(),
	)
	fireTopologyChanged(t.hooks, t.logger, added, removed)

	return nil
}

// overlapStep handles the steady-state branch: swap, async dispatch, stale
// optimizer step.
func (t *DoubleBufferedTrainer) overlapStep(ctx context.Context, set *params.Set) error {
	if err := t.waitPending(ctx); err != nil {
		return err
	}

	// After the swap the communicated set holds this iteration's fresh
	// gradients and the live set holds the previous round's reduced ones
	// (or none, right after a broadcast).
	if err := params.SwapGradients(set, t.communicated); err != nil {
		return fmt.Errorf("gradient buffer swap failed: %w", err)
	}

	op, err := t.comm.AllReduceGradAsync(ctx, t.communicated)
	if err != nil {
		return fmt.Errorf("async all-reduce dispatch failed: %w", err)
	}
	t.pending = op
	t.counters.reductions.Add(1)

	if !t.needsUpdate {
		// Warm-up: the live set has no reduced gradients yet.
		t.needsUpdate = true
		t.counters.skippedUpdates.Add(1)
		t.metrics.RecordWarmupSkip()
		t.logger.Debug("skipping optimizer step during warm-up", "rank", t.comm.Rank())

		return nil
	}

	if err := t.opt.Step(); err != nil {
		return fmt.Errorf("optimizer step failed: %w", err)
	}
	t.counters.optimizerSteps.Add(1)
	t.metrics.RecordOptimizerStep()

	return nil
}

// waitPending blocks until the in-flight async all-reduce, if any,
// completes. A failed operation is fatal and clears the pipeline.
func (t *DoubleBufferedTrainer) waitPending(ctx context.Context) error {
	if t.pending == nil {
		return nil
	}

	op := t.pending
	t.pending = nil

	wctx, cancel := t.cfg.collectiveContext(ctx)
	defer cancel()

	start := time.Now()
	err := op.Wait(wctx)
	t.metrics.RecordAsyncWait(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("previous all-reduce round failed: %w", err)
	}

	return nil
}

// Sync drains the communication pipeline, blocking until any outstanding
// asynchronous all-reduce completes.
//
// Call it before reading final parameter values at the end of training, or
// before handing the parameter set to code outside the trainer.
//
// Parameters:
//   - ctx: Context for cancellation
//
// Returns:
//   - error: Failure of the outstanding operation, or nil
func (t *DoubleBufferedTrainer) Sync(ctx context.Context) error {
	if err := t.waitPending(ctx); err != nil {
		return t.fail(err)
	}

	return nil
}

// fail reports a fatal step error through the error hook and returns it.
func (t *DoubleBufferedTrainer) fail(err error) error {
	fireError(t.hooks, t.logger, err)
	return err
}

// Optimizer returns the wrapped local optimizer, for access to
// optimizer-specific configuration.
func (t *DoubleBufferedTrainer) Optimizer() types.Optimizer {
	return t.opt
}

// Stats returns a copy of the trainer's operation counters.
func (t *DoubleBufferedTrainer) Stats() Stats {
	return t.counters.snapshot()
}
