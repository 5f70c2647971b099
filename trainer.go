package gradsync

import (
	"context"
	"fmt"
	"time"

	"github.com/tsukuba-hpcs/gradsync/params"
	"github.com/tsukuba-hpcs/gradsync/types"
)

// Trainer is the synchronous coordinator: every Update call blocks on its
// communication step before returning.
//
// Control flow per Update:
//
//	compute loss + gradients → detect structural change →
//	  changed:   broadcast full data from rank 0
//	  unchanged: all-reduce gradients, then local optimizer step
//
// Update is not safe for concurrent use; the trainer borrows the
// optimizer's target parameter set exclusively for the duration of a call.
type Trainer struct {
	cfg     Config
	comm    types.Communicator
	opt     types.Optimizer
	engine  types.GradientEngine
	logger  types.Logger
	metrics types.MetricsCollector
	hooks   types.Hooks

	detector changeDetector
	counters counters
}

// New creates a synchronous trainer wrapping the given communicator and
// local optimizer.
//
// The optimizer must already be set up with its target parameter set; the
// trainer borrows that set on every Update call.
//
// Parameters:
//   - cfg: Trainer configuration (nil selects defaults)
//   - comm: Collective communication fabric
//   - opt: Local optimizer, already bound to its target set
//   - opts: Optional dependencies (logger, metrics, hooks, engine)
//
// Returns:
//   - *Trainer: Initialized trainer
//   - error: ErrCommunicatorRequired, ErrOptimizerRequired, ErrNoTarget, or
//     a config validation error
func New(cfg *Config, comm types.Communicator, opt types.Optimizer, opts ...Option) (*Trainer, error) {
	cfg, deps, err := buildTrainer(cfg, comm, opt, opts)
	if err != nil {
		return nil, err
	}

	return &Trainer{
		cfg:     *cfg,
		comm:    comm,
		opt:     opt,
		engine:  deps.engine,
		logger:  deps.logger,
		metrics: deps.metrics,
		hooks:   deps.hooks,
	}, nil
}

// buildTrainer validates the shared constructor arguments for both trainer
// variants and resolves optional dependencies.
func buildTrainer(cfg *Config, comm types.Communicator, opt types.Optimizer, opts []Option) (*Config, *trainerOptions, error) {
	if comm == nil {
		return nil, nil, types.ErrCommunicatorRequired
	}
	if opt == nil {
		return nil, nil, types.ErrOptimizerRequired
	}
	if opt.Target() == nil {
		return nil, nil, types.ErrNoTarget
	}

	if cfg == nil {
		cfg = &Config{}
	}
	cfg.SetDefaults()

	deps := defaultTrainerOptions()
	for _, o := range opts {
		o(&deps)
	}

	if err := cfg.ValidateWithWarnings(deps.logger); err != nil {
		return nil, nil, err
	}

	return cfg, &deps, nil
}

// Update performs one training step.
//
// When lossFn is non-nil, existing gradients are cleared and the gradient
// engine runs the forward/backward pass; an engine error propagates before
// any communication is attempted. When lossFn is nil, the gradients already
// present in the target set are used as-is.
//
// A structural change (first call, parameter added/removed, data buffer
// newly allocated) triggers a blocking broadcast of full parameter data
// from rank 0, overwriting local data on every other worker. Otherwise
// gradients are all-reduced in place across the world and the wrapped
// optimizer performs one local step.
//
// Every worker in the world must call Update in lockstep: collectives are
// global barriers, and a worker that skips a round stalls the others until
// the collective timeout expires. Communication failures are fatal for the
// step and are never retried here.
//
// Parameters:
//   - ctx: Context for cancellation (collectives additionally honor
//     Config.CollectiveTimeout)
//   - lossFn: Loss evaluation callback, or nil to reuse current gradients
//
// Returns:
//   - error: First fatal error of the step, or nil
func (t *Trainer) Update(ctx context.Context, lossFn types.LossFunc) error {
	start := time.Now()
	set := t.opt.Target()

	lossVal, err := computeGradients(ctx, t.engine, set, lossFn)
	if err != nil {
		return t.fail(err)
	}

	changed, added, removed := t.detector.refresh(set)

	var path string
	if changed {
		path = "broadcast"
		if err := t.broadcast(ctx, added, removed); err != nil {
			// The snapshot was refreshed but the world never synchronized
			// to it; force the broadcast path again on the next step.
			t.detector.reset()
			return t.fail(err)
		}
	} else {
		path = "reduce"
		if err := t.reduceAndStep(ctx); err != nil {
			return t.fail(err)
		}
	}

	step := t.counters.steps.Add(1)
	t.metrics.RecordStepDuration(time.Since(start).Seconds(), path)
	fireStepCompleted(t.hooks, t.logger, step, lossVal)

	return nil
}

// broadcast runs the structural-change branch: a blocking root-to-all data
// broadcast.
func (t *Trainer) broadcast(ctx context.Context, added, removed []string) error {
	bctx, cancel := t.cfg.collectiveContext(ctx)
	defer cancel()

	// Collective durations and payload sizes are the communicator's
	// metrics; the trainer records only coordination-level events.
	if err := t.comm.BroadcastData(bctx, t.opt.Target()); err != nil {
		return fmt.Errorf("broadcast round failed: %w", err)
	}

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

// reduceAndStep runs the steady-state branch: blocking all-reduce of
// gradients followed by one local optimizer step.
func (t *Trainer) reduceAndStep(ctx context.Context) error {
	rctx, cancel := t.cfg.collectiveContext(ctx)
	defer cancel()

	if err := t.comm.AllReduceGrad(rctx, t.opt.Target()); err != nil {
		return fmt.Errorf("all-reduce round failed: %w", err)
	}
	t.counters.reductions.Add(1)

	if err := t.opt.Step(); err != nil {
		return fmt.Errorf("optimizer step failed: %w", err)
	}
	t.counters.optimizerSteps.Add(1)
	t.metrics.RecordOptimizerStep()

	return nil
}

// fail reports a fatal step error through the error hook and returns it.
func (t *Trainer) fail(err error) error {
	fireError(t.hooks, t.logger, err)
	return err
}

// Optimizer returns the wrapped local optimizer, for access to
// optimizer-specific configuration.
func (t *Trainer) Optimizer() types.Optimizer {
	return t.opt
}

// Stats returns a copy of the trainer's operation counters.
func (t *Trainer) Stats() Stats {
	return t.counters.snapshot()
}

// computeGradients runs the gradient-computation prologue shared by both
// trainer variants. With a nil lossFn the current gradients are kept and a
// zero loss is reported.
func computeGradients(ctx context.Context, eng types.GradientEngine, set *params.Set, lossFn types.LossFunc) (float64, error) {
	if lossFn == nil {
		return 0, nil
	}

	eng.ClearGradients(set)
	lossVal, err := eng.Compute(ctx, set, lossFn)
	if err != nil {
		return 0, fmt.Errorf("gradient computation failed: %w", err)
	}

	return lossVal, nil
}
