package types

import (
	"context"

	"github.com/tsukuba-hpcs/gradsync/params"
)

// Communicator provides the collective operations a trainer coordinates
// over: data broadcast and gradient all-reduce across a fixed-size world of
// workers.
//
// Collective operations are global ordering barriers: no worker proceeds
// past a blocking collective until every worker has issued the matching
// call. Every worker must therefore issue the same sequence of collectives,
// or the world deadlocks until the context expires.
//
// Implementations surface transport failures wrapped with ErrCommunication.
// They may retry internally; callers never do.
type Communicator interface {
	// Rank returns this worker's rank in [0, Size()).
	// Rank 0 is the broadcast root.
	Rank() int

	// Size returns the world size (number of participating workers).
	Size() int

	// BroadcastData pushes the full parameter data (not gradients) from
	// the root worker to all other workers, overwriting their local data
	// buffers in place. Blocks until the round completes on this worker.
	BroadcastData(ctx context.Context, set *params.Set) error

	// AllReduceGrad averages the gradient buffers of the set across all
	// workers, in place, blocking until the round completes.
	AllReduceGrad(ctx context.Context, set *params.Set) error

	// AllReduceGradAsync starts an all-reduce of the set's gradients and
	// returns immediately. The returned operation must be waited on before
	// the set's gradients are read or the next collective is issued.
	//
	// At most one asynchronous operation may be in flight per communicator;
	// a second dispatch returns ErrAsyncPending.
	AllReduceGradAsync(ctx context.Context, set *params.Set) (AsyncOp, error)
}

// AsyncOp is a handle to an in-flight asynchronous collective operation.
type AsyncOp interface {
	// Wait blocks until the operation completes or the context expires.
	// It returns the operation's error, wrapped with ErrCommunication on
	// transport failure. Wait is idempotent: repeated calls return the
	// same result.
	Wait(ctx context.Context) error

	// Done returns a channel that is closed when the operation finishes.
	Done() <-chan struct{}
}

// LossFunc evaluates the model's forward pass and returns a scalar loss.
//
// How gradients get populated depends on the GradientEngine driving the
// call: a manual engine expects the closure itself to fill gradient buffers,
// while a numeric engine re-evaluates the closure at perturbed parameters.
type LossFunc func(ctx context.Context) (float64, error)

// GradientEngine computes gradients for a parameter set from a loss
// function. It stands in for an external autodiff engine.
type GradientEngine interface {
	// ClearGradients releases the gradient buffers of every parameter.
	ClearGradients(set *params.Set)

	// Compute runs the forward pass via loss and populates the gradient
	// buffers of set. Returns the loss value. On error, gradients are
	// unspecified and the caller must not communicate them.
	Compute(ctx context.Context, set *params.Set, loss LossFunc) (float64, error)
}

// Optimizer applies a local (single-node) parameter update rule.
//
// The trainer coordinators wrap an Optimizer and decide when Step may run;
// optimizer-specific configuration stays on the concrete implementation and
// is reachable through the coordinator's Optimizer() accessor.
type Optimizer interface {
	// Setup binds the optimizer to its target parameter set and allocates
	// any per-parameter state (momentum slots and the like).
	Setup(set *params.Set) error

	// Step performs a single update of the target parameters using the
	// gradients currently held in their gradient buffers. Parameters
	// without a gradient are skipped.
	Step() error

	// Target returns the parameter set this optimizer updates, or nil if
	// Setup has not been called.
	Target() *params.Set
}
