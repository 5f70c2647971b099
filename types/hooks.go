package types

import "context"

// Hooks defines callbacks for trainer lifecycle events.
//
// All hooks are optional and called asynchronously in background goroutines
// to avoid blocking the training step. Hook errors are logged but never fail
// the step.
//
// Best practices for hook implementation:
//   - Complete quickly (< 1 second recommended)
//   - Respect context cancellation
//   - Don't block on long I/O operations
//   - Handle errors gracefully (return error for logging)
type Hooks struct {
	// OnTopologyChanged is called after a structural change was detected
	// and resolved with a broadcast round. added and removed list the
	// parameter names that appeared or disappeared since the previous
	// snapshot; both are empty on the very first round.
	OnTopologyChanged func(ctx context.Context, added, removed []string) error

	// OnStepCompleted is called after every successful Update call.
	// loss is zero when Update ran without a loss function.
	OnStepCompleted func(ctx context.Context, step uint64, loss float64) error

	// OnError is called when a fatal step error occurs, before it is
	// returned to the caller.
	OnError func(ctx context.Context, err error) error
}
