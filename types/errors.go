package types

import "errors"

// Sentinel errors for the gradsync library.
//
// These errors provide type-safe error checking using errors.Is() and errors.As().
// All components should use these sentinel errors for known error conditions
// and wrap external errors with context using fmt.Errorf("%s: %w", msg, err).
//
// Error Naming Convention:
//   - Use descriptive names with Err prefix
//   - Group by component (Trainer, Communicator, etc.)
//   - Use consistent messages across similar error types

// Trainer errors - Public API errors returned by the trainer coordinators.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrCommunicatorRequired is returned when the communicator is nil.
	ErrCommunicatorRequired = errors.New("communicator is required")

	// ErrOptimizerRequired is returned when the local optimizer is nil.
	ErrOptimizerRequired = errors.New("local optimizer is required")

	// ErrNoTarget is returned when the wrapped optimizer has no target
	// parameter set (Setup was never called).
	ErrNoTarget = errors.New("optimizer has no target parameter set")
)

// Communicator errors - Failures surfaced by collective operations.
//
// Communication errors are fatal for the training step that observes them.
// The coordinators never retry a failed collective; retry and backoff, if
// any, belong inside the communicator implementation.
var (
	// ErrCommunication wraps any transport-level collective failure.
	ErrCommunication = errors.New("collective communication failed")

	// ErrAsyncPending is returned when a new asynchronous collective is
	// requested while a previous one is still in flight.
	ErrAsyncPending = errors.New("asynchronous collective already in flight")

	// ErrNoAvailableRank is returned when every rank in the world is
	// already claimed by another worker.
	ErrNoAvailableRank = errors.New("no available rank in world")

	// ErrNotJoined is returned when collective operations are invoked on a
	// communicator that has not joined its world.
	ErrNotJoined = errors.New("communicator has not joined the world")

	// ErrClosed is returned when operations are invoked on a closed
	// communicator.
	ErrClosed = errors.New("communicator closed")
)
