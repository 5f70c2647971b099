package gradsync

import (
	"github.com/tsukuba-hpcs/gradsync/params"
	"github.com/tsukuba-hpcs/gradsync/types"
)

// Re-export sentinel errors for errors.Is checks against the root package.
var (
	// ErrInvalidConfig is returned when the trainer configuration is invalid.
	ErrInvalidConfig = types.ErrInvalidConfig

	// ErrCommunicatorRequired is returned when New is called with a nil
	// communicator.
	ErrCommunicatorRequired = types.ErrCommunicatorRequired

	// ErrOptimizerRequired is returned when New is called with a nil
	// optimizer.
	ErrOptimizerRequired = types.ErrOptimizerRequired

	// ErrNoTarget is returned when the wrapped optimizer has no target
	// parameter set.
	ErrNoTarget = types.ErrNoTarget

	// ErrCommunication wraps any collective transport failure.
	ErrCommunication = types.ErrCommunication

	// ErrAsyncPending is returned when a second asynchronous collective is
	// dispatched while one is already in flight.
	ErrAsyncPending = types.ErrAsyncPending

	// ErrStructuralMismatch is returned when a gradient swap is attempted
	// between two parameter sets whose sorted name sequences differ.
	ErrStructuralMismatch = params.ErrStructuralMismatch
)
