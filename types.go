package gradsync

import (
	"github.com/tsukuba-hpcs/gradsync/params"
	"github.com/tsukuba-hpcs/gradsync/types"
)

// Re-export core data-model types from the params package.
//
// This file provides a convenient public surface for the library's core
// types and interfaces using type aliases. Internal packages depend on the
// `types` and `params` subpackages, never on the root package, which keeps
// import cycles out while users can still write gradsync.Communicator,
// gradsync.Parameter, etc.
type (
	Parameter     = params.Parameter
	ParameterSet  = params.Set
	Snapshot      = params.Snapshot
	SnapshotEntry = params.SnapshotEntry
)

// Re-export collaborator interfaces from the types package.
type (
	Communicator     = types.Communicator
	AsyncOp          = types.AsyncOp
	LossFunc         = types.LossFunc
	GradientEngine   = types.GradientEngine
	Optimizer        = types.Optimizer
	MetricsCollector = types.MetricsCollector
	Logger           = types.Logger
	Hooks            = types.Hooks
)

// NewParameterSet creates an empty parameter set.
//
// Returns:
//   - *ParameterSet: Empty set ready for Add calls
func NewParameterSet() *ParameterSet {
	return params.NewSet()
}
