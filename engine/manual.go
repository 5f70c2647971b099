package engine

import (
	"context"

	"github.com/tsukuba-hpcs/gradsync/params"
	"github.com/tsukuba-hpcs/gradsync/types"
)

// Manual is a gradient engine that expects the loss closure to populate
// gradient buffers itself.
//
// This is the default engine: the closure performs the forward pass,
// computes whatever backward pass the caller's model implements, writes the
// results into each parameter's Grad buffer, and returns the loss. The
// engine only clears stale gradients beforehand and propagates errors.
type Manual struct{}

var _ types.GradientEngine = (*Manual)(nil)

// NewManual creates a new manual gradient engine.
//
// Returns:
//   - *Manual: Initialized engine
func NewManual() *Manual {
	return &Manual{}
}

// ClearGradients releases every gradient buffer in the set.
func (m *Manual) ClearGradients(set *params.Set) {
	set.ClearGradients()
}

// Compute invokes the loss closure and returns its loss.
//
// On error, the closure's partial gradient writes are left in place but the
// caller must treat them as invalid and never communicate them.
func (m *Manual) Compute(ctx context.Context, _ *params.Set, loss types.LossFunc) (float64, error) {
	return loss(ctx)
}
