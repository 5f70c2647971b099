package engine

import (
	"context"
	"fmt"

	"github.com/tsukuba-hpcs/gradsync/params"
	"github.com/tsukuba-hpcs/gradsync/types"
)

// defaultEpsilon is the perturbation used for central differences.
const defaultEpsilon = 1e-6

// FiniteDifference approximates gradients numerically with central
// differences.
//
// For every element x of every allocated parameter, the loss closure is
// evaluated at x+eps and x-eps:
//
//	grad(x) ≈ (loss(x+eps) - loss(x-eps)) / (2*eps)
//
// Cost is two loss evaluations per parameter element, so this only suits
// small models, smoke tests, and validating a hand-written backward pass.
type FiniteDifference struct {
	eps float64
}

var _ types.GradientEngine = (*FiniteDifference)(nil)

// NewFiniteDifference creates a central-difference gradient engine.
//
// Parameters:
//   - eps: Perturbation step (defaults to 1e-6 when <= 0)
//
// Returns:
//   - *FiniteDifference: Initialized engine
func NewFiniteDifference(eps float64) *FiniteDifference {
	if eps <= 0 {
		eps = defaultEpsilon
	}

	return &FiniteDifference{eps: eps}
}

// ClearGradients releases every gradient buffer in the set.
func (f *FiniteDifference) ClearGradients(set *params.Set) {
	set.ClearGradients()
}

// Compute evaluates the loss once at the current parameters (the returned
// loss) and fills every allocated parameter's gradient buffer by central
// differences. Parameters without data are skipped.
func (f *FiniteDifference) Compute(ctx context.Context, set *params.Set, loss types.LossFunc) (float64, error) {
	base, err := loss(ctx)
	if err != nil {
		return 0, err
	}

	names := set.Names()
	for _, name := range names {
		p := set.Get(name)
		if !p.HasData() {
			continue
		}

		grad := p.AllocGrad()
		for i := range p.Data {
			if err := ctx.Err(); err != nil {
				return 0, fmt.Errorf("gradient computation cancelled at %q[%d]: %w", name, i, err)
			}

			orig := p.Data[i]

			p.Data[i] = orig + f.eps
			plus, err := loss(ctx)
			if err != nil {
				p.Data[i] = orig
				return 0, err
			}

			p.Data[i] = orig - f.eps
			minus, err := loss(ctx)
			p.Data[i] = orig
			if err != nil {
				return 0, err
			}

			grad[i] = (plus - minus) / (2 * f.eps)
		}
	}

	return base, nil
}
