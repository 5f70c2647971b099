package optimizer

import (
	"errors"
	"fmt"

	"github.com/tsukuba-hpcs/gradsync/params"
	"github.com/tsukuba-hpcs/gradsync/types"
)

// Momentum implements SGD with classical momentum.
//
// Velocity slots are allocated lazily per parameter on first use, so
// parameters that materialize after Setup (lazy model initialization) get
// their slot the first time they carry a gradient.
type Momentum struct {
	lr       float64
	momentum float64
	target   *params.Set
	velocity map[string][]float64
}

var _ types.Optimizer = (*Momentum)(nil)

// NewMomentum creates a new momentum optimizer.
//
// The update rule per element is:
//
//	v = momentum * v - lr * grad
//	param += v
//
// Parameters:
//   - lr: Learning rate (must be positive)
//   - momentum: Momentum coefficient in [0, 1)
//
// Returns:
//   - *Momentum: Initialized optimizer
//   - error: Validation error for out-of-range arguments
func NewMomentum(lr, momentum float64) (*Momentum, error) {
	if lr <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", lr)
	}
	if momentum < 0 || momentum >= 1 {
		return nil, fmt.Errorf("momentum must be in [0, 1), got %g", momentum)
	}

	return &Momentum{lr: lr, momentum: momentum}, nil
}

// Setup binds the optimizer to its target parameter set and resets all
// velocity slots.
func (m *Momentum) Setup(set *params.Set) error {
	if set == nil {
		return errors.New("target parameter set is required")
	}
	m.target = set
	m.velocity = make(map[string][]float64, set.Len())

	return nil
}

// Target returns the bound parameter set, or nil before Setup.
func (m *Momentum) Target() *params.Set {
	return m.target
}

// Step applies one momentum update to every parameter holding a gradient.
func (m *Momentum) Step() error {
	if m.target == nil {
		return types.ErrNoTarget
	}

	var stepErr error
	m.target.Each(func(p *params.Parameter) {
		if stepErr != nil || !p.HasData() || !p.HasGrad() {
			return
		}
		if len(p.Grad) != len(p.Data) {
			stepErr = fmt.Errorf("gradient size mismatch for %q: data %d, grad %d",
				p.Name, len(p.Data), len(p.Grad))

			return
		}

		v := m.velocity[p.Name]
		if len(v) != len(p.Data) {
			v = make([]float64, len(p.Data))
			m.velocity[p.Name] = v
		}
		for i, g := range p.Grad {
			v[i] = m.momentum*v[i] - m.lr*g
			p.Data[i] += v[i]
		}
	})

	return stepErr
}
