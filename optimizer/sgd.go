package optimizer

import (
	"errors"
	"fmt"

	"github.com/tsukuba-hpcs/gradsync/params"
	"github.com/tsukuba-hpcs/gradsync/types"
)

// SGD implements stochastic gradient descent with optional weight decay.
type SGD struct {
	lr          float64
	weightDecay float64
	target      *params.Set
}

var _ types.Optimizer = (*SGD)(nil)

// NewSGD creates a new SGD optimizer.
//
// The update rule per element is:
//
//	param -= lr * (grad + weightDecay * param)
//
// Parameters:
//   - lr: Learning rate (must be positive)
//
// Returns:
//   - *SGD: Initialized optimizer
//   - error: Validation error for a non-positive learning rate
//
// Example:
//
//	opt, err := optimizer.NewSGD(0.01)
//	if err != nil { /* handle */ }
//	trainer, err := gradsync.New(&cfg, communicator, opt)
func NewSGD(lr float64) (*SGD, error) {
	if lr <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", lr)
	}

	return &SGD{lr: lr}, nil
}

// SetWeightDecay sets the L2 regularization coefficient (0 disables it).
func (s *SGD) SetWeightDecay(wd float64) {
	s.weightDecay = wd
}

// LearningRate returns the configured learning rate.
func (s *SGD) LearningRate() float64 {
	return s.lr
}

// Setup binds the optimizer to its target parameter set.
func (s *SGD) Setup(set *params.Set) error {
	if set == nil {
		return errors.New("target parameter set is required")
	}
	s.target = set

	return nil
}

// Target returns the bound parameter set, or nil before Setup.
func (s *SGD) Target() *params.Set {
	return s.target
}

// Step applies one SGD update to every parameter that currently holds a
// gradient. Parameters without data or without a gradient are skipped: a
// parameter that did not participate in the last backward pass simply does
// not move.
func (s *SGD) Step() error {
	if s.target == nil {
		return types.ErrNoTarget
	}

	var stepErr error
	s.target.Each(func(p *params.Parameter) {
		if stepErr != nil || !p.HasData() || !p.HasGrad() {
			return
		}
		if len(p.Grad) != len(p.Data) {
			stepErr = fmt.Errorf("gradient size mismatch for %q: data %d, grad %d",
				p.Name, len(p.Data), len(p.Grad))

			return
		}
		for i, g := range p.Grad {
			if s.weightDecay != 0 {
				g += s.weightDecay * p.Data[i]
			}
			p.Data[i] -= s.lr * g
		}
	})

	return stepErr
}
