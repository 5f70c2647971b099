package params

import (
	"errors"
	"fmt"
	"slices"
)

// Set errors.
var (
	// ErrDuplicateName is returned when adding a parameter whose name is
	// already present in the set.
	ErrDuplicateName = errors.New("duplicate parameter name")

	// ErrStructuralMismatch is returned when two sets that must share an
	// identical sorted name sequence do not. It indicates a programming
	// error: the topology changed without going through a broadcast round.
	ErrStructuralMismatch = errors.New("parameter sets differ structurally")
)

// Set is an ordered-by-name collection of parameters.
//
// Iteration order is always the sorted-name order, which gives two sets with
// identical names a stable zip order for structural comparison and gradient
// swapping. A Set is created by the caller's model code and borrowed by a
// coordinator for the duration of one update call; it is not safe for
// concurrent mutation.
type Set struct {
	byName map[string]*Parameter
	names  []string // sorted
}

// NewSet creates an empty parameter set.
//
// Returns:
//   - *Set: Initialized empty set
//
// Example:
//
//	set := params.NewSet()
//	_ = set.Add(&params.Parameter{Name: "w", Data: []float64{0.5, -0.1}})
//	_ = set.Add(&params.Parameter{Name: "b", Data: []float64{0}})
func NewSet() *Set {
	return &Set{byName: make(map[string]*Parameter)}
}

// Add inserts a parameter into the set.
//
// Parameters:
//   - p: Parameter to insert (must have a non-empty, unused name)
//
// Returns:
//   - error: ErrDuplicateName if the name is already present
func (s *Set) Add(p *Parameter) error {
	if p == nil || p.Name == "" {
		return errors.New("parameter must have a name")
	}
	if _, ok := s.byName[p.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, p.Name)
	}

	s.byName[p.Name] = p

	// Keep names sorted on insert; sets are small relative to buffer sizes.
	idx, _ := slices.BinarySearch(s.names, p.Name)
	s.names = slices.Insert(s.names, idx, p.Name)

	return nil
}

// Remove deletes a parameter by name. Removing an absent name is a no-op.
func (s *Set) Remove(name string) {
	if _, ok := s.byName[name]; !ok {
		return
	}

	delete(s.byName, name)
	idx, _ := slices.BinarySearch(s.names, name)
	s.names = slices.Delete(s.names, idx, idx+1)
}

// Get returns the parameter with the given name, or nil if absent.
func (s *Set) Get(name string) *Parameter {
	return s.byName[name]
}

// Names returns the parameter names in sorted order.
//
// The returned slice is shared; callers must not modify it.
func (s *Set) Names() []string {
	return s.names
}

// Len returns the number of parameters in the set.
func (s *Set) Len() int {
	return len(s.names)
}

// Each calls fn for every parameter in sorted-name order.
func (s *Set) Each(fn func(p *Parameter)) {
	for _, name := range s.names {
		fn(s.byName[name])
	}
}

// ClearGradients releases every gradient buffer in the set.
//
// Gradients become absent (nil) rather than zeroed, matching the lazy
// allocation model: a parameter that does not participate in the next
// backward pass simply never regains a gradient.
func (s *Set) ClearGradients() {
	for _, name := range s.names {
		s.byName[name].Grad = nil
	}
}

// DeepCopy returns a full copy of the set, duplicating every data and
// gradient buffer.
//
// Deep copying is acceptable at topology-change boundaries (rare) but must
// never be used on a per-iteration hot path; use SwapGradients there.
func (s *Set) DeepCopy() *Set {
	c := &Set{
		byName: make(map[string]*Parameter, len(s.byName)),
		names:  slices.Clone(s.names),
	}
	for name, p := range s.byName {
		c.byName[name] = p.clone()
	}

	return c
}

// SwapGradients exchanges gradient buffer ownership between two sets,
// parameter by parameter, matched by name in identical sorted order.
//
// Only the slice headers move; no values are copied, so a buffer handed to
// an in-flight communication path on one side stays valid while the other
// side is free for local compute. Data buffers are untouched.
//
// Parameters:
//   - a: First set
//   - b: Second set (must have the same sorted name sequence as a)
//
// Returns:
//   - error: ErrStructuralMismatch if the sorted name sequences differ
func SwapGradients(a, b *Set) error {
	if len(a.names) != len(b.names) {
		return fmt.Errorf("%w: %d vs %d parameters", ErrStructuralMismatch, len(a.names), len(b.names))
	}
	for i, name := range a.names {
		if b.names[i] != name {
			return fmt.Errorf("%w: %q vs %q at position %d", ErrStructuralMismatch, name, b.names[i], i)
		}
	}

	for _, name := range a.names {
		pa, pb := a.byName[name], b.byName[name]
		pa.Grad, pb.Grad = pb.Grad, pa.Grad
	}

	return nil
}
