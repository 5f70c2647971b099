package params

// Parameter is a named, mutable, optionally-absent value with an associated
// gradient slot.
//
// A nil Data slice means the parameter has not been allocated yet (lazy
// initialization is common for models that size layers on first input).
// A nil Grad slice means no gradient has been computed since the last clear.
//
// Identity is by name. Structural equality, as used by change detection,
// considers only the name and whether Data is present, never the values.
type Parameter struct {
	// Name uniquely identifies the parameter within a Set.
	Name string

	// Data is the parameter value buffer. Nil means not yet allocated.
	Data []float64

	// Grad is the gradient buffer. Nil means no gradient is available.
	Grad []float64
}

// HasData reports whether the parameter's data buffer is allocated.
func (p *Parameter) HasData() bool {
	return p.Data != nil
}

// HasGrad reports whether the parameter's gradient buffer is allocated.
func (p *Parameter) HasGrad() bool {
	return p.Grad != nil
}

// AllocGrad ensures the gradient buffer is allocated and zeroed, sized to
// match the data buffer. It is a no-op for parameters without data.
//
// Returns:
//   - []float64: The gradient buffer (nil if the parameter has no data)
func (p *Parameter) AllocGrad() []float64 {
	if p.Data == nil {
		return nil
	}
	if len(p.Grad) != len(p.Data) {
		p.Grad = make([]float64, len(p.Data))
		return p.Grad
	}
	for i := range p.Grad {
		p.Grad[i] = 0
	}

	return p.Grad
}

// clone returns a deep copy of the parameter, including both buffers.
func (p *Parameter) clone() *Parameter {
	c := &Parameter{Name: p.Name}
	if p.Data != nil {
		c.Data = make([]float64, len(p.Data))
		copy(c.Data, p.Data)
	}
	if p.Grad != nil {
		c.Grad = make([]float64, len(p.Grad))
		copy(c.Grad, p.Grad)
	}

	return c
}
