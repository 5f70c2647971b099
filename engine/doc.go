// Package engine provides types.GradientEngine implementations.
//
// Manual delegates gradient computation entirely to the loss closure, which
// is the natural fit when the caller already has a backward pass. For models
// small enough to afford repeated loss evaluations, FiniteDifference
// approximates gradients numerically with central differences and needs no
// backward pass at all.
package engine
