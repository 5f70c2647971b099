// Package optimizer provides local (single-node) parameter update rules that
// implement types.Optimizer.
//
// A trainer coordinator wraps one of these and decides when Step may run;
// the optimizers themselves know nothing about distribution. SGD is the
// baseline rule, Momentum adds classical momentum with per-parameter
// velocity slots.
package optimizer
