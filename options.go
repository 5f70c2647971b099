package gradsync

import (
	"github.com/tsukuba-hpcs/gradsync/engine"
	"github.com/tsukuba-hpcs/gradsync/internal/hooks"
	"github.com/tsukuba-hpcs/gradsync/internal/logging"
	"github.com/tsukuba-hpcs/gradsync/internal/metrics"
	"github.com/tsukuba-hpcs/gradsync/types"
)

// Option configures a trainer with optional dependencies.
type Option func(*trainerOptions)

// trainerOptions holds optional trainer configuration.
type trainerOptions struct {
	logger  types.Logger
	metrics types.MetricsCollector
	hooks   types.Hooks
	engine  types.GradientEngine
}

// defaultTrainerOptions returns trainer options with safe defaults: no-op
// logger and metrics, no hooks, and the manual gradient engine.
func defaultTrainerOptions() trainerOptions {
	return trainerOptions{
		logger:  logging.NewNop(),
		metrics: metrics.NewNop(),
		hooks:   hooks.NewNop(),
		engine:  engine.NewManual(),
	}
}

// WithLogger sets a custom logger.
//
// Parameters:
//   - logger: Logger implementation
//
// Returns:
//   - Option: Functional option for New / NewDoubleBuffered
//
// Example:
//
//	trainer, err := gradsync.New(&cfg, comm, opt,
//	    gradsync.WithLogger(logging.NewSlogDefault()))
func WithLogger(logger types.Logger) Option {
	return func(o *trainerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for New / NewDoubleBuffered
func WithMetrics(collector types.MetricsCollector) Option {
	return func(o *trainerOptions) {
		if collector != nil {
			o.metrics = collector
		}
	}
}

// WithHooks sets lifecycle event hooks.
//
// Hooks run in background goroutines and never fail the training step; a
// hook error is logged and dropped.
//
// Parameters:
//   - hooks: Hooks structure with callback functions (nil fields are skipped)
//
// Returns:
//   - Option: Functional option for New / NewDoubleBuffered
//
// Example:
//
//	trainer, err := gradsync.New(&cfg, comm, opt, gradsync.WithHooks(types.Hooks{
//	    OnTopologyChanged: func(ctx context.Context, added, removed []string) error {
//	        log.Printf("topology changed: +%v -%v", added, removed)
//	        return nil
//	    },
//	}))
func WithHooks(hooks types.Hooks) Option {
	return func(o *trainerOptions) {
		o.hooks = hooks
	}
}

// WithEngine sets the gradient engine that drives the loss function.
//
// The default is engine.Manual, which expects the loss closure to populate
// gradient buffers itself.
//
// Parameters:
//   - eng: GradientEngine implementation
//
// Returns:
//   - Option: Functional option for New / NewDoubleBuffered
func WithEngine(eng types.GradientEngine) Option {
	return func(o *trainerOptions) {
		if eng != nil {
			o.engine = eng
		}
	}
}
