package comm

import "github.com/tsukuba-hpcs/gradsync/types"

// Option configures a communicator with optional dependencies.
type Option func(*commOptions)

// commOptions holds optional communicator configuration.
type commOptions struct {
	logger  types.Logger
	metrics types.MetricsCollector
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (compatible with zap.SugaredLogger)
//
// Returns:
//   - Option: Functional option for NewNATS
func WithLogger(logger types.Logger) Option {
	return func(o *commOptions) {
		o.logger = logger
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewNATS
func WithMetrics(metrics types.MetricsCollector) Option {
	return func(o *commOptions) {
		o.metrics = metrics
	}
}
