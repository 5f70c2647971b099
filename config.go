package gradsync

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tsukuba-hpcs/gradsync/types"
)

// Default configuration values.
const (
	// DefaultCollectiveTimeout bounds every blocking collective call and
	// async wait issued by a trainer.
	DefaultCollectiveTimeout = 30 * time.Second

	// minCollectiveTimeout rejects timeouts too short for any real
	// collective round to complete.
	minCollectiveTimeout = 10 * time.Millisecond
)

// Config controls trainer behavior.
//
// The zero value is usable after SetDefaults; New applies defaults and
// validation automatically, and accepts a nil *Config.
type Config struct {
	// Name identifies this worker in logs and hooks. Optional; when empty,
	// log lines carry only the communicator rank.
	Name string `yaml:"name"`

	// CollectiveTimeout bounds each blocking collective operation
	// (broadcast, all-reduce) and each wait on an asynchronous all-reduce.
	//
	// A timed-out collective is fatal for the training step; the trainer
	// never retries. Zero selects DefaultCollectiveTimeout. Negative
	// disables the bound entirely, deferring to the caller's context.
	CollectiveTimeout time.Duration `yaml:"collectiveTimeout"`
}

// UnmarshalYAML decodes the config from YAML, accepting Go duration strings
// ("30s", "1m") for the timeout field.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Name              string `yaml:"name"`
		CollectiveTimeout string `yaml:"collectiveTimeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.Name = raw.Name
	if raw.CollectiveTimeout != "" {
		d, err := time.ParseDuration(raw.CollectiveTimeout)
		if err != nil {
			return fmt.Errorf("collectiveTimeout: %w", err)
		}
		c.CollectiveTimeout = d
	}

	return nil
}

// SetDefaults fills unset fields with default values.
func (c *Config) SetDefaults() {
	if c.CollectiveTimeout == 0 {
		c.CollectiveTimeout = DefaultCollectiveTimeout
	}
}

// Validate checks the configuration for invalid values.
//
// Returns:
//   - error: types.ErrInvalidConfig-wrapped error describing the first
//     invalid field, or nil
func (c *Config) Validate() error {
	if c.CollectiveTimeout > 0 && c.CollectiveTimeout < minCollectiveTimeout {
		return fmt.Errorf("%w: collectiveTimeout %v is below the %v minimum",
			types.ErrInvalidConfig, c.CollectiveTimeout, minCollectiveTimeout)
	}

	return nil
}

// ValidateWithWarnings validates the configuration and logs warnings for
// legal but risky settings.
//
// Parameters:
//   - logger: Destination for warnings (ignored when nil)
//
// Returns:
//   - error: Same as Validate
func (c *Config) ValidateWithWarnings(logger types.Logger) error {
	if err := c.Validate(); err != nil {
		return err
	}

	if logger == nil {
		return nil
	}

	if c.CollectiveTimeout < 0 {
		logger.Warn("collective timeout disabled; a lost worker will stall every collective until the caller's context expires")
	} else if c.CollectiveTimeout < time.Second {
		logger.Warn("collective timeout is very short and may abort healthy rounds under load",
			"collectiveTimeout", c.CollectiveTimeout)
	}

	return nil
}

// collectiveContext derives a context for one collective operation or async
// wait, honoring CollectiveTimeout. The returned cancel must always be
// called.
func (c *Config) collectiveContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.CollectiveTimeout > 0 {
		return context.WithTimeout(ctx, c.CollectiveTimeout)
	}

	return context.WithCancel(ctx)
}
