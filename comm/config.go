package comm

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tsukuba-hpcs/gradsync/types"
)

// Config configures the NATS communicator.
type Config struct {
	// WorldSize is the number of workers participating in collectives.
	// Required; collectives block until every rank has contributed.
	WorldSize int `yaml:"worldSize"`

	// BucketPrefix prefixes the KV bucket names so that independent worlds
	// can share one JetStream domain. Default: "gradsync".
	BucketPrefix string `yaml:"bucketPrefix"`

	// RankTTL is the lease TTL on rank claims. A crashed worker's rank
	// becomes reclaimable after this long. Default: 30s.
	RankTTL time.Duration `yaml:"rankTtl"`

	// CollectiveTTL is how long collective round entries remain in KV
	// before the server purges them. Must comfortably exceed the slowest
	// expected round. Default: 5m.
	CollectiveTTL time.Duration `yaml:"collectiveTtl"`

	// PollInterval is the base delay between KV probes while waiting for
	// peer contributions to a round. Default: 2ms.
	PollInterval time.Duration `yaml:"pollInterval"`

	// PollMaxInterval caps the backed-off probe delay. Default: 100ms.
	PollMaxInterval time.Duration `yaml:"pollMaxInterval"`
}

// UnmarshalYAML decodes the config from YAML, accepting Go duration strings
// ("30s", "5m") for the TTL and interval fields.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		WorldSize       int    `yaml:"worldSize"`
		BucketPrefix    string `yaml:"bucketPrefix"`
		RankTTL         string `yaml:"rankTtl"`
		CollectiveTTL   string `yaml:"collectiveTtl"`
		PollInterval    string `yaml:"pollInterval"`
		PollMaxInterval string `yaml:"pollMaxInterval"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.WorldSize = raw.WorldSize
	c.BucketPrefix = raw.BucketPrefix

	for _, field := range []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"rankTtl", raw.RankTTL, &c.RankTTL},
		{"collectiveTtl", raw.CollectiveTTL, &c.CollectiveTTL},
		{"pollInterval", raw.PollInterval, &c.PollInterval},
		{"pollMaxInterval", raw.PollMaxInterval, &c.PollMaxInterval},
	} {
		if field.src == "" {
			continue
		}
		d, err := time.ParseDuration(field.src)
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.dst = d
	}

	return nil
}

// SetDefaults fills in missing configuration values with defaults.
func (c *Config) SetDefaults() {
	if c.BucketPrefix == "" {
		c.BucketPrefix = "gradsync"
	}
	if c.RankTTL <= 0 {
		c.RankTTL = 30 * time.Second
	}
	if c.CollectiveTTL <= 0 {
		c.CollectiveTTL = 5 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Millisecond
	}
	if c.PollMaxInterval <= 0 {
		c.PollMaxInterval = 100 * time.Millisecond
	}
}

// Validate checks the configuration for invalid values.
//
// Returns:
//   - error: types.ErrInvalidConfig wrapped with the offending field
func (c *Config) Validate() error {
	if c.WorldSize < 1 {
		return fmt.Errorf("%w: worldSize must be >= 1, got %d", types.ErrInvalidConfig, c.WorldSize)
	}
	if c.PollInterval > c.PollMaxInterval {
		return fmt.Errorf("%w: pollInterval %v exceeds pollMaxInterval %v",
			types.ErrInvalidConfig, c.PollInterval, c.PollMaxInterval)
	}
	if c.RankTTL < time.Second {
		return fmt.Errorf("%w: rankTtl must be >= 1s, got %v", types.ErrInvalidConfig, c.RankTTL)
	}

	return nil
}

// rankBucket returns the KV bucket name used for rank claims.
func (c *Config) rankBucket() string {
	return c.BucketPrefix + "-ranks"
}

// collectiveBucket returns the KV bucket name used for collective rounds.
func (c *Config) collectiveBucket() string {
	return c.BucketPrefix + "-collective"
}
