package gradsync

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tsukuba-hpcs/gradsync/comm"
)

// FileConfig is the on-disk YAML layout combining trainer and communicator
// configuration, so one file can describe a whole worker.
//
// Example:
//
//	trainer:
//	  name: worker-a
//	  collectiveTimeout: 30s
//	comm:
//	  worldSize: 4
//	  bucketPrefix: mnist-run
type FileConfig struct {
	Trainer Config      `yaml:"trainer"`
	Comm    comm.Config `yaml:"comm"`
}

// LoadConfig reads a YAML configuration file, applies defaults, and
// validates both sections.
//
// Parameters:
//   - path: Path to the YAML file
//
// Returns:
//   - *FileConfig: Parsed configuration with defaults applied
//   - error: Read, parse, or validation error
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	fc.Trainer.SetDefaults()
	fc.Comm.SetDefaults()

	if err := fc.Trainer.Validate(); err != nil {
		return nil, err
	}
	if err := fc.Comm.Validate(); err != nil {
		return nil, err
	}

	return &fc, nil
}
