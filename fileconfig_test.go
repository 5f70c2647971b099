package gradsync

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsukuba-hpcs/gradsync/types"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gradsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfigFile(t, `
trainer:
  name: worker-a
  collectiveTimeout: 5s
comm:
  worldSize: 4
  bucketPrefix: mnist-run
  pollInterval: 5ms
`)

	fc, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "worker-a", fc.Trainer.Name)
	assert.Equal(t, 5*time.Second, fc.Trainer.CollectiveTimeout)
	assert.Equal(t, 4, fc.Comm.WorldSize)
	assert.Equal(t, "mnist-run", fc.Comm.BucketPrefix)
	assert.Equal(t, 5*time.Millisecond, fc.Comm.PollInterval)

	// Defaults fill the unset fields.
	assert.Equal(t, 30*time.Second, fc.Comm.RankTTL)
}

func TestLoadConfigValidation(t *testing.T) {
	// Missing worldSize fails comm validation.
	path := writeConfigFile(t, "trainer:\n  name: w\ncomm: {}\n")
	_, err := LoadConfig(path)
	require.ErrorIs(t, err, types.ErrInvalidConfig)

	path = writeConfigFile(t, "trainer:\n  collectiveTimeout: 1ms\ncomm:\n  worldSize: 1\n")
	_, err = LoadConfig(path)
	require.ErrorIs(t, err, types.ErrInvalidConfig)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := writeConfigFile(t, "trainer: [not a mapping\n")
	_, err = LoadConfig(path)
	require.Error(t, err)
}
