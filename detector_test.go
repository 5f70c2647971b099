package gradsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsukuba-hpcs/gradsync/params"
)

func newTestSet(t *testing.T, names ...string) *params.Set {
	t.Helper()
	set := params.NewSet()
	for _, name := range names {
		require.NoError(t, set.Add(&params.Parameter{Name: name, Data: []float64{0}}))
	}
	return set
}

func TestDetectorFirstCallAlwaysChanged(t *testing.T) {
	var d changeDetector
	changed, added, removed := d.refresh(newTestSet(t, "w", "b"))
	assert.True(t, changed)
	assert.Empty(t, added)
	assert.Empty(t, removed)
}

func TestDetectorStructuralInvariance(t *testing.T) {
	set := newTestSet(t, "w", "b")

	var d changeDetector
	changed, _, _ := d.refresh(set)
	require.True(t, changed)

	// No modification between calls: the second call must report stable.
	changed, _, _ = d.refresh(set)
	assert.False(t, changed)
}

func TestDetectorDetectionCompleteness(t *testing.T) {
	set := newTestSet(t, "w")

	var d changeDetector
	d.refresh(set)
	d.refresh(set)

	require.NoError(t, set.Add(&params.Parameter{Name: "b", Data: []float64{0}}))

	changed, added, removed := d.refresh(set)
	assert.True(t, changed, "change must be reported on the call after the add")
	assert.Equal(t, []string{"b"}, added)
	assert.Empty(t, removed)

	// Exactly once: the memory was refreshed, so the next call is stable.
	changed, _, _ = d.refresh(set)
	assert.False(t, changed)

	set.Remove("w")
	changed, added, removed = d.refresh(set)
	assert.True(t, changed)
	assert.Empty(t, added)
	assert.Equal(t, []string{"w"}, removed)
}

func TestDetectorDataMaterialization(t *testing.T) {
	set := params.NewSet()
	require.NoError(t, set.Add(&params.Parameter{Name: "lazy"}))

	var d changeDetector
	d.refresh(set)
	changed, _, _ := d.refresh(set)
	require.False(t, changed)

	// Allocating the data buffer is a structural change with no name diff.
	set.Get("lazy").Data = []float64{1, 2}
	changed, added, removed := d.refresh(set)
	assert.True(t, changed)
	assert.Empty(t, added)
	assert.Empty(t, removed)
}

func TestDiffNames(t *testing.T) {
	prev := params.Snapshot{{Name: "a", HasData: true}, {Name: "b", HasData: true}, {Name: "d", HasData: true}}
	next := params.Snapshot{{Name: "b", HasData: false}, {Name: "c", HasData: true}, {Name: "d", HasData: true}}

	added, removed := diffNames(prev, next)
	assert.Equal(t, []string{"c"}, added)
	assert.Equal(t, []string{"a"}, removed)
}
