package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsukuba-hpcs/gradsync/params"
)

func TestManualCompute(t *testing.T) {
	set := params.NewSet()
	require.NoError(t, set.Add(&params.Parameter{Name: "w", Data: []float64{1, 2}}))

	eng := NewManual()

	loss, err := eng.Compute(context.Background(), set, func(_ context.Context) (float64, error) {
		// A manual loss closure fills gradients itself.
		set.Get("w").Grad = []float64{0.1, 0.2}
		return 0.5, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0.5, loss)
	assert.Equal(t, []float64{0.1, 0.2}, set.Get("w").Grad)
}

func TestManualComputeError(t *testing.T) {
	set := params.NewSet()
	eng := NewManual()

	wantErr := errors.New("forward failed")
	_, err := eng.Compute(context.Background(), set, func(_ context.Context) (float64, error) {
		return 0, wantErr
	})
	require.ErrorIs(t, err, wantErr)
}

func TestManualClearGradients(t *testing.T) {
	set := params.NewSet()
	require.NoError(t, set.Add(&params.Parameter{
		Name: "w",
		Data: []float64{1},
		Grad: []float64{3},
	}))

	NewManual().ClearGradients(set)
	assert.False(t, set.Get("w").HasGrad())
}

func TestFiniteDifferenceQuadratic(t *testing.T) {
	// loss = sum(x^2), so grad = 2x.
	set := params.NewSet()
	require.NoError(t, set.Add(&params.Parameter{Name: "x", Data: []float64{1, -2, 3}}))

	loss := func(_ context.Context) (float64, error) {
		var sum float64
		for _, v := range set.Get("x").Data {
			sum += v * v
		}
		return sum, nil
	}

	eng := NewFiniteDifference(1e-5)

	got, err := eng.Compute(context.Background(), set, loss)
	require.NoError(t, err)
	assert.InDelta(t, 14.0, got, 1e-9)

	grad := set.Get("x").Grad
	require.Len(t, grad, 3)
	assert.InDelta(t, 2.0, grad[0], 1e-4)
	assert.InDelta(t, -4.0, grad[1], 1e-4)
	assert.InDelta(t, 6.0, grad[2], 1e-4)

	// Data must be restored after perturbation.
	assert.Equal(t, []float64{1, -2, 3}, set.Get("x").Data)
}

func TestFiniteDifferenceSkipsUnallocated(t *testing.T) {
	set := params.NewSet()
	require.NoError(t, set.Add(&params.Parameter{Name: "lazy"}))
	require.NoError(t, set.Add(&params.Parameter{Name: "w", Data: []float64{2}}))

	loss := func(_ context.Context) (float64, error) {
		return set.Get("w").Data[0], nil
	}

	_, err := NewFiniteDifference(0).Compute(context.Background(), set, loss)
	require.NoError(t, err)

	assert.False(t, set.Get("lazy").HasGrad())
	assert.InDelta(t, 1.0, set.Get("w").Grad[0], 1e-4)
}

func TestFiniteDifferenceLossError(t *testing.T) {
	set := params.NewSet()
	require.NoError(t, set.Add(&params.Parameter{Name: "w", Data: []float64{1}}))

	wantErr := errors.New("eval failed")
	calls := 0
	loss := func(_ context.Context) (float64, error) {
		calls++
		if calls > 1 {
			return 0, wantErr
		}
		return 1.0, nil
	}

	_, err := NewFiniteDifference(1e-5).Compute(context.Background(), set, loss)
	require.ErrorIs(t, err, wantErr)
	// The perturbed value must be rolled back on error.
	assert.Equal(t, []float64{1}, set.Get("w").Data)
}

func TestFiniteDifferenceCancelled(t *testing.T) {
	set := params.NewSet()
	require.NoError(t, set.Add(&params.Parameter{Name: "w", Data: []float64{1, 2}}))

	ctx, cancel := context.WithCancel(context.Background())

	loss := func(_ context.Context) (float64, error) {
		cancel()
		return 0, nil
	}

	_, err := NewFiniteDifference(1e-5).Compute(ctx, set, loss)
	require.ErrorIs(t, err, context.Canceled)
}
