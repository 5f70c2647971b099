package integration_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsukuba-hpcs/gradsync"
	"github.com/tsukuba-hpcs/gradsync/comm"
	"github.com/tsukuba-hpcs/gradsync/optimizer"
	"github.com/tsukuba-hpcs/gradsync/params"
	"github.com/tsukuba-hpcs/gradsync/types"
)

// worker bundles one replica of the model with its trainer-side collaborators.
type worker struct {
	set  *params.Set
	opt  *optimizer.SGD
	comm types.Communicator
}

func newWorkers(t *testing.T, cluster *comm.Cluster, world int, lr float64) []*worker {
	t.Helper()

	workers := make([]*worker, world)
	for rank := 0; rank < world; rank++ {
		set := params.NewSet()
		// Replicas start desynchronized on purpose; the first broadcast
		// must overwrite every non-root replica with rank 0's data.
		require.NoError(t, set.Add(&params.Parameter{
			Name: "w",
			Data: []float64{float64(rank), float64(rank) * 2},
		}))
		require.NoError(t, set.Add(&params.Parameter{
			Name: "b",
			Data: []float64{float64(rank) * 10},
		}))

		opt, err := optimizer.NewSGD(lr)
		require.NoError(t, err)
		require.NoError(t, opt.Setup(set))

		workers[rank] = &worker{set: set, opt: opt, comm: cluster.Communicator(rank)}
	}

	return workers
}

// runStep drives one lockstep Update across all workers concurrently, as
// collectives are global barriers.
func runStep(t *testing.T, update func(rank int) error, world int) {
	t.Helper()

	var wg sync.WaitGroup
	errs := make([]error, world)
	for rank := 0; rank < world; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			errs[rank] = update(rank)
		}(rank)
	}
	wg.Wait()

	for rank, err := range errs {
		require.NoError(t, err, "worker %d failed", rank)
	}
}

func assertReplicasEqual(t *testing.T, workers []*worker) {
	t.Helper()

	ref := workers[0].set
	for rank := 1; rank < len(workers); rank++ {
		for _, name := range ref.Names() {
			assert.Equal(t, ref.Get(name).Data, workers[rank].set.Get(name).Data,
				"replica %d diverged on %q", rank, name)
		}
	}
}

func TestSynchronousThreeWorkers(t *testing.T) {
	const world = 3

	cluster := comm.NewCluster(world)
	defer cluster.Close()

	workers := newWorkers(t, cluster, world, 0.1)
	trainers := make([]*gradsync.Trainer, world)
	for rank, w := range workers {
		tr, err := gradsync.New(nil, w.comm, w.opt)
		require.NoError(t, err)
		trainers[rank] = tr
	}

	ctx := context.Background()

	// Per-worker gradients differ so the all-reduce mean is observable:
	// mean over ranks {0,1,2} of (rank+1)*base is 2*base.
	lossFor := func(w *worker, rank int) types.LossFunc {
		return func(_ context.Context) (float64, error) {
			scale := float64(rank + 1)
			w.set.Get("w").Grad = []float64{scale, scale}
			w.set.Get("b").Grad = []float64{scale * 3}
			return scale, nil
		}
	}

	// Iteration 1: every worker detects a structural change (no prior
	// snapshot) and takes the broadcast path; replicas converge to rank
	// 0's data, untouched by any optimizer step.
	runStep(t, func(rank int) error {
		return trainers[rank].Update(ctx, lossFor(workers[rank], rank))
	}, world)
	assertReplicasEqual(t, workers)
	assert.Equal(t, []float64{0, 0}, workers[1].set.Get("w").Data)
	assert.Equal(t, []float64{0}, workers[2].set.Get("b").Data)

	// Iteration 2: stable topology, all-reduce + step on every worker.
	// w -= 0.1 * mean = 0.1*2, b -= 0.1*6.
	runStep(t, func(rank int) error {
		return trainers[rank].Update(ctx, lossFor(workers[rank], rank))
	}, world)
	assertReplicasEqual(t, workers)
	assert.InDelta(t, -0.2, workers[0].set.Get("w").Data[0], 1e-12)
	assert.InDelta(t, -0.6, workers[0].set.Get("b").Data[0], 1e-12)

	// Lockstep topology change: every worker materializes a new parameter,
	// forcing exactly one broadcast round before reductions resume.
	for _, w := range workers {
		require.NoError(t, w.set.Add(&params.Parameter{Name: "v", Data: []float64{42}}))
	}
	runStep(t, func(rank int) error {
		return trainers[rank].Update(ctx, lossFor(workers[rank], rank))
	}, world)
	assertReplicasEqual(t, workers)

	for rank, tr := range trainers {
		stats := tr.Stats()
		assert.Equal(t, uint64(3), stats.Steps, "worker %d", rank)
		assert.Equal(t, uint64(2), stats.Broadcasts, "worker %d", rank)
		assert.Equal(t, uint64(1), stats.Reductions, "worker %d", rank)
	}
}

func TestDoubleBufferedThreeWorkers(t *testing.T) {
	const world = 3

	cluster := comm.NewCluster(world)
	defer cluster.Close()

	workers := newWorkers(t, cluster, world, 1.0)
	trainers := make([]*gradsync.DoubleBufferedTrainer, world)
	for rank, w := range workers {
		tr, err := gradsync.NewDoubleBuffered(nil, w.comm, w.opt)
		require.NoError(t, err)
		trainers[rank] = tr
	}

	ctx := context.Background()

	// Gradient of iteration k on every rank: mean over ranks of
	// (rank+1)*k is 2k, applied with lr=1 one iteration late.
	iters := make([]float64, world)
	lossFor := func(w *worker, rank int) types.LossFunc {
		return func(_ context.Context) (float64, error) {
			iters[rank]++
			g := float64(rank+1) * iters[rank]
			w.set.Get("w").Grad = []float64{g, g}
			w.set.Get("b").Grad = []float64{g}
			return g, nil
		}
	}

	step := func() {
		runStep(t, func(rank int) error {
			return trainers[rank].Update(ctx, lossFor(workers[rank], rank))
		}, world)
	}

	// Iteration 1: broadcast, no optimizer step.
	step()
	assertReplicasEqual(t, workers)
	assert.Equal(t, []float64{0, 0}, workers[0].set.Get("w").Data)

	// Iteration 2: swap + async dispatch, warm-up skip on every worker.
	step()
	assert.Equal(t, []float64{0, 0}, workers[0].set.Get("w").Data)
	for rank, tr := range trainers {
		assert.Equal(t, uint64(1), tr.Stats().SkippedUpdates, "worker %d", rank)
	}

	// Iteration 3: the step applies iteration 2's reduced mean gradient
	// (2*2 = 4): w = 0 - 4.
	step()
	assertReplicasEqual(t, workers)
	assert.InDelta(t, -4.0, workers[0].set.Get("w").Data[0], 1e-12)

	// Iteration 4: applies iteration 3's mean (6): w = -4 - 6.
	step()
	assertReplicasEqual(t, workers)
	assert.InDelta(t, -10.0, workers[0].set.Get("w").Data[0], 1e-12)

	// Drain pipelines before reading final state.
	runStep(t, func(rank int) error {
		return trainers[rank].Sync(ctx)
	}, world)

	for rank, tr := range trainers {
		stats := tr.Stats()
		assert.Equal(t, uint64(4), stats.Steps, "worker %d", rank)
		assert.Equal(t, uint64(1), stats.Broadcasts, "worker %d", rank)
		assert.Equal(t, uint64(3), stats.Reductions, "worker %d", rank)
		assert.Equal(t, uint64(2), stats.OptimizerSteps, "worker %d", rank)
	}
}
