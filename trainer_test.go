package gradsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsukuba-hpcs/gradsync/optimizer"
	"github.com/tsukuba-hpcs/gradsync/params"
	"github.com/tsukuba-hpcs/gradsync/types"
)

// fakeOp is an AsyncOp that completes at construction time.
type fakeOp struct {
	done chan struct{}
	err  error
}

func newFakeOp(err error) *fakeOp {
	op := &fakeOp{done: make(chan struct{}), err: err}
	close(op.done)
	return op
}

func (o *fakeOp) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *fakeOp) Done() <-chan struct{} { return o.done }

// fakeComm is a single-worker communicator that records collective calls.
// Its async all-reduce completes synchronously, multiplying every gradient
// by reduceScale so tests can tell reduced gradients from raw ones.
type fakeComm struct {
	size        int
	reduceScale float64

	broadcasts int
	reduces    int
	asyncs     int
	pending    *fakeOp

	broadcastErr error
	reduceErr    error
	asyncWaitErr error
}

var _ types.Communicator = (*fakeComm)(nil)

func newFakeComm() *fakeComm {
	return &fakeComm{size: 1, reduceScale: 1}
}

func (f *fakeComm) Rank() int { return 0 }
func (f *fakeComm) Size() int { return f.size }

func (f *fakeComm) BroadcastData(_ context.Context, _ *params.Set) error {
	if f.broadcastErr != nil {
		return f.broadcastErr
	}
	f.broadcasts++
	return nil
}

func (f *fakeComm) AllReduceGrad(_ context.Context, set *params.Set) error {
	if f.reduceErr != nil {
		return f.reduceErr
	}
	f.reduces++
	f.scaleGrads(set)
	return nil
}

func (f *fakeComm) AllReduceGradAsync(_ context.Context, set *params.Set) (types.AsyncOp, error) {
	if f.pending != nil {
		select {
		case <-f.pending.done:
		default:
			return nil, types.ErrAsyncPending
		}
	}
	f.asyncs++
	f.scaleGrads(set)
	f.pending = newFakeOp(f.asyncWaitErr)
	return f.pending, nil
}

func (f *fakeComm) scaleGrads(set *params.Set) {
	set.Each(func(p *params.Parameter) {
		for i := range p.Grad {
			p.Grad[i] *= f.reduceScale
		}
	})
}

// countingMetrics tallies collector calls so tests can pin down which
// layer records which metric.
type countingMetrics struct {
	mu sync.Mutex

	stepDurations  int
	topoChanges    int
	optimizerSteps int
	warmupSkips    int

	broadcastDurs int
	allReduceDurs int
	payloads      int
	asyncWaits    int
}

var _ types.MetricsCollector = (*countingMetrics)(nil)

func (m *countingMetrics) RecordStepDuration(_ float64, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stepDurations++
}

func (m *countingMetrics) RecordTopologyChange(_, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topoChanges++
}

func (m *countingMetrics) RecordOptimizerStep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.optimizerSteps++
}

func (m *countingMetrics) RecordWarmupSkip() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warmupSkips++
}

func (m *countingMetrics) RecordBroadcastDuration(_ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcastDurs++
}

func (m *countingMetrics) RecordAllReduceDuration(_ float64, _ bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allReduceDurs++
}

func (m *countingMetrics) RecordCollectivePayload(_ string, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads++
}

func (m *countingMetrics) RecordAsyncWait(_ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.asyncWaits++
}

func newSGD(t *testing.T, set *params.Set, lr float64) *optimizer.SGD {
	t.Helper()
	opt, err := optimizer.NewSGD(lr)
	require.NoError(t, err)
	require.NoError(t, opt.Setup(set))
	return opt
}

func TestNewValidation(t *testing.T) {
	set := newTestSet(t, "w")
	opt := newSGD(t, set, 0.1)

	_, err := New(nil, nil, opt)
	require.ErrorIs(t, err, types.ErrCommunicatorRequired)

	_, err = New(nil, newFakeComm(), nil)
	require.ErrorIs(t, err, types.ErrOptimizerRequired)

	unbound, err := optimizer.NewSGD(0.1)
	require.NoError(t, err)
	_, err = New(nil, newFakeComm(), unbound)
	require.ErrorIs(t, err, types.ErrNoTarget)

	_, err = New(&Config{CollectiveTimeout: time.Millisecond}, newFakeComm(), opt)
	require.ErrorIs(t, err, types.ErrInvalidConfig)

	trainer, err := New(nil, newFakeComm(), opt)
	require.NoError(t, err)
	assert.Same(t, opt, trainer.Optimizer())
}

func TestTrainerBroadcastThenReduce(t *testing.T) {
	set := params.NewSet()
	require.NoError(t, set.Add(&params.Parameter{Name: "w", Data: []float64{1.0}}))

	comm := newFakeComm()
	opt := newSGD(t, set, 0.5)
	trainer, err := New(nil, comm, opt)
	require.NoError(t, err)

	loss := func(_ context.Context) (float64, error) {
		set.Get("w").Grad = []float64{2.0}
		return 0.25, nil
	}

	// First call: no prior snapshot, broadcast path, no optimizer step.
	require.NoError(t, trainer.Update(context.Background(), loss))
	assert.Equal(t, 1, comm.broadcasts)
	assert.Equal(t, 0, comm.reduces)
	assert.Equal(t, []float64{1.0}, set.Get("w").Data)

	// Second call: stable topology, all-reduce then step (w -= 0.5*2).
	require.NoError(t, trainer.Update(context.Background(), loss))
	assert.Equal(t, 1, comm.broadcasts)
	assert.Equal(t, 1, comm.reduces)
	assert.InDelta(t, 0.0, set.Get("w").Data[0], 1e-12)

	stats := trainer.Stats()
	assert.Equal(t, uint64(2), stats.Steps)
	assert.Equal(t, uint64(1), stats.Broadcasts)
	assert.Equal(t, uint64(1), stats.Reductions)
	assert.Equal(t, uint64(1), stats.OptimizerSteps)
}

func TestTrainerTopologyChangeTriggersBroadcast(t *testing.T) {
	set := newTestSet(t, "w")
	comm := newFakeComm()
	trainer, err := New(nil, comm, newSGD(t, set, 0.1))
	require.NoError(t, err)

	require.NoError(t, trainer.Update(context.Background(), nil))
	require.NoError(t, trainer.Update(context.Background(), nil))
	require.Equal(t, 1, comm.broadcasts)

	// A new parameter forces the broadcast path on the next call only.
	require.NoError(t, set.Add(&params.Parameter{Name: "b", Data: []float64{0}}))
	require.NoError(t, trainer.Update(context.Background(), nil))
	assert.Equal(t, 2, comm.broadcasts)

	require.NoError(t, trainer.Update(context.Background(), nil))
	assert.Equal(t, 2, comm.broadcasts)
}

func TestTrainerLossErrorBeforeCommunication(t *testing.T) {
	set := newTestSet(t, "w")
	comm := newFakeComm()
	trainer, err := New(nil, comm, newSGD(t, set, 0.1))
	require.NoError(t, err)

	wantErr := errors.New("forward failed")
	err = trainer.Update(context.Background(), func(_ context.Context) (float64, error) {
		return 0, wantErr
	})
	require.ErrorIs(t, err, wantErr)

	// Gradients from a failed pass must never reach a collective.
	assert.Equal(t, 0, comm.broadcasts)
	assert.Equal(t, 0, comm.reduces)
	assert.Equal(t, uint64(0), trainer.Stats().Steps)
}

func TestTrainerCommunicationErrorFatal(t *testing.T) {
	set := newTestSet(t, "w")
	comm := newFakeComm()
	comm.broadcastErr = fmt.Errorf("%w: transport down", types.ErrCommunication)
	trainer, err := New(nil, comm, newSGD(t, set, 0.1))
	require.NoError(t, err)

	err = trainer.Update(context.Background(), nil)
	require.ErrorIs(t, err, types.ErrCommunication)
	assert.Equal(t, uint64(0), trainer.Stats().Steps)
}

func TestTrainerMetricsLayering(t *testing.T) {
	ctx := context.Background()

	// Synchronous trainer: step and topology metrics only. Collective
	// durations and payload sizes belong to the communicator, so the
	// trainer must never record them itself.
	set := newTestSet(t, "w")
	m := &countingMetrics{}
	trainer, err := New(nil, newFakeComm(), newSGD(t, set, 0.1), WithMetrics(m))
	require.NoError(t, err)

	require.NoError(t, trainer.Update(ctx, nil))
	require.NoError(t, trainer.Update(ctx, nil))
	assert.Equal(t, 2, m.stepDurations)
	assert.Equal(t, 1, m.topoChanges)
	assert.Equal(t, 0, m.broadcastDurs)
	assert.Equal(t, 0, m.allReduceDurs)
	assert.Equal(t, 0, m.payloads)

	// Double-buffered trainer: the wait for the previous round is a
	// coordination event, so it is recorded here; the round's own
	// duration still is not.
	dbSet := newTestSet(t, "w")
	dm := &countingMetrics{}
	db, err := NewDoubleBuffered(nil, newFakeComm(), newSGD(t, dbSet, 0.1), WithMetrics(dm))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, db.Update(ctx, nil))
	}
	assert.Equal(t, 1, dm.asyncWaits)
	assert.Equal(t, 1, dm.warmupSkips)
	assert.Equal(t, 0, dm.broadcastDurs)
	assert.Equal(t, 0, dm.allReduceDurs)
}

func TestTrainerBroadcastFailureRetriesBroadcast(t *testing.T) {
	set := newTestSet(t, "w")
	comm := newFakeComm()
	comm.broadcastErr = fmt.Errorf("%w: transport down", types.ErrCommunication)
	trainer, err := New(nil, comm, newSGD(t, set, 0.1))
	require.NoError(t, err)

	ctx := context.Background()
	require.ErrorIs(t, trainer.Update(ctx, nil), types.ErrCommunication)

	// The snapshot was refreshed before the failed broadcast, but the
	// world never synchronized to it. The next call must broadcast again
	// rather than all-reduce against unsynchronized replicas.
	comm.broadcastErr = nil
	require.NoError(t, trainer.Update(ctx, nil))
	assert.Equal(t, 1, comm.broadcasts)
	assert.Equal(t, 0, comm.reduces)

	require.NoError(t, trainer.Update(ctx, nil))
	assert.Equal(t, 1, comm.broadcasts)
	assert.Equal(t, 1, comm.reduces)
}

func TestTrainerHooks(t *testing.T) {
	set := newTestSet(t, "w")

	type stepEvent struct {
		step uint64
		loss float64
	}
	steps := make(chan stepEvent, 4)
	topo := make(chan struct{}, 4)

	trainer, err := New(nil, newFakeComm(), newSGD(t, set, 0.1), WithHooks(types.Hooks{
		OnStepCompleted: func(_ context.Context, step uint64, loss float64) error {
			steps <- stepEvent{step, loss}
			return nil
		},
		OnTopologyChanged: func(_ context.Context, _, _ []string) error {
			topo <- struct{}{}
			return nil
		},
	}))
	require.NoError(t, err)

	require.NoError(t, trainer.Update(context.Background(), func(_ context.Context) (float64, error) {
		set.Get("w").Grad = []float64{1}
		return 0.5, nil
	}))

	select {
	case ev := <-steps:
		assert.Equal(t, uint64(1), ev.step)
		assert.Equal(t, 0.5, ev.loss)
	case <-time.After(2 * time.Second):
		t.Fatal("step-completed hook not fired")
	}

	select {
	case <-topo:
	case <-time.After(2 * time.Second):
		t.Fatal("topology-changed hook not fired")
	}
}
