package comm

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tsukuba-hpcs/gradsync/params"
	"github.com/tsukuba-hpcs/gradsync/types"
)

// opKind identifies which collective a contribution belongs to.
type opKind string

const (
	opBroadcast opKind = "broadcast"
	opAllReduce opKind = "allreduce"
)

// contribution is one worker's input to a collective round.
type contribution struct {
	op      opKind
	round   uint64
	rank    int
	vectors map[string][]float64
}

// result is the combined output of a collective round, delivered to every
// worker in the world.
type result struct {
	round   uint64
	vectors map[string][]float64
	err     error
}

// Cluster is an in-process collective fabric for a fixed-size world of
// workers living in one process.
//
// A single combiner goroutine gathers one contribution per rank for each
// round, combines them (root's data for broadcast, element-wise mean for
// all-reduce), and fans the result out to every rank. Each worker obtains
// its communicator endpoint with Communicator(rank).
//
// Rounds are numbered by each endpoint's own collective counter. Because
// every worker issues the same sequence of collectives, the counters stay
// in lockstep and gather rounds cleanly even when workers arrive at a
// collective far apart in time. A worker that abandons a round (context
// expiry) discards that round's late result instead of mistaking it for
// the answer to its next collective.
//
// The combiner enforces the same discipline real fabrics do: a round where
// ranks issue different collectives is a programming error and fails the
// round for everyone.
type Cluster struct {
	size   int
	fanin  chan contribution
	fanout []chan result
	done   chan struct{}
	closed atomic.Bool
}

// NewCluster creates an in-process fabric for the given world size and
// starts its combiner goroutine.
//
// Parameters:
//   - size: World size (>= 1)
//
// Returns:
//   - *Cluster: Running fabric; call Close when done
//
// Example:
//
//	cluster := comm.NewCluster(3)
//	defer cluster.Close()
//	for rank := 0; rank < 3; rank++ {
//	    go worker(cluster.Communicator(rank))
//	}
func NewCluster(size int) *Cluster {
	if size < 1 {
		size = 1
	}

	fanout := make([]chan result, 0, size)
	for len(fanout) < cap(fanout) {
		// Buffered so an abandoned round cannot wedge the combiner forever.
		fanout = append(fanout, make(chan result, 1))
	}

	c := &Cluster{
		size:   size,
		fanin:  make(chan contribution),
		fanout: fanout,
		done:   make(chan struct{}),
	}
	go c.combine()

	return c
}

// Close shuts down the combiner. Collectives issued after Close fail with
// types.ErrClosed; a round in progress is abandoned.
func (c *Cluster) Close() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.done)
	}
}

// Communicator returns the endpoint for the given rank.
func (c *Cluster) Communicator(rank int) *Inproc {
	return &Inproc{cluster: c, rank: rank}
}

// combine runs the gather/combine/scatter loop, keying partial gathers by
// round number so contributions from workers at different rounds never mix.
func (c *Cluster) combine() {
	pending := make(map[uint64][]contribution)
	for {
		select {
		case <-c.done:
			return
		case contrib := <-c.fanin:
			contribs := append(pending[contrib.round], contrib)
			if len(contribs) < c.size {
				pending[contrib.round] = contribs
				continue
			}
			delete(pending, contrib.round)

			res := combineRound(contribs)
			res.round = contrib.round
			for _, ch := range c.fanout {
				c.deliver(ch, res)
			}
		}
	}
}

// deliver places a result into one endpoint's buffer without ever blocking
// the combiner: a stale result left by an abandoned round is evicted first.
func (c *Cluster) deliver(ch chan result, res result) {
	for {
		select {
		case ch <- res:
			return
		default:
		}
		select {
		case <-ch: // evict the abandoned round's result
		default:
		}
	}
}

// combineRound merges one round's contributions.
func combineRound(contribs []contribution) result {
	op := contribs[0].op
	for _, contrib := range contribs[1:] {
		if contrib.op != op {
			return result{err: fmt.Errorf("%w: mismatched collectives in one round (%s vs %s)",
				types.ErrCommunication, op, contrib.op)}
		}
	}

	switch op {
	case opBroadcast:
		for _, contrib := range contribs {
			if contrib.rank == 0 {
				return result{vectors: contrib.vectors}
			}
		}

		return result{err: fmt.Errorf("%w: broadcast round without a root contribution", types.ErrCommunication)}

	case opAllReduce:
		sums := make(map[string][]float64)
		for _, contrib := range contribs {
			accumulate(sums, contrib.vectors)
		}
		world := float64(len(contribs))
		for _, sum := range sums {
			for i := range sum {
				sum[i] /= world
			}
		}

		return result{vectors: sums}

	default:
		return result{err: fmt.Errorf("%w: unknown collective %q", types.ErrCommunication, op)}
	}
}

// Inproc is one worker's endpoint into an in-process Cluster.
//
// Like every communicator, it is driven by a single training-loop goroutine;
// only the async all-reduce itself runs concurrently.
type Inproc struct {
	cluster *Cluster
	rank    int
	round   uint64
	current atomic.Pointer[asyncOp]
}

// Compile-time assertion that Inproc implements Communicator.
var _ types.Communicator = (*Inproc)(nil)

// Rank returns this endpoint's rank. Rank 0 is the broadcast root.
func (c *Inproc) Rank() int {
	return c.rank
}

// Size returns the world size.
func (c *Inproc) Size() int {
	return c.cluster.size
}

// nextRound reserves the round number for the next collective. Called from
// the training-loop goroutine only, so a plain counter suffices.
func (c *Inproc) nextRound() uint64 {
	c.round++
	return c.round
}

// BroadcastData pushes the root's parameter data to every worker in place.
func (c *Inproc) BroadcastData(ctx context.Context, set *params.Set) error {
	var vectors map[string][]float64
	if c.rank == 0 {
		vectors = copyBuffers(set, func(p *params.Parameter) []float64 { return p.Data })
	}

	res, err := c.exchange(ctx, contribution{op: opBroadcast, round: c.nextRound(), rank: c.rank, vectors: vectors})
	if err != nil {
		return err
	}

	if c.rank != 0 {
		for name, values := range res.vectors {
			p := set.Get(name)
			if p == nil {
				continue
			}
			if len(p.Data) != len(values) {
				p.Data = make([]float64, len(values))
			}
			copy(p.Data, values)
		}
	}

	return nil
}

// AllReduceGrad averages gradients across the world in place.
func (c *Inproc) AllReduceGrad(ctx context.Context, set *params.Set) error {
	return c.allReduce(ctx, set, c.nextRound())
}

// AllReduceGradAsync starts an all-reduce in the background. At most one
// operation may be pending per endpoint.
//
// The round number is reserved before returning so the endpoint's
// collective sequence stays ordered even though the exchange completes
// later.
func (c *Inproc) AllReduceGradAsync(ctx context.Context, set *params.Set) (types.AsyncOp, error) {
	if cur := c.current.Load(); cur != nil && !cur.completed() {
		return nil, types.ErrAsyncPending
	}

	round := c.nextRound()
	op := newAsyncOp()
	c.current.Store(op)
	go func() {
		op.finish(c.allReduce(ctx, set, round))
	}()

	return op, nil
}

// allReduce exchanges gradients for one round and writes the mean in place.
func (c *Inproc) allReduce(ctx context.Context, set *params.Set, round uint64) error {
	vectors := copyBuffers(set, func(p *params.Parameter) []float64 { return p.Grad })

	res, err := c.exchange(ctx, contribution{op: opAllReduce, round: round, rank: c.rank, vectors: vectors})
	if err != nil {
		return err
	}

	set.Each(func(p *params.Parameter) {
		mean, ok := res.vectors[p.Name]
		if !ok || !p.HasGrad() || len(mean) != len(p.Grad) {
			return
		}
		copy(p.Grad, mean)
	})

	return nil
}

// exchange contributes to the given round and waits for that round's result,
// discarding any late result left over from a previously abandoned round.
func (c *Inproc) exchange(ctx context.Context, contrib contribution) (result, error) {
	if c.cluster.closed.Load() {
		return result{}, types.ErrClosed
	}

	select {
	case c.cluster.fanin <- contrib:
	case <-c.cluster.done:
		return result{}, types.ErrClosed
	case <-ctx.Done():
		return result{}, fmt.Errorf("%w: %w", types.ErrCommunication, ctx.Err())
	}

	for {
		select {
		case res := <-c.cluster.fanout[c.rank]:
			if res.round != contrib.round {
				continue // late result of an abandoned round
			}
			if res.err != nil {
				return result{}, res.err
			}

			return res, nil
		case <-c.cluster.done:
			return result{}, types.ErrClosed
		case <-ctx.Done():
			return result{}, fmt.Errorf("%w: %w", types.ErrCommunication, ctx.Err())
		}
	}
}

// copyBuffers snapshots the selected buffer of every parameter that has one.
func copyBuffers(set *params.Set, pick func(*params.Parameter) []float64) map[string][]float64 {
	vectors := make(map[string][]float64, set.Len())
	set.Each(func(p *params.Parameter) {
		buf := pick(p)
		if buf == nil {
			return
		}
		cp := make([]float64, len(buf))
		copy(cp, buf)
		vectors[p.Name] = cp
	})

	return vectors
}
