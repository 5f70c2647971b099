package comm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/tsukuba-hpcs/gradsync/internal/kvutil"
	"github.com/tsukuba-hpcs/gradsync/internal/logging"
	"github.com/tsukuba-hpcs/gradsync/internal/metrics"
	"github.com/tsukuba-hpcs/gradsync/params"
	"github.com/tsukuba-hpcs/gradsync/types"
)

// NATS implements types.Communicator over NATS JetStream KeyValue buckets.
//
// Collective rounds are numbered with per-operation monotonic counters that
// every worker advances in lockstep, because every worker issues the same
// sequence of collectives. A broadcast round stores the root's data under
// one key; an all-reduce round stores one contribution per rank, and every
// worker averages all contributions locally once the round is complete
// (naive all-reduce). Old round entries age out via the bucket TTL.
//
// Collectives are not safe for concurrent use from multiple goroutines of
// the same worker, matching the single-logical-thread training loop model.
type NATS struct {
	cfg     Config
	rank    int
	claimer *rankClaimer
	collKV  jetstream.KeyValue
	logger  types.Logger
	metrics types.MetricsCollector

	bcastRound  atomic.Uint64
	reduceRound atomic.Uint64

	// In-flight async ops by round, plus the single currently-pending op.
	inflight *xsync.Map[uint64, *asyncOp]
	current  atomic.Pointer[asyncOp]

	renewalCancel context.CancelFunc
	closed        atomic.Bool
}

// Compile-time assertion that NATS implements Communicator.
var _ types.Communicator = (*NATS)(nil)

// NewNATS joins a collective world over the given NATS connection.
//
// Joining creates (or opens) the shared KV buckets and atomically claims a
// stable rank in [0, WorldSize). Rank 0 is the broadcast root. The rank
// lease is renewed in the background until Close is called.
//
// Parameters:
//   - ctx: Context for join timeout/cancellation
//   - nc: NATS connection (JetStream must be enabled server-side)
//   - cfg: Communicator configuration (WorldSize is required)
//   - opts: Optional logger and metrics
//
// Returns:
//   - *NATS: Joined communicator
//   - error: Validation error, bucket creation failure, or
//     types.ErrNoAvailableRank when the world is full
//
// Example:
//
//	cfg := comm.Config{WorldSize: 4}
//	c, err := comm.NewNATS(ctx, nc, &cfg, comm.WithLogger(logger))
//	if err != nil { /* handle */ }
//	defer c.Close(context.Background())
func NewNATS(ctx context.Context, nc *nats.Conn, cfg *Config, opts ...Option) (*NATS, error) {
	if nc == nil {
		return nil, errors.New("NATS connection is required")
	}
	if cfg == nil {
		return nil, types.ErrInvalidConfig
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &commOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = logging.NewNop()
	}
	if options.metrics == nil {
		options.metrics = metrics.NewNop()
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	rankKV, err := kvutil.EnsureBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:  cfg.rankBucket(),
		History: 1,
		TTL:     cfg.RankTTL,
	}, 5)
	if err != nil {
		return nil, fmt.Errorf("failed to create rank KV: %w", err)
	}

	collKV, err := kvutil.EnsureBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:  cfg.collectiveBucket(),
		History: 1,
		TTL:     cfg.CollectiveTTL,
	}, 5)
	if err != nil {
		return nil, fmt.Errorf("failed to create collective KV: %w", err)
	}

	claimer := newRankClaimer(rankKV, cfg.WorldSize, cfg.RankTTL, options.logger)
	rank, err := claimer.claim(ctx)
	if err != nil {
		return nil, err
	}

	// Renewal runs on its own lifecycle context, not the join context.
	renewCtx, renewCancel := context.WithCancel(context.Background())
	if err := claimer.startRenewal(renewCtx); err != nil {
		renewCancel()
		return nil, err
	}

	n := &NATS{
		cfg:           *cfg,
		rank:          rank,
		claimer:       claimer,
		collKV:        collKV,
		logger:        options.logger,
		metrics:       options.metrics,
		inflight:      xsync.NewMap[uint64, *asyncOp](),
		renewalCancel: renewCancel,
	}

	options.logger.Info("joined collective world",
		"rank", rank,
		"world_size", cfg.WorldSize,
		"bucket_prefix", cfg.BucketPrefix,
	)

	return n, nil
}

// Rank returns this worker's claimed rank.
func (n *NATS) Rank() int {
	return n.rank
}

// Size returns the configured world size.
func (n *NATS) Size() int {
	return n.cfg.WorldSize
}

// Close releases the rank claim and stops lease renewal.
//
// Every in-flight asynchronous round is waited for first so its round
// entries are fully published before the rank disappears.
//
// Parameters:
//   - ctx: Context for release timeout
//
// Returns:
//   - error: Release failure or context cancellation
func (n *NATS) Close(ctx context.Context) error {
	if !n.closed.CompareAndSwap(false, true) {
		return types.ErrClosed
	}

	n.inflight.Range(func(round uint64, op *asyncOp) bool {
		if err := op.Wait(ctx); err != nil {
			n.logger.Warn("async all-reduce round failed during close", "round", round, "error", err)
		}
		return ctx.Err() == nil
	})

	n.renewalCancel()

	return n.claimer.release(ctx)
}

// PendingRounds returns the round numbers of asynchronous all-reduce
// operations that have been dispatched but not yet completed, in no
// particular order. Intended for debugging and shutdown diagnostics.
func (n *NATS) PendingRounds() []uint64 {
	rounds := make([]uint64, 0, n.inflight.Size())
	n.inflight.Range(func(round uint64, op *asyncOp) bool {
		if !op.completed() {
			rounds = append(rounds, round)
		}
		return true
	})

	return rounds
}

// BroadcastData pushes full parameter data from rank 0 to all workers.
//
// The root serializes every allocated data buffer into the round's KV entry;
// every other worker polls for the entry and overwrites its local data
// buffers in place. Parameters the root never allocated are skipped, and a
// local name missing from the payload is left untouched.
func (n *NATS) BroadcastData(ctx context.Context, set *params.Set) error {
	if n.closed.Load() {
		return types.ErrClosed
	}

	start := time.Now()
	round := n.bcastRound.Add(1)
	key := fmt.Sprintf("bcast.%d", round)

	if n.rank == 0 {
		buf, err := encodeData(set, round, n.rank)
		if err != nil {
			return fmt.Errorf("%w: %w", types.ErrCommunication, err)
		}
		if _, err := n.collKV.Put(ctx, key, buf); err != nil {
			return fmt.Errorf("%w: broadcast round %d publish: %w", types.ErrCommunication, round, err)
		}
		n.metrics.RecordCollectivePayload("broadcast", len(buf))
	} else {
		buf, err := n.pollEntry(ctx, key)
		if err != nil {
			return fmt.Errorf("%w: broadcast round %d: %w", types.ErrCommunication, round, err)
		}
		vectors, err := decodePayload(buf)
		if err != nil {
			return fmt.Errorf("%w: broadcast round %d: %w", types.ErrCommunication, round, err)
		}
		n.applyData(set, vectors)
	}

	n.metrics.RecordBroadcastDuration(time.Since(start).Seconds())
	n.logger.Debug("broadcast round complete", "round", round, "rank", n.rank)

	return nil
}

// applyData overwrites local data buffers with broadcast values.
func (n *NATS) applyData(set *params.Set, vectors map[string][]float64) {
	for name, values := range vectors {
		p := set.Get(name)
		if p == nil {
			n.logger.Debug("broadcast payload names unknown parameter", "name", name)
			continue
		}
		if len(p.Data) != len(values) {
			p.Data = make([]float64, len(values))
		}
		copy(p.Data, values)
	}
}

// AllReduceGrad averages gradient buffers across all workers, blocking until
// every rank's contribution for the round is visible.
func (n *NATS) AllReduceGrad(ctx context.Context, set *params.Set) error {
	if n.closed.Load() {
		return types.ErrClosed
	}

	start := time.Now()
	round := n.reduceRound.Add(1)
	if err := n.allReduce(ctx, set, round); err != nil {
		return err
	}
	n.metrics.RecordAllReduceDuration(time.Since(start).Seconds(), false)

	return nil
}

// AllReduceGradAsync starts an all-reduce round in the background.
//
// The round number is reserved synchronously so collectives stay ordered
// even though the transfer completes later. At most one async operation may
// be pending; a second dispatch returns types.ErrAsyncPending.
func (n *NATS) AllReduceGradAsync(ctx context.Context, set *params.Set) (types.AsyncOp, error) {
	if n.closed.Load() {
		return nil, types.ErrClosed
	}
	if cur := n.current.Load(); cur != nil && !cur.completed() {
		return nil, types.ErrAsyncPending
	}

	start := time.Now()
	round := n.reduceRound.Add(1)
	op := newAsyncOp()
	n.inflight.Store(round, op)
	n.current.Store(op)

	go func() {
		err := n.allReduce(ctx, set, round)
		n.metrics.RecordAllReduceDuration(time.Since(start).Seconds(), true)
		op.finish(err)
		n.inflight.Delete(round)
	}()

	return op, nil
}

// allReduce publishes this rank's contribution, gathers all ranks'
// contributions, and writes the element-wise mean into the set's gradient
// buffers in place.
func (n *NATS) allReduce(ctx context.Context, set *params.Set, round uint64) error {
	buf, err := encodeGrads(set, round, n.rank)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrCommunication, err)
	}
	if _, err := n.collKV.Put(ctx, fmt.Sprintf("grad.%d.%d", round, n.rank), buf); err != nil {
		return fmt.Errorf("%w: all-reduce round %d publish: %w", types.ErrCommunication, round, err)
	}
	n.metrics.RecordCollectivePayload("allreduce", len(buf))

	sums := make(map[string][]float64)
	for rank := 0; rank < n.cfg.WorldSize; rank++ {
		peerBuf := buf
		if rank != n.rank {
			peerBuf, err = n.pollEntry(ctx, fmt.Sprintf("grad.%d.%d", round, rank))
			if err != nil {
				return fmt.Errorf("%w: all-reduce round %d rank %d: %w", types.ErrCommunication, round, rank, err)
			}
		}
		vectors, err := decodePayload(peerBuf)
		if err != nil {
			return fmt.Errorf("%w: all-reduce round %d rank %d: %w", types.ErrCommunication, round, rank, err)
		}
		accumulate(sums, vectors)
	}

	world := float64(n.cfg.WorldSize)
	set.Each(func(p *params.Parameter) {
		sum, ok := sums[p.Name]
		if !ok || !p.HasGrad() || len(sum) != len(p.Grad) {
			return
		}
		for i, v := range sum {
			p.Grad[i] = v / world
		}
	})

	n.logger.Debug("all-reduce round complete", "round", round, "rank", n.rank)

	return nil
}

// accumulate adds each contribution vector into the running sums.
func accumulate(sums map[string][]float64, vectors map[string][]float64) {
	for name, values := range vectors {
		sum, ok := sums[name]
		if !ok {
			sum = make([]float64, len(values))
			sums[name] = sum
		}
		if len(sum) != len(values) {
			continue // Shape mismatch across ranks; the name is dropped from the mean.
		}
		for i, v := range values {
			sum[i] += v
		}
	}
}

// pollEntry polls a KV key until it appears, backing off with decorrelated
// jitter between probes. The context bounds the total wait.
func (n *NATS) pollEntry(ctx context.Context, key string) ([]byte, error) {
	var delay time.Duration
	for {
		entry, err := n.collKV.Get(ctx, key)
		if err == nil {
			return entry.Value(), nil
		}
		if !errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("kv get %s: %w", key, err)
		}

		delay = jitterBackoff(delay, n.cfg.PollInterval, 2.0, n.cfg.PollMaxInterval, nil)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", key, ctx.Err())
		case <-time.After(delay):
		}
	}
}
