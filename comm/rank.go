package comm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/tsukuba-hpcs/gradsync/types"
)

// rankClaimer claims and renews a stable rank in [0, worldSize).
//
// It uses NATS KV for atomic claiming with TTL-based leases: the first
// worker to Create "rank.N" owns rank N until its lease lapses. Rank 0 is
// the broadcast root, so rank identity must be stable for the lifetime of
// the worker process.
type rankClaimer struct {
	kv        jetstream.KeyValue
	worldSize int
	ttl       time.Duration
	logger    types.Logger

	rank     int
	revision uint64
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newRankClaimer(kv jetstream.KeyValue, worldSize int, ttl time.Duration, logger types.Logger) *rankClaimer {
	return &rankClaimer{
		kv:        kv,
		worldSize: worldSize,
		ttl:       ttl,
		logger:    logger,
		rank:      -1,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

func rankKey(rank int) string {
	return fmt.Sprintf("rank.%d", rank)
}

// claim sequentially tries ranks 0..worldSize-1 until one is available.
//
// Uses the KV Create operation for atomic claiming: exactly one worker wins
// each rank even when the whole world joins at once.
func (r *rankClaimer) claim(ctx context.Context) (int, error) {
	ident, _ := os.Hostname()
	ident = fmt.Sprintf("%s/%d", ident, os.Getpid())

	for rank := 0; rank < r.worldSize; rank++ {
		rev, err := r.kv.Create(ctx, rankKey(rank), []byte(ident))
		if err == nil {
			r.rank = rank
			r.revision = rev
			r.logger.Info("claimed rank", "rank", rank, "world_size", r.worldSize)

			return rank, nil
		}

		if errors.Is(err, jetstream.ErrKeyExists) {
			continue // Rank taken; try the next one.
		}
		if ctx.Err() != nil {
			return -1, fmt.Errorf("rank claim cancelled: %w", ctx.Err())
		}

		return -1, fmt.Errorf("failed to claim rank %d: %w", rank, err)
	}

	return -1, fmt.Errorf("%w: world size %d", types.ErrNoAvailableRank, r.worldSize)
}

// startRenewal renews the rank lease at ttl/3 until stop is called.
//
// Renewal uses revision-checked updates so a rank that was lost (lease
// expired and reclaimed elsewhere) is detected instead of silently stolen
// back.
func (r *rankClaimer) startRenewal(ctx context.Context) error {
	if r.rank < 0 {
		return types.ErrNotJoined
	}

	go func() {
		defer close(r.doneCh)

		interval := r.ttl / 3
		if interval < 100*time.Millisecond {
			interval = 100 * time.Millisecond
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				entry, err := r.kv.Get(ctx, rankKey(r.rank))
				if err != nil {
					r.logger.Error("rank lease lookup failed", "rank", r.rank, "error", err)
					continue
				}
				rev, err := r.kv.Update(ctx, rankKey(r.rank), entry.Value(), entry.Revision())
				if err != nil {
					r.logger.Error("rank lease renewal failed", "rank", r.rank, "error", err)
					continue
				}
				r.revision = rev
			}
		}
	}()

	return nil
}

// release stops renewal and deletes the rank claim.
func (r *rankClaimer) release(ctx context.Context) error {
	if r.rank < 0 {
		return types.ErrNotJoined
	}

	close(r.stopCh)
	<-r.doneCh

	if err := r.kv.Delete(ctx, rankKey(r.rank)); err != nil {
		return fmt.Errorf("failed to release rank %d: %w", r.rank, err)
	}
	r.logger.Info("released rank", "rank", r.rank)
	r.rank = -1

	return nil
}
