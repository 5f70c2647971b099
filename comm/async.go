package comm

import (
	"context"
	"sync"

	"github.com/tsukuba-hpcs/gradsync/types"
)

// asyncOp is the AsyncOp implementation shared by all communicators.
//
// finish is idempotent, so a completed operation can be waited on any number
// of times and always reports the same result.
type asyncOp struct {
	done chan struct{}
	once sync.Once
	err  error
}

var _ types.AsyncOp = (*asyncOp)(nil)

func newAsyncOp() *asyncOp {
	return &asyncOp{done: make(chan struct{})}
}

// finish records the operation result and releases all waiters.
func (o *asyncOp) finish(err error) {
	o.once.Do(func() {
		o.err = err
		close(o.done)
	})
}

// completed reports whether the operation has finished without blocking.
func (o *asyncOp) completed() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the operation completes or the context expires.
func (o *asyncOp) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed when the operation finishes.
func (o *asyncOp) Done() <-chan struct{} {
	return o.done
}
