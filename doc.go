// Package gradsync synchronizes gradients of a replicated parameter set
// across a world of workers, wrapping a local optimizer so that iterative
// optimization behaves correctly in a distributed setting.
//
// Two coordinator variants are provided:
//
//   - Trainer: fully synchronous. Every Update call computes gradients,
//     detects structural change, and either broadcasts full parameter data
//     (on change) or all-reduces gradients and runs the local optimizer
//     step, blocking on communication each iteration.
//
//   - DoubleBufferedTrainer: overlaps the gradient all-reduce with the next
//     iteration's compute by double-buffering gradient ownership between the
//     live parameter set and a communicated deep copy. The optimizer update
//     is applied one iteration late, using gradients that have already
//     completed their all-reduce. This hides communication latency at the
//     cost of one iteration of gradient staleness.
//
// Both variants use a structural change detector: whenever the set of
// parameter names, or the data-allocation state of any parameter, differs
// from the last communication round, the coordinator resynchronizes the full
// parameter data with a broadcast from rank 0 instead of running an
// all-reduce that would assume matching shapes on every worker.
//
// The communication fabric and the numeric update rule are pluggable: any
// types.Communicator (the comm package ships a NATS JetStream implementation
// and an in-process one) and any types.Optimizer (the optimizer package
// ships SGD and Momentum) can be combined.
//
// Basic usage:
//
//	set := params.NewSet()
//	set.Add(&params.Parameter{Name: "w", Data: make([]float64, 128)})
//
//	opt := optimizer.NewSGD(0.01)
//	opt.Setup(set)
//
//	trainer, err := gradsync.New(nil, comm, opt)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for i := 0; i < steps; i++ {
//	    err := trainer.Update(ctx, func(ctx context.Context) (float64, error) {
//	        return model.ForwardBackward()
//	    })
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	}
package gradsync
