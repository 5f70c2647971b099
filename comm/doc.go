// Package comm provides types.Communicator implementations.
//
// Two fabrics are included:
//
//   - NATS: collectives over NATS JetStream KeyValue buckets. Workers claim
//     stable ranks atomically via KV create-with-TTL, the root publishes
//     broadcast rounds, and all-reduce rounds gather per-rank gradient
//     contributions that every worker averages locally.
//   - Inproc: an in-process fan-in/fan-out fabric for same-process workers,
//     used heavily in tests and useful for single-machine data parallelism.
//
// Both fabrics implement the same contract: collectives are global ordering
// barriers, every worker must issue the same sequence of operations, and
// transport failures surface wrapped with types.ErrCommunication. Retry and
// backoff live entirely inside this package; callers never retry a failed
// collective.
package comm
