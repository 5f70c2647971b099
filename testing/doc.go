// Package testing provides helpers for testing gradsync-dependent code:
// an embedded NATS server with JetStream enabled, a JetStream KV factory,
// and a types.Logger that writes through testing.T.
//
// Import it under an alias to avoid clashing with the standard library:
//
//	import gstest "github.com/tsukuba-hpcs/gradsync/testing"
package testing
