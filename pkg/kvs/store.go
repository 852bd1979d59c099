// Package kvs is the concrete shape of the coordination engine's KVS wire
// contract: a transactional put with immediate wait, and a wait-create
// lookup that blocks until a key exists. It is the ownership ledger
// publishers write to and subscribers block on.
//
// Production deployments of the system this package belongs to sit on top
// of a pre-existing distributed coordination service reached over an
// external transport. This package still needs a concrete backing
// implementation to be exercised end-to-end, so it provides two: RaftStore,
// a genuinely distributed KVS built on hashicorp/raft, and MemStore, an
// in-process double for tests and same-process multi-rank simulation.
package kvs

import "context"

// Store is the KVS half of the transport contract. Implementations must be
// safe for concurrent use by multiple goroutines (one per hook invocation).
type Store interface {
	// NewTxn begins a transaction. Callers must Close it on every exit
	// path, following an acquire-use-release-on-all-exits resource
	// discipline.
	NewTxn() Txn

	// Get performs a non-blocking read. ok is false if the key does not
	// exist yet.
	Get(ctx context.Context, key string) (value uint32, ok bool, err error)

	// WaitCreate blocks until key exists, then returns its value. There is
	// no timeout in the baseline contract: the only way this returns early
	// is ctx cancellation, which callers use for process teardown, not as
	// a user-facing deadline.
	WaitCreate(ctx context.Context, key string) (value uint32, err error)

	// Barrier blocks until n calls to Barrier with the same name have
	// arrived, implementing an N-party startup rendezvous. Every call
	// counts as one participant; repeated calls from one caller are not
	// told apart.
	Barrier(ctx context.Context, name string, n int) error

	// Rank returns this process's rank in the job, as obtained from the
	// transport at connect time.
	Rank() uint32

	Close() error
}

// Txn is a single KVS transaction: pack zero or more entries, then commit
// them atomically. This models the create/pack/commit/destroy sequence
// explicitly instead of collapsing it into a single Put call.
type Txn interface {
	// Pack stages key -> value for the next Commit. Packing the same key
	// twice in one transaction is an error (BADPACK): the transaction
	// model assumes one ownership record per commit.
	Pack(key string, value uint32) error

	// Commit durably applies every packed entry and blocks until the
	// commit completes: the caller's close does not return until the
	// ownership record is durable.
	Commit(ctx context.Context) error

	// Close releases transaction resources. Safe to call after Commit, and
	// safe to call without a prior Commit (an abandoned transaction).
	Close() error
}
