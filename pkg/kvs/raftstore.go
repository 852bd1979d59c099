package kvs

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/dyadgo/pkg/dyaderr"
	"github.com/cuemby/dyadgo/pkg/log"
	"github.com/cuemby/dyadgo/pkg/metrics"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	bolt "go.etcd.io/bbolt"
)

// RaftConfig configures a RaftStore. The first rank to stand up the KVS
// bootstraps a single-member cluster; every other rank sets JoinAddr and
// becomes a voter once the leader adds it with AddVoter.
type RaftConfig struct {
	NodeID   string
	BindAddr string
	DataDir  string
	Rank     uint32

	// JoinAddr, if set, marks this node as joining an existing cluster:
	// NewRaftStore skips bootstrapping. NewRaftStore does not contact
	// JoinAddr; the node takes part only after the leader calls AddVoter
	// for it.
	JoinAddr string
}

// RaftStore is the production-grounded Store implementation: a single
// raft.Raft instance per node replicating ownership records, with
// raft-boltdb backing the log and stable stores and a bbolt bucket
// snapshotting the ownership map.
type RaftStore struct {
	raft *raft.Raft
	fsm  *fsm
	bolt *bolt.DB
	rank uint32
}

// NewRaftStore creates a raft-backed KVS node and, unless cfg.JoinAddr is
// set, bootstraps it as a single-member cluster. With JoinAddr set it
// bootstraps nothing and does not dial JoinAddr.
func NewRaftStore(cfg RaftConfig) (*RaftStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, dyaderr.Wrap(dyaderr.SYSFAIL, "kvs.NewRaftStore", fmt.Errorf("create data dir: %w", err))
	}

	db, err := bolt.Open(filepath.Join(cfg.DataDir, "dyad-kvs.db"), 0o600, nil)
	if err != nil {
		return nil, dyaderr.Wrap(dyaderr.SYSFAIL, "kvs.NewRaftStore", fmt.Errorf("open ownership snapshot db: %w", err))
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketOwnership)
		return err
	}); err != nil {
		db.Close()
		return nil, dyaderr.Wrap(dyaderr.SYSFAIL, "kvs.NewRaftStore", err)
	}

	f := newFSM(db)

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		db.Close()
		return nil, dyaderr.Wrap(dyaderr.SYSFAIL, "kvs.NewRaftStore", fmt.Errorf("resolve bind addr: %w", err))
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		db.Close()
		return nil, dyaderr.Wrap(dyaderr.SYSFAIL, "kvs.NewRaftStore", fmt.Errorf("create raft transport: %w", err))
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		db.Close()
		return nil, dyaderr.Wrap(dyaderr.SYSFAIL, "kvs.NewRaftStore", fmt.Errorf("create snapshot store: %w", err))
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		db.Close()
		return nil, dyaderr.Wrap(dyaderr.SYSFAIL, "kvs.NewRaftStore", fmt.Errorf("create raft log store: %w", err))
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		db.Close()
		return nil, dyaderr.Wrap(dyaderr.SYSFAIL, "kvs.NewRaftStore", fmt.Errorf("create raft stable store: %w", err))
	}

	r, err := raft.NewRaft(raftConfig, f, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		db.Close()
		return nil, dyaderr.Wrap(dyaderr.SYSFAIL, "kvs.NewRaftStore", fmt.Errorf("create raft: %w", err))
	}

	if cfg.JoinAddr == "" {
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{ID: raftConfig.LocalID, Address: transport.LocalAddr()},
			},
		}
		if err := r.BootstrapCluster(configuration).Error(); err != nil {
			db.Close()
			return nil, dyaderr.Wrap(dyaderr.FLUXFAIL, "kvs.NewRaftStore", fmt.Errorf("bootstrap cluster: %w", err))
		}
	}

	return &RaftStore{raft: r, fsm: f, bolt: db, rank: cfg.Rank}, nil
}

// AddVoter adds another node to this node's raft cluster. Only the leader
// can do this; on any other node it returns FLUXFAIL without contacting
// the leader.
func (s *RaftStore) AddVoter(nodeID, address string) error {
	if s.raft.State() != raft.Leader {
		return dyaderr.New(dyaderr.FLUXFAIL, "kvs.RaftStore.AddVoter", "not the leader")
	}
	future := s.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return dyaderr.Wrap(dyaderr.FLUXFAIL, "kvs.RaftStore.AddVoter", err)
	}
	return nil
}

func (s *RaftStore) Rank() uint32 { return s.rank }

func (s *RaftStore) Close() error {
	if err := s.raft.Shutdown().Error(); err != nil {
		log.Errorf("kvs: raft shutdown failed", err)
	}
	return s.bolt.Close()
}

func (s *RaftStore) Get(_ context.Context, key string) (uint32, bool, error) {
	v, ok := s.fsm.get(key)
	return v, ok, nil
}

func (s *RaftStore) WaitCreate(ctx context.Context, key string) (uint32, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.KVSLookupDuration)

	ch, v, ok := s.fsm.registerWaiter(key)
	if ok {
		return v, nil
	}
	select {
	case <-ch:
		v, _ := s.fsm.get(key)
		return v, nil
	case <-ctx.Done():
		s.fsm.removeWaiter(key, ch)
		return 0, dyaderr.Wrap(dyaderr.BADLOOKUP, "kvs.RaftStore.WaitCreate", ctx.Err())
	}
}

func (s *RaftStore) Barrier(ctx context.Context, name string, n int) error {
	data, err := json.Marshal(command{Op: "barrier_join", Data: mustJSON(barrierJoin{Name: name})})
	if err != nil {
		return dyaderr.Wrap(dyaderr.BADPACK, "kvs.RaftStore.Barrier", err)
	}
	future := s.raft.Apply(data, 10*time.Second)
	if err := future.Error(); err != nil {
		return dyaderr.Wrap(dyaderr.FLUXFAIL, "kvs.RaftStore.Barrier", err)
	}

	for {
		if s.fsm.barrierCount(name) >= n {
			// Clear the counter through raft so a later Barrier call under the
			// same name starts counting arrivals from zero instead of seeing
			// this round's count and returning immediately. Best-effort: more
			// than one participant may race to apply this, which is harmless
			// since resetting an already-reset name is a no-op.
			resetData, err := json.Marshal(command{Op: "barrier_reset", Data: mustJSON(barrierJoin{Name: name})})
			if err == nil {
				s.raft.Apply(resetData, 10*time.Second)
			}
			return nil
		}
		select {
		case <-time.After(20 * time.Millisecond):
		case <-ctx.Done():
			return dyaderr.Wrap(dyaderr.FLUXFAIL, "kvs.RaftStore.Barrier", ctx.Err())
		}
	}
}

// raftTxn buffers Pack calls and applies them as a single raft log entry on
// Commit, so a producer's batch of ownership records lands atomically.
type raftTxn struct {
	store   *RaftStore
	entries []putEntry
	seen    map[string]struct{}
	closed  bool
}

func (s *RaftStore) NewTxn() Txn {
	return &raftTxn{store: s, seen: make(map[string]struct{})}
}

func (t *raftTxn) Pack(key string, value uint32) error {
	if t.closed {
		return dyaderr.New(dyaderr.BADPACK, "kvs.raftTxn.Pack", "transaction already closed")
	}
	if _, exists := t.seen[key]; exists {
		return dyaderr.New(dyaderr.BADPACK, "kvs.raftTxn.Pack", "key already packed in this transaction")
	}
	t.seen[key] = struct{}{}
	t.entries = append(t.entries, putEntry{Key: key, Value: value})
	return nil
}

func (t *raftTxn) Commit(ctx context.Context) error {
	if t.closed {
		return dyaderr.New(dyaderr.BADCOMMIT, "kvs.raftTxn.Commit", "transaction already closed")
	}
	if len(t.entries) == 0 {
		return nil
	}

	data, err := json.Marshal(command{Op: "put_batch", Data: mustJSON(putBatch{Entries: t.entries})})
	if err != nil {
		return dyaderr.Wrap(dyaderr.BADPACK, "kvs.raftTxn.Commit", err)
	}

	deadline := 10 * time.Second
	if d, ok := ctx.Deadline(); ok {
		if rem := time.Until(d); rem < deadline {
			deadline = rem
		}
	}

	future := t.store.raft.Apply(data, deadline)
	if err := future.Error(); err != nil {
		return dyaderr.Wrap(dyaderr.BADCOMMIT, "kvs.raftTxn.Commit", err)
	}
	if resp := future.Response(); resp != nil {
		if respErr, ok := resp.(error); ok && respErr != nil {
			return dyaderr.Wrap(dyaderr.BADCOMMIT, "kvs.raftTxn.Commit", respErr)
		}
	}
	return nil
}

func (t *raftTxn) Close() error {
	t.closed = true
	t.entries = nil
	return nil
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err) // only ever marshals our own fixed-shape structs
	}
	return data
}
