package kvs

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"
	bolt "go.etcd.io/bbolt"
)

var bucketOwnership = []byte("ownership")

// command is the single log entry shape the KVS FSM understands, following
// the Op/Data envelope pkg/manager's FSM in this codebase's lineage uses
// for cluster-state commands, narrowed to the three operations this domain
// needs: committing ownership records (put_batch), counting barrier
// arrivals (barrier_join), and clearing a barrier's count (barrier_reset).
type command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

type putEntry struct {
	Key   string `json:"key"`
	Value uint32 `json:"value"`
}

type putBatch struct {
	Entries []putEntry `json:"entries"`
}

type barrierJoin struct {
	Name string `json:"name"`
}

// fsm is the Raft finite state machine backing RaftStore: it owns the
// authoritative in-memory ownership map and the set of goroutines blocked
// in WaitCreate, applying committed log entries in order.
type fsm struct {
	mu      sync.RWMutex
	values  map[string]uint32
	waiters map[string][]chan struct{}
	barrier map[string]int
	bolt    *bolt.DB
}

// newFSM warm-starts the ownership map from the bbolt bucket before raft
// ever replays a log entry into it: raft's own snapshot store and log live
// in separate bolt files under the same data dir, so on a node that lost
// those (but kept dyad-kvs.db) this still recovers the last-committed
// ownership records instead of starting empty and misrouting every lookup
// until the cluster catches the node back up.
func newFSM(db *bolt.DB) *fsm {
	f := &fsm{
		values:  make(map[string]uint32),
		waiters: make(map[string][]chan struct{}),
		barrier: make(map[string]int),
		bolt:    db,
	}
	if db != nil {
		_ = db.View(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketOwnership)
			if b == nil {
				return nil
			}
			return b.ForEach(func(k, v []byte) error {
				f.values[string(k)] = decodeUint32(v)
				return nil
			})
		})
	}
	return f
}

// Apply applies one committed Raft log entry. Called only by the raft
// library, from its own apply goroutine.
func (f *fsm) Apply(log *raft.Log) interface{} {
	var cmd command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("kvs fsm: unmarshal command: %w", err)
	}

	switch cmd.Op {
	case "put_batch":
		var batch putBatch
		if err := json.Unmarshal(cmd.Data, &batch); err != nil {
			return fmt.Errorf("kvs fsm: unmarshal put_batch: %w", err)
		}
		f.applyPutBatch(batch)
		return nil

	case "barrier_join":
		var j barrierJoin
		if err := json.Unmarshal(cmd.Data, &j); err != nil {
			return fmt.Errorf("kvs fsm: unmarshal barrier_join: %w", err)
		}
		f.mu.Lock()
		f.barrier[j.Name]++
		count := f.barrier[j.Name]
		f.mu.Unlock()
		return count

	case "barrier_reset":
		var j barrierJoin
		if err := json.Unmarshal(cmd.Data, &j); err != nil {
			return fmt.Errorf("kvs fsm: unmarshal barrier_reset: %w", err)
		}
		f.mu.Lock()
		delete(f.barrier, j.Name)
		f.mu.Unlock()
		return nil

	default:
		return fmt.Errorf("kvs fsm: unknown op %q", cmd.Op)
	}
}

func (f *fsm) applyPutBatch(batch putBatch) {
	f.mu.Lock()
	var released []chan struct{}
	for _, e := range batch.Entries {
		f.values[e.Key] = e.Value
		released = append(released, f.waiters[e.Key]...)
		delete(f.waiters, e.Key)
	}
	f.mu.Unlock()

	if f.bolt != nil {
		_ = f.bolt.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketOwnership)
			for _, e := range batch.Entries {
				if err := b.Put([]byte(e.Key), encodeUint32(e.Value)); err != nil {
					return err
				}
			}
			return nil
		})
	}

	for _, ch := range released {
		close(ch)
	}
}

func (f *fsm) get(key string) (uint32, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.values[key]
	return v, ok
}

func (f *fsm) registerWaiter(key string) (chan struct{}, uint32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.values[key]; ok {
		return nil, v, true
	}
	ch := make(chan struct{})
	f.waiters[key] = append(f.waiters[key], ch)
	return ch, 0, false
}

// removeWaiter drops ch from key's waiter list so a WaitCreate that gave up
// on ctx cancellation doesn't leak a channel no future commit will ever
// reach.
func (f *fsm) removeWaiter(key string, ch chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	waiters := f.waiters[key]
	for i, w := range waiters {
		if w == ch {
			f.waiters[key] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(f.waiters[key]) == 0 {
		delete(f.waiters, key)
	}
}

func (f *fsm) barrierCount(name string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.barrier[name]
}

// Snapshot and Restore implement raft.FSM for log compaction. The snapshot
// is the ownership map plus barrier counters, encoded as JSON — small by
// construction, since the map holds one entry per managed file currently
// known to the job, not per byte transferred.
type fsmSnapshot struct {
	Values  map[string]uint32 `json:"values"`
	Barrier map[string]int    `json:"barrier"`
}

func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	values := make(map[string]uint32, len(f.values))
	for k, v := range f.values {
		values[k] = v
	}
	barrier := make(map[string]int, len(f.barrier))
	for k, v := range f.barrier {
		barrier[k] = v
	}
	return &fsmSnapshot{Values: values, Barrier: barrier}, nil
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	data, err := json.Marshal(s)
	if err != nil {
		sink.Cancel()
		return err
	}
	if _, err := sink.Write(data); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}

func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap fsmSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("kvs fsm: decode snapshot: %w", err)
	}

	f.mu.Lock()
	f.values = snap.Values
	if f.values == nil {
		f.values = make(map[string]uint32)
	}
	f.barrier = snap.Barrier
	if f.barrier == nil {
		f.barrier = make(map[string]int)
	}
	f.waiters = make(map[string][]chan struct{})
	f.mu.Unlock()
	return nil
}

func encodeUint32(v uint32) []byte {
	return []byte(fmt.Sprintf("%d", v))
}

func decodeUint32(b []byte) uint32 {
	var v uint32
	fmt.Sscanf(string(b), "%d", &v)
	return v
}
