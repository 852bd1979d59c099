package kvs

import (
	"context"
	"sync"

	"github.com/cuemby/dyadgo/pkg/dyaderr"
)

// MemStore is an in-process Store double: same Store/Txn contract as
// RaftStore, backed by a plain guarded map instead of a raft log. It exists
// for unit tests and for simulating several logical ranks inside a single
// test process, where spinning up a real raft cluster per test would be
// pure overhead. It is not a cache sitting in front of another store: it is
// the entire store for processes that choose it.
type MemStore struct {
	mu      sync.Mutex
	values  map[string]uint32
	waiters map[string][]chan struct{}
	barrier map[string]int
	bchans  map[string][]chan struct{}
	rank    uint32
}

// NewMemStore creates a MemStore reporting the given rank for Store.Rank.
func NewMemStore(rank uint32) *MemStore {
	return &MemStore{
		values:  make(map[string]uint32),
		waiters: make(map[string][]chan struct{}),
		barrier: make(map[string]int),
		bchans:  make(map[string][]chan struct{}),
		rank:    rank,
	}
}

func (m *MemStore) Rank() uint32 { return m.rank }

func (m *MemStore) Close() error { return nil }

func (m *MemStore) Get(_ context.Context, key string) (uint32, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemStore) put(key string, value uint32) {
	m.mu.Lock()
	m.values[key] = value
	waiters := m.waiters[key]
	delete(m.waiters, key)
	m.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
}

func (m *MemStore) WaitCreate(ctx context.Context, key string) (uint32, error) {
	m.mu.Lock()
	if v, ok := m.values[key]; ok {
		m.mu.Unlock()
		return v, nil
	}
	ch := make(chan struct{})
	m.waiters[key] = append(m.waiters[key], ch)
	m.mu.Unlock()

	select {
	case <-ch:
		m.mu.Lock()
		v := m.values[key]
		m.mu.Unlock()
		return v, nil
	case <-ctx.Done():
		m.mu.Lock()
		m.removeWaiter(key, ch)
		m.mu.Unlock()
		return 0, dyaderr.Wrap(dyaderr.BADLOOKUP, "kvs.MemStore.WaitCreate", ctx.Err())
	}
}

// removeWaiter drops ch from key's waiter list so a canceled WaitCreate
// doesn't leak a channel that put() will never reach (the key it was
// waiting on may never be published). Caller holds m.mu.
func (m *MemStore) removeWaiter(key string, ch chan struct{}) {
	waiters := m.waiters[key]
	for i, w := range waiters {
		if w == ch {
			m.waiters[key] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(m.waiters[key]) == 0 {
		delete(m.waiters, key)
	}
}

func (m *MemStore) Barrier(ctx context.Context, name string, n int) error {
	m.mu.Lock()
	m.barrier[name]++
	count := m.barrier[name]
	ch := make(chan struct{})
	m.bchans[name] = append(m.bchans[name], ch)
	reached := count >= n
	var toRelease []chan struct{}
	if reached {
		toRelease = m.bchans[name]
		delete(m.bchans, name)
		delete(m.barrier, name)
	}
	m.mu.Unlock()

	if reached {
		for _, c := range toRelease {
			close(c)
		}
		return nil
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return dyaderr.Wrap(dyaderr.FLUXFAIL, "kvs.MemStore.Barrier", ctx.Err())
	}
}

// memTxn is MemStore's Txn implementation: entries are buffered and only
// take effect on Commit, matching the pack-then-commit sequence Txn models.
type memTxn struct {
	store   *MemStore
	entries map[string]uint32
	closed  bool
}

func (m *MemStore) NewTxn() Txn {
	return &memTxn{store: m, entries: make(map[string]uint32)}
}

func (t *memTxn) Pack(key string, value uint32) error {
	if t.closed {
		return dyaderr.New(dyaderr.BADPACK, "kvs.memTxn.Pack", "transaction already closed")
	}
	if _, exists := t.entries[key]; exists {
		return dyaderr.New(dyaderr.BADPACK, "kvs.memTxn.Pack", "key already packed in this transaction")
	}
	t.entries[key] = value
	return nil
}

func (t *memTxn) Commit(_ context.Context) error {
	if t.closed {
		return dyaderr.New(dyaderr.BADCOMMIT, "kvs.memTxn.Commit", "transaction already closed")
	}
	for k, v := range t.entries {
		t.store.put(k, v)
	}
	return nil
}

func (t *memTxn) Close() error {
	t.closed = true
	t.entries = nil
	return nil
}
