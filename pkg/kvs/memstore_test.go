package kvs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/dyadgo/pkg/dyaderr"
)

func TestMemStoreGetMissing(t *testing.T) {
	s := NewMemStore(0)
	_, ok, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemStorePackCommitGet(t *testing.T) {
	s := NewMemStore(0)
	txn := s.NewTxn()
	require.NoError(t, txn.Pack("topic/a", 7))
	require.NoError(t, txn.Commit(context.Background()))
	require.NoError(t, txn.Close())

	v, ok, err := s.Get(context.Background(), "topic/a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 7, v)
}

func TestMemStorePackDuplicateKeyFails(t *testing.T) {
	s := NewMemStore(0)
	txn := s.NewTxn()
	defer txn.Close()
	require.NoError(t, txn.Pack("topic/a", 1))
	err := txn.Pack("topic/a", 2)
	require.Error(t, err)
	assert.Equal(t, dyaderr.BADPACK, dyaderr.CodeOf(err))
}

func TestMemStoreCommitAfterCloseFails(t *testing.T) {
	s := NewMemStore(0)
	txn := s.NewTxn()
	require.NoError(t, txn.Close())
	err := txn.Commit(context.Background())
	require.Error(t, err)
	assert.Equal(t, dyaderr.BADCOMMIT, dyaderr.CodeOf(err))
}

func TestMemStoreWaitCreateBlocksUntilPublish(t *testing.T) {
	s := NewMemStore(0)

	var wg sync.WaitGroup
	wg.Add(1)
	var got uint32
	var waitErr error
	go func() {
		defer wg.Done()
		got, waitErr = s.WaitCreate(context.Background(), "topic/b")
	}()

	time.Sleep(20 * time.Millisecond) // give WaitCreate time to register

	txn := s.NewTxn()
	require.NoError(t, txn.Pack("topic/b", 42))
	require.NoError(t, txn.Commit(context.Background()))
	require.NoError(t, txn.Close())

	wg.Wait()
	require.NoError(t, waitErr)
	assert.EqualValues(t, 42, got)
}

func TestMemStoreWaitCreateReturnsImmediatelyIfAlreadySet(t *testing.T) {
	s := NewMemStore(0)
	txn := s.NewTxn()
	require.NoError(t, txn.Pack("topic/c", 9))
	require.NoError(t, txn.Commit(context.Background()))
	require.NoError(t, txn.Close())

	v, err := s.WaitCreate(context.Background(), "topic/c")
	require.NoError(t, err)
	assert.EqualValues(t, 9, v)
}

func TestMemStoreWaitCreateCancellation(t *testing.T) {
	s := NewMemStore(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.WaitCreate(ctx, "topic/never")
	require.Error(t, err)
	assert.Equal(t, dyaderr.BADLOOKUP, dyaderr.CodeOf(err))
}

func TestMemStoreBarrierReleasesAtN(t *testing.T) {
	s := NewMemStore(0)
	const n = 3

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Barrier(context.Background(), "start", n)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestMemStoreBarrierResetsCountAfterRelease(t *testing.T) {
	s := NewMemStore(0)
	const n = 2

	releaseRound := func() {
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = s.Barrier(context.Background(), "round", n)
			}(i)
		}
		wg.Wait()
		for _, err := range errs {
			require.NoError(t, err)
		}
	}

	releaseRound()

	// A second round under the same name must wait for n fresh arrivals
	// rather than seeing the first round's leftover count and returning
	// immediately for a lone caller.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := s.Barrier(ctx, "round", n)
	require.Error(t, err)
	assert.Equal(t, dyaderr.FLUXFAIL, dyaderr.CodeOf(err))
}

func TestMemStoreBarrierTimesOutBelowN(t *testing.T) {
	s := NewMemStore(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := s.Barrier(ctx, "stuck", 2)
	require.Error(t, err)
	assert.Equal(t, dyaderr.FLUXFAIL, dyaderr.CodeOf(err))
}

func TestMemStoreRankAndClose(t *testing.T) {
	s := NewMemStore(5)
	assert.EqualValues(t, 5, s.Rank())
	assert.NoError(t, s.Close())
}
