package kvs

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func TestNewFSMWarmStartsFromOwnershipBucket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dyad-kvs.db")
	db, err := bolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketOwnership)
		if err != nil {
			return err
		}
		return b.Put([]byte("topic/a"), encodeUint32(7))
	}))

	f := newFSM(db)
	v, ok := f.get("topic/a")
	require.True(t, ok)
	require.EqualValues(t, 7, v)
}

func TestNewFSMWithNilBoltStartsEmpty(t *testing.T) {
	f := newFSM(nil)
	_, ok := f.get("anything")
	require.False(t, ok)
}
