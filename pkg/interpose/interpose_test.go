package interpose

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/dyadgo/pkg/dyadctx"
	"github.com/cuemby/dyadgo/pkg/hashkey"
	"github.com/cuemby/dyadgo/pkg/kvs"
)

func newTestCoordinator(t *testing.T, rank uint32, cfg dyadctx.Config) *dyadctx.Coordinator {
	t.Helper()
	dyadctx.Reset()
	t.Cleanup(dyadctx.Reset)
	store := kvs.NewMemStore(rank)
	cfg.KeyDepth, cfg.KeyBins = 3, 1024
	c, err := dyadctx.New(context.Background(), cfg, store)
	require.NoError(t, err)
	return c
}

func TestOpenNonManagedPathSkipsCoordination(t *testing.T) {
	prodRoot := t.TempDir()
	consRoot := t.TempDir()
	coord := newTestCoordinator(t, 0, dyadctx.Config{ProducerPrefix: prodRoot, ConsumerPrefix: consRoot})
	h := Hooks{Coordinator: coord}

	other := filepath.Join(t.TempDir(), "untracked.txt")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))

	f, err := h.Open(context.Background(), other, os.O_RDONLY, 0)
	require.NoError(t, err)
	defer f.Close()
	assert.False(t, h.applicableForOpen(context.Background(), other, os.O_RDONLY))
}

func TestCloseWriteOnlyUnderProducerPrefixPublishes(t *testing.T) {
	prodRoot := t.TempDir()
	coord := newTestCoordinator(t, 4, dyadctx.Config{ProducerPrefix: prodRoot})
	h := Hooks{Coordinator: coord}

	path := filepath.Join(prodRoot, "out.dat")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("hello")
	require.NoError(t, err)

	require.NoError(t, h.Close(context.Background(), f, path, true))

	topic, err := hashkey.Key("out.dat", 3, 1024)
	require.NoError(t, err)
	v, ok, err := coord.Store().Get(context.Background(), topic)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 4, v)
}

func TestCloseReadOnlyNeverPublishes(t *testing.T) {
	prodRoot := t.TempDir()
	coord := newTestCoordinator(t, 4, dyadctx.Config{ProducerPrefix: prodRoot})
	h := Hooks{Coordinator: coord}

	path := filepath.Join(prodRoot, "readme.dat")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	f, err := os.Open(path)
	require.NoError(t, err)

	require.NoError(t, h.Close(context.Background(), f, path, false))

	topic, err := hashkey.Key("readme.dat", 3, 1024)
	require.NoError(t, err)
	_, ok, err := coord.Store().Get(context.Background(), topic)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReentryDisabledSkipsOpenCoordination(t *testing.T) {
	consRoot := t.TempDir()
	coord := newTestCoordinator(t, 0, dyadctx.Config{ConsumerPrefix: consRoot})
	h := Hooks{Coordinator: coord}

	ctx := dyadctx.WithReentryDisabled(context.Background())
	assert.False(t, h.applicableForOpen(ctx, filepath.Join(consRoot, "x.dat"), os.O_RDONLY))
}

func TestWithinPrefix(t *testing.T) {
	assert.True(t, withinPrefix("/data/cons/a/b.dat", "/data/cons"))
	assert.True(t, withinPrefix("/data/cons", "/data/cons"))
	assert.False(t, withinPrefix("/data/consumer-other/a.dat", "/data/cons"))
	assert.False(t, withinPrefix("/other/a.dat", "/data/cons"))
}

func TestManagedFSCreateAndClose(t *testing.T) {
	prodRoot := t.TempDir()
	coord := newTestCoordinator(t, 1, dyadctx.Config{ProducerPrefix: prodRoot})
	mfs := NewManagedFS(context.Background(), coord, nil)

	path := filepath.Join(prodRoot, "m.dat")
	f, err := mfs.Create(path)
	require.NoError(t, err)
	_, err = f.WriteString("managed")
	require.NoError(t, err)
	require.NoError(t, mfs.Close(f, path, true))

	topic, err := hashkey.Key("m.dat", 3, 1024)
	require.NoError(t, err)
	_, ok, err := coord.Store().Get(context.Background(), topic)
	require.NoError(t, err)
	assert.True(t, ok)
}
