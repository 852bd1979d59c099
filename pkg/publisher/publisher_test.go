package publisher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/dyadgo/pkg/dyadctx"
	"github.com/cuemby/dyadgo/pkg/hashkey"
	"github.com/cuemby/dyadgo/pkg/kvs"
)

func newTestCoordinator(t *testing.T, rank uint32) *dyadctx.Coordinator {
	t.Helper()
	dyadctx.Reset()
	t.Cleanup(dyadctx.Reset)
	store := kvs.NewMemStore(rank)
	c, err := dyadctx.New(context.Background(), dyadctx.Config{KeyDepth: 3, KeyBins: 1024}, store)
	require.NoError(t, err)
	return c
}

func TestPublishCommitsOwnershipRecord(t *testing.T) {
	coord := newTestCoordinator(t, 2)

	require.NoError(t, Publish(context.Background(), coord, "a/b/c.dat"))

	topic, err := hashkey.Key("a/b/c.dat", 3, 1024)
	require.NoError(t, err)

	v, ok, err := coord.Store().Get(context.Background(), topic)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 2, v)
}

func TestPublishDegradedIsNoop(t *testing.T) {
	dyadctx.Reset()
	defer dyadctx.Reset()

	coord, err := dyadctx.New(context.Background(), dyadctx.Config{}, nil)
	require.NoError(t, err)

	require.NoError(t, Publish(context.Background(), coord, "anything"))
}
