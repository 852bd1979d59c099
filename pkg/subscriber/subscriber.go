// Package subscriber handles the consumer-open side of coordination: on
// open of a managed file, resolve the owner rank (blocking until
// published), and unless the file is already visible locally, fetch it
// over RPC and write it into the consumer's managed directory before the
// real open proceeds.
package subscriber

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cuemby/dyadgo/pkg/dyadctx"
	"github.com/cuemby/dyadgo/pkg/dyaderr"
	"github.com/cuemby/dyadgo/pkg/fetchrpc"
	"github.com/cuemby/dyadgo/pkg/hashkey"
	"github.com/cuemby/dyadgo/pkg/log"
	"github.com/cuemby/dyadgo/pkg/metrics"
	"github.com/google/uuid"
)

// managedDirMode is u=rwx g=rwx o=rx plus setgid, the filesystem-output mode
// for directories the subscriber creates under the consumer prefix.
const managedDirMode = os.FileMode(0o2775)

// Dialer resolves a rank to a fetch address. Production wiring looks this
// up from whatever service-discovery mechanism backs the job; tests supply
// a fixed map.
type Dialer func(ctx context.Context, ownerRank uint32) (addr string, err error)

// Subscribe runs the full consumer-side sequence: topic lookup, ownership
// resolution, conditional fetch, and local write. The caller (the
// interposer) is expected to already have disabled reentry on ctx before
// the local write runs; Subscribe disables it itself as a second line of
// defense so the coordination never re-triggers the hooks regardless of
// caller discipline.
func Subscribe(ctx context.Context, coord *dyadctx.Coordinator, consumerPrefix, userPath string, dial Dialer) error {
	timer := metrics.NewTimer()
	var outcome string
	defer func() {
		metrics.SubscribesTotal.WithLabelValues(outcome).Inc()
		timer.ObserveDuration(metrics.SubscribeDuration)
	}()

	if !coord.Ready() {
		outcome = "degraded"
		return nil
	}

	cfg := coord.Config()
	topic, err := hashkey.Key(userPath, cfg.KeyDepth, cfg.KeyBins)
	if err != nil {
		outcome = "bad_topic"
		werr := dyaderr.Wrap(dyaderr.BADMANAGEDPATH, "subscriber.Subscribe", err)
		log.Errorf("subscribe failed", werr)
		return werr
	}

	lookupTimer := metrics.NewTimer()
	ownerRank, err := coord.Store().WaitCreate(ctx, topic)
	lookupTimer.ObserveDuration(metrics.KVSLookupDuration)
	if err != nil {
		outcome = "bad_lookup"
		werr := dyaderr.Wrap(dyaderr.BADLOOKUP, "subscriber.Subscribe", err)
		log.Errorf("subscribe failed", werr)
		return werr
	}

	if cfg.SharedStorage || ownerRank == coord.Rank() {
		metrics.SharedStorageSkipsTotal.Inc()
		outcome = "local"
		log.Logger.Debug().Str("topic", topic).Str("user_path", userPath).Msg("owner is local, skipping fetch")
		return nil
	}

	if dial == nil {
		outcome = "bad_rpc"
		werr := dyaderr.New(dyaderr.BADRPC, "subscriber.Subscribe", "no dialer configured for remote owner")
		log.Errorf("subscribe failed", werr)
		return werr
	}

	addr, err := dial(ctx, ownerRank)
	if err != nil {
		outcome = "bad_rpc"
		werr := dyaderr.Wrap(dyaderr.BADRPC, "subscriber.Subscribe", err)
		log.Errorf("subscribe failed", werr)
		return werr
	}

	client, err := fetchrpc.Dial(addr)
	if err != nil {
		outcome = "bad_rpc"
		log.Errorf("subscribe failed", err)
		return err
	}
	defer client.Close()

	fetchCtx := dyadctx.WithReentryDisabled(ctx)
	rc, err := client.Fetch(fetchCtx, uuid.NewString(), userPath)
	if err != nil {
		outcome = "bad_fetch"
		log.Errorf("subscribe failed", err)
		return err
	}
	defer rc.Close()

	if err := writeLocal(consumerPrefix, userPath, rc); err != nil {
		if dyaderr.CodeOf(err) == dyaderr.RPCFinished {
			outcome = "rpc_finished"
		} else {
			outcome = "bad_fio"
		}
		log.Errorf("subscribe failed", err)
		return err
	}

	outcome = "fetched"
	log.Logger.Debug().Str("topic", topic).Uint32("owner_rank", ownerRank).Str("user_path", userPath).Msg("fetched and wrote local copy")
	return nil
}

// writeLocal composes consumer_prefix + "/" + user_path, creates missing
// intermediate directories (never "." itself), and copies src into the
// output file. A copy error carrying RPC_FINISHED (the stream ended before
// any data arrived) propagates as RPC_FINISHED rather than BADFIO, and the
// empty file it would otherwise leave behind is removed. Any other short
// write or copy error is BADFIO.
func writeLocal(consumerPrefix, userPath string, src io.Reader) error {
	outPath := filepath.Join(consumerPrefix, userPath)
	dir := filepath.Dir(outPath)
	if dir != "." {
		if err := os.MkdirAll(dir, managedDirMode); err != nil {
			return dyaderr.Wrap(dyaderr.BADFIO, "subscriber.writeLocal", fmt.Errorf("create managed dir: %w", err))
		}
	}

	f, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return dyaderr.Wrap(dyaderr.BADFIO, "subscriber.writeLocal", fmt.Errorf("open output: %w", err))
	}

	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()

	if copyErr != nil {
		if dyaderr.CodeOf(copyErr) == dyaderr.RPCFinished {
			os.Remove(outPath)
			return dyaderr.Wrap(dyaderr.RPCFinished, "subscriber.writeLocal", copyErr)
		}
		return dyaderr.Wrap(dyaderr.BADFIO, "subscriber.writeLocal", fmt.Errorf("write %d bytes: %w", n, copyErr))
	}
	if closeErr != nil {
		return dyaderr.Wrap(dyaderr.BADFIO, "subscriber.writeLocal", fmt.Errorf("close output: %w", closeErr))
	}
	return nil
}
