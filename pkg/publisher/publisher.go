// Package publisher handles the producer-close side of coordination: when a
// managed file is closed after a write, commit an ownership record
// topic -> rank to the KVS.
package publisher

import (
	"context"

	"github.com/cuemby/dyadgo/pkg/dyaderr"
	"github.com/cuemby/dyadgo/pkg/dyadctx"
	"github.com/cuemby/dyadgo/pkg/hashkey"
	"github.com/cuemby/dyadgo/pkg/log"
	"github.com/cuemby/dyadgo/pkg/metrics"
)

// Publish computes the topic for userPath and commits an ownership record
// pointing at coord's rank. The commit blocks until durable in the KVS:
// this is the ordering primitive WaitCreate relies on.
func Publish(ctx context.Context, coord *dyadctx.Coordinator, userPath string) error {
	timer := metrics.NewTimer()
	var outcome string
	defer func() {
		metrics.PublishesTotal.WithLabelValues(outcome).Inc()
		timer.ObserveDuration(metrics.PublishDuration)
	}()

	if !coord.Ready() {
		outcome = "degraded"
		return nil
	}

	cfg := coord.Config()
	topic, err := hashkey.Key(userPath, cfg.KeyDepth, cfg.KeyBins)
	if err != nil {
		outcome = "bad_topic"
		werr := dyaderr.Wrap(dyaderr.BADMANAGEDPATH, "publisher.Publish", err)
		log.Errorf("publish failed", werr)
		return werr
	}

	txn := coord.Store().NewTxn()
	defer txn.Close()

	if err := txn.Pack(topic, coord.Rank()); err != nil {
		outcome = "bad_pack"
		werr := dyaderr.Wrap(dyaderr.BADPACK, "publisher.Publish", err)
		log.Errorf("publish failed", werr)
		return werr
	}

	if err := txn.Commit(ctx); err != nil {
		outcome = "bad_commit"
		werr := dyaderr.Wrap(dyaderr.BADCOMMIT, "publisher.Publish", err)
		log.Errorf("publish failed", werr)
		return werr
	}

	outcome = "ok"
	log.Logger.Debug().Str("topic", topic).Uint32("rank", coord.Rank()).Str("user_path", userPath).Msg("published ownership")
	return nil
}
