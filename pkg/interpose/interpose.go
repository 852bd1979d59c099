package interpose

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cuemby/dyadgo/pkg/dyadctx"
	"github.com/cuemby/dyadgo/pkg/log"
	"github.com/cuemby/dyadgo/pkg/metrics"
	"github.com/cuemby/dyadgo/pkg/publisher"
	"github.com/cuemby/dyadgo/pkg/subscriber"
)

// Hooks bundles everything Open/Close need to run coordination: the
// process's Coordinator and a subscriber.Dialer for resolving remote
// owners. An application constructs one Hooks and calls Open/Close on it in
// place of os.Open/os.Close, the nearest Go idiom to a transparent
// interposition layer without libc-level symbol shadowing.
type Hooks struct {
	Coordinator *dyadctx.Coordinator
	Dial        subscriber.Dialer
}

// Open is the coordination-aware replacement for os.Open, applicable when
// the access is read-only, the path sits under the consumer-managed prefix,
// the Coordinator is ready, and reentry is not already disabled by an
// enclosing call. The real open always runs regardless of what coordination
// decided: a subscribe failure only means the caller gets whatever the real
// open's own error is.
func (h Hooks) Open(ctx context.Context, path string, flag int, perm os.FileMode) (*os.File, error) {
	subscribed := false
	if h.applicableForOpen(ctx, path, flag) {
		userPath := strings.TrimPrefix(path, h.Coordinator.Config().ConsumerPrefix)
		userPath = strings.TrimPrefix(userPath, "/")

		subCtx := dyadctx.WithReentryDisabled(ctx)
		if err := subscriber.Subscribe(subCtx, h.Coordinator, h.Coordinator.Config().ConsumerPrefix, userPath, h.Dial); err != nil {
			log.Errorf("interpose: subscribe failed, falling through to real open", err)
		} else {
			subscribed = true
		}
		metrics.HookDecisionsTotal.WithLabelValues("open", "true").Inc()
	} else {
		metrics.HookDecisionsTotal.WithLabelValues("open", "false").Inc()
	}

	f, err := RealOpenFile(path, flag, perm)
	if err == nil && subscribed && h.Coordinator.Config().Check {
		os.Setenv("DYAD_CHECK_ENV", "ok")
	}
	return f, err
}

// applicableForOpen checks the open-side conditions: context ready and not
// already inside a coordination call, read-only access
// ((flag&O_ACCMODE)==O_RDONLY and O_CREATE absent), and the path under the
// consumer-managed prefix.
func (h Hooks) applicableForOpen(ctx context.Context, path string, flag int) bool {
	if h.Coordinator == nil || !h.Coordinator.Ready() || !dyadctx.ReentryAllowed(ctx) {
		return false
	}
	if flag&os.O_CREATE != 0 {
		return false
	}
	if flag&(os.O_RDWR|os.O_WRONLY) != 0 {
		return false
	}
	prefix := h.Coordinator.Config().ConsumerPrefix
	return prefix != "" && withinPrefix(path, prefix)
}

// Close is the coordination-aware replacement for os.Close. It always
// fsyncs and closes the descriptor (durability before publish), and
// publishes afterward only when the descriptor was opened write-only under
// the producer-managed prefix.
func (h Hooks) Close(ctx context.Context, f *os.File, path string, wasWriteOnly bool) error {
	if syncErr := f.Sync(); syncErr != nil && !os.IsNotExist(syncErr) {
		log.Errorf("interpose: fsync before close failed", syncErr)
	}

	if h.Coordinator != nil && h.Coordinator.Config().SyncDir {
		h.fsyncParentDir(path)
	}

	closeErr := RealClose(f)

	if h.applicableForClose(ctx, path, wasWriteOnly) {
		userPath := strings.TrimPrefix(path, h.Coordinator.Config().ProducerPrefix)
		userPath = strings.TrimPrefix(userPath, "/")

		if err := publisher.Publish(ctx, h.Coordinator, userPath); err != nil {
			log.Errorf("interpose: publish failed", err)
		}
		metrics.HookDecisionsTotal.WithLabelValues("close", "true").Inc()

		if closeErr == nil && h.Coordinator.Config().Check {
			os.Setenv("DYAD_CHECK_ENV", "ok")
		}
	} else {
		metrics.HookDecisionsTotal.WithLabelValues("close", "false").Inc()
	}

	return closeErr
}

func (h Hooks) applicableForClose(ctx context.Context, path string, wasWriteOnly bool) bool {
	if h.Coordinator == nil || !h.Coordinator.Ready() || !dyadctx.ReentryAllowed(ctx) {
		return false
	}
	if !wasWriteOnly {
		return false
	}
	prefix := h.Coordinator.Config().ProducerPrefix
	return prefix != "" && withinPrefix(path, prefix)
}

// fsyncParentDir flushes the directory entry for path's parent through the
// real symbols, gated by the SyncDir config flag.
func (h Hooks) fsyncParentDir(path string) {
	dir := dirOf(path)
	if dir == "" || dir == "." {
		return
	}
	f, err := RealOpenFile(dir, os.O_RDONLY, 0)
	if err != nil {
		log.Errorf("interpose: open parent dir for fsync failed", err)
		return
	}
	defer RealClose(f)
	if err := f.Sync(); err != nil {
		log.Errorf("interpose: fsync parent dir failed", fmt.Errorf("%s: %w", dir, err))
	}
}

func withinPrefix(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	clean := strings.TrimSuffix(prefix, "/")
	return path == clean || strings.HasPrefix(path, clean+"/")
}

func dirOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "."
	}
	return path[:idx]
}
