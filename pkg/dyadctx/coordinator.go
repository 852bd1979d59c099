package dyadctx

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cuemby/dyadgo/pkg/kvs"
	"github.com/cuemby/dyadgo/pkg/log"
	"github.com/cuemby/dyadgo/pkg/metrics"
)

// Coordinator is the Go-native replacement for the coordination context
// record: it holds the transport handle (a kvs.Store), the local rank, and
// configuration. reenter is not a field here — it is carried per call tree
// as a context.Context value, since a single process may have many
// concurrent hook invocations in flight, each wanting its own reentrancy
// scope rather than one shared thread-local.
type Coordinator struct {
	cfg   Config
	store kvs.Store
	rank  uint32

	syncStarted bool
}

var (
	singletonMu sync.Mutex
	singleton   *Coordinator
)

// New opens a Coordinator for the process. A second call to New for a
// process that already has an initialized Coordinator returns that instance
// unchanged — it never resets fields or reopens the transport.
func New(ctx context.Context, cfg Config, store kvs.Store) (*Coordinator, error) {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton != nil {
		return singleton, nil
	}

	if store == nil {
		log.Error("dyadctx: transport handle unavailable, coordination degraded to pass-through")
		metrics.UpdateComponent("kvs", false, "transport handle unavailable, running pass-through")
		singleton = &Coordinator{cfg: cfg}
		return singleton, nil
	}

	c := &Coordinator{cfg: cfg, store: store, rank: store.Rank()}
	metrics.RegisterComponent("kvs", true, "")

	if cfg.SyncStart > 0 {
		if err := store.Barrier(ctx, "sync_start", cfg.SyncStart); err != nil {
			log.Errorf("dyadctx: startup barrier failed", err)
			metrics.UpdateComponent("kvs", false, "sync_start barrier failed: "+err.Error())
		} else {
			c.syncStarted = true
			fmt.Fprintf(os.Stderr, "dyad: sync_start barrier of %d released at %s\n", cfg.SyncStart, nowString())
		}
	}

	if cfg.Check {
		os.Setenv("DYAD_CHECK_ENV", "ok")
	}

	singleton = c
	return c, nil
}

// Reset clears the process-wide singleton. It exists for tests that need a
// fresh Coordinator per case; production code never calls it, matching the
// "never reset fields, only short-circuit" decision for New itself.
func Reset() {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	singleton = nil
}

// Close releases the transport handle, printing a teardown timestamp if a
// startup barrier was taken.
func (c *Coordinator) Close() error {
	if c.syncStarted {
		fmt.Fprintf(os.Stderr, "dyad: teardown at %s\n", nowString())
	}
	if c.store == nil {
		return nil
	}
	err := c.store.Close()
	if err != nil {
		metrics.UpdateComponent("kvs", false, "closed with error: "+err.Error())
	} else {
		metrics.UpdateComponent("kvs", false, "closed")
	}
	return err
}

// Store returns the transport handle, or nil if the Coordinator is running
// degraded (no transport available at init).
func (c *Coordinator) Store() kvs.Store { return c.store }

// Rank returns this process's rank in the job.
func (c *Coordinator) Rank() uint32 { return c.rank }

func (c *Coordinator) Config() Config { return c.cfg }

// Ready reports whether coordination can run at all: a non-nil transport
// handle. Hook bodies check this first, since a nil handle short-circuits
// the hooks into pass-through mode.
func (c *Coordinator) Ready() bool { return c.store != nil }

type reenterKey struct{}

// WithReentryDisabled returns a context marking the current hook body as
// performing its own I/O: any intercepted entry point invoked with this
// context (or a descendant of it) must fall through to the real symbol
// table without running coordination. This is the context-scoped
// replacement for a thread-local reenter flag.
func WithReentryDisabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, reenterKey{}, true)
}

// ReentryAllowed reports whether coordination may run for this call: true
// unless some enclosing call already disabled it.
func ReentryAllowed(ctx context.Context) bool {
	disabled, _ := ctx.Value(reenterKey{}).(bool)
	return !disabled
}

// nowString gives the barrier timestamps a fixed, readable format; swapped
// out only in tests that need deterministic output.
var nowString = func() string { return time.Now().Format(time.RFC3339) }
