package interpose

import (
	"context"
	"os"

	"github.com/cuemby/dyadgo/pkg/dyadctx"
	"github.com/cuemby/dyadgo/pkg/subscriber"
)

// ManagedFS is the nearest Go idiom to "unmodified application, transparent
// hook layer" available without libc interposition: application code that
// already programs against an fs.FS-shaped interface
// gets coordination transparently by opening files through a ManagedFS
// instead of the os package directly.
type ManagedFS struct {
	hooks Hooks
	ctx   context.Context
}

// NewManagedFS builds a ManagedFS over coord using dial to resolve remote
// owners. ctx scopes the lifetime of calls made through it (cancel it to
// abort any in-flight WaitCreate/fetch).
func NewManagedFS(ctx context.Context, coord *dyadctx.Coordinator, dial subscriber.Dialer) *ManagedFS {
	return &ManagedFS{hooks: Hooks{Coordinator: coord, Dial: dial}, ctx: ctx}
}

// Open opens path read-only, running subscribe coordination first if path
// is under the consumer-managed prefix.
func (m *ManagedFS) Open(path string) (*os.File, error) {
	return m.hooks.Open(m.ctx, path, os.O_RDONLY, 0)
}

// OpenFile is the general entry point, mirroring os.OpenFile's signature so
// existing fs.FS-adjacent call sites can switch to a ManagedFS with a
// one-line change.
func (m *ManagedFS) OpenFile(path string, flag int, perm os.FileMode) (*os.File, error) {
	return m.hooks.Open(m.ctx, path, flag, perm)
}

// Create opens path write-only, truncating or creating it; the caller is
// responsible for calling Close on the returned file so publish coordination
// runs, since the publish trigger fires on close, not on open.
func (m *ManagedFS) Create(path string) (*os.File, error) {
	return m.hooks.Open(m.ctx, path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
}

// Close runs close-side coordination (fsync, optional directory fsync, and
// publish if applicable) before returning. wasWriteOnly should reflect the
// flag the file was opened with.
func (m *ManagedFS) Close(f *os.File, path string, wasWriteOnly bool) error {
	return m.hooks.Close(m.ctx, f, path, wasWriteOnly)
}
