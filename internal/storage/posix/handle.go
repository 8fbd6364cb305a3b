package posix

import (
	"context"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jakub-valenta/helpers/pkg/exec"
	"github.com/jakub-valenta/helpers/pkg/helper"
)

// Handle wraps an *os.File opened under the backend's scoped identity. Every
// call still re-enters withIdentity: the fs-uid/fs-gid that mattered at
// open() time is irrelevant to later reads once the descriptor exists on
// most platforms, but SELinux/ACL-aware filesystems can still re-check on
// each syscall, so the handle takes no chances.
type Handle struct {
	backend  *Backend
	id       helper.FileID
	file     *os.File
	released int32 // swapped 0->1 exactly once, by Release or the finalizer
}

func (h *Handle) Read(buf []byte, offset int64) *exec.Future[int] {
	return exec.Submit(h.backend.pool, func(ctx context.Context) (n int, err error) {
		start := time.Now()
		defer func() { h.backend.record("read", start, int64(n), err) }()
		err = h.backend.withIdentity(func() error {
			var e error
			n, e = h.file.ReadAt(buf, offset)
			if e != nil && n > 0 {
				// A short read at EOF is not a helper error; callers tell
				// EOF apart from a real failure by checking n < len(buf).
				return nil
			}
			return e
		})
		if err != nil {
			n, err = 0, mapErrno("read", h.id, err)
			return
		}
		return n, nil
	})
}

func (h *Handle) Write(buf []byte, offset int64) *exec.Future[int] {
	return exec.Submit(h.backend.pool, func(ctx context.Context) (n int, err error) {
		start := time.Now()
		defer func() { h.backend.record("write", start, int64(n), err) }()
		err = h.backend.withIdentity(func() error {
			var e error
			n, e = h.file.WriteAt(buf, offset)
			return e
		})
		if err != nil {
			n, err = 0, mapErrno("write", h.id, err)
			return
		}
		return n, nil
	})
}

func (h *Handle) Flush() *exec.Future[struct{}] {
	return exec.Submit(h.backend.pool, func(ctx context.Context) (st struct{}, err error) {
		start := time.Now()
		defer func() { h.backend.record("flush", start, 0, err) }()
		err = h.backend.withIdentity(func() error {
			return h.file.Sync()
		})
		err = mapErrno("flush", h.id, err)
		return
	})
}

func (h *Handle) Fsync() *exec.Future[struct{}] {
	return exec.Submit(h.backend.pool, func(ctx context.Context) (st struct{}, err error) {
		start := time.Now()
		defer func() { h.backend.record("fsync", start, 0, err) }()
		err = h.backend.withIdentity(func() error {
			return h.file.Sync()
		})
		err = mapErrno("fsync", h.id, err)
		return
	})
}

// releaseOnce closes the underlying descriptor exactly once, however many
// times Release is called and regardless of whether the finalizer or an
// explicit Release got there first. Callers after the first see a nil
// error, matching spec's "release more than once is equivalent to once."
func (h *Handle) releaseOnce() error {
	if !atomic.CompareAndSwapInt32(&h.released, 0, 1) {
		return nil
	}
	runtime.SetFinalizer(h, nil)
	return h.backend.withIdentity(func() error {
		return h.file.Close()
	})
}

// finalize runs if a Handle is garbage collected without ever having its
// Release called, closing the descriptor so it isn't leaked. The close is
// submitted through the backend's pool so it still runs under the handle's
// scoped uid/gid, the same as an explicit Release.
func (h *Handle) finalize() {
	exec.Submit(h.backend.pool, func(context.Context) (struct{}, error) {
		return struct{}{}, h.releaseOnce()
	})
}

func (h *Handle) Release() *exec.Future[struct{}] {
	return exec.Submit(h.backend.pool, func(ctx context.Context) (st struct{}, err error) {
		start := time.Now()
		defer func() { h.backend.record("release", start, 0, err) }()
		err = mapErrno("release", h.id, h.releaseOnce())
		return
	})
}

var _ helper.FileHandle = (*Handle)(nil)
var _ helper.StorageHelper = (*Backend)(nil)

func timespecToTime(ts unix.Timespec) time.Time {
	return time.Unix(ts.Sec, ts.Nsec)
}
