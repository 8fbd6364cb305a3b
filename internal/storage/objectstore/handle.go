package objectstore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jakub-valenta/helpers/pkg/errors"
	"github.com/jakub-valenta/helpers/pkg/exec"
	"github.com/jakub-valenta/helpers/pkg/helper"
)

// Handle holds the object's content in memory and ships the whole object on
// Flush: flat object stores have no partial-write API, so each Write replaces
// the in-memory buffer rather than touching the backend at all. This relies on the buffering decorator upstream to keep
// writes reasonably sized; Handle itself places no limit on buffer growth.
type Handle struct {
	backend *Backend
	id      helper.FileID

	mu     sync.Mutex
	buf    []byte
	loaded bool
	dirty  bool

	released int32 // swapped 0->1 exactly once, by Release
}

func errReleased(backend, op, id string) error {
	return errors.New(backend, op, errors.InvalidArgument, "",
		"handle already released").WithFileID(id).WithRetryable(false)
}

func (h *Handle) ensureLoaded(ctx context.Context) error {
	if h.loaded {
		return nil
	}
	data, err := h.backend.client.Get(ctx, string(h.id), 0, -1)
	if err != nil {
		if errors.KindOf(err) == errors.NotFound {
			h.buf = nil
			h.loaded = true
			return nil
		}
		return err
	}
	h.buf = data
	h.loaded = true
	return nil
}

// Read serves from the in-memory buffer once a Write has filled it, but
// until then issues a ranged GET so reading a handful of bytes out of a large
// object never pulls the whole thing into memory first.
func (h *Handle) Read(buf []byte, offset int64) *exec.Future[int] {
	return exec.Submit(h.backend.pool, func(ctx context.Context) (n int, err error) {
		start := time.Now()
		defer func() { h.backend.record("read", start, int64(n), err) }()
		h.mu.Lock()
		defer h.mu.Unlock()

		if atomic.LoadInt32(&h.released) != 0 {
			err = errReleased(h.backend.Name(), "read", string(h.id))
			return 0, err
		}

		if h.loaded {
			if offset >= int64(len(h.buf)) {
				return 0, nil
			}
			n = copy(buf, h.buf[offset:])
			return n, nil
		}

		data, gerr := h.backend.client.Get(ctx, string(h.id), offset, int64(len(buf)))
		if gerr != nil {
			if errors.KindOf(gerr) == errors.NotFound {
				return 0, nil
			}
			err = mapErr(h.backend.Name(), "read", string(h.id), gerr)
			return 0, err
		}
		n = copy(buf, data)
		return n, nil
	})
}

// Write requires offset == 0: a flat object store has no partial in-place
// write, so the only write this Handle supports is "replace the whole
// object" — the buffering decorator upstream is what coalesces a stream of
// smaller writes into that single call. Any other offset means a caller
// bypassed buffering, which this Handle has no way to service correctly.
func (h *Handle) Write(buf []byte, offset int64) *exec.Future[int] {
	return exec.Submit(h.backend.pool, func(ctx context.Context) (n int, err error) {
		start := time.Now()
		defer func() { h.backend.record("write", start, int64(n), err) }()
		h.mu.Lock()
		defer h.mu.Unlock()

		if atomic.LoadInt32(&h.released) != 0 {
			err = errReleased(h.backend.Name(), "write", string(h.id))
			return 0, err
		}
		if offset != 0 {
			err = errors.New(h.backend.Name(), "write", errors.NotSupported, "",
				"object store handles only accept whole-object writes at offset 0").
				WithFileID(string(h.id)).WithRetryable(false)
			return 0, err
		}

		h.buf = append([]byte(nil), buf...)
		h.loaded = true
		h.dirty = true
		n = len(buf)
		return n, nil
	})
}

func (h *Handle) Flush() *exec.Future[struct{}] {
	return exec.Submit(h.backend.pool, func(ctx context.Context) (st struct{}, err error) {
		start := time.Now()
		defer func() { h.backend.record("flush", start, int64(len(h.buf)), err) }()
		h.mu.Lock()
		defer h.mu.Unlock()
		if atomic.LoadInt32(&h.released) != 0 {
			err = errReleased(h.backend.Name(), "flush", string(h.id))
			return
		}
		if !h.dirty {
			return
		}
		if perr := h.backend.client.Put(ctx, string(h.id), h.buf); perr != nil {
			err = mapErr(h.backend.Name(), "flush", string(h.id), perr)
			return
		}
		h.dirty = false
		return
	})
}

// Fsync is identical to Flush: an object store PUT is already durable by
// the time the backend's API call returns, so there is no separate
// metadata-sync step to perform.
func (h *Handle) Fsync() *exec.Future[struct{}] {
	return h.Flush()
}

// Release flushes any pending write and marks the handle unusable for
// every later call. Calling it twice is harmless: the second call finds
// released already set and returns immediately without re-flushing.
func (h *Handle) Release() *exec.Future[struct{}] {
	return exec.Submit(h.backend.pool, func(ctx context.Context) (st struct{}, err error) {
		start := time.Now()
		defer func() { h.backend.record("release", start, 0, err) }()
		if !atomic.CompareAndSwapInt32(&h.released, 0, 1) {
			return
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		if !h.dirty {
			return
		}
		if perr := h.backend.client.Put(ctx, string(h.id), h.buf); perr != nil {
			err = mapErr(h.backend.Name(), "release", string(h.id), perr)
			return
		}
		h.dirty = false
		return
	})
}

var _ helper.FileHandle = (*Handle)(nil)
