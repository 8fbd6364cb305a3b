// Package buffering wraps any helper.FileHandle in a write-coalescing
// decorator: small, frequent writes accumulate in memory and are flushed
// as one larger backend write, the same buffering/wins WriteBuffer provided
// in internal/buffer, but scoped to the single handle that owns it rather
// than a shared map keyed by file — each Open call already gets its own
// *Handle, so there is nothing left for a keyed buffer to multiplex.
package buffering

import (
	"context"
	"sync"

	"github.com/jakub-valenta/helpers/internal/buffer"
	"github.com/jakub-valenta/helpers/pkg/errors"
	"github.com/jakub-valenta/helpers/pkg/exec"
	"github.com/jakub-valenta/helpers/pkg/helper"
	"github.com/jakub-valenta/helpers/pkg/memmon"
)

// Config controls when a Handle's pending writes are flushed to the
// wrapped backend without waiting for an explicit Flush or Release.
type Config struct {
	// FlushThreshold is the pending-byte count past which a Write
	// triggers an eager flush instead of growing the buffer further.
	FlushThreshold int64

	// Budget, when non-nil, is shared across every Handle a backend has
	// open: a Write that finds it already over cap flushes this Handle's
	// own backlog before adding to it, so the in-memory region this
	// package holds stays bounded process-wide rather than per handle.
	// nil means no shared cap.
	Budget *memmon.Budget
}

// DefaultConfig matches internal/buffer's donor default flush threshold.
func DefaultConfig() Config {
	return Config{FlushThreshold: 16 * 1024 * 1024}
}

var bytePool = buffer.NewBytePool()

// Handle decorates an inner helper.FileHandle, coalescing writes into buf
// until FlushThreshold, Flush, or Release forces them out. A flush error
// poisons the handle: every subsequent call returns that same error
// without touching the inner handle again, since the buffer and the
// backend have diverged and further writes cannot be trusted to merge
// correctly on top of a write the backend never actually received.
type Handle struct {
	inner  helper.FileHandle
	cfg    Config
	pool   *exec.Pool

	mu       sync.Mutex
	buf      []byte
	base     int64 // backend offset buf[0] corresponds to
	dirty    bool
	poisoned error
	reserved int64 // bytes currently claimed against cfg.Budget
}

// Wrap returns a Handle buffering writes to inner before they reach the
// backend. pool runs the flush's inner Write/Read calls.
func Wrap(inner helper.FileHandle, cfg Config, pool *exec.Pool) *Handle {
	if cfg.FlushThreshold <= 0 {
		cfg = DefaultConfig()
	}
	return &Handle{inner: inner, cfg: cfg, pool: pool}
}

func (h *Handle) Read(p []byte, offset int64) *exec.Future[int] {
	return exec.Submit(h.pool, func(ctx context.Context) (int, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.poisoned != nil {
			return 0, h.poisoned
		}

		// Serve entirely from the pending buffer when it fully covers the
		// request; otherwise flush first so the backend read sees a
		// consistent view rather than stale data plus an unmerged overlay.
		if h.dirty && offset >= h.base && offset+int64(len(p)) <= h.base+int64(len(h.buf)) {
			n := copy(p, h.buf[offset-h.base:])
			return n, nil
		}
		if h.dirty {
			if err := h.flushLocked(ctx); err != nil {
				return 0, err
			}
		}
		n, err := h.inner.Read(p, offset).Get(ctx)
		return n, err
	})
}

func (h *Handle) Write(p []byte, offset int64) *exec.Future[int] {
	return exec.Submit(h.pool, func(ctx context.Context) (int, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.poisoned != nil {
			return 0, h.poisoned
		}

		// The shared budget, if any, is already over its cap from some
		// other handle's pending writes: flush this handle's own backlog
		// before adding to it, so it isn't the one left holding memory
		// once every handle has had a chance to shed its share.
		if h.cfg.Budget.Exceeded() {
			if err := h.flushLocked(ctx); err != nil {
				return 0, err
			}
		}

		if !h.dirty {
			h.base = offset
			h.buf = append(bytePool.Get(len(p))[:0], p...)
			h.dirty = true
		} else if offset == h.base+int64(len(h.buf)) {
			// Contiguous append: the common case for sequential writers.
			h.buf = append(h.buf, p...)
		} else if offset >= h.base && offset <= h.base+int64(len(h.buf)) {
			// Overlapping or backward-seeking write within the current
			// span: grow/overwrite in place rather than flush.
			end := offset - h.base + int64(len(p))
			if end > int64(len(h.buf)) {
				grown := make([]byte, end)
				copy(grown, h.buf)
				h.buf = grown
			}
			copy(h.buf[offset-h.base:], p)
		} else {
			// Disjoint from the pending span: flush it out before
			// starting a new one, rather than tracking multiple spans.
			if err := h.flushLocked(ctx); err != nil {
				return 0, err
			}
			h.base = offset
			h.buf = append(bytePool.Get(len(p))[:0], p...)
			h.dirty = true
		}

		h.syncReservation()

		if int64(len(h.buf)) >= h.cfg.FlushThreshold {
			if err := h.flushLocked(ctx); err != nil {
				return 0, err
			}
		}
		return len(p), nil
	})
}

// syncReservation reconciles cfg.Budget with the buffer's actual size after
// a Write has grown it, claiming just the delta since the last sync.
// Callers must hold h.mu.
func (h *Handle) syncReservation() {
	if h.cfg.Budget == nil {
		return
	}
	target := int64(0)
	if h.dirty {
		target = int64(len(h.buf))
	}
	if delta := target - h.reserved; delta != 0 {
		h.cfg.Budget.Reserve(delta)
	}
	h.reserved = target
}

func (h *Handle) Flush() *exec.Future[struct{}] {
	return exec.Submit(h.pool, func(ctx context.Context) (struct{}, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.poisoned != nil {
			return struct{}{}, h.poisoned
		}
		if err := h.flushLocked(ctx); err != nil {
			return struct{}{}, err
		}
		_, err := h.inner.Flush().Get(ctx)
		return struct{}{}, err
	})
}

func (h *Handle) Fsync() *exec.Future[struct{}] {
	return exec.Submit(h.pool, func(ctx context.Context) (struct{}, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.poisoned != nil {
			return struct{}{}, h.poisoned
		}
		if err := h.flushLocked(ctx); err != nil {
			return struct{}{}, err
		}
		_, err := h.inner.Fsync().Get(ctx)
		return struct{}{}, err
	})
}

// Release force-flushes any pending write before releasing the inner
// handle: a buffered write the caller believes already succeeded must
// reach the backend before the file is considered closed.
func (h *Handle) Release() *exec.Future[struct{}] {
	return exec.Submit(h.pool, func(ctx context.Context) (struct{}, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.poisoned == nil && h.dirty {
			if err := h.flushLocked(ctx); err != nil {
				h.poisoned = err
			}
		}
		h.dirty = false
		h.syncReservation()
		_, err := h.inner.Release().Get(ctx)
		if h.poisoned != nil {
			return struct{}{}, h.poisoned
		}
		return struct{}{}, err
	})
}

// flushLocked writes out buf and clears it. Callers must hold h.mu.
func (h *Handle) flushLocked(ctx context.Context) error {
	if !h.dirty {
		return nil
	}
	n, err := h.inner.Write(h.buf, h.base).Get(ctx)
	if err != nil {
		h.poisoned = err
		return err
	}
	if n != len(h.buf) {
		h.poisoned = errors.New("buffering", "flush", errors.IoError, "",
			"short write flushing coalesced buffer")
		return h.poisoned
	}
	bytePool.Put(h.buf)
	h.buf = nil
	h.dirty = false
	h.syncReservation()
	return nil
}

var _ helper.FileHandle = (*Handle)(nil)
