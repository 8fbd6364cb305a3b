package proxy

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/jakub-valenta/helpers/pkg/errors"
	"github.com/jakub-valenta/helpers/pkg/exec"
	"github.com/jakub-valenta/helpers/pkg/helper"
)

// Handle is the proxied counterpart of an already-open remote file: every
// Read/Write is its own round trip over the Communicator, since the
// original proxy helper's multiwrite batching (coalescing several
// buffers into one remote call) is the concern internal/buffering's
// decorator now owns above this layer rather than Handle itself.
type Handle struct {
	backend *Backend
	id      helper.FileID

	released int32 // swapped 0->1 exactly once, by Release
}

func (h *Handle) checkReleased(op string) error {
	if atomic.LoadInt32(&h.released) != 0 {
		return errors.New("proxy", op, errors.InvalidArgument, "",
			"handle already released").WithFileID(string(h.id)).WithRetryable(false)
	}
	return nil
}

func (h *Handle) Read(buf []byte, offset int64) *exec.Future[int] {
	return exec.Submit(h.backend.pool, func(ctx context.Context) (int, error) {
		if err := h.checkReleased("read"); err != nil {
			return 0, err
		}
		resp, err := h.backend.call(ctx, "read", h.id, map[string]string{
			"offset": strconv.FormatInt(offset, 10),
			"size":   strconv.Itoa(len(buf)),
		}, nil)
		if err != nil {
			return 0, err
		}
		n := copy(buf, resp.Data)
		return n, nil
	})
}

func (h *Handle) Write(buf []byte, offset int64) *exec.Future[int] {
	return exec.Submit(h.backend.pool, func(ctx context.Context) (int, error) {
		if err := h.checkReleased("write"); err != nil {
			return 0, err
		}
		_, err := h.backend.call(ctx, "write", h.id, map[string]string{
			"offset": strconv.FormatInt(offset, 10),
		}, buf)
		if err != nil {
			return 0, err
		}
		return len(buf), nil
	})
}

func (h *Handle) Flush() *exec.Future[struct{}] {
	return exec.Submit(h.backend.pool, func(ctx context.Context) (struct{}, error) {
		if err := h.checkReleased("flush"); err != nil {
			return struct{}{}, err
		}
		_, err := h.backend.call(ctx, "flush", h.id, nil, nil)
		return struct{}{}, err
	})
}

func (h *Handle) Fsync() *exec.Future[struct{}] {
	return exec.Submit(h.backend.pool, func(ctx context.Context) (struct{}, error) {
		if err := h.checkReleased("fsync"); err != nil {
			return struct{}{}, err
		}
		_, err := h.backend.call(ctx, "fsync", h.id, nil, nil)
		return struct{}{}, err
	})
}

// Release is idempotent: only the call that wins the CAS actually notifies
// the remote provider. Later calls (or a caller that drops the handle
// without releasing, then releases a second reference) see a nil error
// instead of a second "release" round trip.
func (h *Handle) Release() *exec.Future[struct{}] {
	return exec.Submit(h.backend.pool, func(ctx context.Context) (struct{}, error) {
		if !atomic.CompareAndSwapInt32(&h.released, 0, 1) {
			return struct{}{}, nil
		}
		_, err := h.backend.call(ctx, "release", h.id, nil, nil)
		return struct{}{}, err
	})
}

var _ helper.FileHandle = (*Handle)(nil)
