// Package factory builds a helper.StorageHelper from a backend name plus
// construction parameters, the same role CephHelperFactory/ProxyHelperFactory
// and their siblings played in the original implementation — one class per
// backend, selected at mount time by a name string out of the storage
// configuration.
package factory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jakub-valenta/helpers/internal/buffering"
	"github.com/jakub-valenta/helpers/pkg/errors"
	"github.com/jakub-valenta/helpers/pkg/exec"
	"github.com/jakub-valenta/helpers/pkg/helper"
	"github.com/jakub-valenta/helpers/pkg/memmon"
	"github.com/jakub-valenta/helpers/pkg/observability"
)

// Builder constructs a helper.StorageHelper from params; the backend sizes
// and owns its own worker pool internally (every constructor in
// internal/storage/* already does this). Each backend package that wants
// to be selectable by name registers one via Register from an init(). The
// real ceph builder sits behind the ceph build tag; a binary built without
// it registers a stub under "ceph" whose builder returns a NotSupported
// error instead of failing to link. metrics is never nil: New
// substitutes observability.NopMetrics{} before calling the builder.
type Builder func(ctx context.Context, params helper.Params, logger *slog.Logger, metrics observability.MetricsSink) (helper.StorageHelper, error)

var (
	mu       sync.RWMutex
	builders = make(map[string]Builder)
)

// Register adds builder under name, panicking on a duplicate registration
// since that can only happen from a programming error (two init funcs
// claiming the same backend name), never from runtime input.
func Register(name string, builder Builder) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := builders[name]; exists {
		panic(fmt.Sprintf("factory: backend %q already registered", name))
	}
	builders[name] = builder
}

// Registered lists the backend names available in this build.
func Registered() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	return names
}

// New builds the named backend, wrapping every Open'd handle in
// internal/buffering's write coalescer when buffered is true. logger is
// threaded through to backends that log (currently S3's CargoShip
// fallback logging). metrics may be nil, in which case the backend records
// nothing.
func New(ctx context.Context, name string, params helper.Params, buffered bool, logger *slog.Logger, metrics observability.MetricsSink) (helper.StorageHelper, error) {
	mu.RLock()
	builder, ok := builders[name]
	mu.RUnlock()
	if !ok {
		return nil, errors.New("factory", "new", errors.InvalidArgument, "",
			fmt.Sprintf("unknown storage backend %q (available: %v)", name, Registered()))
	}
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}

	backend, err := builder(ctx, params, logger, metrics)
	if err != nil {
		return nil, err
	}
	if buffered {
		bufCfg := buffering.DefaultConfig()
		if threshold := params.Int("flushThresholdBytes", 0); threshold > 0 {
			bufCfg.FlushThreshold = int64(threshold)
		}
		if max := params.Int("maxMemoryBytes", 0); max > 0 {
			bufCfg.Budget = memmon.NewBudget(int64(max))
		}
		return &bufferedHelper{inner: backend, pool: exec.NewPool("buffering", 16), cfg: bufCfg}, nil
	}
	return backend, nil
}

// bufferedHelper decorates a StorageHelper so every handle it opens comes
// back wrapped in buffering.Handle instead of the backend's own handle
// type, without the backend itself needing any awareness of buffering.
// Every Handle it produces shares the same cfg, so cfg.Budget (when set)
// caps pending writes across all of them rather than one handle at a time.
type bufferedHelper struct {
	inner helper.StorageHelper
	pool  *exec.Pool
	cfg   buffering.Config
}

func (b *bufferedHelper) Name() string { return b.inner.Name() }

func (b *bufferedHelper) Open(id helper.FileID, flags helper.OpenFlags) *exec.Future[helper.FileHandle] {
	return exec.Submit(b.pool, func(ctx context.Context) (helper.FileHandle, error) {
		inner, err := b.inner.Open(id, flags).Get(ctx)
		if err != nil {
			return nil, err
		}
		return buffering.Wrap(inner, b.cfg, b.pool), nil
	})
}

func (b *bufferedHelper) Getattr(id helper.FileID) *exec.Future[helper.Stat] { return b.inner.Getattr(id) }
func (b *bufferedHelper) Access(id helper.FileID, mask helper.AccessMask) *exec.Future[struct{}] {
	return b.inner.Access(id, mask)
}
func (b *bufferedHelper) Readdir(id helper.FileID, offset int64, count int) *exec.Future[[]helper.DirEntry] {
	return b.inner.Readdir(id, offset, count)
}
func (b *bufferedHelper) Readlink(id helper.FileID) *exec.Future[string] { return b.inner.Readlink(id) }
func (b *bufferedHelper) Mknod(id helper.FileID, mode helper.Mode) *exec.Future[struct{}] {
	return b.inner.Mknod(id, mode)
}
func (b *bufferedHelper) Mkdir(id helper.FileID, mode helper.Mode) *exec.Future[struct{}] {
	return b.inner.Mkdir(id, mode)
}
func (b *bufferedHelper) Unlink(id helper.FileID) *exec.Future[struct{}] { return b.inner.Unlink(id) }
func (b *bufferedHelper) Rmdir(id helper.FileID) *exec.Future[struct{}]  { return b.inner.Rmdir(id) }
func (b *bufferedHelper) Symlink(target string, linkID helper.FileID) *exec.Future[struct{}] {
	return b.inner.Symlink(target, linkID)
}
func (b *bufferedHelper) Link(id, newID helper.FileID) *exec.Future[struct{}] {
	return b.inner.Link(id, newID)
}
func (b *bufferedHelper) Rename(id, newID helper.FileID) *exec.Future[struct{}] {
	return b.inner.Rename(id, newID)
}
func (b *bufferedHelper) Chmod(id helper.FileID, mode helper.Mode) *exec.Future[struct{}] {
	return b.inner.Chmod(id, mode)
}
func (b *bufferedHelper) Chown(id helper.FileID, uid, gid uint32) *exec.Future[struct{}] {
	return b.inner.Chown(id, uid, gid)
}
func (b *bufferedHelper) Truncate(id helper.FileID, size int64) *exec.Future[struct{}] {
	return b.inner.Truncate(id, size)
}
func (b *bufferedHelper) Getxattr(id helper.FileID, name string) *exec.Future[[]byte] {
	return b.inner.Getxattr(id, name)
}
func (b *bufferedHelper) Setxattr(id helper.FileID, name string, value []byte) *exec.Future[struct{}] {
	return b.inner.Setxattr(id, name, value)
}
func (b *bufferedHelper) Removexattr(id helper.FileID, name string) *exec.Future[struct{}] {
	return b.inner.Removexattr(id, name)
}
func (b *bufferedHelper) Listxattr(id helper.FileID) *exec.Future[[]string] {
	return b.inner.Listxattr(id)
}

var _ helper.StorageHelper = (*bufferedHelper)(nil)
