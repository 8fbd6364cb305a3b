// Package objectstore implements the helper.StorageHelper contract once,
// shared by every flat-key backend (S3, Swift, Ceph RADOS): none of them
// have real directories, so readdir becomes a prefix listing, mkdir is a
// no-op, rmdir only succeeds on an empty prefix, and delete is chunked into
// batches the backend's API can accept in one round trip. Each backend
// supplies only the Client seam; everything above that is this package.
package objectstore

import (
	"context"
	"strings"
	"time"

	"github.com/jakub-valenta/helpers/internal/circuit"
	"github.com/jakub-valenta/helpers/pkg/errors"
	"github.com/jakub-valenta/helpers/pkg/exec"
	"github.com/jakub-valenta/helpers/pkg/helper"
	"github.com/jakub-valenta/helpers/pkg/observability"
)

// ObjectInfo is what a Client can report about a single key without
// fetching its body.
type ObjectInfo struct {
	Key     string
	Size    int64
	IsDir   bool // synthesized for a "directory marker" or common prefix
	ModTime int64
}

// Client is the seam a concrete backend (S3, Swift, Ceph) fills in. Keys are
// always full flat keys the way the backend's own API expects them —
// objectstore does not re-derive or cache them.
type Client interface {
	// Name identifies the backend for error/metrics labeling.
	Name() string

	// Head returns ObjectInfo for key, or a NotFound HelperError.
	Head(ctx context.Context, key string) (ObjectInfo, error)

	// List returns keys with the given prefix, plus "directories" — common
	// prefixes one delimiter segment deep, the object-store analogue of
	// subdirectories.
	List(ctx context.Context, prefix string) (objects []ObjectInfo, dirs []string, err error)

	// Get reads length bytes starting at offset. length<0 means "to EOF".
	Get(ctx context.Context, key string, offset, length int64) ([]byte, error)

	// Put writes the entire object in one call; offset must be 0, since
	// flat object stores have no concept of a partial in-place write.
	Put(ctx context.Context, key string, data []byte) error

	// Delete removes up to maxBatchKeys keys per call (see MaxBatchKeys);
	// objectstore never asks for more than that in one slice.
	Delete(ctx context.Context, keys []string) error

	// MaxBatchKeys is the largest slice Delete accepts in one call.
	MaxBatchKeys() int
}

// Backend adapts a Client into a full helper.StorageHelper.
type Backend struct {
	client  Client
	pool    *exec.Pool
	metrics observability.MetricsSink
}

// New wraps client in a StorageHelper backed by a pool of the given size.
// Every call to client is protected by a circuit breaker so a backend that
// starts failing consistently gets a fast-failing HostUnreachable instead
// of every in-flight request queuing behind its own timeout. sink may be
// nil, in which case the backend records nothing.
func New(client Client, poolSize int, sink observability.MetricsSink) *Backend {
	if poolSize <= 0 {
		poolSize = 64
	}
	if sink == nil {
		sink = observability.NopMetrics{}
	}
	client = withCircuitBreaker(client, circuit.Config{})
	return &Backend{client: client, pool: exec.NewPool(client.Name(), poolSize), metrics: sink}
}

func (b *Backend) Name() string { return b.client.Name() }

func (b *Backend) Close() { b.pool.Close() }

// record reports one completed operation to the backend's metrics sink.
func (b *Backend) record(op string, start time.Time, size int64, err error) {
	b.metrics.RecordOperation(b.Name(), op, time.Since(start), size, err)
}

func mapErr(backend, op, key string, err error) error {
	if err == nil {
		return nil
	}
	if he, ok := err.(*errors.HelperError); ok {
		return he
	}
	return errors.Wrap(backend, op, errors.IoError, "", err).WithFileID(key)
}

func (b *Backend) Getattr(id helper.FileID) *exec.Future[helper.Stat] {
	return exec.Submit(b.pool, func(ctx context.Context) (st helper.Stat, err error) {
		start := time.Now()
		defer func() { b.record("getattr", start, 0, err) }()
		key := string(id)
		if key == "" || strings.HasSuffix(key, "/") {
			// The root, or any key ending in "/", is a synthetic directory:
			// there is no HEAD to issue, so report a directory stat
			// unconditionally rather than asking the backend about a key
			// that by definition does not exist as an object.
			return helper.Stat{Mode: helper.ModeDir | 0o755}, nil
		}
		info, herr := b.client.Head(ctx, key)
		if herr != nil {
			err = mapErr(b.Name(), "getattr", key, herr)
			return helper.Stat{}, err
		}
		return statFromInfo(info), nil
	})
}

func statFromInfo(info ObjectInfo) helper.Stat {
	mode := helper.Mode(0o644)
	if info.IsDir {
		mode = helper.ModeDir | 0o755
	}
	return helper.Stat{
		Size:  info.Size,
		Mode:  mode,
		Nlink: 1,
	}
}

func (b *Backend) Access(id helper.FileID, mask helper.AccessMask) *exec.Future[struct{}] {
	// Object stores have no POSIX permission model; any key reachable with
	// the backend's own credentials is accessible, so this always succeeds
	// once the key (or its synthetic directory-ness) is confirmed to exist.
	return exec.Submit(b.pool, func(ctx context.Context) (struct{}, error) {
		_, err := b.Getattr(id).Get(ctx)
		return struct{}{}, err
	})
}

func (b *Backend) Readdir(id helper.FileID, offset int64, count int) *exec.Future[[]helper.DirEntry] {
	return exec.Submit(b.pool, func(ctx context.Context) (result []helper.DirEntry, err error) {
		start := time.Now()
		defer func() { b.record("readdir", start, int64(len(result)), err) }()
		prefix := string(id)
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		objects, dirs, lerr := b.client.List(ctx, prefix)
		if lerr != nil {
			err = mapErr(b.Name(), "readdir", prefix, lerr)
			return nil, err
		}

		entries := make([]helper.DirEntry, 0, len(objects)+len(dirs))
		for _, d := range dirs {
			name := strings.TrimSuffix(strings.TrimPrefix(d, prefix), "/")
			if name == "" {
				continue
			}
			st := helper.Stat{Mode: helper.ModeDir | 0o755}
			entries = append(entries, helper.DirEntry{Name: name, Stat: &st})
		}
		for _, o := range objects {
			name := strings.TrimPrefix(o.Key, prefix)
			if name == "" || strings.Contains(name, "/") {
				continue // nested key surfaces under its own directory listing
			}
			st := statFromInfo(o)
			entries = append(entries, helper.DirEntry{Name: name, Stat: &st})
		}

		if offset >= int64(len(entries)) {
			return nil, nil
		}
		entries = entries[offset:]
		if count > 0 && count < len(entries) {
			entries = entries[:count]
		}
		result = entries
		return result, nil
	})
}

func (b *Backend) Readlink(id helper.FileID) *exec.Future[string] {
	return exec.Failed[string](errors.New(b.Name(), "readlink", errors.NotSupported, "",
		"object stores have no symlinks").WithFileID(string(id)))
}

func (b *Backend) Symlink(target string, linkID helper.FileID) *exec.Future[struct{}] {
	return exec.Failed[struct{}](errors.New(b.Name(), "symlink", errors.NotSupported, "",
		"object stores have no symlinks").WithFileID(string(linkID)))
}

func (b *Backend) Link(id, newID helper.FileID) *exec.Future[struct{}] {
	return exec.Failed[struct{}](errors.New(b.Name(), "link", errors.NotSupported, "",
		"object stores have no hard links").WithFileID(string(id)))
}

func (b *Backend) Mknod(id helper.FileID, mode helper.Mode) *exec.Future[struct{}] {
	return exec.Submit(b.pool, func(ctx context.Context) (st struct{}, err error) {
		start := time.Now()
		defer func() { b.record("mknod", start, 0, err) }()
		err = mapErr(b.Name(), "mknod", string(id), b.client.Put(ctx, string(id), nil))
		return
	})
}

// Mkdir is a no-op: a flat key space has no directory objects to create,
// and a subsequent Readdir on the prefix simply succeeds empty.
func (b *Backend) Mkdir(id helper.FileID, mode helper.Mode) *exec.Future[struct{}] {
	return exec.Resolved(struct{}{})
}

func (b *Backend) Unlink(id helper.FileID) *exec.Future[struct{}] {
	return exec.Submit(b.pool, func(ctx context.Context) (st struct{}, err error) {
		start := time.Now()
		defer func() { b.record("unlink", start, 0, err) }()
		err = mapErr(b.Name(), "unlink", string(id), b.client.Delete(ctx, []string{string(id)}))
		return
	})
}

// Rmdir only succeeds if the prefix has no children, matching the POSIX
// contract even though there is no directory object to actually remove.
func (b *Backend) Rmdir(id helper.FileID) *exec.Future[struct{}] {
	return exec.Submit(b.pool, func(ctx context.Context) (st struct{}, err error) {
		start := time.Now()
		defer func() { b.record("rmdir", start, 0, err) }()
		prefix := string(id)
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		objects, dirs, lerr := b.client.List(ctx, prefix)
		if lerr != nil {
			err = mapErr(b.Name(), "rmdir", prefix, lerr)
			return
		}
		if len(objects) > 0 || len(dirs) > 0 {
			err = errors.New(b.Name(), "rmdir", errors.InvalidArgument, "",
				"directory not empty").WithFileID(prefix).WithRetryable(false)
			return
		}
		return
	})
}

func (b *Backend) Rename(id, newID helper.FileID) *exec.Future[struct{}] {
	return exec.Submit(b.pool, func(ctx context.Context) (st struct{}, err error) {
		start := time.Now()
		defer func() { b.record("rename", start, 0, err) }()
		data, gerr := b.client.Get(ctx, string(id), 0, -1)
		if gerr != nil {
			err = mapErr(b.Name(), "rename", string(id), gerr)
			return
		}
		if perr := b.client.Put(ctx, string(newID), data); perr != nil {
			err = mapErr(b.Name(), "rename", string(newID), perr)
			return
		}
		if derr := b.client.Delete(ctx, []string{string(id)}); derr != nil {
			err = mapErr(b.Name(), "rename", string(id), derr)
			return
		}
		return
	})
}

// Chmod/Chown are accepted but inert: there is no POSIX mode to store
// against an object, so these report success rather than NotSupported —
// the same bug-for-bug leniency a FUSE frontend's getattr caching depends on
// to avoid refusing ordinary tools that chmod after write.
func (b *Backend) Chmod(id helper.FileID, mode helper.Mode) *exec.Future[struct{}] {
	return exec.Resolved(struct{}{})
}

func (b *Backend) Chown(id helper.FileID, uid, gid uint32) *exec.Future[struct{}] {
	return exec.Resolved(struct{}{})
}

func (b *Backend) Truncate(id helper.FileID, size int64) *exec.Future[struct{}] {
	return exec.Submit(b.pool, func(ctx context.Context) (st struct{}, err error) {
		start := time.Now()
		defer func() { b.record("truncate", start, size, err) }()
		if size == 0 {
			err = mapErr(b.Name(), "truncate", string(id), b.client.Put(ctx, string(id), nil))
			return
		}
		data, gerr := b.client.Get(ctx, string(id), 0, -1)
		if gerr != nil {
			err = mapErr(b.Name(), "truncate", string(id), gerr)
			return
		}
		if int64(len(data)) < size {
			padded := make([]byte, size)
			copy(padded, data)
			data = padded
		} else {
			data = data[:size]
		}
		err = mapErr(b.Name(), "truncate", string(id), b.client.Put(ctx, string(id), data))
		return
	})
}

func (b *Backend) Open(id helper.FileID, flags helper.OpenFlags) *exec.Future[helper.FileHandle] {
	return exec.Submit(b.pool, func(ctx context.Context) (fh helper.FileHandle, err error) {
		start := time.Now()
		defer func() { b.record("open", start, 0, err) }()
		if flags&helper.FlagCreate != 0 {
			if _, herr := b.client.Head(ctx, string(id)); herr != nil && errors.KindOf(herr) == errors.NotFound {
				if perr := b.client.Put(ctx, string(id), nil); perr != nil {
					err = mapErr(b.Name(), "open", string(id), perr)
					return nil, err
				}
			}
		}
		return &Handle{backend: b, id: id}, nil
	})
}

func (b *Backend) Getxattr(id helper.FileID, name string) *exec.Future[[]byte] {
	return exec.Failed[[]byte](errors.New(b.Name(), "getxattr", errors.NotSupported, "",
		"object store backend has no extended attributes").WithFileID(string(id)))
}

func (b *Backend) Setxattr(id helper.FileID, name string, value []byte) *exec.Future[struct{}] {
	return exec.Failed[struct{}](errors.New(b.Name(), "setxattr", errors.NotSupported, "",
		"object store backend has no extended attributes").WithFileID(string(id)))
}

func (b *Backend) Removexattr(id helper.FileID, name string) *exec.Future[struct{}] {
	return exec.Failed[struct{}](errors.New(b.Name(), "removexattr", errors.NotSupported, "",
		"object store backend has no extended attributes").WithFileID(string(id)))
}

func (b *Backend) Listxattr(id helper.FileID) *exec.Future[[]string] {
	return exec.Resolved[[]string](nil)
}

// ChunkKeys splits keys into slices no longer than a Client's
// MaxBatchKeys, the shape every backend's batched delete needs before it can
// issue a single API call per chunk.
func ChunkKeys(keys []string, maxBatch int) [][]string {
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	var chunks [][]string
	for len(keys) > 0 {
		n := maxBatch
		if n > len(keys) {
			n = len(keys)
		}
		chunks = append(chunks, keys[:n])
		keys = keys[n:]
	}
	return chunks
}

var _ helper.StorageHelper = (*Backend)(nil)
