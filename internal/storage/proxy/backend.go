package proxy

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/jakub-valenta/helpers/pkg/errors"
	"github.com/jakub-valenta/helpers/pkg/exec"
	"github.com/jakub-valenta/helpers/pkg/helper"
	"github.com/jakub-valenta/helpers/pkg/observability"
)

// Backend forwards helper.StorageHelper calls to a remote provider reachable
// through a Communicator. Open, Getattr, Unlink, Rename and Truncate, and the
// file operations of the Handle that Open returns, go over the Communicator.
// Access, Readdir, Readlink, Mknod, Mkdir, Rmdir, Symlink, Link, Chmod,
// Chown, Getxattr, Setxattr and Removexattr are not proxied and return
// errors.NotSupported; Listxattr returns an empty list.
type Backend struct {
	storageID string
	comm      *Communicator
	pool      *exec.Pool
	metrics   observability.MetricsSink
}

// Config holds the storageId a Factory extracts from helper.Params, naming
// which of the remote provider's storages this Backend proxies to.
type Config struct {
	StorageID string
	PoolSize  int
	Metrics   observability.MetricsSink
}

// New wraps comm for storage cfg.StorageID.
func New(comm *Communicator, cfg Config) *Backend {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 8
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}
	return &Backend{
		storageID: cfg.StorageID,
		comm:      comm,
		pool:      exec.NewPool("proxy", poolSize),
		metrics:   metrics,
	}
}

func (b *Backend) Name() string { return "proxy" }

// record reports one completed operation to the backend's metrics sink.
func (b *Backend) record(op string, start time.Time, size int64, err error) {
	b.metrics.RecordOperation(b.Name(), op, time.Since(start), size, err)
}

// call is the single choke point every proxied RPC routes through, which
// makes it the natural place to record per-operation metrics regardless of
// which StorageHelper/FileHandle method triggered the round trip.
func (b *Backend) call(ctx context.Context, op string, id helper.FileID, args map[string]string, data []byte) (resp *Response, err error) {
	start := time.Now()
	defer func() {
		size := int64(len(data))
		if resp != nil {
			size += int64(len(resp.Data))
		}
		b.record(op, start, size, err)
	}()
	resp, err = b.comm.Call(ctx, &Request{
		StorageID: b.storageID,
		Op:        op,
		FileID:    string(id),
		Args:      args,
		Data:      data,
	})
	if err != nil {
		err = errors.Wrap("proxy", op, errors.HostUnreachable, "", err).WithFileID(string(id))
		return nil, err
	}
	if resp.Err != nil {
		err = errors.New("proxy", op, errors.Kind(resp.Err.Kind), errors.Code(resp.Err.Code),
			resp.Err.Message).WithFileID(string(id))
		return nil, err
	}
	return resp, nil
}

func (b *Backend) Open(id helper.FileID, flags helper.OpenFlags) *exec.Future[helper.FileHandle] {
	return exec.Submit(b.pool, func(ctx context.Context) (helper.FileHandle, error) {
		_, err := b.call(ctx, "open", id, map[string]string{"flags": flagsString(flags)}, nil)
		if err != nil {
			return nil, err
		}
		return &Handle{backend: b, id: id}, nil
	})
}

func (b *Backend) Getattr(id helper.FileID) *exec.Future[helper.Stat] {
	return exec.Submit(b.pool, func(ctx context.Context) (helper.Stat, error) {
		resp, err := b.call(ctx, "getattr", id, nil, nil)
		if err != nil {
			return helper.Stat{}, err
		}
		var st helper.Stat
		if err := json.Unmarshal(resp.Payload, &st); err != nil {
			return helper.Stat{}, errors.Wrap("proxy", "getattr", errors.IoError, "", err).WithFileID(string(id))
		}
		return st, nil
	})
}

func notSupported(pl *exec.Pool, op string, id helper.FileID) *exec.Future[struct{}] {
	return exec.Submit(pl, func(context.Context) (struct{}, error) {
		return struct{}{}, errors.New("proxy", op, errors.NotSupported, "",
			"attribute and directory operations are served by the remote provider's own backend, not proxied")
	})
}

func (b *Backend) Access(id helper.FileID, _ helper.AccessMask) *exec.Future[struct{}] {
	return notSupported(b.pool, "access", id)
}

func (b *Backend) Readdir(id helper.FileID, _ int64, _ int) *exec.Future[[]helper.DirEntry] {
	return exec.Submit(b.pool, func(context.Context) ([]helper.DirEntry, error) {
		return nil, errors.New("proxy", "readdir", errors.NotSupported, "", "not proxied")
	})
}

func (b *Backend) Readlink(id helper.FileID) *exec.Future[string] {
	return exec.Submit(b.pool, func(context.Context) (string, error) {
		return "", errors.New("proxy", "readlink", errors.NotSupported, "", "not proxied")
	})
}

func (b *Backend) Mknod(id helper.FileID, _ helper.Mode) *exec.Future[struct{}] {
	return notSupported(b.pool, "mknod", id)
}

func (b *Backend) Mkdir(id helper.FileID, _ helper.Mode) *exec.Future[struct{}] {
	return notSupported(b.pool, "mkdir", id)
}

func (b *Backend) Unlink(id helper.FileID) *exec.Future[struct{}] {
	return exec.Submit(b.pool, func(ctx context.Context) (struct{}, error) {
		_, err := b.call(ctx, "unlink", id, nil, nil)
		return struct{}{}, err
	})
}

func (b *Backend) Rmdir(id helper.FileID) *exec.Future[struct{}] {
	return notSupported(b.pool, "rmdir", id)
}

func (b *Backend) Symlink(_ string, linkID helper.FileID) *exec.Future[struct{}] {
	return notSupported(b.pool, "symlink", linkID)
}

func (b *Backend) Link(id, _ helper.FileID) *exec.Future[struct{}] {
	return notSupported(b.pool, "link", id)
}

func (b *Backend) Rename(id, newID helper.FileID) *exec.Future[struct{}] {
	return exec.Submit(b.pool, func(ctx context.Context) (struct{}, error) {
		_, err := b.call(ctx, "rename", id, map[string]string{"new_id": string(newID)}, nil)
		return struct{}{}, err
	})
}

func (b *Backend) Chmod(id helper.FileID, _ helper.Mode) *exec.Future[struct{}] {
	return notSupported(b.pool, "chmod", id)
}

func (b *Backend) Chown(id helper.FileID, _, _ uint32) *exec.Future[struct{}] {
	return notSupported(b.pool, "chown", id)
}

func (b *Backend) Truncate(id helper.FileID, size int64) *exec.Future[struct{}] {
	return exec.Submit(b.pool, func(ctx context.Context) (struct{}, error) {
		_, err := b.call(ctx, "truncate", id, map[string]string{"size": itoa(size)}, nil)
		return struct{}{}, err
	})
}

func (b *Backend) Getxattr(id helper.FileID, _ string) *exec.Future[[]byte] {
	return exec.Submit(b.pool, func(context.Context) ([]byte, error) {
		return nil, errors.New("proxy", "getxattr", errors.NotSupported, "", "not proxied")
	})
}

func (b *Backend) Setxattr(id helper.FileID, _ string, _ []byte) *exec.Future[struct{}] {
	return notSupported(b.pool, "setxattr", id)
}

func (b *Backend) Removexattr(id helper.FileID, _ string) *exec.Future[struct{}] {
	return notSupported(b.pool, "removexattr", id)
}

func (b *Backend) Listxattr(id helper.FileID) *exec.Future[[]string] {
	return exec.Submit(b.pool, func(context.Context) ([]string, error) {
		return nil, nil
	})
}

func (b *Backend) Close() {
	b.pool.Close()
	b.comm.Close()
}

func flagsString(flags helper.OpenFlags) string {
	buf := make([]byte, 0, 4)
	if flags.Readable() {
		buf = append(buf, 'r')
	}
	if flags.Writable() {
		buf = append(buf, 'w')
	}
	return string(buf)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

var _ helper.StorageHelper = (*Backend)(nil)
