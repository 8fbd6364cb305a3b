//go:build ceph

// Package ceph implements objectstore.Client against a Ceph RADOS pool
// using go-ceph/rados. Ceph's native object namespace has no prefix index
// at all (unlike S3's lexicographically sorted key listing), so List here
// is the most expensive of the three flat-key backends: it walks the
// entire pool's object iterator and filters client-side.
package ceph

import (
	"context"
	"strings"

	"github.com/ceph/go-ceph/rados"

	"github.com/jakub-valenta/helpers/internal/storage/objectstore"
	"github.com/jakub-valenta/helpers/pkg/errors"
)

// Config holds the cluster connection and pool parameters a Factory
// extracts from helper.Params, mirroring the clusterName/monitorHostname/
// poolName/username/key parameter names the original C++ helper used.
type Config struct {
	ClusterName string
	MonHost     string
	PoolName    string
	UserName    string
	Key         string
}

// Backend implements objectstore.Client against one RADOS pool.
type Backend struct {
	conn *rados.Conn
	ioctx *rados.IOContext
}

// New connects to the cluster described by cfg and opens an I/O context on
// cfg.PoolName.
func New(cfg Config) (*Backend, error) {
	conn, err := rados.NewConnWithClusterAndUser(cfg.ClusterName, cfg.UserName)
	if err != nil {
		return nil, errors.Wrap("ceph", "connect", errors.IoError, "", err)
	}
	if cfg.MonHost != "" {
		if err := conn.SetConfigOption("mon_host", cfg.MonHost); err != nil {
			return nil, errors.Wrap("ceph", "connect", errors.InvalidArgument, "", err)
		}
	}
	if cfg.Key != "" {
		if err := conn.SetConfigOption("key", cfg.Key); err != nil {
			return nil, errors.Wrap("ceph", "connect", errors.InvalidArgument, "", err)
		}
	}
	if err := conn.Connect(); err != nil {
		return nil, errors.Wrap("ceph", "connect", errors.HostUnreachable, "", err)
	}

	ioctx, err := conn.OpenIOContext(cfg.PoolName)
	if err != nil {
		conn.Shutdown()
		return nil, errors.Wrap("ceph", "connect", errors.IoError, "", err)
	}

	return &Backend{conn: conn, ioctx: ioctx}, nil
}

func (b *Backend) Name() string { return "ceph" }

// MaxBatchKeys is conservative: RADOS has no native batch-delete call, so
// Delete below just issues one Delete per key regardless of chunk size.
func (b *Backend) MaxBatchKeys() int { return 1000 }

func (b *Backend) Head(_ context.Context, key string) (objectstore.ObjectInfo, error) {
	stat, err := b.ioctx.Stat(key)
	if err != nil {
		return objectstore.ObjectInfo{}, translateError(err, "head", key)
	}
	return objectstore.ObjectInfo{
		Key:     key,
		Size:    int64(stat.Size),
		ModTime: stat.ModTime.Unix(),
	}, nil
}

// List walks the pool's full object iterator, since RADOS keeps no
// lexicographic or prefix index over object names. Pseudo-directories are
// synthesized the same way objectstore does for S3/Swift: any object whose
// remaining path after prefix contains a "/" contributes its first
// segment as a directory instead of a direct child.
func (b *Backend) List(_ context.Context, prefix string) ([]objectstore.ObjectInfo, []string, error) {
	iter, err := b.ioctx.Iter()
	if err != nil {
		return nil, nil, translateError(err, "list", prefix)
	}
	defer iter.Close()

	var objects []objectstore.ObjectInfo
	seenDirs := make(map[string]struct{})

	for iter.Next() {
		name := iter.Value()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := name[len(prefix):]
		if rest == "" {
			continue
		}
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			seenDirs[prefix+rest[:idx+1]] = struct{}{}
			continue
		}
		stat, err := b.ioctx.Stat(name)
		if err != nil {
			continue
		}
		objects = append(objects, objectstore.ObjectInfo{
			Key:     name,
			Size:    int64(stat.Size),
			ModTime: stat.ModTime.Unix(),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, nil, translateError(err, "list", prefix)
	}

	dirs := make([]string, 0, len(seenDirs))
	for d := range seenDirs {
		dirs = append(dirs, d)
	}
	return objects, dirs, nil
}

func (b *Backend) Get(_ context.Context, key string, offset, length int64) ([]byte, error) {
	stat, err := b.ioctx.Stat(key)
	if err != nil {
		return nil, translateError(err, "get", key)
	}

	size := int64(stat.Size) - offset
	if size < 0 {
		size = 0
	}
	if length > 0 && length < size {
		size = length
	}
	buf := make([]byte, size)
	if size == 0 {
		return buf, nil
	}

	n, err := b.ioctx.Read(key, buf, uint64(offset))
	if err != nil {
		return nil, translateError(err, "get", key)
	}
	return buf[:n], nil
}

func (b *Backend) Put(_ context.Context, key string, data []byte) error {
	if err := b.ioctx.WriteFull(key, data); err != nil {
		return translateError(err, "put", key)
	}
	return nil
}

// Delete issues one RADOS delete per key, in order, and stops at the first
// failure: unlike S3/Swift, RADOS has no batch-delete primitive for go-ceph
// to wrap, so no batch request is built.
func (b *Backend) Delete(_ context.Context, keys []string) error {
	for _, key := range keys {
		if err := b.ioctx.Delete(key); err != nil {
			return translateError(err, "delete", key)
		}
	}
	return nil
}

func (b *Backend) HealthCheck(_ context.Context) error {
	_, _, err := b.conn.MonitorCommand([]byte(`{"prefix": "health", "format": "json"}`))
	if err != nil {
		return errors.Wrap("ceph", "health_check", errors.HostUnreachable, "", err)
	}
	return nil
}

func (b *Backend) Close() error {
	if b.ioctx != nil {
		b.ioctx.Destroy()
	}
	if b.conn != nil {
		b.conn.Shutdown()
	}
	return nil
}

func translateError(err error, op, key string) error {
	switch err {
	case rados.ErrNotFound:
		return errors.Wrap("ceph", op, errors.NotFound, "ENOENT", err).WithFileID(key).WithRetryable(false)
	case rados.ErrPermissionDenied:
		return errors.Wrap("ceph", op, errors.PermissionDenied, "EACCES", err).WithFileID(key).WithRetryable(false)
	}
	return errors.Wrap("ceph", op, errors.IoError, "", err).WithFileID(key)
}

var _ objectstore.Client = (*Backend)(nil)
