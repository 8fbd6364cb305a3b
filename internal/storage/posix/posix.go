// Package posix implements helper.StorageHelper directly against a local
// (or NFS-mounted) POSIX filesystem rooted at a mount point, switching the
// calling goroutine's filesystem uid/gid around every syscall via
// internal/identity so permission checks happen as the file's owner, not as
// whatever account the daemon runs under.
package posix

import (
	"context"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jakub-valenta/helpers/internal/identity"
	"github.com/jakub-valenta/helpers/pkg/errors"
	"github.com/jakub-valenta/helpers/pkg/exec"
	"github.com/jakub-valenta/helpers/pkg/helper"
	"github.com/jakub-valenta/helpers/pkg/observability"
	"github.com/jakub-valenta/helpers/pkg/retry"
)

// Backend is a StorageHelper rooted at mountPoint. FileIDs are relative
// paths under that root; the helper joins them verbatim and performs no
// traversal normalization of its own — a caller that hands it "../../etc"
// gets exactly the path that produces, same as the C original's root()
// trusted the caller completely. Containing "../" out of an untrusted
// caller's reach is the frontend's job, not this helper's.
type Backend struct {
	mountPoint string
	uid, gid   uint32
	pool       *exec.Pool
	retryer    *retry.Retryer
	metrics    observability.MetricsSink
}

// Config holds the construction parameters a Factory extracts from
// helper.Params before calling New.
type Config struct {
	MountPoint string
	UID, GID   uint32
	PoolSize   int
	Metrics    observability.MetricsSink
}

// transientCodes are the POSIX errno values worth retrying: transient I/O
// and resource-exhaustion conditions, plus the network errnos an NFS mount
// can surface through what looks like a local syscall. EACCES is included
// bug-for-bug: a loaded NFS server intermittently returns EACCES for a
// permission check that would otherwise succeed, and treating it as
// permanent would surface spurious failures to callers that retry at a
// higher layer anyway.
var transientCodes = map[error]bool{
	syscall.EINTR:          true,
	syscall.EIO:            true,
	syscall.EAGAIN:         true,
	syscall.EACCES:         true,
	syscall.EBUSY:          true,
	syscall.EMFILE:         true,
	syscall.ETXTBSY:        true,
	syscall.ESPIPE:         true,
	syscall.EMLINK:         true,
	syscall.EPIPE:          true,
	syscall.EDEADLK:        true,
	syscall.ENOLINK:        true,
	syscall.EADDRINUSE:     true,
	syscall.EADDRNOTAVAIL:  true,
	syscall.ENETDOWN:       true,
	syscall.ENETUNREACH:    true,
	syscall.ECONNABORTED:   true,
	syscall.ECONNRESET:     true,
	syscall.ENOTCONN:       true,
	syscall.EHOSTUNREACH:   true,
	syscall.ECANCELED:      true,
	syscall.ESTALE:         true,
	syscall.ENONET:         true,
	syscall.EHOSTDOWN:      true,
	syscall.EREMOTEIO:      true,
	syscall.ENOMEDIUM:      true,
}

func isTransient(err error) bool {
	var errno syscall.Errno
	if !errorsAs(err, &errno) {
		return false
	}
	return transientCodes[errno]
}

func errorsAs(err error, target *syscall.Errno) bool {
	for err != nil {
		if errno, ok := err.(syscall.Errno); ok {
			*target = errno
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// New creates a posix Backend. The pool is sized small by default: local
// filesystem syscalls are fast, and the pool exists to bound concurrency
// against NFS-backed mounts rather than to hide per-call latency.
func New(cfg Config) *Backend {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 32
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}
	b := &Backend{
		mountPoint: cfg.MountPoint,
		uid:        cfg.UID,
		gid:        cfg.GID,
		pool:       exec.NewPool("posix", cfg.PoolSize),
		metrics:    metrics,
	}
	rc := retry.DefaultConfig()
	rc.OnRetry = func(op string, attempt int, err error, delay time.Duration) {
		b.metrics.RecordOperation(b.Name(), op+".retry", 0, 0, err)
	}
	b.retryer = retry.New(rc, isTransient)
	return b
}

func (b *Backend) Name() string { return "posix" }

// record reports one completed operation to the backend's metrics sink.
func (b *Backend) record(op string, start time.Time, size int64, err error) {
	b.metrics.RecordOperation(b.Name(), op, time.Since(start), size, err)
}

// root resolves id to an absolute path under the mount point. Unlike
// filepath.Join, this never calls Clean: a "../" in id reaches the syscall
// exactly as given rather than being collapsed away. No component is
// escaped or validated; id is trusted verbatim.
func (b *Backend) root(id helper.FileID) string {
	return strings.TrimRight(b.mountPoint, "/") + "/" + string(id)
}

func mapErrno(op string, id helper.FileID, err error) error {
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if !errorsAs(err, &errno) {
		return errors.Wrap("posix", op, errors.IoError, "", err).WithFileID(string(id))
	}
	kind := errors.IoError
	switch errno {
	case syscall.ENOENT:
		kind = errors.NotFound
	case syscall.EACCES, syscall.EPERM:
		kind = errors.PermissionDenied
	case syscall.EINVAL:
		kind = errors.InvalidArgument
	case syscall.ETIMEDOUT:
		kind = errors.TimedOut
	case syscall.EEXIST:
		kind = errors.AlreadyExists
	case syscall.EISDIR:
		kind = errors.IsDirectory
	case syscall.ENOTDIR:
		kind = errors.NotDirectory
	case syscall.ENOSPC, syscall.EDQUOT:
		kind = errors.NoSpace
	case syscall.EOPNOTSUPP:
		kind = errors.NotSupported
	}
	he := errors.Wrap("posix", op, kind, errors.Code(errno.Error()), err).WithFileID(string(id))
	return he.WithRetryable(isTransient(errno))
}

// withIdentity runs fn under the backend's scoped uid/gid, restoring the
// previous identity before returning regardless of how fn exits.
func (b *Backend) withIdentity(fn func() error) error {
	idc, err := identity.Begin(b.uid, b.gid)
	if err != nil {
		return err
	}
	defer idc.End()
	return fn()
}

func (b *Backend) Getattr(id helper.FileID) *exec.Future[helper.Stat] {
	return exec.Submit(b.pool, func(ctx context.Context) (st helper.Stat, err error) {
		start := time.Now()
		defer func() { b.record("getattr", start, 0, err) }()
		err = b.retryer.Do(ctx, "getattr", func(context.Context) error {
			return b.withIdentity(func() error {
				var sys unix.Stat_t
				if err := unix.Lstat(b.root(id), &sys); err != nil {
					return err
				}
				st = statFromSys(&sys)
				return nil
			})
		})
		if err != nil {
			st, err = helper.Stat{}, mapErrno("getattr", id, err)
			return
		}
		return st, nil
	})
}

func statFromSys(sys *unix.Stat_t) helper.Stat {
	mode := helper.Mode(sys.Mode & 0o7777)
	if sys.Mode&unix.S_IFDIR != 0 {
		mode |= helper.ModeDir
	}
	return helper.Stat{
		Size:  sys.Size,
		Mode:  mode,
		UID:   sys.Uid,
		GID:   sys.Gid,
		Atime: timespecToTime(sys.Atim),
		Mtime: timespecToTime(sys.Mtim),
		Ctime: timespecToTime(sys.Ctim),
		Nlink: uint32(sys.Nlink),
	}
}

func (b *Backend) Access(id helper.FileID, mask helper.AccessMask) *exec.Future[struct{}] {
	return exec.Submit(b.pool, func(ctx context.Context) (st struct{}, err error) {
		start := time.Now()
		defer func() { b.record("access", start, 0, err) }()
		err = b.retryer.Do(ctx, "access", func(context.Context) error {
			return b.withIdentity(func() error {
				return unix.Access(b.root(id), uint32(mask))
			})
		})
		err = mapErrno("access", id, err)
		return
	})
}

func (b *Backend) Readdir(id helper.FileID, offset int64, count int) *exec.Future[[]helper.DirEntry] {
	return exec.Submit(b.pool, func(ctx context.Context) (entries []helper.DirEntry, err error) {
		start := time.Now()
		defer func() { b.record("readdir", start, int64(len(entries)), err) }()
		err = b.withIdentity(func() error {
			f, ferr := os.Open(b.root(id))
			if ferr != nil {
				return ferr
			}
			defer f.Close()

			names, rerr := f.Readdirnames(-1)
			if rerr != nil && rerr != io.EOF {
				return rerr
			}
			sort.Strings(names)
			entries = make([]helper.DirEntry, 0, len(names))
			for _, n := range names {
				entries = append(entries, helper.DirEntry{Name: n})
			}
			return nil
		})
		if err != nil {
			entries, err = nil, mapErrno("readdir", id, err)
			return
		}
		entries = paginate(entries, offset, count)
		return entries, nil
	})
}

func paginate(entries []helper.DirEntry, offset int64, count int) []helper.DirEntry {
	if offset >= int64(len(entries)) {
		return nil
	}
	entries = entries[offset:]
	if count > 0 && count < len(entries) {
		entries = entries[:count]
	}
	return entries
}

func (b *Backend) Readlink(id helper.FileID) *exec.Future[string] {
	return exec.Submit(b.pool, func(ctx context.Context) (target string, err error) {
		start := time.Now()
		defer func() { b.record("readlink", start, 0, err) }()
		err = b.withIdentity(func() error {
			t, e := os.Readlink(b.root(id))
			target = t
			return e
		})
		if err != nil {
			target, err = "", mapErrno("readlink", id, err)
			return
		}
		return target, nil
	})
}

func (b *Backend) Mknod(id helper.FileID, mode helper.Mode) *exec.Future[struct{}] {
	return exec.Submit(b.pool, func(ctx context.Context) (st struct{}, err error) {
		start := time.Now()
		defer func() { b.record("mknod", start, 0, err) }()
		err = b.withIdentity(func() error {
			return unix.Mknod(b.root(id), uint32(mode.Perm())|unix.S_IFREG, 0)
		})
		err = mapErrno("mknod", id, err)
		return
	})
}

func (b *Backend) Mkdir(id helper.FileID, mode helper.Mode) *exec.Future[struct{}] {
	return exec.Submit(b.pool, func(ctx context.Context) (st struct{}, err error) {
		start := time.Now()
		defer func() { b.record("mkdir", start, 0, err) }()
		err = b.withIdentity(func() error {
			return os.Mkdir(b.root(id), os.FileMode(mode.Perm()))
		})
		err = mapErrno("mkdir", id, err)
		return
	})
}

func (b *Backend) Unlink(id helper.FileID) *exec.Future[struct{}] {
	return exec.Submit(b.pool, func(ctx context.Context) (st struct{}, err error) {
		start := time.Now()
		defer func() { b.record("unlink", start, 0, err) }()
		err = b.withIdentity(func() error {
			return os.Remove(b.root(id))
		})
		err = mapErrno("unlink", id, err)
		return
	})
}

func (b *Backend) Rmdir(id helper.FileID) *exec.Future[struct{}] {
	return exec.Submit(b.pool, func(ctx context.Context) (st struct{}, err error) {
		start := time.Now()
		defer func() { b.record("rmdir", start, 0, err) }()
		err = b.withIdentity(func() error {
			return os.Remove(b.root(id))
		})
		err = mapErrno("rmdir", id, err)
		return
	})
}

func (b *Backend) Symlink(target string, linkID helper.FileID) *exec.Future[struct{}] {
	return exec.Submit(b.pool, func(ctx context.Context) (st struct{}, err error) {
		start := time.Now()
		defer func() { b.record("symlink", start, 0, err) }()
		err = b.withIdentity(func() error {
			return os.Symlink(target, b.root(linkID))
		})
		err = mapErrno("symlink", linkID, err)
		return
	})
}

func (b *Backend) Link(id, newID helper.FileID) *exec.Future[struct{}] {
	return exec.Submit(b.pool, func(ctx context.Context) (st struct{}, err error) {
		start := time.Now()
		defer func() { b.record("link", start, 0, err) }()
		err = b.withIdentity(func() error {
			return os.Link(b.root(id), b.root(newID))
		})
		err = mapErrno("link", id, err)
		return
	})
}

func (b *Backend) Rename(id, newID helper.FileID) *exec.Future[struct{}] {
	return exec.Submit(b.pool, func(ctx context.Context) (st struct{}, err error) {
		start := time.Now()
		defer func() { b.record("rename", start, 0, err) }()
		err = b.withIdentity(func() error {
			return os.Rename(b.root(id), b.root(newID))
		})
		err = mapErrno("rename", id, err)
		return
	})
}

func (b *Backend) Chmod(id helper.FileID, mode helper.Mode) *exec.Future[struct{}] {
	return exec.Submit(b.pool, func(ctx context.Context) (st struct{}, err error) {
		start := time.Now()
		defer func() { b.record("chmod", start, 0, err) }()
		err = b.withIdentity(func() error {
			return os.Chmod(b.root(id), os.FileMode(mode.Perm()))
		})
		err = mapErrno("chmod", id, err)
		return
	})
}

func (b *Backend) Chown(id helper.FileID, uid, gid uint32) *exec.Future[struct{}] {
	return exec.Submit(b.pool, func(ctx context.Context) (st struct{}, err error) {
		start := time.Now()
		defer func() { b.record("chown", start, 0, err) }()
		err = b.withIdentity(func() error {
			return os.Chown(b.root(id), int(uid), int(gid))
		})
		err = mapErrno("chown", id, err)
		return
	})
}

func (b *Backend) Truncate(id helper.FileID, size int64) *exec.Future[struct{}] {
	return exec.Submit(b.pool, func(ctx context.Context) (st struct{}, err error) {
		start := time.Now()
		defer func() { b.record("truncate", start, 0, err) }()
		err = b.withIdentity(func() error {
			return os.Truncate(b.root(id), size)
		})
		err = mapErrno("truncate", id, err)
		return
	})
}

func (b *Backend) Open(id helper.FileID, flags helper.OpenFlags) *exec.Future[helper.FileHandle] {
	return exec.Submit(b.pool, func(ctx context.Context) (fh helper.FileHandle, err error) {
		start := time.Now()
		defer func() { b.record("open", start, 0, err) }()
		var f *os.File
		err = b.withIdentity(func() error {
			var e error
			f, e = os.OpenFile(b.root(id), osFlags(flags), 0o644)
			return e
		})
		if err != nil {
			fh, err = nil, mapErrno("open", id, err)
			return
		}
		h := &Handle{backend: b, id: id, file: f}
		runtime.SetFinalizer(h, (*Handle).finalize)
		return h, nil
	})
}

func osFlags(flags helper.OpenFlags) int {
	var f int
	switch {
	case flags.ReadWrite():
		f = os.O_RDWR
	case flags&helper.FlagWrite != 0:
		f = os.O_WRONLY
	default:
		f = os.O_RDONLY
	}
	if flags&helper.FlagCreate != 0 {
		f |= os.O_CREATE
	}
	if flags&helper.FlagExclusive != 0 {
		f |= os.O_EXCL
	}
	if flags&helper.FlagTruncate != 0 {
		f |= os.O_TRUNC
	}
	if flags&helper.FlagAppend != 0 {
		f |= os.O_APPEND
	}
	return f
}

// xattrBufInitial is the buffer size tried first for xattr reads; on
// ERANGE the helper doubles and retries rather than guessing a huge buffer
// up front for the common case of small values.
const xattrBufInitial = 256

func (b *Backend) Getxattr(id helper.FileID, name string) *exec.Future[[]byte] {
	return exec.Submit(b.pool, func(ctx context.Context) (value []byte, err error) {
		start := time.Now()
		defer func() { b.record("getxattr", start, int64(len(value)), err) }()
		err = b.withIdentity(func() error {
			size := xattrBufInitial
			for {
				buf := make([]byte, size)
				n, e := unix.Lgetxattr(b.root(id), name, buf)
				if e == unix.ERANGE {
					size *= 2
					continue
				}
				if e != nil {
					return e
				}
				value = buf[:n]
				return nil
			}
		})
		if err != nil {
			value, err = nil, mapErrno("getxattr", id, err)
			return
		}
		return value, nil
	})
}

func (b *Backend) Setxattr(id helper.FileID, name string, value []byte) *exec.Future[struct{}] {
	return exec.Submit(b.pool, func(ctx context.Context) (st struct{}, err error) {
		start := time.Now()
		defer func() { b.record("setxattr", start, int64(len(value)), err) }()
		err = b.withIdentity(func() error {
			return unix.Lsetxattr(b.root(id), name, value, 0)
		})
		err = mapErrno("setxattr", id, err)
		return
	})
}

func (b *Backend) Removexattr(id helper.FileID, name string) *exec.Future[struct{}] {
	return exec.Submit(b.pool, func(ctx context.Context) (st struct{}, err error) {
		start := time.Now()
		defer func() { b.record("removexattr", start, 0, err) }()
		err = b.withIdentity(func() error {
			return unix.Lremovexattr(b.root(id), name)
		})
		err = mapErrno("removexattr", id, err)
		return
	})
}

func (b *Backend) Listxattr(id helper.FileID) *exec.Future[[]string] {
	return exec.Submit(b.pool, func(ctx context.Context) (names []string, err error) {
		start := time.Now()
		defer func() { b.record("listxattr", start, 0, err) }()
		err = b.withIdentity(func() error {
			size := xattrBufInitial
			for {
				buf := make([]byte, size)
				n, e := unix.Llistxattr(b.root(id), buf)
				if e == unix.ERANGE {
					size *= 2
					continue
				}
				if e != nil {
					return e
				}
				names = splitNulTerminated(buf[:n])
				return nil
			}
		})
		if err != nil {
			names, err = nil, mapErrno("listxattr", id, err)
			return
		}
		return names, nil
	})
}

func splitNulTerminated(buf []byte) []string {
	var names []string
	for _, part := range strings.Split(string(buf), "\x00") {
		if part != "" {
			names = append(names, part)
		}
	}
	return names
}

// Close shuts down the backend's worker pool. Outstanding futures unwind
// normally; no new operations may be submitted after Close returns.
func (b *Backend) Close() {
	b.pool.Close()
}
