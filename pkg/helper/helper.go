// Package helper defines the contract every storage backend implements: a
// StorageHelper that names, attributes, and directories are addressed
// through, and a FileHandle obtained from StorageHelper.Open that reads and
// writes against an already-open file. Every operation is asynchronous,
// returning an *exec.Future rather than blocking the caller, so a frontend
// dispatching many concurrent requests never waits on one slow backend call
// before issuing the next.
package helper

import (
	"strconv"
	"time"

	"github.com/jakub-valenta/helpers/pkg/exec"
)

// FileID is the opaque, backend-scoped name a StorageHelper addresses an
// object or inode by: a POSIX path, an S3/Swift key, a RADOS object name, or
// whatever a proxy's upstream assigns. Callers must never parse, normalize,
// or otherwise attach meaning to it beyond passing it back to the same
// helper that produced it.
type FileID string

// Params are the backend-specific construction arguments a Factory passes
// through unexamined to the chosen backend's constructor — bucket name and
// region for S3, a mount root for POSIX, a monitor hostname for Ceph, and so
// on. The factory itself never inspects these keys.
type Params map[string]string

// String returns the value for key, or def if key is absent.
func (p Params) String(key, def string) string {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Duration parses the value for key as a time.Duration, falling back to def
// on either absence or a parse error.
func (p Params) Duration(key string, def time.Duration) time.Duration {
	v, ok := p[key]
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// Bool parses the value for key as a boolean, falling back to def on either
// absence or a parse error. Accepts the same spellings as strconv.ParseBool.
func (p Params) Bool(key string, def bool) bool {
	v, ok := p[key]
	if !ok {
		return def
	}
	switch v {
	case "1", "t", "T", "true", "TRUE", "True":
		return true
	case "0", "f", "F", "false", "FALSE", "False":
		return false
	default:
		return def
	}
}

// Int parses the value for key as a base-10 integer, falling back to def on
// either absence or a parse error.
func (p Params) Int(key string, def int) int {
	v, ok := p[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// OpenFlags mirrors the POSIX open(2) flag bits a caller needs a backend to
// honor; a helper that has no notion of exclusivity or append simply ignores
// the bits it can't express.
type OpenFlags uint32

const (
	FlagRead OpenFlags = 1 << iota
	FlagWrite
	FlagCreate
	FlagExclusive
	FlagTruncate
	FlagAppend
)

// ReadWrite reports whether both FlagRead and FlagWrite are set.
func (f OpenFlags) ReadWrite() bool { return f&FlagRead != 0 && f&FlagWrite != 0 }

// Readable reports whether the handle should support Read.
func (f OpenFlags) Readable() bool { return f&FlagRead != 0 || f == 0 }

// Writable reports whether the handle should support Write.
func (f OpenFlags) Writable() bool { return f&FlagWrite != 0 }

// Mode is a 12-bit POSIX permission-and-type mode: the low 9 bits are rwx
// for user/group/other, the next 3 are setuid/setgid/sticky. Object-store
// backends that have no real mode bits synthesize a fixed value (0644 for
// objects, 0755 for synthetic directories).
type Mode uint32

const (
	ModeDir    Mode = 1 << 31 // out-of-band type bit, not part of the 12-bit field
	permBits        = 0o7777
	ModePerm   Mode = permBits
)

// IsDir reports whether m describes a directory.
func (m Mode) IsDir() bool { return m&ModeDir != 0 }

// Perm returns just the 12-bit permission field.
func (m Mode) Perm() Mode { return m & permBits }

// AccessMask is the bitmask passed to StorageHelper.Access, matching
// POSIX access(2)'s R_OK/W_OK/X_OK.
type AccessMask uint32

const (
	AccessRead    AccessMask = 0x4
	AccessWrite   AccessMask = 0x2
	AccessExecute AccessMask = 0x1
)

// Stat is the backend-independent attribute set returned by Getattr. Fields
// a backend cannot populate (Nlink on a flat object store, Atime on a
// backend with no separate access-time tracking) are left at their zero
// value rather than guessed.
type Stat struct {
	Size  int64
	Mode  Mode
	UID   uint32
	GID   uint32
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
	Nlink uint32
}

// Xattr is a single extended attribute name/value pair, the unit
// Getxattr/Setxattr/Listxattr operate on.
type Xattr struct {
	Name  string
	Value []byte
}

// DirEntry is one entry yielded by Readdir: a child name plus, when the
// backend can produce it for free (a POSIX getdents64 d_type, an S3
// ListObjectsV2 CommonPrefix), its Stat so the frontend can skip a
// round-trip Getattr.
type DirEntry struct {
	Name string
	Stat *Stat // nil when the backend did not have it cheaply available
}

// StorageHelper is the operation set every backend — POSIX, S3, Swift, Ceph,
// or a Proxy to a remote implementation of this same interface — exposes
// uniformly above a translation layer that has no idea which one it is
// talking to. Every method name and FileID it hands a caller is already
// backend-scoped; nothing here crosses backends.
type StorageHelper interface {
	// Name identifies which backend this instance talks to (e.g. "s3",
	// "posix"), for logging and metrics labeling.
	Name() string

	Getattr(id FileID) *exec.Future[Stat]
	Access(id FileID, mask AccessMask) *exec.Future[struct{}]
	Readdir(id FileID, offset int64, count int) *exec.Future[[]DirEntry]
	Readlink(id FileID) *exec.Future[string]

	Mknod(id FileID, mode Mode) *exec.Future[struct{}]
	Mkdir(id FileID, mode Mode) *exec.Future[struct{}]
	Unlink(id FileID) *exec.Future[struct{}]
	Rmdir(id FileID) *exec.Future[struct{}]
	Symlink(target string, linkID FileID) *exec.Future[struct{}]
	Link(id, newID FileID) *exec.Future[struct{}]
	Rename(id, newID FileID) *exec.Future[struct{}]

	Chmod(id FileID, mode Mode) *exec.Future[struct{}]
	Chown(id FileID, uid, gid uint32) *exec.Future[struct{}]
	Truncate(id FileID, size int64) *exec.Future[struct{}]

	Open(id FileID, flags OpenFlags) *exec.Future[FileHandle]

	Getxattr(id FileID, name string) *exec.Future[[]byte]
	Setxattr(id FileID, name string, value []byte) *exec.Future[struct{}]
	Removexattr(id FileID, name string) *exec.Future[struct{}]
	Listxattr(id FileID) *exec.Future[[]string]
}

// FileHandle is the state an already-open file carries between Read/Write
// calls: an S3 handle's in-flight multipart upload, a POSIX handle's file
// descriptor, a Ceph handle's ioctx + oid. It is owned by exactly one caller
// between Open and Release.
type FileHandle interface {
	Read(buf []byte, offset int64) *exec.Future[int]
	Write(buf []byte, offset int64) *exec.Future[int]
	Flush() *exec.Future[struct{}]
	Fsync() *exec.Future[struct{}]
	Release() *exec.Future[struct{}]
}
