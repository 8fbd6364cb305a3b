// Package errors provides the error taxonomy shared by every storage
// helper: a fixed set of Kinds callers can switch on, plus the
// platform-specific code and retry hint that produced them.
package errors

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Kind is the fixed, backend-independent taxonomy every helper maps its
// native errors onto before returning them to a caller.
type Kind string

const (
	NotFound          Kind = "NOT_FOUND"
	PermissionDenied  Kind = "PERMISSION_DENIED"
	InvalidArgument   Kind = "INVALID_ARGUMENT"
	TimedOut          Kind = "TIMED_OUT"
	HostUnreachable   Kind = "HOST_UNREACHABLE"
	NetworkUnreachable Kind = "NETWORK_UNREACHABLE"
	IoError           Kind = "IO_ERROR"
	NotSupported      Kind = "NOT_SUPPORTED"
	AlreadyExists     Kind = "ALREADY_EXISTS"
	IsDirectory       Kind = "IS_DIRECTORY"
	NotDirectory      Kind = "NOT_DIRECTORY"
	NoSpace           Kind = "NO_SPACE"
	Cancelled         Kind = "CANCELLED"
)

// Code is the underlying platform error code (an errno name, an S3/Swift
// error code, a RADOS return code, ...) carried alongside Kind so logs and
// metrics retain backend-specific detail without callers needing to switch
// on it.
type Code string

// HelperError is a tagged value, not a control-flow escape: every
// StorageHelper and FileHandle operation that fails returns one of these
// as its error, never a bare backend error.
type HelperError struct {
	Kind      Kind      `json:"kind"`
	Code      Code      `json:"code"`
	Backend   string    `json:"backend"`
	Op        string    `json:"op,omitempty"`
	FileID    string    `json:"file_id,omitempty"`
	Message   string    `json:"message"`
	Cause     error     `json:"-"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
	Stack     string    `json:"stack,omitempty"`
}

func (e *HelperError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s %s: %s", e.Backend, e.Op, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Backend, e.Kind, e.Message)
}

func (e *HelperError) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, target) compare by Kind, the only thing most
// callers can legitimately branch on across backends.
func (e *HelperError) Is(target error) bool {
	var other *HelperError
	if asHelperError(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func asHelperError(err error, out **HelperError) bool {
	he, ok := err.(*HelperError)
	if !ok {
		return false
	}
	*out = he
	return true
}

// New builds a HelperError for backend at op, classifying retryability
// from Kind by default; callers override with WithRetryable when a backend
// knows better (e.g. bug-compatible EACCES retry in the POSIX helper).
func New(backend, op string, kind Kind, code Code, message string) *HelperError {
	return &HelperError{
		Kind:      kind,
		Code:      code,
		Backend:   backend,
		Op:        op,
		Message:   message,
		Retryable: defaultRetryable(kind),
		Timestamp: time.Now(),
	}
}

// Wrap is New plus an underlying cause, the common case at a backend
// boundary translating a native error.
func Wrap(backend, op string, kind Kind, code Code, cause error) *HelperError {
	e := New(backend, op, kind, code, cause.Error())
	e.Cause = cause
	return e
}

func defaultRetryable(kind Kind) bool {
	switch kind {
	case TimedOut, HostUnreachable, NetworkUnreachable, IoError:
		return true
	default:
		return false
	}
}

func (e *HelperError) WithRetryable(r bool) *HelperError {
	e.Retryable = r
	return e
}

func (e *HelperError) WithFileID(fileID string) *HelperError {
	e.FileID = fileID
	return e
}

func (e *HelperError) WithStack() *HelperError {
	e.Stack = captureStack(2)
	return e
}

func (e *HelperError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(data)
}

func captureStack(skip int) string {
	const depth = 16
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// KindOf extracts the Kind from err, defaulting to IoError for anything that
// isn't a *HelperError so call sites can always switch on a Kind.
func KindOf(err error) Kind {
	if he, ok := err.(*HelperError); ok {
		return he.Kind
	}
	return IoError
}

// IsRetryable reports whether err, if reissued unchanged, might succeed.
func IsRetryable(err error) bool {
	if he, ok := err.(*HelperError); ok {
		return he.Retryable
	}
	return false
}
