// Package identity scopes the filesystem uid/gid a POSIX backend operation
// runs as, mirroring setfsuid/setfsgid's "affects this thread's filesystem
// permission checks only" semantics. Go goroutines are not pinned to OS
// threads by default, so unlike the C original this package must lock the
// calling goroutine to its OS thread for the duration of the switch — doing
// anything else would leak one goroutine's identity onto another's
// syscalls.
package identity

import (
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/jakub-valenta/helpers/pkg/errors"
)

// NoID means "don't switch this half of the identity", mirroring the
// original's use of (uid_t)-1 / (gid_t)-1 as a no-op sentinel.
const NoID = ^uint32(0)

// Context holds the OS thread lock and previous ids for one scoped identity
// switch. It must be released via End, always via defer, on every exit path
// including error returns — a POSIX helper that forgets this leaks another
// caller's uid/gid onto whichever goroutine the runtime schedules next onto
// the same thread.
type Context struct {
	prevUID uint32
	prevGID uint32
	active  bool
}

// Begin locks the calling goroutine to its current OS thread and switches
// its filesystem uid/gid to uid/gid, returning a Context that must be ended
// with End. It fails closed: if the post-switch uid/gid don't match what was
// requested, it restores the previous identity immediately and returns a
// PermissionDenied error without the caller ever issuing the syscall it
// wanted the switch for.
func Begin(uid, gid uint32) (*Context, error) {
	runtime.LockOSThread()

	prevUIDInt, _ := unix.SetfsuidRetUid(-1)
	prevGIDInt, _ := unix.SetfsgidRetGid(-1)
	prevUID := uint32(prevUIDInt)
	prevGID := uint32(prevGIDInt)

	var wantUID, wantGID int
	if uid == NoID {
		wantUID = -1
	} else {
		wantUID = int(uid)
	}
	if gid == NoID {
		wantGID = -1
	} else {
		wantGID = int(gid)
	}

	unix.Setfsuid(wantUID)
	unix.Setfsgid(wantGID)

	gotUIDInt, _ := unix.SetfsuidRetUid(-1)
	gotGIDInt, _ := unix.SetfsgidRetGid(-1)
	gotUID := uint32(gotUIDInt)
	gotGID := uint32(gotGIDInt)

	ctx := &Context{prevUID: prevUID, prevGID: prevGID, active: true}

	uidOK := uid == NoID || gotUID == uid
	gidOK := gid == NoID || gotGID == gid
	if !uidOK || !gidOK {
		ctx.End()
		return nil, errors.New("posix", "identity.switch", errors.PermissionDenied, "",
			"failed to assume requested uid/gid").WithRetryable(false)
	}

	return ctx, nil
}

// End restores the identity that was active before Begin and unlocks the OS
// thread. Calling End more than once, or on a nil Context, is a no-op.
func (c *Context) End() {
	if c == nil || !c.active {
		return
	}
	c.active = false
	unix.Setfsuid(int(c.prevUID))
	unix.Setfsgid(int(c.prevGID))
	runtime.UnlockOSThread()
}
