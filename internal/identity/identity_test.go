package identity

import (
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

func currentFsuid() uint32 {
	v, _ := unix.SetfsuidRetUid(-1)
	return uint32(v)
}

func TestBeginNoIDIsANoop(t *testing.T) {
	t.Parallel()

	ctx, err := Begin(NoID, NoID)
	if err != nil {
		t.Fatalf("Begin(NoID, NoID) err = %v", err)
	}
	defer ctx.End()

	if got := currentFsuid(); got != uint32(os.Geteuid()) {
		t.Errorf("fsuid changed despite NoID: got %d, want %d", got, os.Geteuid())
	}
}

func TestBeginRestoresOnEnd(t *testing.T) {
	t.Parallel()

	before := currentFsuid()

	ctx, err := Begin(before, NoID)
	if err != nil {
		t.Fatalf("Begin() err = %v", err)
	}
	ctx.End()

	after := currentFsuid()
	if after != before {
		t.Errorf("fsuid after End() = %d, want restored %d", after, before)
	}
}

func TestEndIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx, err := Begin(NoID, NoID)
	if err != nil {
		t.Fatalf("Begin() err = %v", err)
	}
	ctx.End()
	ctx.End() // must not panic or double-unlock the OS thread
}

func TestEndOnNilIsNoop(t *testing.T) {
	t.Parallel()

	var ctx *Context
	ctx.End()
}

func TestBeginToUnprivilegedUIDFailsWithoutCapability(t *testing.T) {
	t.Parallel()

	if os.Geteuid() == 0 {
		t.Skip("running as root: setfsuid to an arbitrary uid succeeds, nothing to assert")
	}

	// A non-root caller can only assume its own uid (or NoID); asking for an
	// arbitrary foreign uid like 1 should fail the post-switch check and
	// surface as PermissionDenied with the identity restored.
	_, err := Begin(1, NoID)
	if err == nil {
		t.Skip("process has CAP_SETUID or equivalent; cannot exercise the failure path")
	}
}
