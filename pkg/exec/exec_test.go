package exec

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFutureGetBlocksUntilResolved(t *testing.T) {
	t.Parallel()

	p := NewPool("test", 4)
	defer p.Close()

	f := Submit(p, func(ctx context.Context) (int, error) {
		time.Sleep(10 * time.Millisecond)
		return 42, nil
	})

	v, err := f.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() err = %v", err)
	}
	if v != 42 {
		t.Errorf("Get() = %d, want 42", v)
	}
}

func TestFutureGetRespectsCallerContext(t *testing.T) {
	t.Parallel()

	p := NewPool("test", 1)
	defer p.Close()

	f := Submit(p, func(ctx context.Context) (int, error) {
		time.Sleep(50 * time.Millisecond)
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	_, err := f.Get(ctx)
	if err != context.DeadlineExceeded {
		t.Errorf("Get() err = %v, want DeadlineExceeded", err)
	}
}

func TestFuturePropagatesError(t *testing.T) {
	t.Parallel()

	p := NewPool("test", 2)
	defer p.Close()

	sentinel := errors.New("boom")
	f := Submit(p, func(ctx context.Context) (int, error) {
		return 0, sentinel
	})

	_, err := f.Wait()
	if err != sentinel {
		t.Errorf("Wait() err = %v, want sentinel", err)
	}
}

func TestThenChainsContinuation(t *testing.T) {
	t.Parallel()

	p := NewPool("test", 2)
	defer p.Close()

	f := Submit(p, func(ctx context.Context) (int, error) { return 2, nil })
	g := Then(f, func(v int, err error) (int, error) {
		if err != nil {
			return 0, err
		}
		return v * 10, nil
	})

	v, err := g.Wait()
	if err != nil {
		t.Fatalf("Wait() err = %v", err)
	}
	if v != 20 {
		t.Errorf("Wait() = %d, want 20", v)
	}
}

func TestResolvedAndFailed(t *testing.T) {
	t.Parallel()

	v, err := Resolved(7).Wait()
	if err != nil || v != 7 {
		t.Errorf("Resolved: got (%d, %v), want (7, nil)", v, err)
	}

	sentinel := errors.New("x")
	_, err = Failed[int](sentinel).Wait()
	if err != sentinel {
		t.Errorf("Failed: got err %v, want sentinel", err)
	}
}

func TestPoolStatsCountCompletions(t *testing.T) {
	t.Parallel()

	p := NewPool("test", 2)
	defer p.Close()

	f1 := Submit(p, func(ctx context.Context) (int, error) { return 1, nil })
	f2 := Submit(p, func(ctx context.Context) (int, error) { return 0, errors.New("fail") })
	f1.Wait()
	f2.Wait()

	stats := p.Stats()
	if stats.Submitted != 2 {
		t.Errorf("Submitted = %d, want 2", stats.Submitted)
	}
	if stats.Completed != 1 {
		t.Errorf("Completed = %d, want 1", stats.Completed)
	}
	if stats.Failed != 1 {
		t.Errorf("Failed = %d, want 1", stats.Failed)
	}
}

func TestSchedulerAfterFires(t *testing.T) {
	t.Parallel()

	s := NewScheduler()
	defer s.Close()

	done := make(chan struct{})
	s.After(5*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("After callback never fired")
	}
}

func TestSchedulerAfterCancel(t *testing.T) {
	t.Parallel()

	s := NewScheduler()
	defer s.Close()

	fired := make(chan struct{})
	cancel := s.After(20*time.Millisecond, func() { close(fired) })
	cancel()

	select {
	case <-fired:
		t.Fatal("callback fired after cancel")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSchedulerEveryTicks(t *testing.T) {
	t.Parallel()

	s := NewScheduler()
	defer s.Close()

	ticks := make(chan struct{}, 10)
	cancel := s.Every(5*time.Millisecond, func() {
		select {
		case ticks <- struct{}{}:
		default:
		}
	})
	defer cancel()

	select {
	case <-ticks:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Every never ticked")
	}
}
