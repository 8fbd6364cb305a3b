package exec

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// PoolStats mirrors the shape every backend already exposes for its
// connection pool, generalized to the worker pool every helper now submits
// its blocking calls to.
type PoolStats struct {
	Active    int64
	Submitted int64
	Completed int64
	Failed    int64
}

// Pool is a bounded worker pool backing a single backend: every Open, Read,
// Write, Getattr, ... submits its blocking body here instead of running it
// on the caller's goroutine, so a slow or hung backend call never stalls the
// frontend dispatch loop.
type Pool struct {
	name string
	p    *pool.ContextPool

	mu      sync.Mutex
	stats   PoolStats
	closed  bool
	closeFn context.CancelFunc
}

// NewPool creates a worker pool with at most maxGoroutines concurrently
// in-flight operations. A maxGoroutines of 0 leaves it unbounded, matching
// conc's default.
func NewPool(name string, maxGoroutines int) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := pool.New().WithContext(ctx).WithCancelOnError()
	if maxGoroutines > 0 {
		p = p.WithMaxGoroutines(maxGoroutines)
	}
	return &Pool{name: name, p: p, closeFn: cancel}
}

// Submit runs fn on the pool and returns a Future for its result. The
// Future's Cancel cancels only fn's ctx; it does not stop the underlying
// goroutine from being counted against the pool until fn actually returns.
func Submit[T any](pl *Pool, fn func(context.Context) (T, error)) *Future[T] {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFuture[T](cancel)

	pl.mu.Lock()
	pl.stats.Submitted++
	pl.stats.Active++
	pl.mu.Unlock()

	pl.p.Go(func(poolCtx context.Context) error {
		defer func() {
			pl.mu.Lock()
			pl.stats.Active--
			pl.mu.Unlock()
		}()

		runCtx := ctx
		done := make(chan struct{})
		go func() {
			select {
			case <-poolCtx.Done():
				cancel()
			case <-done:
			}
		}()

		v, err := fn(runCtx)
		close(done)

		pl.mu.Lock()
		if err != nil {
			pl.stats.Failed++
		} else {
			pl.stats.Completed++
		}
		pl.mu.Unlock()

		f.resolve(v, err)
		return nil
	})

	return f
}

// SubmitAfter behaves like Submit but does not invoke fn until d has
// elapsed.
func SubmitAfter[T any](pl *Pool, d time.Duration, fn func(context.Context) (T, error)) *Future[T] {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFuture[T](cancel)

	pl.mu.Lock()
	pl.stats.Submitted++
	pl.stats.Active++
	pl.mu.Unlock()

	pl.p.Go(func(poolCtx context.Context) error {
		defer func() {
			pl.mu.Lock()
			pl.stats.Active--
			pl.mu.Unlock()
		}()

		select {
		case <-time.After(d):
		case <-ctx.Done():
			f.resolve(zeroOf[T](), ctx.Err())
			return nil
		case <-poolCtx.Done():
			cancel()
			f.resolve(zeroOf[T](), poolCtx.Err())
			return nil
		}

		v, err := fn(ctx)
		pl.mu.Lock()
		if err != nil {
			pl.stats.Failed++
		} else {
			pl.stats.Completed++
		}
		pl.mu.Unlock()
		f.resolve(v, err)
		return nil
	})

	return f
}

func zeroOf[T any]() T {
	var z T
	return z
}

// Stats returns a snapshot of the pool's counters.
func (pl *Pool) Stats() PoolStats {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.stats
}

// Name identifies which backend's pool this is, for metrics labeling.
func (pl *Pool) Name() string { return pl.name }

// Close stops accepting new submissions and cancels the pool's shared
// context; in-flight operations observe cancellation via their ctx but are
// not force-killed. Close waits for them to unwind.
func (pl *Pool) Close() {
	pl.mu.Lock()
	if pl.closed {
		pl.mu.Unlock()
		return
	}
	pl.closed = true
	pl.mu.Unlock()

	pl.closeFn()
	_ = pl.p.Wait()
}
