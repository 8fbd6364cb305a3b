package objectstore

import (
	"context"

	"github.com/jakub-valenta/helpers/internal/circuit"
	"github.com/jakub-valenta/helpers/pkg/errors"
)

// circuitClient wraps a Client so that once a backend starts failing
// consistently, objectstore stops hammering it and fails fast instead of
// queueing every request behind the backend's own timeout.
type circuitClient struct {
	inner   Client
	breaker *circuit.CircuitBreaker
}

// withCircuitBreaker decorates client with a breaker that trips after
// repeated failures and probes for recovery after cfg.Timeout.
func withCircuitBreaker(client Client, cfg circuit.Config) Client {
	return &circuitClient{
		inner:   client,
		breaker: circuit.NewCircuitBreaker(client.Name(), cfg),
	}
}

func (c *circuitClient) Name() string { return c.inner.Name() }

func (c *circuitClient) MaxBatchKeys() int { return c.inner.MaxBatchKeys() }

func (c *circuitClient) Head(ctx context.Context, key string) (ObjectInfo, error) {
	var info ObjectInfo
	err := c.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		var innerErr error
		info, innerErr = c.inner.Head(ctx, key)
		return innerErr
	})
	return info, c.translateBreakerErr(err)
}

func (c *circuitClient) List(ctx context.Context, prefix string) ([]ObjectInfo, []string, error) {
	var objects []ObjectInfo
	var dirs []string
	err := c.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		var innerErr error
		objects, dirs, innerErr = c.inner.List(ctx, prefix)
		return innerErr
	})
	return objects, dirs, c.translateBreakerErr(err)
}

func (c *circuitClient) Get(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	var data []byte
	err := c.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		var innerErr error
		data, innerErr = c.inner.Get(ctx, key, offset, length)
		return innerErr
	})
	return data, c.translateBreakerErr(err)
}

func (c *circuitClient) Put(ctx context.Context, key string, data []byte) error {
	err := c.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return c.inner.Put(ctx, key, data)
	})
	return c.translateBreakerErr(err)
}

func (c *circuitClient) Delete(ctx context.Context, keys []string) error {
	err := c.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return c.inner.Delete(ctx, keys)
	})
	return c.translateBreakerErr(err)
}

// translateBreakerErr maps the breaker's own open/too-many-requests errors
// into the shared taxonomy so callers still get a HelperError regardless
// of whether the failure came from the backend or from the breaker itself.
func (c *circuitClient) translateBreakerErr(err error) error {
	switch err {
	case circuit.ErrOpenState, circuit.ErrTooManyRequests:
		return errors.New(c.inner.Name(), "circuit", errors.HostUnreachable, "", err.Error()).WithRetryable(true)
	default:
		return err
	}
}

var _ Client = (*circuitClient)(nil)
