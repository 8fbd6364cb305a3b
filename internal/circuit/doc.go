// Package circuit implements the circuit breaker internal/storage/objectstore
// wraps every backend Client in: once a backend fails consistently, the
// breaker trips open and callers get an immediate HostUnreachable instead of
// stacking up requests behind a slow or dead endpoint, then probes for
// recovery in the half-open state.
package circuit
