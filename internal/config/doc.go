/*
Package config provides configuration management for a helpers storage
process, with multi-source support.

Configuration loads in increasing precedence: compiled-in defaults
(NewDefault), a YAML file (LoadFromFile), then environment variables
(LoadFromEnv). Call Validate after applying all three.

# Configuration Structure

Global: log level/format and the metrics/health listener ports.

Backend: which pkg/factory backend to build (name, buffered, and its
backend-specific Params, e.g. bucket/endpoint for s3 or mountPoint for
posix).

Buffering: the flush threshold internal/buffering uses to coalesce writes.

Network: connect/read/write timeouts, retry policy, and circuit breaker
settings shared by every networked backend.

Security: TLS verification settings for backends that dial a remote
endpoint.

Monitoring: whether metrics and health checks are enabled, and their
polling interval/timeout.

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("/etc/helpers/config.yaml"); err != nil {
		log.Fatal(err)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
*/
package config
