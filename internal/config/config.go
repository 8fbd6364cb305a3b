package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/jakub-valenta/helpers/pkg/helper"
)

// Configuration is the complete, multi-source application configuration for
// a storage helper process.
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Backend    BackendConfig    `yaml:"backend"`
	Buffering  BufferingConfig  `yaml:"buffering"`
	Network    NetworkConfig    `yaml:"network"`
	Security   SecurityConfig   `yaml:"security"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig holds process-wide settings.
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort int    `yaml:"metrics_port"`
	HealthPort  int    `yaml:"health_port"`
}

// BackendConfig selects and parameterizes the storage backend built by
// pkg/factory.
type BackendConfig struct {
	Name     string            `yaml:"name"`
	Buffered bool              `yaml:"buffered"`
	Params   map[string]string `yaml:"params"`
}

// BufferingConfig controls internal/buffering's per-handle write coalescing
// and the process-wide cap pkg/memmon.Budget enforces across every handle a
// buffered backend has open.
type BufferingConfig struct {
	FlushThresholdBytes int64 `yaml:"flush_threshold_bytes"`
	MaxMemoryBytes      int64 `yaml:"max_memory_bytes"`
}

// NetworkConfig groups connection-level resilience settings shared by every
// networked backend (S3, Swift, Ceph, Proxy).
type NetworkConfig struct {
	Timeouts       TimeoutConfig        `yaml:"timeouts"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// TimeoutConfig represents timeout settings.
type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect"`
	Read    time.Duration `yaml:"read"`
	Write   time.Duration `yaml:"write"`
}

// RetryConfig holds retry settings in the shape of pkg/retry.Config. No code
// in this module reads it; pkg/retry.Retryer is configured directly.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig holds circuit breaker settings for networked backends.
// No code in this module reads it; internal/circuit.CircuitBreaker is
// configured through circuit.Config directly.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// SecurityConfig holds transport security settings.
type SecurityConfig struct {
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig represents TLS settings.
type TLSConfig struct {
	VerifyCertificates bool   `yaml:"verify_certificates"`
	MinVersion         string `yaml:"min_version"`
}

// MonitoringConfig holds observability settings.
type MonitoringConfig struct {
	Metrics      MetricsConfig      `yaml:"metrics"`
	HealthChecks HealthChecksConfig `yaml:"health_checks"`
}

// MetricsConfig represents metrics settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// HealthChecksConfig represents health check settings.
type HealthChecksConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// NewDefault returns a configuration with sensible defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			LogFormat:   "text",
			MetricsPort: 8080,
			HealthPort:  8081,
		},
		Backend: BackendConfig{
			Name:     "posix",
			Buffered: true,
			Params:   map[string]string{},
		},
		Buffering: BufferingConfig{
			FlushThresholdBytes: 16 * 1024 * 1024,
			MaxMemoryBytes:      256 * 1024 * 1024,
		},
		Network: NetworkConfig{
			Timeouts: TimeoutConfig{
				Connect: 10 * time.Second,
				Read:    30 * time.Second,
				Write:   300 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   1 * time.Second,
				MaxDelay:    30 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          60 * time.Second,
			},
		},
		Security: SecurityConfig{
			TLS: TLSConfig{
				VerifyCertificates: true,
				MinVersion:         "1.2",
			},
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "helpers",
			},
			HealthChecks: HealthChecksConfig{
				Enabled:  true,
				Interval: 30 * time.Second,
				Timeout:  5 * time.Second,
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv overrides configuration from environment variables.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("HELPERS_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("HELPERS_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}
	if val := os.Getenv("HELPERS_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.MetricsPort = port
		}
	}
	if val := os.Getenv("HELPERS_BACKEND"); val != "" {
		c.Backend.Name = val
	}
	if val := os.Getenv("HELPERS_BACKEND_BUFFERED"); val != "" {
		c.Backend.Buffered = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("HELPERS_FLUSH_THRESHOLD_BYTES"); val != "" {
		if size, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.Buffering.FlushThresholdBytes = size
		}
	}
	if val := os.Getenv("HELPERS_MAX_MEMORY_BYTES"); val != "" {
		if size, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.Buffering.MaxMemoryBytes = size
		}
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Configuration) Validate() error {
	if c.Backend.Name == "" {
		return fmt.Errorf("backend.name must not be empty")
	}

	if c.Global.MetricsPort == c.Global.HealthPort {
		return fmt.Errorf("metrics_port and health_port cannot be the same")
	}

	if c.Buffering.FlushThresholdBytes <= 0 {
		return fmt.Errorf("flush_threshold_bytes must be greater than 0")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}

// Params adapts Backend.Params into the helper.Params this process's
// pkg/factory.New call expects, folding in the Buffering settings that
// pkg/factory itself reads (flushThresholdBytes, maxMemoryBytes) whenever
// they are positive, whether or not Backend.Buffered is set.
func (c *Configuration) Params() helper.Params {
	params := make(helper.Params, len(c.Backend.Params)+2)
	for k, v := range c.Backend.Params {
		params[k] = v
	}
	if c.Buffering.FlushThresholdBytes > 0 {
		params["flushThresholdBytes"] = strconv.FormatInt(c.Buffering.FlushThresholdBytes, 10)
	}
	if c.Buffering.MaxMemoryBytes > 0 {
		params["maxMemoryBytes"] = strconv.FormatInt(c.Buffering.MaxMemoryBytes, 10)
	}
	return params
}
