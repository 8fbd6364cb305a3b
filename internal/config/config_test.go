package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("Expected LogLevel to be INFO, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsPort != 8080 {
		t.Errorf("Expected MetricsPort to be 8080, got %d", cfg.Global.MetricsPort)
	}
	if cfg.Global.HealthPort != 8081 {
		t.Errorf("Expected HealthPort to be 8081, got %d", cfg.Global.HealthPort)
	}
	if cfg.Backend.Name != "posix" {
		t.Errorf("Expected Backend.Name to be posix, got %s", cfg.Backend.Name)
	}
	if !cfg.Backend.Buffered {
		t.Error("Expected Backend.Buffered to be true by default")
	}
	if cfg.Buffering.FlushThresholdBytes != 16*1024*1024 {
		t.Errorf("Expected FlushThresholdBytes to be 16MB, got %d", cfg.Buffering.FlushThresholdBytes)
	}
	if cfg.Buffering.MaxMemoryBytes != 256*1024*1024 {
		t.Errorf("Expected MaxMemoryBytes to be 256MB, got %d", cfg.Buffering.MaxMemoryBytes)
	}
	if cfg.Network.Retry.MaxAttempts != 3 {
		t.Errorf("Expected Retry.MaxAttempts to be 3, got %d", cfg.Network.Retry.MaxAttempts)
	}
	if !cfg.Monitoring.Metrics.Enabled {
		t.Error("Expected Metrics.Enabled to be true by default")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  func() *Configuration
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			config: NewDefault,
		},
		{
			name: "empty backend name",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Backend.Name = ""
				return cfg
			},
			wantErr: true,
			errMsg:  "backend.name must not be empty",
		},
		{
			name: "same metrics and health ports",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.MetricsPort = 8080
				cfg.Global.HealthPort = 8080
				return cfg
			},
			wantErr: true,
			errMsg:  "metrics_port and health_port cannot be the same",
		},
		{
			name: "non-positive flush threshold",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Buffering.FlushThresholdBytes = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "flush_threshold_bytes must be greater than 0",
		},
		{
			name: "invalid log level",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.LogLevel = "INVALID"
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid log_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config().Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %v, want error containing %v", err, tt.errMsg)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
global:
  log_level: DEBUG
  metrics_port: 9090
  health_port: 9091

backend:
  name: s3
  buffered: false
  params:
    bucket: my-bucket
`

	if err := os.WriteFile(configFile, []byte(configContent), 0600); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Global.LogLevel != "DEBUG" {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsPort != 9090 {
		t.Errorf("Expected MetricsPort to be 9090, got %d", cfg.Global.MetricsPort)
	}
	if cfg.Backend.Name != "s3" {
		t.Errorf("Expected Backend.Name to be s3, got %s", cfg.Backend.Name)
	}
	if cfg.Backend.Buffered {
		t.Error("Expected Backend.Buffered to be false")
	}
	if cfg.Backend.Params["bucket"] != "my-bucket" {
		t.Errorf("Expected Params[bucket] to be my-bucket, got %s", cfg.Backend.Params["bucket"])
	}
}

func TestLoadFromFileNonExistent(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.LoadFromFile("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error when loading non-existent config file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HELPERS_LOG_LEVEL", "ERROR")
	t.Setenv("HELPERS_METRICS_PORT", "9090")
	t.Setenv("HELPERS_BACKEND", "swift")
	t.Setenv("HELPERS_BACKEND_BUFFERED", "false")
	t.Setenv("HELPERS_FLUSH_THRESHOLD_BYTES", "1048576")
	t.Setenv("HELPERS_MAX_MEMORY_BYTES", "33554432")

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Global.LogLevel != "ERROR" {
		t.Errorf("Expected LogLevel to be ERROR, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsPort != 9090 {
		t.Errorf("Expected MetricsPort to be 9090, got %d", cfg.Global.MetricsPort)
	}
	if cfg.Backend.Name != "swift" {
		t.Errorf("Expected Backend.Name to be swift, got %s", cfg.Backend.Name)
	}
	if cfg.Backend.Buffered {
		t.Error("Expected Backend.Buffered to be false")
	}
	if cfg.Buffering.FlushThresholdBytes != 1048576 {
		t.Errorf("Expected FlushThresholdBytes to be 1048576, got %d", cfg.Buffering.FlushThresholdBytes)
	}
	if cfg.Buffering.MaxMemoryBytes != 33554432 {
		t.Errorf("Expected MaxMemoryBytes to be 33554432, got %d", cfg.Buffering.MaxMemoryBytes)
	}
}

func TestSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "saved_config.yaml")

	cfg := NewDefault()
	cfg.Global.LogLevel = "DEBUG"
	cfg.Backend.Name = "ceph"

	if err := cfg.SaveToFile(configFile); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}

	newCfg := NewDefault()
	if err := newCfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}

	if newCfg.Global.LogLevel != "DEBUG" {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", newCfg.Global.LogLevel)
	}
	if newCfg.Backend.Name != "ceph" {
		t.Errorf("Expected Backend.Name to be ceph, got %s", newCfg.Backend.Name)
	}
}

func TestSaveToFileCreateDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := NewDefault()
	if err := cfg.SaveToFile(configFile); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}
	if _, err := os.Stat(filepath.Dir(configFile)); os.IsNotExist(err) {
		t.Error("Config directory was not created")
	}
}

func TestParamsAdaptsToHelperParams(t *testing.T) {
	cfg := NewDefault()
	cfg.Backend.Params = map[string]string{"mountPoint": "/data"}

	params := cfg.Params()
	if params.String("mountPoint", "") != "/data" {
		t.Errorf("Params().String(mountPoint) = %q, want /data", params.String("mountPoint", ""))
	}
}

func TestParamsFoldsInBufferingSettings(t *testing.T) {
	cfg := NewDefault()
	cfg.Buffering.FlushThresholdBytes = 1024
	cfg.Buffering.MaxMemoryBytes = 2048

	params := cfg.Params()
	if got := params.Int("flushThresholdBytes", 0); got != 1024 {
		t.Errorf("Params().Int(flushThresholdBytes) = %d, want 1024", got)
	}
	if got := params.Int("maxMemoryBytes", 0); got != 2048 {
		t.Errorf("Params().Int(maxMemoryBytes) = %d, want 2048", got)
	}
}
