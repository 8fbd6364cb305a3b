package s3

import (
	"sync"
	"time"
)

// BackendMetrics is a snapshot of the counters this backend keeps for
// itself, returned by Backend.Metrics; pkg/observability does not export
// them.
type BackendMetrics struct {
	Requests        int64
	Errors          int64
	BytesUploaded   int64
	BytesDownloaded int64
	AverageLatency  time.Duration
	LastError       string
	LastErrorTime   time.Time

	CargoShipUploads int64 // uploads that went through the optimized transporter
	CargoShipFallbacks int64 // uploads that fell back to a bare SDK PutObject
}

// MetricsCollector aggregates BackendMetrics under a single lock, factored
// out so tests can assert on it independently of any real S3 call.
type MetricsCollector struct {
	mu      sync.RWMutex
	metrics BackendMetrics
}

func (c *MetricsCollector) record(duration time.Duration, isError bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.Requests++
	if isError {
		c.metrics.Errors++
	}
	if c.metrics.Requests == 1 {
		c.metrics.AverageLatency = duration
	} else {
		c.metrics.AverageLatency = time.Duration((int64(c.metrics.AverageLatency)*9 + int64(duration)) / 10)
	}
}

func (c *MetricsCollector) recordError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.LastError = err.Error()
	c.metrics.LastErrorTime = time.Now()
}

func (c *MetricsCollector) addUploaded(n int64, viaCargoShip bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.BytesUploaded += n
	if viaCargoShip {
		c.metrics.CargoShipUploads++
	}
}

func (c *MetricsCollector) addCargoShipFallback() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.CargoShipFallbacks++
}

func (c *MetricsCollector) addDownloaded(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.BytesDownloaded += n
}

func (c *MetricsCollector) snapshot() BackendMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metrics
}
