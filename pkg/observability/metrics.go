package observability

import "time"

// MetricsClient records operation outcomes. The engine only needs a
// narrow surface; a richer backend can wrap this interface.
type MetricsClient interface {
	// RecordOperation records one operation outcome with its duration.
	RecordOperation(component, operation string, success bool, duration time.Duration)
	// IncrementCounter increments a named counter.
	IncrementCounter(name string, value float64)
}

// NoopMetricsClient discards all metrics.
type NoopMetricsClient struct{}

// NewNoopMetricsClient creates a NoopMetricsClient.
func NewNoopMetricsClient() MetricsClient { return &NoopMetricsClient{} }

func (c *NoopMetricsClient) RecordOperation(component, operation string, success bool, duration time.Duration) {
}
func (c *NoopMetricsClient) IncrementCounter(name string, value float64) {}

// LogMetricsClient logs each recorded operation at debug level. Handy
// for local runs of the backfill and search CLIs.
type LogMetricsClient struct {
	logger Logger
}

// NewLogMetricsClient creates a metrics client backed by a logger.
func NewLogMetricsClient(logger Logger) MetricsClient {
	return &LogMetricsClient{logger: logger}
}

// RecordOperation implements MetricsClient.
func (c *LogMetricsClient) RecordOperation(component, operation string, success bool, duration time.Duration) {
	c.logger.Debug("operation recorded", map[string]interface{}{
		"component":   component,
		"operation":   operation,
		"success":     success,
		"duration_ms": duration.Milliseconds(),
	})
}

// IncrementCounter implements MetricsClient.
func (c *LogMetricsClient) IncrementCounter(name string, value float64) {
	c.logger.Debug("counter incremented", map[string]interface{}{
		"name":  name,
		"value": value,
	})
}
