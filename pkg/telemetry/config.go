package telemetry

import (
	"errors"
	"fmt"
	"time"
)

// Config configures telemetry for one geoexhibit process.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// Environment is reported as deployment.environment on spans.
	Environment string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the telemetry logger.
type LoggingConfig struct {
	Level string

	// Format is console or json.
	Format string

	// Output is stderr, stdout or a file path.
	Output string

	EnableCaller bool
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled bool

	// Exporter is otlp, stdout or none.
	Exporter string

	// Endpoint is the OTLP gRPC collector, e.g. "localhost:4317".
	Endpoint string
	Headers  map[string]string
	Insecure bool

	// SamplingRate is the fraction of jobs traced, 0 to 1.
	SamplingRate  float64
	ExportTimeout time.Duration
}

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	Enabled bool

	// ListenAddress serves Path over HTTP while a command runs. Empty
	// collects without serving.
	ListenAddress string
	Path          string

	Namespace string

	// DurationBuckets are the histogram buckets in seconds.
	DurationBuckets []float64
}

// EventsConfig configures job event delivery.
type EventsConfig struct {
	Enabled bool
}

// DefaultConfig returns the configuration used by the CLI.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "geoexhibit",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging:        LoggingConfig{Level: "info", Format: "console", Output: "stderr"},
		Tracing: TracingConfig{
			Exporter:      "none",
			Headers:       map[string]string{},
			Insecure:      true,
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "geoexhibit",
			// Analyzer calls and uploads range from milliseconds to minutes.
			DurationBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
		Events: EventsConfig{Enabled: true},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.ServiceName == "":
		return errors.New("service name is required")
	case c.ServiceVersion == "":
		return errors.New("service version is required")
	case c.Logging.Format != "console" && c.Logging.Format != "json":
		return fmt.Errorf("invalid log format: %s (want console or json)", c.Logging.Format)
	case c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1:
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got %g", c.Tracing.SamplingRate)
	}
	if _, ok := ParseLevel(c.Logging.Level); !ok {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if !c.Tracing.Enabled {
		return nil
	}
	switch c.Tracing.Exporter {
	case "stdout", "none":
	case "otlp":
		if c.Tracing.Endpoint == "" {
			return errors.New("otlp exporter requires an endpoint")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}
	return nil
}
