package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
)

// Metrics provides Prometheus metrics for publishing jobs.
// The zero value and a nil *Metrics record nothing.
type Metrics struct {
	config MetricsConfig

	// Job metrics
	jobsStarted   *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	activeJobs    prometheus.Gauge

	// Plan metrics
	itemsPlanned *prometheus.CounterVec

	// Analyzer metrics
	analyzerCalls    *prometheus.CounterVec
	analyzerDuration *prometheus.HistogramVec

	// Publish metrics
	objectsPublished *prometheus.CounterVec
	bytesPublished   *prometheus.CounterVec

	// Tile metrics
	tileResults *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// Tile generation outcomes.
const (
	TilesGenerated = "generated"
	TilesSkipped   = "skipped"
	TilesFailed    = "failed"
)

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		jobsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_started_total",
				Help:      "Total number of publishing jobs started",
			},
			[]string{"collection"},
		),
		jobsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_completed_total",
				Help:      "Total number of publishing jobs completed",
			},
			[]string{"status"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Duration of publishing jobs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		activeJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_jobs",
				Help:      "Current number of running jobs",
			},
		),

		itemsPlanned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_planned_total",
				Help:      "Total number of items placed into publish plans",
			},
			[]string{"collection"},
		),

		analyzerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analyzer_calls_total",
				Help:      "Total number of analyzer calls",
			},
			[]string{"analyzer", "outcome"},
		),
		analyzerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "analyzer_call_duration_seconds",
				Help:      "Duration of analyzer calls in seconds",
				Buckets:   buckets,
			},
			[]string{"analyzer"},
		),

		objectsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "objects_published_total",
				Help:      "Total number of objects written to the output store",
			},
			[]string{"kind"},
		),
		bytesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_published_total",
				Help:      "Total number of bytes written to the output store",
			},
			[]string{"kind"},
		),

		tileResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tile_generations_total",
				Help:      "Vector tile generation attempts by result",
			},
			[]string{"result"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.jobsStarted,
		m.jobsCompleted,
		m.jobDuration,
		m.activeJobs,
		m.itemsPlanned,
		m.analyzerCalls,
		m.analyzerDuration,
		m.objectsPublished,
		m.bytesPublished,
		m.tileResults,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Registry returns the registry holding the collectors, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordJobStarted increments the counter for started jobs.
func (m *Metrics) RecordJobStarted(collectionID string) {
	if !m.enabled() {
		return
	}
	m.jobsStarted.WithLabelValues(collectionID).Inc()
	m.activeJobs.Inc()
}

// RecordJobCompleted records a finished job with its final status.
func (m *Metrics) RecordJobCompleted(status engine.JobStatus, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.jobsCompleted.WithLabelValues(string(status)).Inc()
	m.jobDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
	m.activeJobs.Dec()
}

// RecordItemsPlanned adds n planned items for a collection.
func (m *Metrics) RecordItemsPlanned(collectionID string, n int) {
	if !m.enabled() || n <= 0 {
		return
	}
	m.itemsPlanned.WithLabelValues(collectionID).Add(float64(n))
}

// ObserveAnalyze records one analyzer call. It satisfies engine.AnalyzeObserver.
func (m *Metrics) ObserveAnalyze(analyzer string, elapsed time.Duration, err error) {
	if !m.enabled() {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.analyzerCalls.WithLabelValues(analyzer, outcome).Inc()
	m.analyzerDuration.WithLabelValues(analyzer).Observe(elapsed.Seconds())
}

// ObjectPublished records one stored object. It satisfies publisher.Observer.
func (m *Metrics) ObjectPublished(kind string, size int64) {
	if !m.enabled() {
		return
	}
	m.objectsPublished.WithLabelValues(kind).Inc()
	if size > 0 {
		m.bytesPublished.WithLabelValues(kind).Add(float64(size))
	}
}

// RecordTiles records the outcome of vector tile generation.
func (m *Metrics) RecordTiles(result string) {
	if !m.enabled() {
		return
	}
	m.tileResults.WithLabelValues(result).Inc()
}

// RecordError records an error by class and, when present, by code.
// Unclassified errors count under the "unclassified" class.
func (m *Metrics) RecordError(err error) {
	if !m.enabled() || err == nil {
		return
	}
	var engErr *engine.EngineError
	if !errors.As(err, &engErr) {
		m.errorsByClass.WithLabelValues("unclassified").Inc()
		return
	}
	m.errorsByClass.WithLabelValues(string(engErr.Class)).Inc()
	if engErr.Code != "" {
		m.errorsByCode.WithLabelValues(engErr.Code).Inc()
	}
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// MetricsServer serves the metrics endpoint until shut down.
type MetricsServer struct {
	server *http.Server
	addr   string
}

// Addr returns the address the server is listening on.
func (s *MetricsServer) Addr() string { return s.addr }

// Shutdown stops the server.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// StartMetricsServer binds the configured listen address and serves metrics
// in the background. It returns nil, nil when metrics are disabled or no
// address is configured.
func (m *Metrics) StartMetricsServer(log zerolog.Logger) (*MetricsServer, error) {
	if !m.enabled() || m.config.ListenAddress == "" {
		return nil, nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	ln, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return nil, engine.NewConfigError("metrics listen address %s: %v", m.config.ListenAddress, err)
	}

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	log.Info().Str("addr", ln.Addr().String()).Str("path", path).Msg("serving metrics")
	return &MetricsServer{server: server, addr: ln.Addr().String()}, nil
}
