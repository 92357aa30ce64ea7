package telemetry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
	"github.com/geoexhibit/geoexhibit/pkg/stores"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "default"},
		{name: "missing service", modify: func(c *Config) { c.ServiceName = "" }, wantErr: "service name"},
		{name: "bad level", modify: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "invalid log level"},
		{name: "bad format", modify: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "invalid log format"},
		{
			name: "unknown exporter",
			modify: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "jaeger"
			},
			wantErr: "invalid trace exporter",
		},
		{
			name: "otlp without endpoint",
			modify: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
			},
			wantErr: "requires an endpoint",
		},
		{name: "sampling out of range", modify: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: "sampling rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.modify != nil {
				tt.modify(cfg)
			}
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
		ok   bool
	}{
		{"debug", zerolog.DebugLevel, true},
		{"WARNING", zerolog.WarnLevel, true},
		{" error ", zerolog.ErrorLevel, true},
		{"", zerolog.InfoLevel, false},
		{"loud", zerolog.InfoLevel, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMetricsDisabledIsNoop(t *testing.T) {
	var nilMetrics *Metrics
	disabled, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	for _, m := range []*Metrics{nilMetrics, disabled} {
		m.RecordJobStarted("c")
		m.RecordJobCompleted(engine.JobStatusSucceeded, time.Second)
		m.RecordItemsPlanned("c", 2)
		m.ObserveAnalyze("a", time.Millisecond, nil)
		m.ObjectPublished("document", 10)
		m.RecordTiles(TilesFailed)
		m.RecordError(errors.New("boom"))
		if m.Registry() != nil {
			t.Error("disabled metrics should have no registry")
		}
	}

	srv, err := disabled.StartMetricsServer(zerolog.Nop())
	if err != nil || srv != nil {
		t.Fatalf("StartMetricsServer() = %v, %v; want nil, nil", srv, err)
	}
}

func TestMetricsRecording(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RecordJobStarted("wildfires")
	m.RecordItemsPlanned("wildfires", 3)
	m.RecordItemsPlanned("wildfires", 0)
	m.ObserveAnalyze("demo_analyzer", 10*time.Millisecond, nil)
	m.ObserveAnalyze("demo_analyzer", 10*time.Millisecond, errors.New("bad raster"))
	m.ObjectPublished("document", 100)
	m.ObjectPublished("document", 50)
	m.RecordTiles(TilesGenerated)
	m.RecordJobCompleted(engine.JobStatusFailed, time.Second)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"jobs started", testutil.ToFloat64(m.jobsStarted.WithLabelValues("wildfires")), 1},
		{"active jobs", testutil.ToFloat64(m.activeJobs), 0},
		{"jobs failed", testutil.ToFloat64(m.jobsCompleted.WithLabelValues("failed")), 1},
		{"items planned", testutil.ToFloat64(m.itemsPlanned.WithLabelValues("wildfires")), 3},
		{"analyzer ok", testutil.ToFloat64(m.analyzerCalls.WithLabelValues("demo_analyzer", "ok")), 1},
		{"analyzer error", testutil.ToFloat64(m.analyzerCalls.WithLabelValues("demo_analyzer", "error")), 1},
		{"objects", testutil.ToFloat64(m.objectsPublished.WithLabelValues("document")), 2},
		{"bytes", testutil.ToFloat64(m.bytesPublished.WithLabelValues("document")), 150},
		{"tiles", testutil.ToFloat64(m.tileResults.WithLabelValues(TilesGenerated)), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestMetricsRecordError(t *testing.T) {
	m, _ := NewMetrics(DefaultConfig().Metrics)

	m.RecordError(errors.New("plain"))
	m.RecordError(engine.NewThrottledError("slow down", nil))
	m.RecordError(engine.NewConfigError("bad config"))
	m.RecordError(nil)

	if got := testutil.ToFloat64(m.errorsByClass.WithLabelValues("unclassified")); got != 1 {
		t.Errorf("unclassified = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.errorsByClass.WithLabelValues("throttled")); got != 1 {
		t.Errorf("throttled = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.errorsByCode.WithLabelValues(engine.ErrCodeConfig)); got != 1 {
		t.Errorf("config code = %v, want 1", got)
	}
}

func TestStartMetricsServer(t *testing.T) {
	cfg := DefaultConfig().Metrics
	cfg.ListenAddress = "127.0.0.1:0"
	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	m.RecordJobStarted("wildfires")

	srv, err := m.StartMetricsServer(zerolog.Nop())
	if err != nil {
		t.Fatalf("StartMetricsServer() error = %v", err)
	}
	defer srv.Shutdown(context.Background())

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `geoexhibit_jobs_started_total{collection="wildfires"} 1`) {
		t.Errorf("metrics output missing job counter:\n%s", body)
	}
}

func TestEventPublisher(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled drops events", func(t *testing.T) {
		ep := NewEventPublisher(EventsConfig{Enabled: false})
		called := false
		ep.Subscribe(func(context.Context, Event) error {
			called = true
			return nil
		}, nil)
		if err := ep.PublishJobStarted(ctx, "job", "c", false); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		if called {
			t.Error("disabled publisher delivered an event")
		}
	})

	t.Run("stamps id time and level", func(t *testing.T) {
		ep := NewEventPublisher(EventsConfig{Enabled: true})
		var got Event
		ep.Subscribe(func(_ context.Context, e Event) error {
			got = e
			return nil
		}, nil)
		_ = ep.PublishStep(ctx, "job", engine.EventTypeTilesSkipped, "no tippecanoe", nil)

		if got.ID == "" || got.Timestamp.IsZero() {
			t.Errorf("event not stamped: %+v", got)
		}
		if got.Level != EventLevelWarning {
			t.Errorf("Level = %q, want warning", got.Level)
		}
	})

	t.Run("subscriber errors are joined", func(t *testing.T) {
		ep := NewEventPublisher(EventsConfig{Enabled: true})
		calls := 0
		ep.Subscribe(func(context.Context, Event) error {
			calls++
			return errors.New("first")
		}, nil)
		ep.Subscribe(func(context.Context, Event) error {
			calls++
			return nil
		}, nil)

		err := ep.PublishJobStarted(ctx, "job", "c", false)
		if err == nil || !strings.Contains(err.Error(), "first") {
			t.Errorf("Publish() error = %v, want first", err)
		}
		if calls != 2 {
			t.Errorf("calls = %d, want 2", calls)
		}
	})

	t.Run("filters", func(t *testing.T) {
		ep := NewEventPublisher(EventsConfig{Enabled: true})
		ep.AddFilter(FilterByJobID("job-a"))
		var types []engine.EventType
		ep.Subscribe(func(_ context.Context, e Event) error {
			types = append(types, e.Type)
			return nil
		}, FilterByType(engine.EventTypeJobFailed))

		_ = ep.PublishJobFailed(ctx, "job-b", errors.New("other job"))
		_ = ep.PublishJobStarted(ctx, "job-a", "c", false)
		_ = ep.PublishJobFailed(ctx, "job-a", errors.New("boom"))

		if len(types) != 1 || types[0] != engine.EventTypeJobFailed {
			t.Errorf("delivered %v, want [job_failed]", types)
		}
	})
}

func TestStoreSubscriber(t *testing.T) {
	ctx := context.Background()
	store, err := stores.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	ep := NewEventPublisher(EventsConfig{Enabled: true})
	ep.Subscribe(StoreSubscriber(store), nil)

	_ = ep.PublishJobStarted(ctx, "job-1", "wildfires", true)
	cause := engine.NewPermanentError("policy", nil).WithCode(engine.ErrCodePolicyDenied)
	if err := ep.PublishJobFailed(ctx, "job-1", cause); err != nil {
		t.Fatalf("PublishJobFailed() error = %v", err)
	}

	jobID := "job-1"
	events, err := store.ListEvents(ctx, &jobID, nil, 0, 0)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].Type != string(engine.EventTypeJobStarted) || events[0].Level != stores.EventLevelInfo {
		t.Errorf("first event = %s/%s", events[0].Type, events[0].Level)
	}
	failed := events[1]
	if failed.Level != stores.EventLevelError {
		t.Errorf("failed level = %s, want error", failed.Level)
	}
	if failed.Details == nil || !strings.Contains(*failed.Details, engine.ErrCodePolicyDenied) {
		t.Errorf("failed details = %v, want the error code", failed.Details)
	}
}

type fakeAnalyzer struct {
	err   error
	calls int
}

func (f *fakeAnalyzer) Name() string { return "fake" }

func (f *fakeAnalyzer) Analyze(context.Context, *geojson.Feature, engine.TimeSpan) (*engine.AnalyzerOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &engine.AnalyzerOutput{
		PrimaryCOGAsset: &engine.AssetSpec{Key: "analysis", Href: "/tmp/a.tif", Roles: []string{"data", "primary"}},
	}, nil
}

func TestTracerStdoutSpans(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig().Tracing
	cfg.Enabled = true
	cfg.Exporter = "stdout"

	tracer, err := NewTracer(cfg, "geoexhibit", "test", "test", &buf)
	if err != nil {
		t.Fatalf("NewTracer() error = %v", err)
	}

	ctx, jobSpan := tracer.StartJobSpan(context.Background(), "job-1", "wildfires")
	if TraceID(ctx) == "" {
		t.Error("job span has no trace id")
	}

	fake := &fakeAnalyzer{err: errors.New("bad input")}
	analyzer := tracer.WrapAnalyzer(fake)
	if analyzer.Name() != "fake" {
		t.Errorf("Name() = %q, want fake", analyzer.Name())
	}
	f := geojson.NewFeature(orb.Point{1, 2})
	f.Properties["feature_id"] = "fire-1"
	if _, err := analyzer.Analyze(ctx, f, engine.Instant(time.Date(2023, 8, 1, 0, 0, 0, 0, time.UTC))); err == nil {
		t.Error("wrapped analyzer swallowed the error")
	}
	jobSpan.End()

	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"job.run", "analyzer.analyze", "fire-1", "bad input"} {
		if !strings.Contains(out, want) {
			t.Errorf("trace output missing %q", want)
		}
	}
	if fake.calls != 1 {
		t.Errorf("calls = %d, want 1", fake.calls)
	}
}

func TestStartStep(t *testing.T) {
	tel := Nop()
	m, _ := NewMetrics(DefaultConfig().Metrics)
	tel.Metrics = m

	ic := tel.StartStep(context.Background(), "publish")
	ic.End(engine.NewTransientError("timeout", nil))

	if got := testutil.ToFloat64(m.errorsByClass.WithLabelValues("transient")); got != 1 {
		t.Errorf("transient errors = %v, want 1", got)
	}
}
