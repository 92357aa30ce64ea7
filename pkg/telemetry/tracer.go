package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/paulmach/orb/geojson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
)

// Tracer wraps the OpenTelemetry tracer with pipeline span helpers.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	config   TracingConfig
}

// NewTracer creates a new tracer. The stdout exporter writes to w, or to
// os.Stdout when w is nil.
func NewTracer(cfg TracingConfig, serviceName, serviceVersion, environment string, w io.Writer) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{
			tracer: noop.NewTracerProvider().Tracer(serviceName),
			config: cfg,
		}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
			attribute.String("environment", environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "otlp":
		exporter, err = createOTLPExporter(cfg)
	case "stdout":
		exporter, err = createStdoutExporter(w)
	case "none":
		exporter = nil
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	}
	if exporter != nil {
		// Spans are exported as they end.
		opts = append(opts, sdktrace.WithSyncer(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(serviceName),
		config:   cfg,
	}, nil
}

func createOTLPExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	if cfg.ExportTimeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(cfg.ExportTimeout))
	}
	return otlptracegrpc.New(context.Background(), opts...)
}

func createStdoutExporter(w io.Writer) (sdktrace.SpanExporter, error) {
	if w == nil {
		w = os.Stdout
	}
	return stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint(),
	)
}

// StartSpan starts a span with the given attributes.
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
}

// StartJobSpan starts the root span of a publishing job.
func (t *Tracer) StartJobSpan(ctx context.Context, jobID, collectionID string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "job.run",
		AttrJobID.String(jobID),
		AttrCollectionID.String(collectionID),
	)
}

// StartStepSpan starts a span for one pipeline step such as "publish".
func (t *Tracer) StartStepSpan(ctx context.Context, step string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "job."+step, AttrStep.String(step))
}

// StartAnalyzeSpan starts a span for one analyzer call.
func (t *Tracer) StartAnalyzeSpan(ctx context.Context, analyzer, featureID string, span engine.TimeSpan) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "analyzer.analyze",
		AttrAnalyzer.String(analyzer),
		AttrFeatureID.String(featureID),
		AttrTimeSpan.String(span.String()),
	)
}

// WrapAnalyzer returns an analyzer that records a span around every call.
func (t *Tracer) WrapAnalyzer(a engine.Analyzer) engine.Analyzer {
	return &tracedAnalyzer{Analyzer: a, tracer: t}
}

type tracedAnalyzer struct {
	engine.Analyzer
	tracer *Tracer
}

func (a *tracedAnalyzer) Analyze(ctx context.Context, feature *geojson.Feature, span engine.TimeSpan) (*engine.AnalyzerOutput, error) {
	var featureID string
	if v, ok := feature.Properties[engine.FeatureIDProperty]; ok && v != nil {
		featureID = fmt.Sprint(v)
	}
	ctx, s := a.tracer.StartAnalyzeSpan(ctx, a.Analyzer.Name(), featureID, span)
	defer s.End()

	out, err := a.Analyzer.Analyze(ctx, feature, span)
	if err != nil {
		RecordError(s, err)
		return nil, err
	}
	RecordSuccess(s)
	return out, nil
}

// RecordError records an error on the span.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var engErr *engine.EngineError
	if errors.As(err, &engErr) {
		span.SetAttributes(AttrErrorClass.String(string(engErr.Class)))
		if engErr.Code != "" {
			span.SetAttributes(AttrErrorCode.String(engErr.Code))
		}
	}
}

// RecordSuccess marks the span as successful.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Shutdown flushes and stops the tracer.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// ForceFlush forces all pending spans to be exported immediately.
func (t *Tracer) ForceFlush(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.ForceFlush(ctx)
}

// TraceID returns the trace ID of the current span in the context.
func TraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// Common attribute keys for pipeline tracing.
var (
	AttrJobID        = attribute.Key("job.id")
	AttrCollectionID = attribute.Key("collection.id")
	AttrStep         = attribute.Key("job.step")
	AttrItemCount    = attribute.Key("job.item_count")

	AttrAnalyzer  = attribute.Key("analyzer.name")
	AttrFeatureID = attribute.Key("feature.id")
	AttrTimeSpan  = attribute.Key("time.span")

	AttrStoreRoot = attribute.Key("store.root")

	AttrErrorClass = attribute.Key("error.class")
	AttrErrorCode  = attribute.Key("error.code")
)
