// Package telemetry provides observability for GeoExhibit publishing jobs.
//
// The package combines structured logging (zerolog), tracing (OpenTelemetry),
// metrics (Prometheus) and a job event timeline into one Telemetry value that
// the pipeline carries through every step.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Metrics.ListenAddress = ":9464"
//
//	tel, err := telemetry.NewTelemetry(cfg, os.Stderr)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// # Logging
//
// Loggers carry job context as structured fields:
//
//	logger := tel.Logger.NewComponentLogger("pipeline")
//	logger.WithJobID(jobID).WithItemID(itemID).Info("item planned")
//
// Packages that take a *zerolog.Logger receive tel.Logger.Zerolog().
//
// # Tracing
//
// A job produces one "job.run" span with a child span per step
// (plan, tiles, catalog, policy, publish, verify). Analyzers wrapped with
// Tracer.WrapAnalyzer add an "analyzer.analyze" span per call. Exporters:
//
//   - "stdout": pretty-printed spans to the configured writer
//   - "otlp": OTLP/gRPC to TracingConfig.Endpoint
//   - "none": spans are created but not exported
//
// # Metrics
//
// Metrics implements engine.AnalyzeObserver and publisher.Observer, so it is
// passed straight to the planner and the publisher. Key series:
//
//   - geoexhibit_jobs_started_total{collection}
//   - geoexhibit_jobs_completed_total{status}
//   - geoexhibit_job_duration_seconds{status}
//   - geoexhibit_items_planned_total{collection}
//   - geoexhibit_analyzer_calls_total{analyzer,outcome}
//   - geoexhibit_analyzer_call_duration_seconds{analyzer}
//   - geoexhibit_objects_published_total{kind}
//   - geoexhibit_bytes_published_total{kind}
//   - geoexhibit_tile_generations_total{result}
//   - geoexhibit_errors_by_class_total{class}
//   - geoexhibit_errors_by_code_total{code}
//
// StartMetricsServer serves them over HTTP when a listen address is set.
//
// # Events
//
// Events are delivered synchronously, in order, to every subscriber.
// StoreSubscriber persists them into the job history:
//
//	tel.Events.Subscribe(telemetry.StoreSubscriber(store), nil)
//	tel.Events.PublishJobStarted(ctx, jobID, collectionID, false)
//
// Event filters: FilterByLevel, FilterByType, FilterByJobID.
package telemetry
