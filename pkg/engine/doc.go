// Package engine holds the GeoExhibit publishing core: time spans, analysis
// units, the publish plan and the planner that fans features out into items.
//
// # Overview
//
// A pipeline run turns a GeoJSON FeatureCollection into a PublishPlan:
//
//  1. Every feature is given a stable feature_id property.
//  2. A TimeProvider resolves zero or more TimeSpans per feature.
//  3. The Analyzer runs once per (feature, span) pair and returns an AnalyzerOutput.
//  4. The resulting PublishItems are collected with collection metadata.
//  5. The plan is validated as a whole before anything downstream sees it.
//
// Identifiers come from an IDGenerator (ULIDs by default), so plans are
// structurally deterministic but not byte-identical across runs.
//
// # Errors
//
// All failures surfaced by the core are *EngineError values classified as
// transient, throttled, conflict or permanent. Configuration and plan
// invariant violations are permanent and are never retried:
//
//	if engine.HasCode(err, engine.ErrCodeDuplicateID) {
//	    // two items share an identifier
//	}
//
// RetryPolicy retries transient, throttled and conflict errors with
// exponential backoff; the publish and verify steps run under it.
package engine
