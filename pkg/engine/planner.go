package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"
)

// Defaults applied to collection metadata.
var (
	DefaultKeywords = []string{"geospatial", "analysis", "raster"}
	DefaultLicense  = "proprietary"
)

// AnalyzeObserver receives the outcome of each analyzer call.
type AnalyzeObserver interface {
	ObserveAnalyze(analyzer string, elapsed time.Duration, err error)
}

// PlannerOptions configure a Planner.
type PlannerOptions struct {
	// CollectionID is the collection every item belongs to.
	CollectionID string

	// Title and Description populate the collection metadata.
	Title       string
	Description string

	// FeatureIDPrefix is prepended to generated feature ids.
	FeatureIDPrefix string

	// IDs generates job, item and feature ids. Defaults to ULIDGenerator.
	IDs IDGenerator

	// JobID, if set, is used instead of a generated job id.
	JobID string

	// Logger receives per-feature progress. Defaults to a disabled logger.
	Logger *zerolog.Logger

	// Observer, if set, is told about every analyzer call.
	Observer AnalyzeObserver
}

// Planner fans features out into analysis units and assembles a PublishPlan.
// It holds no state between runs.
type Planner struct {
	opts PlannerOptions
	log  zerolog.Logger
}

// NewPlanner creates a planner.
func NewPlanner(opts PlannerOptions) *Planner {
	if opts.IDs == nil {
		opts.IDs = ULIDGenerator{}
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Planner{opts: opts, log: log}
}

// EnsureFeatureID sets a generated feature_id property on f when it is missing
// or empty. It reports whether f was modified.
func EnsureFeatureID(f *geojson.Feature, prefix string, ids IDGenerator) bool {
	if f.Properties == nil {
		f.Properties = geojson.Properties{}
	}
	if v, ok := f.Properties[FeatureIDProperty]; ok && v != nil && fmt.Sprint(v) != "" {
		return false
	}
	f.Properties[FeatureIDProperty] = prefix + ids.NewID()
	return true
}

func (p *Planner) jobID() string {
	if p.opts.JobID != "" {
		return p.opts.JobID
	}
	return p.opts.IDs.NewID()
}

func checkCollection(fc *geojson.FeatureCollection) error {
	if fc == nil || len(fc.Features) == 0 {
		return NewValidationError("feature collection is empty").WithOperation("plan")
	}
	for i, f := range fc.Features {
		if f == nil {
			return NewValidationError("feature %d is null", i).WithOperation("plan")
		}
	}
	return nil
}

// BuildPlan runs the fan-out: ids, time resolution, one analyzer call per
// span, metadata, validation. Any analyzer error aborts the run.
func (p *Planner) BuildPlan(ctx context.Context, fc *geojson.FeatureCollection, analyzer Analyzer, times TimeProvider) (*PublishPlan, error) {
	if err := checkCollection(fc); err != nil {
		return nil, err
	}
	if analyzer == nil || times == nil {
		return nil, NewConfigError("planner needs an analyzer and a time provider")
	}

	plan := &PublishPlan{
		CollectionID: p.opts.CollectionID,
		JobID:        p.jobID(),
		Items:        make([]*PublishItem, 0, len(fc.Features)),
	}
	log := p.log.With().Str("job_id", plan.JobID).Logger()
	log.Info().Int("features", len(fc.Features)).Str("analyzer", analyzer.Name()).Msg("Building publish plan")

	for _, feature := range fc.Features {
		EnsureFeatureID(feature, p.opts.FeatureIDPrefix, p.opts.IDs)
		featureID := fmt.Sprint(feature.Properties[FeatureIDProperty])

		spans := times.ForFeature(feature)
		log.Debug().Str("feature_id", featureID).Int("spans", len(spans)).Msg("Resolved time spans")

		for _, span := range spans {
			if err := ctx.Err(); err != nil {
				return nil, NewTransientError("plan building cancelled", err).WithOperation("plan")
			}

			itemID := p.opts.IDs.NewID()
			started := time.Now()
			output, err := analyzer.Analyze(ctx, feature, span)
			if p.opts.Observer != nil {
				p.opts.Observer.ObserveAnalyze(analyzer.Name(), time.Since(started), err)
			}
			if err != nil {
				return nil, NewPermanentError("analyzer failed", err).
					WithCode(ErrCodeAnalyzerFailed).
					WithResource(featureID).
					WithOperation("analyze").
					WithDetail("analyzer", analyzer.Name()).
					WithDetail("timespan", span.String())
			}
			if output == nil || output.PrimaryCOGAsset == nil {
				return nil, NewPermanentError("analyzer returned no primary asset", nil).
					WithCode(ErrCodeAnalyzerFailed).
					WithResource(featureID).
					WithOperation("analyze").
					WithDetail("analyzer", analyzer.Name())
			}

			plan.Items = append(plan.Items, &PublishItem{
				ItemID:   itemID,
				Feature:  feature,
				TimeSpan: span,
				Output:   output,
			})
			log.Debug().Str("item_id", itemID).Str("feature_id", featureID).Str("timespan", span.String()).Msg("Analysis unit created")
		}
	}

	plan.Metadata = p.collectionMetadata(fc)

	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("publish plan validation failed: %w", err)
	}

	log.Info().Int("items", plan.ItemCount()).Int("features", plan.FeatureCount()).Msg("Publish plan ready")
	return plan, nil
}

// Shape resolves ids and time spans without calling any analyzer. It backs
// dry runs and performs no I/O.
func (p *Planner) Shape(ctx context.Context, fc *geojson.FeatureCollection, times TimeProvider) (*PlanShape, error) {
	if err := checkCollection(fc); err != nil {
		return nil, err
	}
	if times == nil {
		return nil, NewConfigError("planner needs a time provider")
	}

	shape := &PlanShape{
		JobID:        p.jobID(),
		CollectionID: p.opts.CollectionID,
		FeatureCount: len(fc.Features),
		Spans:        make([]FeatureSpans, 0, len(fc.Features)),
	}
	for _, feature := range fc.Features {
		if err := ctx.Err(); err != nil {
			return nil, NewTransientError("dry run cancelled", err).WithOperation("shape")
		}
		EnsureFeatureID(feature, p.opts.FeatureIDPrefix, p.opts.IDs)
		featureID := fmt.Sprint(feature.Properties[FeatureIDProperty])

		spans := times.ForFeature(feature)
		shape.ItemCount += len(spans)
		if len(spans) == 0 {
			shape.FeaturesWithoutSpans = append(shape.FeaturesWithoutSpans, featureID)
		}
		shape.Spans = append(shape.Spans, FeatureSpans{FeatureID: featureID, Spans: spans})
	}
	return shape, nil
}

func (p *Planner) collectionMetadata(fc *geojson.FeatureCollection) CollectionMetadata {
	featureIDs := make(map[string]struct{}, len(fc.Features))
	types := make(map[string]struct{})
	for _, f := range fc.Features {
		featureIDs[fmt.Sprint(f.Properties[FeatureIDProperty])] = struct{}{}
		if f.Geometry != nil {
			types[f.Geometry.GeoJSONType()] = struct{}{}
		}
	}
	geometryTypes := make([]string, 0, len(types))
	for t := range types {
		geometryTypes = append(geometryTypes, t)
	}
	sort.Strings(geometryTypes)

	return CollectionMetadata{
		Title:       p.opts.Title,
		Description: p.opts.Description,
		Keywords:    append([]string(nil), DefaultKeywords...),
		License:     DefaultLicense,
		Extra: map[string]interface{}{
			"feature_count":  len(featureIDs),
			"geometry_types": geometryTypes,
		},
	}
}
