package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/geoexhibit/geoexhibit/pkg/config"
	"github.com/geoexhibit/geoexhibit/pkg/engine"
	"github.com/geoexhibit/geoexhibit/pkg/features"
	"github.com/geoexhibit/geoexhibit/pkg/plugins"
	"github.com/geoexhibit/geoexhibit/pkg/policy"
	"github.com/geoexhibit/geoexhibit/pkg/publisher"
	"github.com/geoexhibit/geoexhibit/pkg/stac"
	"github.com/geoexhibit/geoexhibit/pkg/stores"
	"github.com/geoexhibit/geoexhibit/pkg/telemetry"
	"github.com/geoexhibit/geoexhibit/pkg/tiles"
	"github.com/geoexhibit/geoexhibit/pkg/timeres"
)

// PMTilesFileName is the local file name of generated vector tiles.
const PMTilesFileName = "features.pmtiles"

// Deps are the collaborators of a run. Config and Registry are required;
// Store is required unless the run is a dry run.
type Deps struct {
	Config   *config.Config
	Registry *plugins.Registry
	Store    publisher.ObjectStore

	// Jobs records the run in the job history. Optional.
	Jobs stores.Store

	// Gate checks the catalog before publishing. A nil gate allows everything.
	Gate *policy.Gate

	// Tiles generates vector tiles. Tiles are skipped when nil.
	Tiles tiles.Generator

	// Telemetry defaults to telemetry.Nop().
	Telemetry *telemetry.Telemetry

	// IDs defaults to engine.ULIDGenerator.
	IDs engine.IDGenerator

	// Retry governs publish and verify retries. Defaults to engine.DefaultRetryPolicy.
	Retry *engine.RetryPolicy
}

// Options select the input and the kind of run.
type Options struct {
	// FeaturesPath is read when Features is nil.
	FeaturesPath string

	// Features are used as-is when set.
	Features *geojson.FeatureCollection

	// DryRun resolves the plan shape only. No analyzer, tile generator or
	// object store is touched.
	DryRun bool

	// WorkDir holds generated tiles. When empty, a temporary directory is
	// used and removed once the run finishes.
	WorkDir string
}

// Result summarises a run.
type Result struct {
	JobID              string `json:"job_id"`
	CollectionID       string `json:"collection_id"`
	ItemCount          int    `json:"item_count"`
	FeatureCount       int    `json:"feature_count"`
	PMTilesGenerated   bool   `json:"pmtiles_generated"`
	OutputType         string `json:"output_type"`
	DryRun             bool   `json:"dry_run"`
	VerificationPassed bool   `json:"verification_passed"`

	// ObjectsPublished counts stored objects.
	ObjectsPublished int `json:"objects_published,omitempty"`

	// Shape is set for dry runs.
	Shape *engine.PlanShape `json:"shape,omitempty"`

	// Policy is the gate result, if a gate ran.
	Policy *policy.Result `json:"policy,omitempty"`

	// Warnings collects non-fatal problems, such as skipped tiles.
	Warnings []string `json:"warnings,omitempty"`

	Duration time.Duration `json:"-"`
}

// Inputs are the resolved features and time provider of a run.
type Inputs struct {
	Features *geojson.FeatureCollection
	Times    engine.TimeProvider
}

// ResolveInputs loads and validates the features and builds the configured
// time provider.
func ResolveInputs(ctx context.Context, deps Deps, opts Options) (*Inputs, error) {
	tel := deps.telemetry()

	fc := opts.Features
	if fc == nil {
		if opts.FeaturesPath == "" {
			return nil, engine.NewConfigError("no features given")
		}
		var err error
		fc, err = features.NewLoader(*tel.Logger.Zerolog()).Load(opts.FeaturesPath)
		if err != nil {
			return nil, err
		}
	}
	if err := features.Validate(fc); err != nil {
		return nil, err
	}

	times, err := timeres.New(ctx, deps.Config.Time, deps.Registry,
		timeres.WithLogger(*tel.Logger.NewComponentLogger("time").Zerolog()))
	if err != nil {
		return nil, err
	}
	return &Inputs{Features: fc, Times: times}, nil
}

// BuildPlan resolves the inputs and builds a validated plan without writing
// or publishing anything. The run is not recorded in the job history.
func BuildPlan(ctx context.Context, deps Deps, opts Options) (*engine.PublishPlan, error) {
	if deps.Config == nil || deps.Registry == nil {
		return nil, engine.NewConfigError("planning needs a configuration and a plugin registry")
	}
	inputs, err := ResolveInputs(ctx, deps, opts)
	if err != nil {
		return nil, err
	}

	tel := deps.telemetry()
	cfg := deps.Config
	analyzer, err := deps.Registry.Analyzer(ctx, cfg.Analyzer.Name, cfg.Analyzer.Parameters)
	if err != nil {
		return nil, err
	}
	ids := deps.IDs
	if ids == nil {
		ids = engine.ULIDGenerator{}
	}

	planner := engine.NewPlanner(engine.PlannerOptions{
		CollectionID:    cfg.Project.CollectionID,
		Title:           cfg.Project.Title,
		Description:     cfg.Project.Description,
		FeatureIDPrefix: cfg.IDs.Prefix,
		IDs:             ids,
		Logger:          tel.Logger.NewComponentLogger("planner").Zerolog(),
		Observer:        tel.Metrics,
	})
	return planner.BuildPlan(ctx, inputs.Features, tel.Tracer.WrapAnalyzer(analyzer), inputs.Times)
}

func (d Deps) telemetry() *telemetry.Telemetry {
	if d.Telemetry != nil {
		return d.Telemetry
	}
	return telemetry.Nop()
}

func (d Deps) validate(opts Options) error {
	if d.Config == nil {
		return engine.NewConfigError("pipeline needs a configuration")
	}
	if d.Registry == nil {
		return engine.NewConfigError("pipeline needs a plugin registry")
	}
	if d.Store == nil && !opts.DryRun {
		return engine.NewConfigError("pipeline needs an output store")
	}
	return nil
}

// run holds the state of one job.
type run struct {
	deps   Deps
	opts   Options
	cfg    *config.Config
	tel    *telemetry.Telemetry
	log    *telemetry.Logger
	ids    engine.IDGenerator
	retry  engine.RetryPolicy
	jobID  string
	result *Result

	// scratchDir is the temporary tile directory, removed after publishing.
	scratchDir string
}

// Run executes one publishing job: plan, tiles, catalog, policy, publish and
// verify. A verification failure is returned as a VERIFICATION_FAILED error.
// The result is returned alongside an error when the job got far enough to
// have an id.
func Run(ctx context.Context, deps Deps, opts Options) (*Result, error) {
	if err := deps.validate(opts); err != nil {
		return nil, err
	}

	inputs, err := ResolveInputs(ctx, deps, opts)
	if err != nil {
		return nil, err
	}

	r := &run{
		deps:  deps,
		opts:  opts,
		cfg:   deps.Config,
		tel:   deps.telemetry(),
		ids:   deps.IDs,
		retry: engine.DefaultRetryPolicy(),
	}
	if r.ids == nil {
		r.ids = engine.ULIDGenerator{}
	}
	if deps.Retry != nil {
		r.retry = *deps.Retry
	}
	r.jobID = r.ids.NewID()
	r.log = r.tel.Logger.NewComponentLogger("pipeline").WithJobID(r.jobID)
	r.result = &Result{
		JobID:        r.jobID,
		CollectionID: r.cfg.Project.CollectionID,
		DryRun:       opts.DryRun,
	}
	if deps.Store != nil {
		r.result.OutputType = publisher.OutputType(deps.Store)
	}

	ctx, span := r.tel.Tracer.StartJobSpan(ctx, r.jobID, r.cfg.Project.CollectionID)
	defer span.End()
	timer := telemetry.NewTimer()

	r.begin(ctx)
	if opts.DryRun {
		err = r.dryRun(ctx, inputs)
	} else {
		err = r.publish(ctx, inputs)
	}
	r.result.Duration = timer.Duration()

	if err != nil {
		telemetry.RecordError(span, err)
		r.fail(ctx, err)
		return r.result, err
	}
	telemetry.RecordSuccess(span)
	r.complete(ctx)
	return r.result, nil
}

func (r *run) planner() *engine.Planner {
	return engine.NewPlanner(engine.PlannerOptions{
		CollectionID:    r.cfg.Project.CollectionID,
		Title:           r.cfg.Project.Title,
		Description:     r.cfg.Project.Description,
		FeatureIDPrefix: r.cfg.IDs.Prefix,
		IDs:             r.ids,
		JobID:           r.jobID,
		Logger:          r.tel.Logger.NewComponentLogger("planner").Zerolog(),
		Observer:        r.tel.Metrics,
	})
}

func (r *run) dryRun(ctx context.Context, inputs *Inputs) error {
	step := r.tel.StartStep(ctx, "shape")
	shape, err := r.planner().Shape(step.Ctx, inputs.Features, inputs.Times)
	step.End(err)
	if err != nil {
		return err
	}

	r.result.Shape = shape
	r.result.ItemCount = shape.ItemCount
	r.result.FeatureCount = shape.FeatureCount
	r.event(ctx, engine.EventTypePlanBuilt, fmt.Sprintf("Dry run resolved %d items", shape.ItemCount), map[string]interface{}{
		"items":                  shape.ItemCount,
		"features":               shape.FeatureCount,
		"features_without_spans": len(shape.FeaturesWithoutSpans),
	})
	return nil
}

func (r *run) publish(ctx context.Context, inputs *Inputs) error {
	analyzer, err := r.deps.Registry.Analyzer(ctx, r.cfg.Analyzer.Name, r.cfg.Analyzer.Parameters)
	if err != nil {
		return err
	}
	analyzer = r.tel.Tracer.WrapAnalyzer(analyzer)

	plan, err := r.buildPlan(ctx, analyzer, inputs)
	if err != nil {
		return err
	}

	r.generateTiles(ctx, plan, inputs.Features)
	if r.scratchDir != "" {
		defer os.RemoveAll(r.scratchDir)
	}

	catalog, err := r.writeCatalog(ctx, plan)
	if err != nil {
		return err
	}

	if err := r.checkPolicy(ctx, plan, catalog); err != nil {
		return err
	}

	if err := r.upload(ctx, plan, catalog); err != nil {
		return err
	}

	if err := r.verify(ctx, plan); err != nil {
		return err
	}

	r.recordItems(ctx, plan, catalog)
	return nil
}

func (r *run) buildPlan(ctx context.Context, analyzer engine.Analyzer, inputs *Inputs) (*engine.PublishPlan, error) {
	step := r.tel.StartStep(ctx, "plan", telemetry.AttrAnalyzer.String(analyzer.Name()))
	plan, err := r.planner().BuildPlan(step.Ctx, inputs.Features, analyzer, inputs.Times)
	step.End(err)
	if err != nil {
		return nil, err
	}

	r.result.ItemCount = plan.ItemCount()
	r.result.FeatureCount = plan.FeatureCount()
	r.tel.Metrics.RecordItemsPlanned(plan.CollectionID, plan.ItemCount())
	r.event(ctx, engine.EventTypePlanBuilt, fmt.Sprintf("Plan built with %d items", plan.ItemCount()), map[string]interface{}{
		"items":    plan.ItemCount(),
		"features": plan.FeatureCount(),
		"analyzer": analyzer.Name(),
	})
	return plan, nil
}

// generateTiles attaches vector tiles to plan. Every failure is a warning.
func (r *run) generateTiles(ctx context.Context, plan *engine.PublishPlan, fc *geojson.FeatureCollection) {
	if r.deps.Tiles == nil {
		return
	}
	if a, ok := r.deps.Tiles.(interface{ Available() bool }); ok && !a.Available() {
		r.tel.Metrics.RecordTiles(telemetry.TilesSkipped)
		r.warn(ctx, engine.EventTypeTilesSkipped, "vector tile generator not available, skipping tiles", nil)
		return
	}

	workDir := r.opts.WorkDir
	if workDir == "" {
		dir, err := os.MkdirTemp("", "geoexhibit-tiles-")
		if err != nil {
			r.tel.Metrics.RecordTiles(telemetry.TilesFailed)
			r.warn(ctx, engine.EventTypeTilesSkipped, fmt.Sprintf("cannot create tile work directory: %v", err), nil)
			return
		}
		workDir = dir
		r.scratchDir = dir
	}
	out := filepath.Join(workDir, PMTilesFileName)
	pm := r.cfg.Map.PMTiles

	step := r.tel.StartStep(ctx, "tiles")
	err := r.deps.Tiles.Generate(step.Ctx, fc, out, pm.MinZoom, pm.MaxZoom, pm.FeatureIDProperty)
	step.End(err)
	if err != nil {
		r.tel.Metrics.RecordTiles(telemetry.TilesFailed)
		r.warn(ctx, engine.EventTypeTilesSkipped, fmt.Sprintf("vector tile generation failed: %v", err), nil)
		return
	}

	plan.PMTilesPath = out
	r.result.PMTilesGenerated = true
	r.tel.Metrics.RecordTiles(telemetry.TilesGenerated)
	r.event(ctx, engine.EventTypeTilesGenerated, "Vector tiles generated", map[string]interface{}{
		"minzoom": pm.MinZoom,
		"maxzoom": pm.MaxZoom,
	})
}

func (r *run) writeCatalog(ctx context.Context, plan *engine.PublishPlan) (*stac.Catalog, error) {
	step := r.tel.StartStep(ctx, "catalog")
	writer, err := stac.NewWriter(stac.WriterOptions{
		StoreRoot:    r.deps.Store.Root(),
		Extensions:   r.cfg.STAC.UseExtensions,
		OmitGeometry: !r.cfg.STAC.GeometryInItem,
		Logger:       r.tel.Logger.Zerolog(),
	})
	var catalog *stac.Catalog
	if err == nil {
		catalog, err = writer.Write(plan)
	}
	step.End(err)
	if err != nil {
		return nil, err
	}

	r.event(ctx, engine.EventTypeCatalogWritten, fmt.Sprintf("Catalog written with %d items", len(catalog.Items)), map[string]interface{}{
		"collection_path": catalog.CollectionPath,
	})
	return catalog, nil
}

func (r *run) checkPolicy(ctx context.Context, plan *engine.PublishPlan, catalog *stac.Catalog) error {
	if r.deps.Gate == nil {
		return nil
	}
	step := r.tel.StartStep(ctx, "policy")
	res, err := r.deps.Gate.Check(step.Ctx, plan, catalog, r.deps.Store.Root())
	step.End(err)
	if res != nil {
		r.result.Policy = res
		r.event(ctx, engine.EventTypePolicyEvaluated, fmt.Sprintf("Policies evaluated with %d violations", len(res.Violations)), map[string]interface{}{
			"allowed":    res.Allowed,
			"violations": len(res.Violations),
			"mode":       string(r.deps.Gate.Mode()),
		})
	}
	return err
}

func (r *run) upload(ctx context.Context, plan *engine.PublishPlan, catalog *stac.Catalog) error {
	pub := r.newPublisher()

	step := r.tel.StartStep(ctx, "publish", telemetry.AttrStoreRoot.String(r.deps.Store.Root()))
	var res *publisher.Result
	err := r.retry.Retry(step.Ctx, func(ctx context.Context) error {
		var err error
		res, err = pub.Publish(ctx, plan, catalog)
		return err
	}, r.notifyRetry(ctx, "publish"))
	step.End(err)
	if err != nil {
		return err
	}

	for _, path := range res.Skipped {
		r.warn(ctx, engine.EventTypeWarning, "local asset missing, not uploaded", map[string]interface{}{"path": path})
	}
	r.result.ObjectsPublished = res.Objects
	r.event(ctx, engine.EventTypePublished, fmt.Sprintf("Published %d objects", res.Objects), map[string]interface{}{
		"objects": res.Objects,
		"bytes":   res.Bytes,
		"store":   r.deps.Store.Root(),
	})
	return nil
}

func (r *run) verify(ctx context.Context, plan *engine.PublishPlan) error {
	pub := r.newPublisher()

	step := r.tel.StartStep(ctx, "verify")
	var v *publisher.Verification
	err := r.retry.Retry(step.Ctx, func(ctx context.Context) error {
		var err error
		v, err = pub.Verify(ctx, plan)
		return err
	}, r.notifyRetry(ctx, "verify"))
	switch {
	case err == nil:
		err = v.Err(plan.JobID)
	case ctx.Err() == nil && engine.IsRetryable(err):
		err = engine.NewPermanentError(fmt.Sprintf("verification of job %s could not read the store", plan.JobID), err).
			WithCode(engine.ErrCodeVerification)
	}
	step.End(err)
	if err != nil {
		return err
	}

	r.result.VerificationPassed = true
	r.event(ctx, engine.EventTypeVerified, fmt.Sprintf("Verified %d objects", v.Checked), map[string]interface{}{
		"checked": v.Checked,
	})
	return nil
}

func (r *run) newPublisher() *publisher.Publisher {
	return publisher.New(r.deps.Store, publisher.Options{
		Logger:   r.tel.Logger.WithJobID(r.jobID).Zerolog(),
		Observer: r.tel.Metrics,
	})
}

func (r *run) notifyRetry(ctx context.Context, step string) engine.RetryNotify {
	return func(attempt int, err error, delay time.Duration) {
		r.warn(ctx, engine.EventTypeWarning, fmt.Sprintf("%s failed, retrying (attempt %d)", step, attempt), map[string]interface{}{
			"error": err.Error(),
			"delay": delay.String(),
		})
	}
}
