package pipeline

import (
	"context"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
	"github.com/geoexhibit/geoexhibit/pkg/stac"
	"github.com/geoexhibit/geoexhibit/pkg/stores"
)

// Job history failures never fail a run; they are logged as warnings.

func (r *run) begin(ctx context.Context) {
	r.tel.Metrics.RecordJobStarted(r.cfg.Project.CollectionID)
	r.log.Infof("Job started for collection %s", r.cfg.Project.CollectionID)

	if r.deps.Jobs != nil {
		job := &stores.Job{
			ID:           r.jobID,
			CollectionID: r.cfg.Project.CollectionID,
			Status:       engine.JobStatusRunning,
			OutputType:   r.result.OutputType,
			ConfigPath:   r.cfg.Source,
			DryRun:       r.opts.DryRun,
		}
		if r.deps.Store != nil {
			job.StoreRoot = r.deps.Store.Root()
		}
		if err := r.deps.Jobs.CreateJob(ctx, job); err != nil {
			r.log.WithError(err).Warn("failed to record job")
		}
	}

	if err := r.tel.Events.PublishJobStarted(ctx, r.jobID, r.cfg.Project.CollectionID, r.opts.DryRun); err != nil {
		r.log.WithError(err).Warn("failed to deliver event")
	}
}

func (r *run) complete(ctx context.Context) {
	status := engine.JobStatusSucceeded
	if r.opts.DryRun {
		status = engine.JobStatusDryRun
	}
	r.tel.Metrics.RecordJobCompleted(status, r.result.Duration)

	if r.deps.Jobs != nil {
		outcome := stores.JobOutcome{
			ItemCount:    r.result.ItemCount,
			FeatureCount: r.result.FeatureCount,
			PMTiles:      r.result.PMTilesGenerated,
			DryRun:       r.opts.DryRun,
			Verified:     r.result.VerificationPassed,
			OutputType:   r.result.OutputType,
		}
		if r.deps.Store != nil {
			outcome.StoreRoot = r.deps.Store.Root()
		}
		if err := r.deps.Jobs.CompleteJob(ctx, r.jobID, outcome); err != nil {
			r.log.WithError(err).Warn("failed to record job completion")
		}
	}

	if err := r.tel.Events.PublishJobCompleted(ctx, r.jobID, status, r.result.ItemCount, r.result.Duration); err != nil {
		r.log.WithError(err).Warn("failed to deliver event")
	}
	r.log.Infof("Job %s: %d items from %d features", status, r.result.ItemCount, r.result.FeatureCount)
}

func (r *run) fail(ctx context.Context, cause error) {
	r.tel.Metrics.RecordJobCompleted(engine.JobStatusFailed, r.result.Duration)
	r.tel.Metrics.RecordError(cause)

	if r.deps.Jobs != nil {
		if err := r.deps.Jobs.FailJob(ctx, r.jobID, cause.Error()); err != nil {
			r.log.WithError(err).Warn("failed to record job failure")
		}
	}

	if err := r.tel.Events.PublishJobFailed(ctx, r.jobID, cause); err != nil {
		r.log.WithError(err).Warn("failed to deliver event")
	}
	r.log.WithError(cause).Error("Job failed")
}

func (r *run) event(ctx context.Context, eventType engine.EventType, message string, data map[string]interface{}) {
	r.log.Info(message)
	if err := r.tel.Events.PublishStep(ctx, r.jobID, eventType, message, data); err != nil {
		r.log.WithError(err).Warn("failed to deliver event")
	}
}

func (r *run) warn(ctx context.Context, eventType engine.EventType, message string, data map[string]interface{}) {
	r.result.Warnings = append(r.result.Warnings, message)
	r.log.Warn(message)
	if err := r.tel.Events.PublishStep(ctx, r.jobID, eventType, message, data); err != nil {
		r.log.WithError(err).Warn("failed to deliver event")
	}
}

// recordItems stores the published items with their resolved primary hrefs.
// Catalog items are in plan order.
func (r *run) recordItems(ctx context.Context, plan *engine.PublishPlan, catalog *stac.Catalog) {
	if r.deps.Jobs == nil {
		return
	}

	items := make([]stores.JobItem, 0, len(plan.Items))
	for i, item := range plan.Items {
		rec := stores.JobItem{
			ItemID:    item.ItemID,
			FeatureID: item.FeatureID(),
			Start:     item.TimeSpan.Start(),
			End:       item.TimeSpan.End(),
		}
		if i < len(catalog.Items) {
			rec.PrimaryHref = primaryHref(catalog.Items[i])
		}
		items = append(items, rec)
	}
	if err := r.deps.Jobs.AddItems(ctx, r.jobID, items); err != nil {
		r.log.WithError(err).Warn("failed to record job items")
	}
}

func primaryHref(item *stac.Item) string {
	keys := item.PrimaryAssets()
	if len(keys) == 0 {
		return ""
	}
	return item.Assets[keys[0]].Href
}
