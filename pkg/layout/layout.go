package layout

import "path"

// Fixed names inside a job tree.
const (
	JobsDir        = "jobs"
	STACDir        = "stac"
	ItemsDir       = "items"
	AssetsDir      = "assets"
	ThumbsDir      = "thumbs"
	PMTilesDir     = "pmtiles"
	CollectionFile = "collection.json"
	PMTilesFile    = "features.pmtiles"
)

// Layout maps one job id to its storage paths. The zero value is not usable.
type Layout struct {
	jobID string
}

// New returns the layout of jobID.
func New(jobID string) Layout {
	return Layout{jobID: jobID}
}

// JobID returns the job id the layout was built for.
func (l Layout) JobID() string { return l.jobID }

// JobRoot returns jobs/<job_id>.
func (l Layout) JobRoot() string {
	return path.Join(JobsDir, l.jobID)
}

// STACRoot returns jobs/<job_id>/stac.
func (l Layout) STACRoot() string {
	return path.Join(l.JobRoot(), STACDir)
}

// CollectionPath returns jobs/<job_id>/stac/collection.json.
func (l Layout) CollectionPath() string {
	return path.Join(l.STACRoot(), CollectionFile)
}

// ItemsRoot returns jobs/<job_id>/stac/items.
func (l Layout) ItemsRoot() string {
	return path.Join(l.STACRoot(), ItemsDir)
}

// ItemPath returns jobs/<job_id>/stac/items/<item_id>.json.
func (l Layout) ItemPath(itemID string) string {
	return path.Join(l.ItemsRoot(), itemID+".json")
}

// AssetsRoot returns jobs/<job_id>/assets/<item_id>.
func (l Layout) AssetsRoot(itemID string) string {
	return path.Join(l.JobRoot(), AssetsDir, itemID)
}

// AssetPath returns jobs/<job_id>/assets/<item_id>/<name>.
func (l Layout) AssetPath(itemID, name string) string {
	return path.Join(l.AssetsRoot(itemID), name)
}

// ThumbsRoot returns jobs/<job_id>/thumbs/<item_id>.
func (l Layout) ThumbsRoot(itemID string) string {
	return path.Join(l.JobRoot(), ThumbsDir, itemID)
}

// ThumbPath returns jobs/<job_id>/thumbs/<item_id>/<name>.
func (l Layout) ThumbPath(itemID, name string) string {
	return path.Join(l.ThumbsRoot(itemID), name)
}

// PMTilesPath returns jobs/<job_id>/pmtiles/features.pmtiles.
func (l Layout) PMTilesPath() string {
	return path.Join(l.JobRoot(), PMTilesDir, PMTilesFile)
}
