// Package layout defines the canonical storage tree of a publishing job and
// the rules for referencing files inside it.
//
// Every path is a pure function of the job id:
//
//	jobs/<job_id>/stac/collection.json
//	jobs/<job_id>/stac/items/<item_id>.json
//	jobs/<job_id>/assets/<item_id>/<asset_name>
//	jobs/<job_id>/thumbs/<item_id>/<thumb_name>
//	jobs/<job_id>/pmtiles/features.pmtiles
//
// Primary raster assets are referenced absolutely from the store root so tile
// servers can fetch them without catalog context. Everything else is referenced
// relative to the document that embeds the link.
package layout
