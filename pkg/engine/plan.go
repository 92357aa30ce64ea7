package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// FeatureIDProperty is the feature property that carries the stable feature id.
const FeatureIDProperty = "feature_id"

// PublishItem is one analysis unit: a feature at a time span plus what the
// analyzer produced for it. It becomes one item document.
type PublishItem struct {
	// ItemID is unique across the plan.
	ItemID string `json:"item_id"`

	// Feature is the source feature. Its feature_id property is set by the planner.
	Feature *geojson.Feature `json:"feature"`

	// TimeSpan is the analysis time of this unit.
	TimeSpan TimeSpan `json:"timespan"`

	// Output is the analyzer result.
	Output *AnalyzerOutput `json:"analyzer_output"`
}

// Geometry returns the feature geometry, or nil.
func (i *PublishItem) Geometry() orb.Geometry {
	if i.Feature == nil {
		return nil
	}
	return i.Feature.Geometry
}

// Properties merges feature properties with analyzer extras; extras win.
func (i *PublishItem) Properties() map[string]interface{} {
	props := make(map[string]interface{})
	if i.Feature != nil {
		for k, v := range i.Feature.Properties {
			props[k] = v
		}
	}
	if i.Output != nil {
		for k, v := range i.Output.ExtraProperties {
			props[k] = v
		}
	}
	return props
}

// FeatureID returns the feature_id property, falling back to the item id.
func (i *PublishItem) FeatureID() string {
	if i.Feature != nil {
		if v, ok := i.Feature.Properties[FeatureIDProperty]; ok {
			if s := fmt.Sprint(v); v != nil && s != "" {
				return s
			}
		}
	}
	return i.ItemID
}

// Validate checks the per-item invariants.
func (i *PublishItem) Validate() error {
	if i.ItemID == "" {
		return NewValidationError("item has empty id")
	}
	if i.Geometry() == nil {
		return NewValidationError("item has no geometry").WithResource(i.ItemID)
	}
	if i.Output == nil || i.Output.PrimaryCOGAsset == nil {
		return NewValidationError("item has no primary asset").WithResource(i.ItemID)
	}
	if i.TimeSpan.IsZero() {
		return NewValidationError("item has no time span").WithResource(i.ItemID)
	}
	if err := assetKeyError(i.Output.PrimaryCOGAsset.Key); err != nil {
		return err.WithResource(i.ItemID)
	}
	for _, a := range i.Output.AdditionalAssets {
		if err := assetKeyError(a.Key); err != nil {
			return err.WithResource(i.ItemID)
		}
	}
	return nil
}

// ValidateAssetKey rejects keys that are not a single path element. Keys
// name objects under the item's asset prefix.
func ValidateAssetKey(key string) error {
	if err := assetKeyError(key); err != nil {
		return err
	}
	return nil
}

func assetKeyError(key string) *EngineError {
	switch {
	case key == "":
		return NewValidationError("asset key is empty")
	case key == "." || key == "..", strings.ContainsAny(key, `/\`):
		return NewValidationError("asset key %q must be a single path element", key)
	}
	return nil
}

// PublishPlan is the complete, validated set of items for one run.
type PublishPlan struct {
	// CollectionID is the target collection.
	CollectionID string `json:"collection_id"`

	// JobID roots the canonical layout of this run.
	JobID string `json:"job_id"`

	// Items are in input feature order, then span order.
	Items []*PublishItem `json:"items"`

	// Metadata is the collection-level metadata.
	Metadata CollectionMetadata `json:"collection_metadata"`

	// PMTilesPath is the local path of the generated vector tiles, if any.
	// It is attached after the plan is built and before it is written.
	PMTilesPath string `json:"pmtiles_path,omitempty"`
}

// ItemCount returns the number of items.
func (p *PublishPlan) ItemCount() int {
	return len(p.Items)
}

// FeatureCount returns the number of distinct feature ids among the items.
func (p *PublishPlan) FeatureCount() int {
	seen := make(map[string]struct{}, len(p.Items))
	for _, item := range p.Items {
		seen[item.FeatureID()] = struct{}{}
	}
	return len(seen)
}

// TimeRange returns the earliest start and latest effective end over all items.
func (p *PublishPlan) TimeRange() (time.Time, time.Time, error) {
	if len(p.Items) == 0 {
		return time.Time{}, time.Time{}, NewPermanentError("plan has no items", nil).WithCode(ErrCodeEmptyPlan)
	}
	start := p.Items[0].TimeSpan.Start()
	end := p.Items[0].TimeSpan.EffectiveEnd()
	for _, item := range p.Items[1:] {
		if s := item.TimeSpan.Start(); s.Before(start) {
			start = s
		}
		if e := item.TimeSpan.EffectiveEnd(); e.After(end) {
			end = e
		}
	}
	return start, end, nil
}

// Bound returns the union of every item geometry bound.
func (p *PublishPlan) Bound() (orb.Bound, bool) {
	var b orb.Bound
	found := false
	for _, item := range p.Items {
		g := item.Geometry()
		if g == nil {
			continue
		}
		if !found {
			b = g.Bound()
			found = true
			continue
		}
		b = b.Union(g.Bound())
	}
	return b, found
}

// HasPMTiles reports whether vector tiles are attached.
func (p *PublishPlan) HasPMTiles() bool {
	return p.PMTilesPath != ""
}

// Validate enforces the plan invariants. Nothing may be written for a plan that fails.
func (p *PublishPlan) Validate() error {
	if p == nil {
		return NewValidationError("plan is nil")
	}
	if len(p.Items) == 0 {
		return NewPermanentError("plan has no items", nil).WithCode(ErrCodeEmptyPlan)
	}
	if p.CollectionID == "" {
		return NewValidationError("plan has empty collection id")
	}
	if p.JobID == "" {
		return NewValidationError("plan has empty job id")
	}

	seen := make(map[string]struct{}, len(p.Items))
	for idx, item := range p.Items {
		if item == nil {
			return NewValidationError("plan item %d is nil", idx)
		}
		if err := item.Validate(); err != nil {
			return fmt.Errorf("invalid item %d: %w", idx, err)
		}
		if _, dup := seen[item.ItemID]; dup {
			return NewPermanentError("duplicate item id", nil).
				WithCode(ErrCodeDuplicateID).
				WithResource(item.ItemID)
		}
		seen[item.ItemID] = struct{}{}
	}
	return nil
}
