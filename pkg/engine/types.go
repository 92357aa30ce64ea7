package engine

import (
	"context"

	"github.com/paulmach/orb/geojson"
)

// Asset roles recognised by the catalog writer.
const (
	RoleData      = "data"
	RolePrimary   = "primary"
	RoleThumbnail = "thumbnail"
	RoleOverview  = "overview"
)

// AssetSpec describes one file produced by an analyzer.
type AssetSpec struct {
	// Key is the logical asset name, unique within one analysis unit.
	Key string `json:"key"`

	// Href is where the producer left the file. It is re-resolved against
	// the canonical layout when the catalog is written.
	Href string `json:"href"`

	// Title is an optional human-readable title.
	Title string `json:"title,omitempty"`

	// Description is an optional longer description.
	Description string `json:"description,omitempty"`

	// MediaType is the asset content type, if known.
	MediaType string `json:"type,omitempty"`

	// Roles are the STAC role tags, e.g. data, primary, thumbnail.
	Roles []string `json:"roles,omitempty"`

	// Extra holds additional asset fields copied verbatim into the catalog.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// HasRole reports whether the asset carries role.
func (a AssetSpec) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AnalyzerOutput is what an Analyzer returns for one (feature, span) pair.
type AnalyzerOutput struct {
	// PrimaryCOGAsset is the raster asset tile rendering consumes. Required.
	PrimaryCOGAsset *AssetSpec `json:"primary_cog_asset"`

	// AdditionalAssets are thumbnails and other side products, in order.
	AdditionalAssets []AssetSpec `json:"additional_assets,omitempty"`

	// ExtraProperties are merged into the item properties.
	ExtraProperties map[string]interface{} `json:"extra_properties,omitempty"`
}

// Analyzer produces assets for one feature at one time span.
type Analyzer interface {
	// Name returns the analyzer identity.
	Name() string

	// Analyze must return a non-nil output with a primary asset.
	Analyze(ctx context.Context, feature *geojson.Feature, span TimeSpan) (*AnalyzerOutput, error)
}

// TimeProvider resolves the analysis time spans of a feature.
// Returning no spans is a valid outcome and means the feature yields no items.
type TimeProvider interface {
	ForFeature(feature *geojson.Feature) []TimeSpan
}

// AnalyzerFactory builds an analyzer from its configured parameters.
type AnalyzerFactory func(params map[string]interface{}) (Analyzer, error)

// TimeProviderFactory builds a time provider from the argument that follows
// the provider name in a callable spec, e.g. "2023" in "monthly_series:2023".
type TimeProviderFactory func(arg string) (TimeProvider, error)

// TimeProviderFunc adapts a function to TimeProvider.
type TimeProviderFunc func(feature *geojson.Feature) []TimeSpan

// ForFeature calls f.
func (f TimeProviderFunc) ForFeature(feature *geojson.Feature) []TimeSpan {
	return f(feature)
}

// CollectionMetadata is the collection-level descriptive metadata of a plan.
type CollectionMetadata struct {
	// Title is the collection title.
	Title string `json:"title"`

	// Description is the collection description.
	Description string `json:"description"`

	// Keywords are free-form search keywords.
	Keywords []string `json:"keywords,omitempty"`

	// License is an SPDX identifier or "proprietary".
	License string `json:"license"`

	// Providers lists organisations involved with the data.
	Providers []Provider `json:"providers,omitempty"`

	// Extra holds derived values such as feature_count and geometry_types.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// Provider is a STAC provider entry.
type Provider struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles,omitempty"`
	URL   string   `json:"url,omitempty"`
}

// PlanShape summarises a plan without running any analyzer. It backs dry runs.
type PlanShape struct {
	// JobID is the identifier the run would use.
	JobID string `json:"job_id"`

	// CollectionID is the target collection.
	CollectionID string `json:"collection_id"`

	// FeatureCount is the number of input features.
	FeatureCount int `json:"feature_count"`

	// ItemCount is the number of analysis units that would be produced.
	ItemCount int `json:"item_count"`

	// FeaturesWithoutSpans lists feature ids that resolved to no time spans.
	FeaturesWithoutSpans []string `json:"features_without_spans,omitempty"`

	// Spans is the resolved span count per feature id, in input order.
	Spans []FeatureSpans `json:"spans"`
}

// FeatureSpans records the spans resolved for one feature.
type FeatureSpans struct {
	FeatureID string     `json:"feature_id"`
	Spans     []TimeSpan `json:"spans"`
}
