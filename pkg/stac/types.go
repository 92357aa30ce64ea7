package stac

import (
	"encoding/json"
	"sort"

	"github.com/paulmach/orb/geojson"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
)

// Version is the STAC version written into every document.
const Version = "1.0.0"

// Media types used in links and assets.
const (
	MediaTypeJSON    = "application/json"
	MediaTypePMTiles = "application/x-pmtiles"
	MediaTypeCOG     = "image/tiff; application=geotiff; profile=cloud-optimized"
)

// Link relations.
const (
	RelRoot       = "root"
	RelSelf       = "self"
	RelItem       = "item"
	RelCollection = "collection"
	RelPMTiles    = "pmtiles"
)

// ExtensionSchemas maps configured extension names to schema URLs.
var ExtensionSchemas = map[string]string{
	"proj":       "https://stac-extensions.github.io/projection/v1.1.0/schema.json",
	"raster":     "https://stac-extensions.github.io/raster/v1.1.0/schema.json",
	"processing": "https://stac-extensions.github.io/processing/v1.1.0/schema.json",
}

// Link is a STAC link object.
type Link struct {
	Rel   string `json:"rel"`
	Href  string `json:"href"`
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
}

// Asset is a STAC asset object. Extra fields are written at the top level of
// the asset; named fields win on collision.
type Asset struct {
	Href        string                 `json:"href"`
	Title       string                 `json:"title,omitempty"`
	Description string                 `json:"description,omitempty"`
	Type        string                 `json:"type,omitempty"`
	Roles       []string               `json:"roles,omitempty"`
	Extra       map[string]interface{} `json:"-"`
}

// MarshalJSON flattens Extra into the asset object.
func (a Asset) MarshalJSON() ([]byte, error) {
	type plain Asset
	return flatten(plain(a), a.Extra)
}

// HasRole reports whether the asset carries role.
func (a Asset) HasRole(role string) bool {
	return engine.AssetSpec{Roles: a.Roles}.HasRole(role)
}

// Extent is the collection extent.
type Extent struct {
	Spatial  SpatialExtent  `json:"spatial"`
	Temporal TemporalExtent `json:"temporal"`
}

// SpatialExtent holds one overall bounding box.
type SpatialExtent struct {
	BBox [][]float64 `json:"bbox"`
}

// TemporalExtent holds one overall interval.
type TemporalExtent struct {
	Interval [][]*string `json:"interval"`
}

// Collection is a STAC collection document.
type Collection struct {
	Type           string                 `json:"type"`
	StacVersion    string                 `json:"stac_version"`
	StacExtensions []string               `json:"stac_extensions"`
	ID             string                 `json:"id"`
	Title          string                 `json:"title,omitempty"`
	Description    string                 `json:"description"`
	Keywords       []string               `json:"keywords,omitempty"`
	License        string                 `json:"license"`
	Providers      []engine.Provider      `json:"providers,omitempty"`
	Extent         Extent                 `json:"extent"`
	Links          []Link                 `json:"links"`
	Extra          map[string]interface{} `json:"-"`
}

// MarshalJSON flattens Extra into the collection object.
func (c Collection) MarshalJSON() ([]byte, error) {
	type plain Collection
	return flatten(plain(c), c.Extra)
}

// LinksByRel returns the links with relation rel, in order.
func LinksByRel(links []Link, rel string) []Link {
	var out []Link
	for _, l := range links {
		if l.Rel == rel {
			out = append(out, l)
		}
	}
	return out
}

// Item is a STAC item document.
type Item struct {
	Type           string                 `json:"type"`
	StacVersion    string                 `json:"stac_version"`
	StacExtensions []string               `json:"stac_extensions"`
	ID             string                 `json:"id"`
	Geometry       *geojson.Geometry      `json:"geometry"`
	BBox           []float64              `json:"bbox"`
	Properties     map[string]interface{} `json:"properties"`
	Collection     string                 `json:"collection"`
	Links          []Link                 `json:"links"`
	Assets         map[string]Asset       `json:"assets"`
}

// PrimaryAssets returns the keys of assets tagged both data and primary, sorted.
func (i *Item) PrimaryAssets() []string {
	var keys []string
	for key, a := range i.Assets {
		if a.HasRole(engine.RoleData) && a.HasRole(engine.RolePrimary) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// flatten marshals v and merges extra keys that v does not already set.
func flatten(v interface{}, extra map[string]interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return data, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	for k, val := range extra {
		if _, taken := doc[k]; !taken {
			doc[k] = val
		}
	}
	return json.Marshal(doc)
}
