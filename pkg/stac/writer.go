package stac

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
	"github.com/geoexhibit/geoexhibit/pkg/layout"
)

// WriterOptions configures a Writer.
type WriterOptions struct {
	// StoreRoot is the absolute reference primary asset hrefs are built on,
	// e.g. "s3://bucket" or "/srv/catalog".
	StoreRoot string

	// Extensions are extension names from stac.use_extensions.
	Extensions []string

	// OmitGeometry drops item geometry; the bbox is always written.
	OmitGeometry bool

	// Logger is optional.
	Logger *zerolog.Logger
}

// Writer builds catalog documents from plans.
type Writer struct {
	opts       WriterOptions
	extensions []string
	log        zerolog.Logger
}

// NewWriter validates the options. Unknown extension names are an error.
func NewWriter(opts WriterOptions) (*Writer, error) {
	if !layout.IsAbsoluteRef(opts.StoreRoot) {
		return nil, engine.NewPermanentError(fmt.Sprintf("store root %q is not an absolute reference", opts.StoreRoot), nil).
			WithCode(engine.ErrCodeHrefRule)
	}

	exts := make([]string, 0, len(opts.Extensions))
	seen := make(map[string]bool)
	for _, name := range opts.Extensions {
		url, ok := ExtensionSchemas[name]
		if !ok {
			return nil, engine.NewConfigError("unknown STAC extension %q", name)
		}
		if !seen[url] {
			seen[url] = true
			exts = append(exts, url)
		}
	}
	sort.Strings(exts)

	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Writer{
		opts:       opts,
		extensions: exts,
		log:        log.With().Str("component", "stac-writer").Logger(),
	}, nil
}

func (w *Writer) hasExtension(name string) bool {
	for _, e := range w.opts.Extensions {
		if e == name {
			return true
		}
	}
	return false
}

// Document is one catalog document and its layout path.
type Document struct {
	Path string
	Body interface{}
}

// Catalog is the written document graph of one job.
type Catalog struct {
	JobID          string
	CollectionID   string
	CollectionPath string
	Collection     *Collection
	ItemPaths      []string
	Items          []*Item
}

// Documents returns the collection followed by the items in plan order.
func (c *Catalog) Documents() []Document {
	docs := make([]Document, 0, len(c.Items)+1)
	docs = append(docs, Document{Path: c.CollectionPath, Body: c.Collection})
	for i, item := range c.Items {
		docs = append(docs, Document{Path: c.ItemPaths[i], Body: item})
	}
	return docs
}

// EncodedDocument is a document rendered to JSON.
type EncodedDocument struct {
	Path string
	Data []byte
}

// Encode renders every document as indented JSON. Output is deterministic
// for a given catalog.
func (c *Catalog) Encode() ([]EncodedDocument, error) {
	docs := c.Documents()
	out := make([]EncodedDocument, 0, len(docs))
	for _, d := range docs {
		raw, err := json.Marshal(d.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", d.Path, err)
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return nil, fmt.Errorf("failed to indent %s: %w", d.Path, err)
		}
		buf.WriteByte('\n')
		out = append(out, EncodedDocument{Path: d.Path, Data: buf.Bytes()})
	}
	return out, nil
}

// Write builds the catalog for plan. The plan is validated first and every
// item passes the primary asset gate, or nothing is returned.
func (w *Writer) Write(plan *engine.PublishPlan) (*Catalog, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	l := layout.New(plan.JobID)
	hrefs, err := layout.NewHrefResolver(w.opts.StoreRoot, l)
	if err != nil {
		return nil, err
	}

	collection, err := w.collection(plan, hrefs)
	if err != nil {
		return nil, err
	}

	catalog := &Catalog{
		JobID:          plan.JobID,
		CollectionID:   plan.CollectionID,
		CollectionPath: l.CollectionPath(),
		Collection:     collection,
		Items:          make([]*Item, 0, len(plan.Items)),
		ItemPaths:      make([]string, 0, len(plan.Items)),
	}

	for _, pi := range plan.Items {
		item, err := w.item(plan, pi, hrefs)
		if err != nil {
			return nil, err
		}
		if err := CheckItem(item); err != nil {
			return nil, err
		}

		link, err := hrefs.ItemLinkHref(pi.ItemID)
		if err != nil {
			return nil, err
		}
		collection.Links = append(collection.Links, Link{Rel: RelItem, Href: link, Type: MediaTypeJSON})
		catalog.Items = append(catalog.Items, item)
		catalog.ItemPaths = append(catalog.ItemPaths, l.ItemPath(pi.ItemID))
	}

	w.log.Info().
		Str("job_id", plan.JobID).
		Str("collection_id", plan.CollectionID).
		Int("items", len(catalog.Items)).
		Bool("pmtiles", plan.HasPMTiles()).
		Msg("Generated STAC catalog")
	return catalog, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func (w *Writer) collection(plan *engine.PublishPlan, hrefs *layout.HrefResolver) (*Collection, error) {
	start, end, err := plan.TimeRange()
	if err != nil {
		return nil, err
	}
	bound, ok := plan.Bound()
	if !ok {
		return nil, engine.NewValidationError("plan has no geometry").WithResource(plan.JobID)
	}
	startStr, endStr := formatTime(start), formatTime(end)

	meta := plan.Metadata
	description := meta.Description
	if description == "" {
		description = "GeoExhibit Collection"
	}
	license := meta.License
	if license == "" {
		license = engine.DefaultLicense
	}

	c := &Collection{
		Type:           "Collection",
		StacVersion:    Version,
		StacExtensions: w.extensions,
		ID:             plan.CollectionID,
		Title:          meta.Title,
		Description:    description,
		Keywords:       meta.Keywords,
		License:        license,
		Providers:      meta.Providers,
		Extent: Extent{
			Spatial:  SpatialExtent{BBox: [][]float64{{bound.Left(), bound.Bottom(), bound.Right(), bound.Top()}}},
			Temporal: TemporalExtent{Interval: [][]*string{{&startStr, &endStr}}},
		},
		Links: []Link{
			{Rel: RelRoot, Href: "collection.json", Type: MediaTypeJSON},
			{Rel: RelSelf, Href: "collection.json", Type: MediaTypeJSON},
		},
		Extra: meta.Extra,
	}

	if plan.HasPMTiles() {
		href, err := hrefs.PMTilesHref()
		if err != nil {
			return nil, err
		}
		c.Links = append(c.Links, Link{Rel: RelPMTiles, Href: href, Type: MediaTypePMTiles, Title: "Vector tiles (PMTiles)"})
	}
	return c, nil
}

func (w *Writer) item(plan *engine.PublishPlan, pi *engine.PublishItem, hrefs *layout.HrefResolver) (*Item, error) {
	geom := pi.Geometry()
	b := geom.Bound()

	props := pi.Properties()
	if pi.TimeSpan.IsInstant() {
		props["datetime"] = formatTime(pi.TimeSpan.Start())
	} else {
		props["datetime"] = nil
		props["start_datetime"] = formatTime(pi.TimeSpan.Start())
		props["end_datetime"] = formatTime(*pi.TimeSpan.End())
	}
	if w.hasExtension("proj") {
		props["proj:epsg"] = 4326
	}

	item := &Item{
		Type:           "Feature",
		StacVersion:    Version,
		StacExtensions: w.extensions,
		ID:             pi.ItemID,
		BBox:           []float64{b.Left(), b.Bottom(), b.Right(), b.Top()},
		Properties:     props,
		Collection:     plan.CollectionID,
		Assets:         make(map[string]Asset),
	}
	if !w.opts.OmitGeometry {
		item.Geometry = geojson.NewGeometry(geom)
	}

	collectionHref, err := hrefs.CollectionLinkHref(pi.ItemID)
	if err != nil {
		return nil, err
	}
	selfHref, err := hrefs.SelfHref(pi.ItemID)
	if err != nil {
		return nil, err
	}
	item.Links = []Link{
		{Rel: RelCollection, Href: collectionHref, Type: MediaTypeJSON},
		{Rel: RelRoot, Href: collectionHref, Type: MediaTypeJSON},
		{Rel: RelSelf, Href: selfHref, Type: MediaTypeJSON},
	}

	primary := pi.Output.PrimaryCOGAsset
	mediaType := primary.MediaType
	if mediaType == "" {
		mediaType = MediaTypeCOG
	}
	item.Assets[primary.Key] = Asset{
		Href:        hrefs.PrimaryAssetHref(pi.ItemID, primary.Key),
		Title:       primary.Title,
		Description: primary.Description,
		Type:        mediaType,
		Roles:       NormalizePrimaryRoles(primary.Roles),
		Extra:       primary.Extra,
	}

	for _, spec := range pi.Output.AdditionalAssets {
		if _, dup := item.Assets[spec.Key]; dup {
			return nil, engine.NewValidationError("duplicate asset key %q", spec.Key).WithResource(pi.ItemID)
		}
		var href string
		if spec.HasRole(engine.RoleThumbnail) {
			href, err = hrefs.ThumbnailHref(pi.ItemID, spec.Key)
		} else {
			href, err = hrefs.AdditionalAssetHref(pi.ItemID, spec.Key)
		}
		if err != nil {
			return nil, err
		}
		item.Assets[spec.Key] = Asset{
			Href:        href,
			Title:       spec.Title,
			Description: spec.Description,
			Type:        spec.MediaType,
			Roles:       spec.Roles,
			Extra:       spec.Extra,
		}
	}
	return item, nil
}

// NormalizePrimaryRoles returns roles with data and primary present exactly
// once, keeping the original order and dropping repeats.
func NormalizePrimaryRoles(roles []string) []string {
	out := make([]string, 0, len(roles)+2)
	seen := make(map[string]bool, len(roles)+2)
	for _, r := range append(append([]string(nil), roles...), engine.RoleData, engine.RolePrimary) {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

// CheckItem enforces the publishing gate: exactly one asset tagged data and
// primary, with an absolute href; every other asset href is relative.
func CheckItem(item *Item) error {
	primaries := item.PrimaryAssets()
	switch {
	case len(primaries) == 0:
		return engine.NewValidationError("item has no primary asset with data and primary roles").WithResource(item.ID)
	case len(primaries) > 1:
		return engine.NewValidationError("item has %d primary assets: %v", len(primaries), primaries).WithResource(item.ID)
	}

	for key, a := range item.Assets {
		absolute := layout.IsAbsoluteRef(a.Href)
		if key == primaries[0] && !absolute {
			return engine.NewPermanentError(fmt.Sprintf("primary asset href %q must be absolute", a.Href), nil).
				WithCode(engine.ErrCodeHrefRule).
				WithResource(item.ID)
		}
		if key != primaries[0] && absolute {
			return engine.NewPermanentError(fmt.Sprintf("asset %s href %q must be relative", key, a.Href), nil).
				WithCode(engine.ErrCodeHrefRule).
				WithResource(item.ID)
		}
	}
	return nil
}
