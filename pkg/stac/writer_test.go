package stac

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
)

func feature(id string, x, y float64) *geojson.Feature {
	f := geojson.NewFeature(orb.Polygon{{{x, y}, {x + 1, y}, {x + 1, y + 1}, {x, y + 1}, {x, y}}})
	f.Properties[engine.FeatureIDProperty] = id
	f.Properties["name"] = "fire " + id
	return f
}

func instant(day int) engine.TimeSpan {
	return engine.Instant(time.Date(2023, 9, day, 0, 0, 0, 0, time.UTC))
}

func unit(itemID string, f *geojson.Feature, span engine.TimeSpan, roles ...string) *engine.PublishItem {
	return &engine.PublishItem{
		ItemID:   itemID,
		Feature:  f,
		TimeSpan: span,
		Output: &engine.AnalyzerOutput{
			PrimaryCOGAsset: &engine.AssetSpec{Key: "analysis.tif", Href: "/work/" + itemID + ".tif", Roles: roles},
			AdditionalAssets: []engine.AssetSpec{
				{Key: "thumb.png", Href: "/work/" + itemID + ".png", MediaType: "image/png", Roles: []string{engine.RoleThumbnail}},
				{Key: "stats.json", Href: "/work/" + itemID + ".json", MediaType: MediaTypeJSON, Roles: []string{"metadata"}},
			},
			ExtraProperties: map[string]interface{}{"demo:value": 1.5},
		},
	}
}

func threeItemPlan() *engine.PublishPlan {
	return &engine.PublishPlan{
		CollectionID: "fires",
		JobID:        "01JOB",
		Items: []*engine.PublishItem{
			unit("01A", feature("f1", 0, 0), instant(1)),
			unit("01B", feature("f1", 0, 0), instant(15)),
			unit("01C", feature("f2", 10, 5), instant(30)),
		},
		Metadata: engine.CollectionMetadata{
			Title:    "Fires",
			Keywords: engine.DefaultKeywords,
			License:  engine.DefaultLicense,
			Extra:    map[string]interface{}{"feature_count": 2, "id": "ignored"},
		},
	}
}

func newWriter(t *testing.T, opts WriterOptions) *Writer {
	t.Helper()
	if opts.StoreRoot == "" {
		opts.StoreRoot = "s3://bucket"
	}
	w, err := NewWriter(opts)
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	return w
}

func TestThreeItemLinkSet(t *testing.T) {
	catalog, err := newWriter(t, WriterOptions{}).Write(threeItemPlan())
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	var hrefs []string
	for _, l := range LinksByRel(catalog.Collection.Links, RelItem) {
		if l.Href == "" {
			t.Error("item link with empty href")
		}
		hrefs = append(hrefs, l.Href)
	}
	sort.Strings(hrefs)
	if want := []string{"items/01A.json", "items/01B.json", "items/01C.json"}; !reflect.DeepEqual(hrefs, want) {
		t.Errorf("item links = %v, want %v", hrefs, want)
	}

	for i, item := range catalog.Items {
		self := LinksByRel(item.Links, RelSelf)
		if len(self) != 1 || self[0].Href != item.ID+".json" {
			t.Errorf("item %s self links = %v", item.ID, self)
		}
		coll := LinksByRel(item.Links, RelCollection)
		if len(coll) != 1 || coll[0].Href != "../collection.json" {
			t.Errorf("item %s collection links = %v", item.ID, coll)
		}
		if want := "jobs/01JOB/stac/items/" + item.ID + ".json"; catalog.ItemPaths[i] != want {
			t.Errorf("item path = %s, want %s", catalog.ItemPaths[i], want)
		}
	}
	if catalog.CollectionPath != "jobs/01JOB/stac/collection.json" {
		t.Errorf("collection path = %s", catalog.CollectionPath)
	}
	if len(LinksByRel(catalog.Collection.Links, RelPMTiles)) != 0 {
		t.Error("pmtiles link must be absent without a pmtiles path")
	}
}

func TestCollectionExtent(t *testing.T) {
	plan := threeItemPlan()
	end := time.Date(2023, 10, 5, 0, 0, 0, 0, time.UTC)
	span, err := engine.NewTimeSpan(time.Date(2023, 9, 20, 0, 0, 0, 0, time.UTC), &end)
	if err != nil {
		t.Fatal(err)
	}
	plan.Items[1].TimeSpan = span

	catalog, err := newWriter(t, WriterOptions{}).Write(plan)
	if err != nil {
		t.Fatal(err)
	}

	ext := catalog.Collection.Extent
	if got := ext.Spatial.BBox[0]; !reflect.DeepEqual(got, []float64{0, 0, 11, 6}) {
		t.Errorf("bbox = %v", got)
	}
	interval := ext.Temporal.Interval[0]
	if *interval[0] != "2023-09-01T00:00:00Z" || *interval[1] != "2023-10-05T00:00:00Z" {
		t.Errorf("interval = %s/%s", *interval[0], *interval[1])
	}

	props := catalog.Items[1].Properties
	if props["datetime"] != nil || props["start_datetime"] != "2023-09-20T00:00:00Z" || props["end_datetime"] != "2023-10-05T00:00:00Z" {
		t.Errorf("interval item properties = %v", props)
	}
	if catalog.Items[0].Properties["datetime"] != "2023-09-01T00:00:00Z" {
		t.Errorf("instant datetime = %v", catalog.Items[0].Properties["datetime"])
	}
}

func TestItemAssets(t *testing.T) {
	catalog, err := newWriter(t, WriterOptions{StoreRoot: "s3://bucket/"}).Write(threeItemPlan())
	if err != nil {
		t.Fatal(err)
	}
	item := catalog.Items[0]

	primary := item.Assets["analysis.tif"]
	if primary.Href != "s3://bucket/jobs/01JOB/assets/01A/analysis.tif" {
		t.Errorf("primary href = %s", primary.Href)
	}
	if primary.Type != MediaTypeCOG {
		t.Errorf("primary type = %s", primary.Type)
	}
	if got := item.Assets["thumb.png"].Href; got != "../../thumbs/01A/thumb.png" {
		t.Errorf("thumbnail href = %s", got)
	}
	if got := item.Assets["stats.json"].Href; got != "../../assets/01A/stats.json" {
		t.Errorf("additional href = %s", got)
	}
	if item.Properties["demo:value"] != 1.5 || item.Properties["name"] != "fire f1" {
		t.Errorf("properties = %v", item.Properties)
	}
	if item.Collection != "fires" || item.Type != "Feature" || item.StacVersion != Version {
		t.Errorf("item header = %s %s %s", item.Collection, item.Type, item.StacVersion)
	}
}

func TestRoleNormalization(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
	}{
		{nil, []string{"data", "primary"}},
		{[]string{"primary"}, []string{"primary", "data"}},
		{[]string{"visual"}, []string{"visual", "data", "primary"}},
		{[]string{"data", "primary", "data"}, []string{"data", "primary"}},
	}
	for _, tt := range tests {
		if got := NormalizePrimaryRoles(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("NormalizePrimaryRoles(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}

	plan := threeItemPlan()
	plan.Items[0] = unit("01A", feature("f1", 0, 0), instant(1), "visual")
	catalog, err := newWriter(t, WriterOptions{}).Write(plan)
	if err != nil {
		t.Fatal(err)
	}
	roles := catalog.Items[0].Assets["analysis.tif"].Roles
	count := map[string]int{}
	for _, r := range roles {
		count[r]++
	}
	if count["data"] != 1 || count["primary"] != 1 || count["visual"] != 1 {
		t.Errorf("roles = %v", roles)
	}
}

func TestPMTilesLink(t *testing.T) {
	plan := threeItemPlan()
	plan.PMTilesPath = "/tmp/features.pmtiles"

	catalog, err := newWriter(t, WriterOptions{}).Write(plan)
	if err != nil {
		t.Fatal(err)
	}
	links := LinksByRel(catalog.Collection.Links, RelPMTiles)
	if len(links) != 1 || links[0].Href != "../pmtiles/features.pmtiles" || links[0].Type != MediaTypePMTiles {
		t.Errorf("pmtiles links = %v", links)
	}
}

func TestExtensionsAndGeometry(t *testing.T) {
	w := newWriter(t, WriterOptions{Extensions: []string{"raster", "proj", "proj"}, OmitGeometry: true})
	catalog, err := w.Write(threeItemPlan())
	if err != nil {
		t.Fatal(err)
	}
	item := catalog.Items[0]
	want := []string{ExtensionSchemas["proj"], ExtensionSchemas["raster"]}
	if !reflect.DeepEqual(item.StacExtensions, want) || !reflect.DeepEqual(catalog.Collection.StacExtensions, want) {
		t.Errorf("extensions = %v", item.StacExtensions)
	}
	if item.Properties["proj:epsg"] != 4326 {
		t.Errorf("proj:epsg = %v", item.Properties["proj:epsg"])
	}
	if item.Geometry != nil {
		t.Error("geometry should be omitted")
	}
	if len(item.BBox) != 4 {
		t.Errorf("bbox = %v", item.BBox)
	}

	if _, err := NewWriter(WriterOptions{StoreRoot: "s3://b", Extensions: []string{"eo"}}); !engine.HasCode(err, engine.ErrCodeConfig) {
		t.Errorf("unknown extension: got %v", err)
	}
}

func TestNewWriterRejectsRelativeRoot(t *testing.T) {
	for _, root := range []string{"", "out", "./out", "jobs/x"} {
		if _, err := NewWriter(WriterOptions{StoreRoot: root}); !engine.HasCode(err, engine.ErrCodeHrefRule) {
			t.Errorf("root %q: got %v", root, err)
		}
	}
}

func TestWriteRejectsInvalidPlans(t *testing.T) {
	w := newWriter(t, WriterOptions{})

	dup := threeItemPlan()
	dup.Items[2].ItemID = "01A"
	if _, err := w.Write(dup); !engine.HasCode(err, engine.ErrCodeDuplicateID) {
		t.Errorf("duplicate ids: got %v", err)
	}

	twoPrimaries := threeItemPlan()
	twoPrimaries.Items[0].Output.AdditionalAssets = append(twoPrimaries.Items[0].Output.AdditionalAssets,
		engine.AssetSpec{Key: "other.tif", Href: "/work/other.tif", Roles: []string{"data", "primary"}})
	if _, err := w.Write(twoPrimaries); !engine.HasCode(err, engine.ErrCodeValidation) {
		t.Errorf("two primaries: got %v", err)
	}

	dupKey := threeItemPlan()
	dupKey.Items[0].Output.AdditionalAssets[0].Key = "analysis.tif"
	if _, err := w.Write(dupKey); !engine.HasCode(err, engine.ErrCodeValidation) {
		t.Errorf("duplicate asset key: got %v", err)
	}
}

func TestCheckItem(t *testing.T) {
	item := &Item{ID: "x", Assets: map[string]Asset{
		"a": {Href: "jobs/x/assets/a", Roles: []string{"data", "primary"}},
	}}
	if err := CheckItem(item); !engine.HasCode(err, engine.ErrCodeHrefRule) {
		t.Errorf("relative primary: got %v", err)
	}

	item.Assets["a"] = Asset{Href: "s3://b/a", Roles: []string{"data", "primary"}}
	item.Assets["t"] = Asset{Href: "/abs/thumb.png", Roles: []string{"thumbnail"}}
	if err := CheckItem(item); !engine.HasCode(err, engine.ErrCodeHrefRule) {
		t.Errorf("absolute thumbnail: got %v", err)
	}

	delete(item.Assets, "t")
	if err := CheckItem(item); err != nil {
		t.Errorf("valid item: %v", err)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	w := newWriter(t, WriterOptions{Extensions: []string{"proj"}})
	plan := threeItemPlan()

	first, err := w.Write(plan)
	if err != nil {
		t.Fatal(err)
	}
	second, err := w.Write(plan)
	if err != nil {
		t.Fatal(err)
	}
	a, err := first.Encode()
	if err != nil {
		t.Fatal(err)
	}
	b, err := second.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 4 || len(a) != len(b) {
		t.Fatalf("documents = %d, %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Path != b[i].Path || !bytes.Equal(a[i].Data, b[i].Data) {
			t.Errorf("document %s differs between runs", a[i].Path)
		}
	}

	var coll map[string]interface{}
	if err := json.Unmarshal(a[0].Data, &coll); err != nil {
		t.Fatal(err)
	}
	if coll["type"] != "Collection" || coll["id"] != "fires" {
		t.Errorf("collection header = %v %v", coll["type"], coll["id"])
	}
	if coll["feature_count"] != float64(2) {
		t.Errorf("extra fields should be flattened, got %v", coll["feature_count"])
	}
	if !strings.HasSuffix(string(a[1].Data), "}\n") {
		t.Error("documents should end with a newline")
	}

	var item map[string]interface{}
	if err := json.Unmarshal(a[1].Data, &item); err != nil {
		t.Fatal(err)
	}
	if geom, ok := item["geometry"].(map[string]interface{}); !ok || geom["type"] != "Polygon" {
		t.Errorf("geometry = %v", item["geometry"])
	}
}
