package layout

import (
	"testing"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
)

func TestLayoutPaths(t *testing.T) {
	l := New("01J0JOB")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"job root", l.JobRoot(), "jobs/01J0JOB"},
		{"collection", l.CollectionPath(), "jobs/01J0JOB/stac/collection.json"},
		{"item", l.ItemPath("01J0ITEM"), "jobs/01J0JOB/stac/items/01J0ITEM.json"},
		{"asset", l.AssetPath("01J0ITEM", "analysis.tif"), "jobs/01J0JOB/assets/01J0ITEM/analysis.tif"},
		{"thumb", l.ThumbPath("01J0ITEM", "thumb.png"), "jobs/01J0JOB/thumbs/01J0ITEM/thumb.png"},
		{"pmtiles", l.PMTilesPath(), "jobs/01J0JOB/pmtiles/features.pmtiles"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestLayoutIsPure(t *testing.T) {
	a, b := New("job"), New("job")
	for i := 0; i < 3; i++ {
		if a.AssetPath("item", "x.tif") != b.AssetPath("item", "x.tif") {
			t.Fatal("same inputs must give the same path")
		}
	}
}

func TestRelative(t *testing.T) {
	tests := []struct {
		from, target, want string
	}{
		{"jobs/J/stac/items/I.json", "jobs/J/thumbs/I/t.png", "../../thumbs/I/t.png"},
		{"jobs/J/stac/items/I.json", "jobs/J/stac/collection.json", "../collection.json"},
		{"jobs/J/stac/items/I.json", "jobs/J/stac/items/I.json", "I.json"},
		{"jobs/J/stac/collection.json", "jobs/J/stac/items/I.json", "items/I.json"},
		{"jobs/J/stac/collection.json", "jobs/J/pmtiles/features.pmtiles", "../pmtiles/features.pmtiles"},
	}
	for _, tt := range tests {
		got, err := Relative(tt.from, tt.target)
		if err != nil {
			t.Fatalf("Relative(%q, %q) error = %v", tt.from, tt.target, err)
		}
		if got != tt.want {
			t.Errorf("Relative(%q, %q) = %q, want %q", tt.from, tt.target, got, tt.want)
		}
	}
}

func TestRelativeRejectsAbsolute(t *testing.T) {
	for _, target := range []string{"s3://bucket/jobs/J/x", "/abs/path", "https://example.com/x"} {
		if _, err := Relative("jobs/J/stac/collection.json", target); !engine.HasCode(err, engine.ErrCodeHrefRule) {
			t.Errorf("Relative(.., %q) error = %v, want href rule violation", target, err)
		}
	}
}

func TestHrefResolver(t *testing.T) {
	r, err := NewHrefResolver("s3://bucket/", New("J"))
	if err != nil {
		t.Fatal(err)
	}

	if got := r.PrimaryAssetHref("I", "analysis.tif"); got != "s3://bucket/jobs/J/assets/I/analysis.tif" {
		t.Errorf("PrimaryAssetHref() = %q", got)
	}
	if got := r.PrimaryAssetHref("I", "analysis.tif"); got != r.PrimaryAssetHref("I", "analysis.tif") {
		t.Error("resolver must be idempotent")
	}

	check := func(name, got string, err error, want string) {
		t.Helper()
		if err != nil {
			t.Fatalf("%s error = %v", name, err)
		}
		if got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
		if IsAbsoluteRef(got) {
			t.Errorf("%s must be relative", name)
		}
	}

	got, err := r.ThumbnailHref("I", "thumb.png")
	check("ThumbnailHref", got, err, "../../thumbs/I/thumb.png")
	got, err = r.AdditionalAssetHref("I", "mask.tif")
	check("AdditionalAssetHref", got, err, "../../assets/I/mask.tif")
	got, err = r.PMTilesHref()
	check("PMTilesHref", got, err, "../pmtiles/features.pmtiles")
	got, err = r.ItemLinkHref("I")
	check("ItemLinkHref", got, err, "items/I.json")
	got, err = r.CollectionLinkHref("I")
	check("CollectionLinkHref", got, err, "../collection.json")
	got, err = r.SelfHref("I")
	check("SelfHref", got, err, "I.json")
}

func TestNewHrefResolverRejectsRelativeRoot(t *testing.T) {
	for _, root := range []string{"", "bucket", "./out", "out/catalog"} {
		if _, err := NewHrefResolver(root, New("J")); !engine.HasCode(err, engine.ErrCodeHrefRule) {
			t.Errorf("NewHrefResolver(%q) error = %v", root, err)
		}
	}
	for _, root := range []string{"s3://bucket", "/srv/catalog", "file:///srv/catalog", "sftp://host/base"} {
		if _, err := NewHrefResolver(root, New("J")); err != nil {
			t.Errorf("NewHrefResolver(%q) error = %v", root, err)
		}
	}
}
