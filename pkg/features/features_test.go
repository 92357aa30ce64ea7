package features

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
)

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const collectionJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [149.1, -35.3]}, "properties": {"fire_date": "2023-09-15"}},
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [150.0, -34.0]}, "properties": null}
  ]
}`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(zerolog.Nop())

	tests := []struct {
		name    string
		file    string
		content string
		count   int
		wantErr string
	}{
		{"collection", "a.geojson", collectionJSON, 2, ""},
		{"bare feature", "b.json", `{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{}}`, 1, ""},
		{"ndjson skips bad lines", "c.ndjson", `{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{}}

not json
{"type":"FeatureCollection","features":[]}
{"type":"Feature","geometry":{"type":"Point","coordinates":[3,4]},"properties":{"a":1}}
`, 2, ""},
		{"jsonl", "d.jsonl", `{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{}}`, 1, ""},
		{"empty collection", "e.json", `{"type":"FeatureCollection","features":[]}`, 0, engine.ErrCodeValidation},
		{"missing geometry", "f.json", `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":null,"properties":{}}]}`, 0, engine.ErrCodeValidation},
		{"wrong type", "g.json", `{"type":"Point","coordinates":[1,2]}`, 0, engine.ErrCodeValidation},
		{"not json", "h.json", `{{{`, 0, engine.ErrCodeValidation},
		{"bad extension", "i.csv", `x,y`, 0, engine.ErrCodeValidation},
		{"ndjson all bad", "j.ndjson", "nope\n", 0, engine.ErrCodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := write(t, dir, tt.file, tt.content)
			fc, err := loader.Load(path)
			if tt.wantErr != "" {
				if !engine.HasCode(err, tt.wantErr) {
					t.Fatalf("expected %s, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if len(fc.Features) != tt.count {
				t.Fatalf("got %d features, want %d", len(fc.Features), tt.count)
			}
			for _, f := range fc.Features {
				if f.Properties == nil {
					t.Error("properties should be initialised")
				}
			}
		})
	}

	if _, err := loader.Load(filepath.Join(dir, "missing.json")); !engine.HasCode(err, engine.ErrCodeNotFound) {
		t.Errorf("missing file: got %v", err)
	}
}

type counterIDs struct{ n int }

func (c *counterIDs) NewID() string {
	c.n++
	return strings.Repeat("0", 25) + string(rune('0'+c.n))
}

func TestEnsureIDs(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	kept := geojson.NewFeature(orb.Point{1, 2})
	kept.Properties[engine.FeatureIDProperty] = "existing"
	fc.Append(kept)
	fc.Append(geojson.NewFeature(orb.Point{3, 4}))
	empty := geojson.NewFeature(orb.Point{5, 6})
	empty.Properties[engine.FeatureIDProperty] = ""
	fc.Append(empty)

	if n := EnsureIDs(fc, "fire_", &counterIDs{}); n != 2 {
		t.Errorf("assigned %d, want 2", n)
	}
	if fc.Features[0].Properties[engine.FeatureIDProperty] != "existing" {
		t.Error("existing id must be kept")
	}
	for _, f := range fc.Features[1:] {
		id, _ := f.Properties[engine.FeatureIDProperty].(string)
		if !strings.HasPrefix(id, "fire_") {
			t.Errorf("generated id %q lacks prefix", id)
		}
	}
	if n := EnsureIDs(fc, "fire_", nil); n != 0 {
		t.Errorf("second pass assigned %d", n)
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	if _, err := Discover(dir); !engine.HasCode(err, engine.ErrCodeNotFound) {
		t.Fatalf("empty dir: got %v", err)
	}

	write(t, dir, "input.geojson", collectionJSON)
	write(t, dir, "data.json", collectionJSON)
	got, err := Discover(dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(got) != "data.json" {
		t.Errorf("Discover() = %s, want data.json first", got)
	}
}

func TestWriteGeoJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(zerolog.Nop())
	fc, err := loader.Load(write(t, dir, "in.geojson", collectionJSON))
	if err != nil {
		t.Fatal(err)
	}
	EnsureIDs(fc, "", nil)

	out := filepath.Join(dir, "nested", "out.geojson")
	if err := WriteGeoJSON(fc, out); err != nil {
		t.Fatalf("WriteGeoJSON() error = %v", err)
	}
	again, err := loader.Load(out)
	if err != nil {
		t.Fatal(err)
	}
	for i := range fc.Features {
		want := fc.Features[i].Properties[engine.FeatureIDProperty]
		if got := again.Features[i].Properties[engine.FeatureIDProperty]; got != want {
			t.Errorf("feature %d id = %v, want %v", i, got, want)
		}
		if !engine.IsULID(want.(string)) {
			t.Errorf("generated id %v is not a ULID", want)
		}
	}
}
