package tiles

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
)

func collection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	f := geojson.NewFeature(orb.Point{149.1, -35.3})
	f.Properties[engine.FeatureIDProperty] = "f1"
	fc.Append(f)
	return fc
}

// fakeBinary writes a shell script that records its arguments and creates
// the -o output file.
func fakeBinary(t *testing.T, exitCode int) (string, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script binary")
	}
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	script := "#!/bin/sh\n" +
		"printf '%s\\n' \"$@\" > " + argsFile + "\n" +
		"if [ " + strconv.Itoa(exitCode) + " -ne 0 ]; then echo 'boom' >&2; exit " + strconv.Itoa(exitCode) + "; fi\n" +
		"echo PMTiles > \"$2\"\n"
	bin := filepath.Join(dir, "tippecanoe")
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return bin, argsFile
}


func TestArgs(t *testing.T) {
	got := Args("/out/features.pmtiles", "/tmp/in.geojson", 5, 14, "feature_id")
	want := []string{
		"-o", "/out/features.pmtiles",
		"-z", "14",
		"-Z", "5",
		"--force",
		"--no-tile-compression",
		"--drop-densest-as-needed",
		"--use-attribute-for-id=feature_id",
		"/tmp/in.geojson",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Args() = %v\nwant %v", got, want)
	}
}

func TestGenerate(t *testing.T) {
	bin, argsFile := fakeBinary(t, 0)
	out := filepath.Join(t.TempDir(), "nested", "features.pmtiles")

	gen := &Tippecanoe{Binary: bin}
	if !gen.Available() {
		t.Fatal("fake binary should be available")
	}
	if err := gen.Generate(context.Background(), collection(), out, 5, 14, "feature_id"); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("output missing: %v", err)
	}

	recorded, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	args := strings.Split(strings.TrimSpace(string(recorded)), "\n")
	if args[0] != "-o" || args[1] != out || !strings.HasSuffix(args[len(args)-1], "features.geojson") {
		t.Errorf("unexpected args %v", args)
	}
}

func TestGenerateFailure(t *testing.T) {
	bin, _ := fakeBinary(t, 3)
	err := (&Tippecanoe{Binary: bin}).Generate(context.Background(), collection(), filepath.Join(t.TempDir(), "x.pmtiles"), 0, 10, "")
	if err == nil {
		t.Fatal("expected failure")
	}
	if !engine.IsPermanent(err) {
		t.Errorf("expected permanent error, got %v", err)
	}
}

func TestGenerateValidation(t *testing.T) {
	gen := &Tippecanoe{Binary: "/nonexistent/tippecanoe"}
	tests := []struct {
		name     string
		fc       *geojson.FeatureCollection
		min, max int
	}{
		{"inverted zooms", collection(), 10, 5},
		{"zoom too high", collection(), 0, 30},
		{"empty", geojson.NewFeatureCollection(), 0, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := gen.Generate(context.Background(), tt.fc, filepath.Join(t.TempDir(), "x.pmtiles"), tt.min, tt.max, "")
			if !engine.HasCode(err, engine.ErrCodeValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestAvailableMissing(t *testing.T) {
	if (&Tippecanoe{Binary: "/nonexistent/tippecanoe"}).Available() {
		t.Error("missing binary reported available")
	}
}
