package commands

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
	"github.com/geoexhibit/geoexhibit/pkg/features"
	"github.com/rs/zerolog"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCommand("test", "none", "today")
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func TestRootCommandTree(t *testing.T) {
	cmd := newRootCommand("test", "none", "today")
	for _, path := range [][]string{
		{"run"},
		{"plan"},
		{"validate"},
		{"config"},
		{"features", "import"},
		{"features", "pmtiles"},
		{"jobs", "list"},
		{"jobs", "show"},
		{"analyzers", "list"},
	} {
		found, _, err := cmd.Find(path)
		if err != nil || found.Name() != path[len(path)-1] {
			t.Errorf("command %v not found: %v", path, err)
		}
	}
}

func TestConfigCreateThenValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	if err := execute(t, "config", "--create", "-o", path); err != nil {
		t.Fatalf("config --create error = %v", err)
	}
	if err := execute(t, "config", "--create", "-o", path); err == nil {
		t.Error("second config --create should refuse to overwrite")
	}
	if err := execute(t, "validate", path); err != nil {
		t.Errorf("validate error = %v", err)
	}

	if err := os.WriteFile(path, []byte(`{"project": {}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := execute(t, "validate", path); err == nil {
		t.Error("validate accepted an incomplete config")
	}
}

func TestFeaturesImport(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "raw.ndjson")
	lines := []string{
		`{"type":"Feature","geometry":{"type":"Point","coordinates":[150,-33]},"properties":{"name":"a"}}`,
		`{"type":"Feature","geometry":{"type":"Point","coordinates":[151,-34]},"properties":{"feature_id":"keep-me"}}`,
	}
	if err := os.WriteFile(input, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	output := filepath.Join(dir, "features.geojson")

	if err := execute(t, "features", "import", input, "-o", output, "--id-prefix", "fire-"); err != nil {
		t.Fatalf("features import error = %v", err)
	}

	fc, err := features.NewLoader(zerolog.Nop()).Load(output)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("len(features) = %d, want 2", len(fc.Features))
	}
	first, _ := fc.Features[0].Properties[engine.FeatureIDProperty].(string)
	if !strings.HasPrefix(first, "fire-") {
		t.Errorf("generated feature_id = %q, want fire- prefix", first)
	}
	if got := fc.Features[1].Properties[engine.FeatureIDProperty]; got != "keep-me" {
		t.Errorf("existing feature_id = %v, want keep-me", got)
	}
}

func TestJobsListEmpty(t *testing.T) {
	state := filepath.Join(t.TempDir(), "state.db")
	if err := execute(t, "jobs", "list", "--state", state); err != nil {
		t.Fatalf("jobs list error = %v", err)
	}
	if err := execute(t, "jobs", "show", "missing", "--state", state); err == nil {
		t.Error("jobs show accepted an unknown job id")
	}
}
