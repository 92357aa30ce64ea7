package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const embargoRego = `package geoexhibit.custom.embargo

import rego.v1

# Items may not be published before the embargo date.
# severity: critical

deny contains v if {
	some item in input.items
	item.start_datetime < "2020-01-01"
	v := {"msg": sprintf("item %s is embargoed", [item.id])}
}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoaderRegoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embargo.rego")
	writeFile(t, path, embargoRego)

	policies, err := NewLoader(zerolog.Nop()).Load(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("got %d policies", len(policies))
	}

	p := policies[0]
	if p.Name != "embargo" || !p.Enabled || p.Rego != embargoRego {
		t.Errorf("policy = %+v", p)
	}
	if p.Severity != SeverityCritical {
		t.Errorf("Severity = %s", p.Severity)
	}
	if p.Description != "Items may not be published before the embargo date." {
		t.Errorf("Description = %q", p.Description)
	}
	if p.Metadata["source"] != path {
		t.Errorf("source = %v", p.Metadata["source"])
	}
}

func TestLoaderJSONDefinition(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "license.json")
	writeFile(t, good, `{"name": "strict-license", "description": "d", "severity": "error", "enabled": true,
		"rego": "package geoexhibit.custom.strict_license\nimport rego.v1\ndeny contains v if { false; v := {} }"}`)

	policies, err := NewLoader(zerolog.Nop()).Load(context.Background(), []string{good})
	if err != nil {
		t.Fatal(err)
	}
	if policies[0].Name != "strict-license" || policies[0].Severity != SeverityError || policies[0].Builtin {
		t.Errorf("policy = %+v", policies[0])
	}

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"no name", `{"rego": "package x"}`, "no name"},
		{"no rego", `{"name": "x"}`, "no rego source"},
		{"invalid json", `{`, "parse policy definition"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "p.json")
			writeFile(t, path, tt.content)
			_, err := NewLoader(zerolog.Nop()).Load(context.Background(), []string{path})
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoaderDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.rego"), "package a\n")
	writeFile(t, filepath.Join(dir, "nested", "b.rego"), "package b\n")
	writeFile(t, filepath.Join(dir, "broken.json"), "{")
	writeFile(t, filepath.Join(dir, "README.md"), "ignored")

	policies, err := NewLoader(zerolog.Nop()).Load(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	var names []string
	for _, p := range policies {
		names = append(names, p.Name)
	}
	if strings.Join(names, ",") != "a,b" {
		t.Errorf("names = %v, want [a b]", names)
	}
}

func TestLoaderMissingPath(t *testing.T) {
	_, err := NewLoader(zerolog.Nop()).Load(context.Background(), []string{"/nonexistent/policies"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestLoaderUnsupportedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.txt")
	writeFile(t, path, "package x")
	if _, err := NewLoader(zerolog.Nop()).Load(context.Background(), []string{path}); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoaderCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embargo.rego")
	writeFile(t, path, "# first\npackage x\n")

	loader := NewLoader(zerolog.Nop())
	ctx := context.Background()
	if _, err := loader.Load(ctx, []string{path}); err != nil {
		t.Fatal(err)
	}

	// Same modification time: the cached parse is returned.
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, "# second\npackage x\n")
	if err := os.Chtimes(path, info.ModTime(), info.ModTime()); err != nil {
		t.Fatal(err)
	}
	policies, _ := loader.Load(ctx, []string{path})
	if policies[0].Description != "first" {
		t.Errorf("Description = %q, want cached", policies[0].Description)
	}

	later := info.ModTime().Add(time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	policies, _ = loader.Load(ctx, []string{path})
	if policies[0].Description != "second" {
		t.Errorf("Description = %q after change", policies[0].Description)
	}

	writeFile(t, path, "# third\npackage x\n")
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	loader.ClearCache()
	policies, _ = loader.Load(ctx, []string{path})
	if policies[0].Description != "third" {
		t.Errorf("Description = %q after ClearCache", policies[0].Description)
	}
}

func TestRegoHeader(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		desc     string
		severity Severity
	}{
		{"none", "package x\n", "", SeverityWarning},
		{"multi-line", "# Checks items.\n# Second line.\npackage x\n# not header\n", "Checks items. Second line.", SeverityWarning},
		{"after package", "package x\n\n# Checks items.\n\ndeny := []\n", "Checks items.", SeverityWarning},
		{"severity anywhere", "package x\n# severity: ERROR\n", "", SeverityError},
		{"unknown severity", "# severity: fatal\npackage x\n", "", SeverityWarning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, sev := regoHeader(tt.src)
			if desc != tt.desc || sev != tt.severity {
				t.Errorf("regoHeader() = %q, %s; want %q, %s", desc, sev, tt.desc, tt.severity)
			}
		})
	}
}
