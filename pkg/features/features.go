// Package features loads and normalizes input vector features.
package features

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
)

// DiscoverNames are the file names Discover looks for, in order.
var DiscoverNames = []string{
	"features.json",
	"features.geojson",
	"data.json",
	"data.geojson",
	"input.json",
	"input.geojson",
}

const maxLineSize = 64 << 20

// Loader reads feature files.
type Loader struct {
	log zerolog.Logger
}

// NewLoader creates a loader that logs skipped input to log.
func NewLoader(log zerolog.Logger) *Loader {
	return &Loader{log: log.With().Str("component", "features").Logger()}
}

// Load reads path by extension: .json and .geojson hold a FeatureCollection
// or a single Feature; .ndjson and .jsonl hold one Feature per line.
func (l *Loader) Load(path string) (*geojson.FeatureCollection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, engine.NewPermanentError("failed to open features", err).
			WithCode(engine.ErrCodeNotFound).
			WithResource(path)
	}
	defer f.Close()

	var fc *geojson.FeatureCollection
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json", ".geojson":
		fc, err = l.decodeDocument(f)
	case ".ndjson", ".jsonl":
		fc, err = l.decodeLines(f, path)
	default:
		return nil, engine.NewValidationError("unsupported feature file extension %q", ext).WithResource(path)
	}
	if err != nil {
		if ee, ok := err.(*engine.EngineError); ok {
			return nil, ee.WithResource(path)
		}
		return nil, err
	}

	if err := Validate(fc); err != nil {
		if ee, ok := err.(*engine.EngineError); ok {
			return nil, ee.WithResource(path)
		}
		return nil, err
	}
	l.log.Info().Str("path", path).Int("features", len(fc.Features)).Msg("Loaded features")
	return fc, nil
}

func (l *Loader) decodeDocument(r io.Reader) (*geojson.FeatureCollection, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read features: %w", err)
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, engine.NewPermanentError("invalid GeoJSON", err).WithCode(engine.ErrCodeValidation)
	}

	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, engine.NewPermanentError("invalid FeatureCollection", err).WithCode(engine.ErrCodeValidation)
		}
		return fc, nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, engine.NewPermanentError("invalid Feature", err).WithCode(engine.ErrCodeValidation)
		}
		fc := geojson.NewFeatureCollection()
		fc.Append(f)
		return fc, nil
	}
	return nil, engine.NewValidationError("expected a FeatureCollection or Feature, got type %q", head.Type)
}

func (l *Loader) decodeLines(r io.Reader, path string) (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		f, err := geojson.UnmarshalFeature(text)
		if err != nil || f.Type != "Feature" {
			l.log.Warn().Err(err).Str("path", path).Int("line", line).Msg("Skipping invalid feature line")
			continue
		}
		fc.Append(f)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return fc, nil
}

// Validate requires at least one feature and a geometry on every feature.
// Missing properties are initialised to an empty map.
func Validate(fc *geojson.FeatureCollection) error {
	if fc == nil || len(fc.Features) == 0 {
		return engine.NewValidationError("feature collection is empty")
	}
	for i, f := range fc.Features {
		if f == nil {
			return engine.NewValidationError("feature %d is null", i)
		}
		if f.Geometry == nil {
			return engine.NewValidationError("feature %d has no geometry", i)
		}
		if f.Properties == nil {
			f.Properties = geojson.Properties{}
		}
	}
	return nil
}

// EnsureIDs sets feature_id on every feature that lacks one and returns how
// many were assigned.
func EnsureIDs(fc *geojson.FeatureCollection, prefix string, ids engine.IDGenerator) int {
	if ids == nil {
		ids = engine.ULIDGenerator{}
	}
	assigned := 0
	for _, f := range fc.Features {
		if engine.EnsureFeatureID(f, prefix, ids) {
			assigned++
		}
	}
	return assigned
}

// Discover returns the first of DiscoverNames present in dir.
func Discover(dir string) (string, error) {
	for _, name := range DiscoverNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", engine.NewPermanentError(fmt.Sprintf("no features file found; looked for %s", strings.Join(DiscoverNames, ", ")), nil).
		WithCode(engine.ErrCodeNotFound).
		WithResource(dir)
}

// WriteGeoJSON writes fc as an indented FeatureCollection.
func WriteGeoJSON(fc *geojson.FeatureCollection, path string) error {
	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
