// Package tiles generates PMTiles vector tile archives from features.
package tiles

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
	"github.com/geoexhibit/geoexhibit/pkg/features"
)

// DefaultBinary is looked up on PATH when Tippecanoe.Binary is empty.
const DefaultBinary = "tippecanoe"

// Generator writes a tile archive for a feature collection.
type Generator interface {
	Generate(ctx context.Context, fc *geojson.FeatureCollection, outputPath string, minZoom, maxZoom int, idProperty string) error
}

// Tippecanoe runs the tippecanoe command line tool.
type Tippecanoe struct {
	// Binary is the executable path. Defaults to DefaultBinary.
	Binary string

	// Logger is optional.
	Logger *zerolog.Logger
}

var _ Generator = (*Tippecanoe)(nil)

func (t *Tippecanoe) binary() string {
	if t.Binary != "" {
		return t.Binary
	}
	return DefaultBinary
}

// Available reports whether the binary can be found.
func (t *Tippecanoe) Available() bool {
	_, err := exec.LookPath(t.binary())
	return err == nil
}

// Args returns the tippecanoe arguments for one run.
func Args(outputPath, inputPath string, minZoom, maxZoom int, idProperty string) []string {
	args := []string{
		"-o", outputPath,
		"-z", strconv.Itoa(maxZoom),
		"-Z", strconv.Itoa(minZoom),
		"--force",
		"--no-tile-compression",
		"--drop-densest-as-needed",
	}
	if idProperty != "" {
		args = append(args, "--use-attribute-for-id="+idProperty)
	}
	return append(args, inputPath)
}

// Generate writes fc to a temporary GeoJSON file and converts it.
func (t *Tippecanoe) Generate(ctx context.Context, fc *geojson.FeatureCollection, outputPath string, minZoom, maxZoom int, idProperty string) error {
	if minZoom < 0 || maxZoom > 24 || minZoom > maxZoom {
		return engine.NewValidationError("invalid zoom range %d..%d", minZoom, maxZoom)
	}
	if fc == nil || len(fc.Features) == 0 {
		return engine.NewValidationError("no features to tile")
	}

	log := zerolog.Nop()
	if t.Logger != nil {
		log = *t.Logger
	}

	workDir, err := os.MkdirTemp("", "geoexhibit-tiles-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	input := filepath.Join(workDir, "features.geojson")
	if err := features.WriteGeoJSON(fc, input); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	args := Args(outputPath, input, minZoom, maxZoom, idProperty)
	cmd := exec.CommandContext(ctx, t.binary(), args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log.Debug().Str("binary", t.binary()).Strs("args", args).Msg("Running tippecanoe")
	if err := cmd.Run(); err != nil {
		return engine.NewPermanentError("tippecanoe failed", err).
			WithOperation("tiles").
			WithResource(outputPath).
			WithDetail("stderr", strings.TrimSpace(stderr.String()))
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return engine.NewPermanentError("tippecanoe produced no output", err).
			WithOperation("tiles").
			WithResource(outputPath)
	}
	log.Info().
		Str("path", outputPath).
		Int("features", len(fc.Features)).
		Int64("bytes", info.Size()).
		Msg("Generated vector tiles")
	return nil
}
