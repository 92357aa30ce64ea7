package analyzers

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
)

// SimpleName is the registered name of the simple example analyzer.
const SimpleName = "simple_example"

// Simple returns a fixed asset description without touching the filesystem.
type Simple struct {
	outputFormat string
	mockValue    float64
	dir          string
}

// NewSimple reads output_format (default "cog") and mock_value (default 42).
func NewSimple(params map[string]interface{}) (*Simple, error) {
	s := &Simple{outputFormat: "cog", dir: os.TempDir()}
	if v, ok := params["output_format"].(string); ok && v != "" {
		s.outputFormat = v
	}
	mock, err := floatParam(params, "mock_value", 42)
	if err != nil {
		return nil, err
	}
	s.mockValue = mock
	return s, nil
}

// Name implements engine.Analyzer.
func (s *Simple) Name() string { return SimpleName }

// Analyze implements engine.Analyzer.
func (s *Simple) Analyze(ctx context.Context, f *geojson.Feature, span engine.TimeSpan) (*engine.AnalyzerOutput, error) {
	featureID := featureIDOf(f)
	stamp := span.Start().UTC().Format("20060102_150405")

	return &engine.AnalyzerOutput{
		PrimaryCOGAsset: &engine.AssetSpec{
			Key:         "analysis",
			Href:        filepath.Join(s.dir, fmt.Sprintf("%s_%s_simple_analysis.tif", fileStem(featureID), stamp)),
			Title:       fmt.Sprintf("Simple Example Analysis (%s)", s.outputFormat),
			Description: fmt.Sprintf("Mock analysis for feature %s with value %g", featureID, s.mockValue),
			MediaType:   MediaTypeCOG,
			Roles:       []string{engine.RoleData, engine.RolePrimary},
		},
		ExtraProperties: map[string]interface{}{
			"geoexhibit:analyzer":          SimpleName,
			"geoexhibit:analysis_time":     span.Start().Format("2006-01-02T15:04:05Z07:00"),
			"geoexhibit:synthetic":         true,
			"simple_example:output_format": s.outputFormat,
			"simple_example:mock_value":    s.mockValue,
			"simple_example:feature_id":    featureID,
		},
	}, nil
}

func featureIDOf(f *geojson.Feature) string {
	if f != nil {
		if v, ok := f.Properties[engine.FeatureIDProperty]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return "unknown"
}

// fileStem turns a feature id into a single path element. Ids that need
// rewriting get a hash suffix so "zone/7" and "zone_7" stay distinct.
func fileStem(featureID string) string {
	stem := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, featureID)
	if stem == featureID && stem != "" {
		return stem
	}
	h := fnv.New32a()
	h.Write([]byte(featureID))
	return fmt.Sprintf("%s-%08x", stem, h.Sum32())
}
