package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfig returns the configuration template written by
// "geoexhibit config --create".
func DefaultConfig() *Config {
	return &Config{
		Project: ProjectConfig{
			Name:         "my-geoexhibit-project",
			CollectionID: "my_collection",
			Title:        "My GeoExhibit Collection",
			Description:  "A collection of geospatial analyses",
		},
		AWS: AWSConfig{
			S3Bucket: "your-bucket-name",
			Region:   "ap-southeast-2",
		},
		Map: MapConfig{
			PMTiles: PMTilesConfig{
				FeatureIDProperty: "feature_id",
				MinZoom:           5,
				MaxZoom:           14,
			},
			BaseURL: "",
		},
		STAC: STACConfig{
			UseExtensions:  []string{"proj", "raster", "processing"},
			GeometryInItem: true,
		},
		IDs: IDsConfig{
			Strategy: "ulid",
			Prefix:   "",
		},
		Time: TimeConfig{
			Mode:      TimeModeDeclarative,
			Extractor: ExtractorAttributeDate,
			Field:     "properties.fire_date",
			Format:    "auto",
			TZ:        "UTC",
		},
		Analyzer: AnalyzerConfig{
			Name:              "demo_analyzer",
			PluginDirectories: []string{"analyzers/"},
			Parameters:        map[string]interface{}{},
		},
		Policy: PolicyConfig{
			Enabled: true,
			Mode:    "enforcing",
		},
		State: StateConfig{
			Enabled: true,
			Path:    ".geoexhibit/state.db",
		},
	}
}

// WriteTemplate writes the default configuration as indented JSON. It refuses
// to overwrite an existing file unless force is set.
func WriteTemplate(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	data, err := json.MarshalIndent(DefaultConfig(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode template: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
