package commands

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
	"github.com/geoexhibit/geoexhibit/pkg/features"
	"github.com/geoexhibit/geoexhibit/pkg/tiles"
)

func newFeaturesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "features",
		Short: "Prepare feature files",
	}
	cmd.AddCommand(newFeaturesImportCommand())
	cmd.AddCommand(newFeaturesPMTilesCommand())
	return cmd
}

func newFeaturesImportCommand() *cobra.Command {
	var (
		output   string
		idPrefix string
	)

	cmd := &cobra.Command{
		Use:   "import INPUT",
		Short: "Normalize features and assign feature ids",
		Long: `Read a FeatureCollection, a single Feature or line-delimited features,
assign a feature_id to every feature that lacks one and write the result as a
FeatureCollection.`,
		Example: `  geoexhibit features import raw.ndjson -o features.geojson --id-prefix fire-`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]
			if output == "" {
				output = strings.TrimSuffix(input, filepath.Ext(input)) + ".normalized.geojson"
			}

			fc, err := features.NewLoader(log.Logger).Load(input)
			if err != nil {
				return err
			}
			if err := features.Validate(fc); err != nil {
				return err
			}
			assigned := features.EnsureIDs(fc, idPrefix, engine.ULIDGenerator{})
			if err := features.WriteGeoJSON(fc, output); err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(map[string]interface{}{
					"input":        input,
					"output":       output,
					"features":     len(fc.Features),
					"ids_assigned": assigned,
				})
			}
			fmt.Printf("Wrote %d features to %s (%d ids assigned)\n", len(fc.Features), output, assigned)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default INPUT.normalized.geojson)")
	cmd.Flags().StringVar(&idPrefix, "id-prefix", "", "prefix for generated feature ids")

	return cmd
}

func newFeaturesPMTilesCommand() *cobra.Command {
	var (
		output     string
		minZoom    int
		maxZoom    int
		idProperty string
		binary     string
	)

	cmd := &cobra.Command{
		Use:     "pmtiles INPUT",
		Short:   "Generate vector tiles with tippecanoe",
		Example: `  geoexhibit features pmtiles features.geojson -o features.pmtiles --maxzoom 12`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]
			if output == "" {
				output = strings.TrimSuffix(input, filepath.Ext(input)) + ".pmtiles"
			}

			gen := &tiles.Tippecanoe{Binary: binary, Logger: &log.Logger}
			if !gen.Available() {
				return engine.NewPermanentError("tippecanoe not found in PATH", nil).
					WithCode(engine.ErrCodeNotFound).
					WithResource(gen.Binary)
			}

			fc, err := features.NewLoader(log.Logger).Load(input)
			if err != nil {
				return err
			}
			if err := features.Validate(fc); err != nil {
				return err
			}
			features.EnsureIDs(fc, "", engine.ULIDGenerator{})

			if err := gen.Generate(cmd.Context(), fc, output, minZoom, maxZoom, idProperty); err != nil {
				return err
			}
			fmt.Printf("Wrote %s (zoom %d-%d)\n", output, minZoom, maxZoom)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default INPUT.pmtiles)")
	cmd.Flags().IntVar(&minZoom, "minzoom", 5, "minimum zoom")
	cmd.Flags().IntVar(&maxZoom, "maxzoom", 14, "maximum zoom")
	cmd.Flags().StringVar(&idProperty, "id-property", engine.FeatureIDProperty, "property used as the tile feature id")
	cmd.Flags().StringVar(&binary, "tippecanoe", tiles.DefaultBinary, "tippecanoe executable")

	return cmd
}
