package commands

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/geoexhibit/geoexhibit/pkg/pipeline"
	"github.com/geoexhibit/geoexhibit/pkg/policy"
	"github.com/geoexhibit/geoexhibit/pkg/publisher"
	"github.com/geoexhibit/geoexhibit/pkg/tiles"
)

func newRunCommand() *cobra.Command {
	var (
		featuresPath string
		localOut     string
		workDir      string
		dryRun       bool
	)

	cmd := &cobra.Command{
		Use:   "run [config]",
		Short: "Analyze features and publish the catalog",
		Long: `Run the full publishing pipeline.

This command:
  - Loads the features and resolves their analysis times
  - Runs the configured analyzer once per feature and time
  - Generates vector tiles when tippecanoe is installed
  - Writes the STAC collection and items
  - Checks the catalog against the publish policies
  - Uploads everything and verifies the upload`,
		Example: `  # Publish to the S3 bucket from the config
  geoexhibit run config.json --features fires.geojson

  # Publish into a local directory
  geoexhibit run config.json --features fires.geojson --local-out ./out

  # Show what would be published
  geoexhibit run config.json --features fires.geojson --dry-run`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, err := openEnv(ctx, args, workDir)
			if err != nil {
				return err
			}
			defer e.close(ctx)

			input, err := e.featuresPath(featuresPath)
			if err != nil {
				return err
			}

			deps := pipeline.Deps{
				Config:    e.cfg,
				Registry:  e.registry,
				Telemetry: e.tel,
			}
			if e.jobs != nil {
				deps.Jobs = e.jobs
			}

			if !dryRun {
				store, err := publisher.OpenStore(ctx, e.cfg, localOut)
				if err != nil {
					return err
				}
				defer func() {
					if err := publisher.CloseStore(store); err != nil {
						log.Warn().Err(err).Msg("Failed to close output store")
					}
				}()
				deps.Store = store

				gate, err := policy.NewGate(ctx, e.cfg.Policy, log.Logger)
				if err != nil {
					return err
				}
				deps.Gate = gate

				tileLog := log.Logger.With().Str("component", "tiles").Logger()
				deps.Tiles = &tiles.Tippecanoe{Logger: &tileLog}
			}

			res, err := pipeline.Run(ctx, deps, pipeline.Options{
				FeaturesPath: input,
				DryRun:       dryRun,
				WorkDir:      e.workDir,
			})
			if res != nil {
				if jsonOutput {
					if perr := printJSON(res); perr != nil {
						return errors.Join(err, perr)
					}
				} else {
					printRunResult(res)
				}
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&featuresPath, "features", "f", "", "features file (.geojson, .json, .ndjson)")
	cmd.Flags().StringVar(&localOut, "local-out", "", "publish into this directory instead of the configured target")
	cmd.Flags().StringVar(&workDir, "work-dir", "", "keep analyzer output and tiles in this directory")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "resolve the plan shape without analyzing or publishing")

	return cmd
}

func printRunResult(res *pipeline.Result) {
	if res.DryRun {
		fmt.Println("Dry run - nothing was analyzed or published")
	}
	fmt.Printf("Job ID:        %s\n", res.JobID)
	fmt.Printf("Collection:    %s\n", res.CollectionID)
	fmt.Printf("Items:         %d\n", res.ItemCount)
	fmt.Printf("Features:      %d\n", res.FeatureCount)

	if res.Shape != nil {
		for _, fs := range res.Shape.Spans {
			fmt.Printf("  %-24s %d time spans\n", fs.FeatureID, len(fs.Spans))
		}
		if n := len(res.Shape.FeaturesWithoutSpans); n > 0 {
			fmt.Printf("Without times: %d features\n", n)
		}
		return
	}

	fmt.Printf("Output:        %s\n", res.OutputType)
	fmt.Printf("Objects:       %d\n", res.ObjectsPublished)
	fmt.Printf("PMTiles:       %s\n", yesNo(res.PMTilesGenerated))
	fmt.Printf("Verified:      %s\n", yesNo(res.VerificationPassed))
	if res.Policy != nil {
		fmt.Printf("Policy:        %d violations\n", len(res.Policy.Violations))
	}
	for _, w := range res.Warnings {
		fmt.Printf("Warning:       %s\n", w)
	}
}
