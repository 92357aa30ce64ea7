package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/geoexhibit/geoexhibit/pkg/pipeline"
	"github.com/geoexhibit/geoexhibit/pkg/policy"
)

func newPlanCommand() *cobra.Command {
	var (
		featuresPath string
		outPath      string
		workDir      string
	)

	cmd := &cobra.Command{
		Use:   "plan [config]",
		Short: "Build the publish plan without publishing",
		Long: `Build and validate the publish plan and write its summary as JSON.

The analyzer runs for every feature and time, but nothing is written to the
output store and the run is not recorded in the job history. The summary is
the document the publish policies evaluate.`,
		Example: `  # Print the plan summary
  geoexhibit plan config.json --features fires.geojson

  # Write it to a file and keep the analyzer output
  geoexhibit plan config.json -f fires.geojson --out plan.json --work-dir ./work`,
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
			opts := pipeline.Options{FeaturesPath: input}

			plan, err := pipeline.BuildPlan(ctx, pipeline.Deps{
				Config:    e.cfg,
				Registry:  e.registry,
				Telemetry: e.tel,
			}, opts)
			if err != nil {
				return err
			}

			summary := policy.NewInput(plan, nil, "", time.Now())
			summary.Context.Operation = "plan"

			if outPath == "" {
				return printJSON(summary)
			}
			data, err := json.MarshalIndent(summary, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode plan: %w", err)
			}
			if err := os.WriteFile(outPath, append(data, '\n'), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", outPath, err)
			}
			log.Info().
				Str("path", outPath).
				Str("job_id", plan.JobID).
				Int("items", plan.ItemCount()).
				Int("features", plan.FeatureCount()).
				Msg("Plan written")
			return nil
		},
	}

	cmd.Flags().StringVarP(&featuresPath, "features", "f", "", "features file (.geojson, .json, .ndjson)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the plan summary to this file")
	cmd.Flags().StringVar(&workDir, "work-dir", "", "keep analyzer output in this directory")

	return cmd
}
