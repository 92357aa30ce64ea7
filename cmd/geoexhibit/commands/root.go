package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath  string
	verbose     bool
	jsonOutput  bool
	metricsAddr string
	traceSpans  bool

	// buildVersion is reported in traces.
	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "geoexhibit",
		Short: "GeoExhibit - publish geospatial analyses as STAC catalogs",
		Long: `GeoExhibit turns a GeoJSON feature collection into a published STAC
catalog: one item per feature and analysis time, produced by a pluggable
analyzer, written under a canonical job layout and uploaded to S3, SFTP or a
local directory.

Features:
  - Typed configs via CUE, JSON or YAML
  - Declarative or plugin-provided analysis times
  - WASM and built-in analyzers
  - Vector tiles via tippecanoe
  - Policy checks before publishing (OPA/rego)
  - Job history with events`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	rootCmd.PersistentFlags().BoolVar(&traceSpans, "trace", false, "write trace spans to stderr")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newFeaturesCommand())
	rootCmd.AddCommand(newJobsCommand())
	rootCmd.AddCommand(newAnalyzersCommand())

	return rootCmd
}
