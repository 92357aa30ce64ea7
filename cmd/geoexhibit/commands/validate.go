package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/geoexhibit/geoexhibit/pkg/config"
)

func newValidateCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "validate [config]",
		Short: "Validate a configuration file",
		Long: `Validate a configuration file against the GeoExhibit schema.

This command checks:
  - CUE, JSON or YAML syntax
  - Schema conformance and defaults
  - Required fields and allowed values
  - Time extractor settings and the publishing target

Without an argument the first of config.json, geoexhibit.json,
geoexhibit.cue and geoexhibit.yaml in the working directory is used.`,
		Example: `  # Validate the config in the current directory
  geoexhibit validate

  # Revalidate on every save
  geoexhibit validate config.cue --watch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveConfigPath(args)
			if err != nil {
				return err
			}
			loader := config.NewLoader()

			cfg, err := loader.Load(path)
			report(path, cfg, err)
			if !watch {
				return err
			}

			ctx := cmd.Context()
			if err := loader.Watch(ctx, path, log.Logger, func(cfg *config.Config, err error) {
				report(path, cfg, err)
			}); err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "revalidate whenever the file changes")

	return cmd
}

func report(path string, cfg *config.Config, err error) {
	if jsonOutput {
		out := map[string]interface{}{"path": path, "valid": err == nil}
		if err != nil {
			out["error"] = err.Error()
		} else {
			out["collection_id"] = cfg.Project.CollectionID
		}
		_ = printJSON(out)
		return
	}
	if err != nil {
		fmt.Printf("%s: invalid\n%v\n", path, err)
		return
	}
	fmt.Printf("%s: valid (collection %s, analyzer %s)\n", path, cfg.Project.CollectionID, cfg.Analyzer.Name)
}
