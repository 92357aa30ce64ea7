package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/geoexhibit/geoexhibit/pkg/config"
)

func newAnalyzersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyzers",
		Short: "Inspect available analyzers and time providers",
	}
	cmd.AddCommand(newAnalyzersListCommand())
	return cmd
}

func newAnalyzersListCommand() *cobra.Command {
	var dirs []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List built-in and discovered plugins",
		Long: `List the built-in analyzers and time providers together with the plugins
found in the plugin directories of the configuration and in --dir.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			loader := config.NewLoader()
			scan := append([]string(nil), dirs...)
			if _, cfg, err := loadConfig(nil); err == nil {
				scan = append(scan, cfg.Analyzer.PluginDirectories...)
			} else {
				log.Debug().Err(err).Msg("No configuration, listing built-ins and --dir only")
			}

			registry, err := newRegistry(loader, scan, "")
			if err != nil {
				return err
			}
			defer registry.Close(ctx)
			registry.Discover(ctx)

			entries := registry.Entries()
			if jsonOutput {
				return printJSON(entries)
			}

			w := newTable()
			fmt.Fprintln(w, "NAME\tKIND\tRUNTIME\tVERSION\tSOURCE")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Name, e.Kind, dash(e.Runtime), dash(e.Version), e.Source)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringSliceVar(&dirs, "dir", nil, "extra plugin directory to scan")

	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
