package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/geoexhibit/geoexhibit/pkg/config"
)

func newConfigCommand() *cobra.Command {
	var (
		create bool
		output string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create a configuration template",
		Example: `  # Write config.json with the defaults
  geoexhibit config --create

  # Write somewhere else
  geoexhibit config --create -o project/geoexhibit.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !create {
				return cmd.Help()
			}
			if err := config.WriteTemplate(output, force); err != nil {
				return err
			}
			fmt.Printf("Configuration template written to %s\n", output)
			fmt.Println("Edit project, aws and analyzer before running.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&create, "create", false, "write the default configuration")
	cmd.Flags().StringVarP(&output, "output", "o", "config.json", "template path")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	return cmd
}
