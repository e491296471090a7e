package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newBuildCommand())
}

func newBuildCommand() *cobra.Command {
	var components []string
	var noCache bool

	cmd := &cobra.Command{
		Use:   "build <name>",
		Short: "Build or pull the container images of a configured pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			driver, _, err := newDriver(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := driver.Build(cmd.Context(), components, noCache); err != nil {
				return err
			}
			color.Green("✓ Built pipeline %s", args[0])
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&components, "component", "c", nil, "limit the build to specific components (repeatable)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "build images without the layer cache")
	return cmd
}
