package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newStopCommand())
}

func newStopCommand() *cobra.Command {
	var components []string

	cmd := &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop a running pipeline, keeping its containers and data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			driver, _, err := newDriver(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := driver.Stop(cmd.Context(), components); err != nil {
				return err
			}
			color.Green("✓ Stopped pipeline %s", args[0])
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&components, "component", "c", nil, "stop only specific components (repeatable)")
	return cmd
}
