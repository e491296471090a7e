package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/pyparrot/parrotctl/internal/engine"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newStatusCommand())
}

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <name>",
		Short: "Show the state of a pipeline and its containers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			driver, _, err := newDriver(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			state, containers, err := driver.Status(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Pipeline: %s\n", args[0])
			fmt.Printf("State:    %s\n", colorState(state))
			if len(containers) == 0 {
				return nil
			}

			fmt.Println()
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SERVICE\tCONTAINER\tSTATE\tSTATUS")
			for _, c := range containers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Service, c.Name, c.State, c.Status)
			}
			return w.Flush()
		},
	}
	return cmd
}

func colorState(state engine.State) string {
	switch state {
	case engine.StateRunning:
		return color.GreenString(string(state))
	case engine.StatePartial:
		return color.YellowString(string(state))
	case engine.StateStopped:
		return color.YellowString(string(state))
	case engine.StateAbsent:
		return color.RedString(string(state))
	default:
		return string(state)
	}
}
