package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/pyparrot/parrotctl/internal/pipeline"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newListCommand())
}

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured pipelines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := pipeline.List(configRoot())
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Println("No pipelines configured.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tBACKENDS\tDOMAIN")
			for _, name := range names {
				dir := pipeline.NewDirectory(configRoot(), name)
				cfg, err := dir.LoadConfig()
				if err != nil {
					fmt.Fprintf(w, "%s\t?\t?\t?\n", name)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, cfg.Type, cfg.Backends, cfg.Domain)
			}
			return w.Flush()
		},
	}
	return cmd
}
