package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/pyparrot/parrotctl/internal/cert"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newCertsCommand())
}

func newCertsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certs",
		Short: "List shared certificate records and the pipelines using them",
		Long: `Certificate material is shared per domain across pipelines and outlives
them. This lists every record with its storage location and reference set;
removing unreferenced material is a manual operation on that location.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := certBaseDir()
			if err != nil {
				return err
			}
			registry, err := cert.OpenRegistry(base)
			if err != nil {
				return err
			}
			defer registry.Close()

			records, err := registry.List()
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No certificate records.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DOMAIN\tKIND\tLOCATION\tPIPELINES")
			for _, r := range records {
				pipelines := strings.Join(r.Pipelines, ",")
				if pipelines == "" {
					pipelines = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Domain, r.Kind, r.Location, pipelines)
			}
			return w.Flush()
		},
	}
	return cmd
}
