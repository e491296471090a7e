package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/pyparrot/parrotctl/internal/cert"
	"github.com/pyparrot/parrotctl/internal/config"
	"github.com/pyparrot/parrotctl/internal/utils/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(newDeleteCommand())
}

func newDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a pipeline, its containers, volumes and directory",
		Long: `Tear the pipeline down completely: containers, networks and volumes are
removed and the pipeline directory is deleted. Certificate material shared
with other pipelines is released but never destroyed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]

			driver, dir, err := newDriver(ctx, name)
			if err != nil {
				return err
			}

			// The configuration has to be read before the directory goes
			// away; it carries the domain whose certificate gets released.
			var cfg *config.PipelineConfig
			if dir.Exists() {
				cfg, err = dir.LoadConfig()
				if err != nil {
					logger.Warn("Could not read pipeline configuration", zap.String("pipeline", name), zap.Error(err))
				}
			}

			confirmed := confirm(fmt.Sprintf("Delete pipeline %q including its containers and volumes?", name))
			if !confirmed {
				color.Yellow("Deletion cancelled.")
				return nil
			}

			if err := driver.Delete(ctx, confirmed); err != nil {
				return err
			}

			if cfg != nil && cfg.TLS.Enabled {
				if err := releaseCertificate(cfg.Domain, name); err != nil {
					color.Yellow("⚠ Failed to release certificate for %s: %v", cfg.Domain, err)
				}
			}

			color.Green("✓ Deleted pipeline %s", name)
			return nil
		},
	}
	return cmd
}

func releaseCertificate(domain, pipeline string) error {
	base, err := certBaseDir()
	if err != nil {
		return err
	}
	registry, err := cert.OpenRegistry(base)
	if err != nil {
		return err
	}
	defer registry.Close()

	return cert.NewManager(registry, base).Release(domain, pipeline)
}
