package cmd

import (
	"context"
	"errors"

	"github.com/fatih/color"
	"github.com/pyparrot/parrotctl/internal/config"
	"github.com/pyparrot/parrotctl/internal/registrar"
	"github.com/pyparrot/parrotctl/internal/utils/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(newStartCommand())
}

func newStartCommand() *cobra.Command {
	var components []string
	var skipRegistration bool

	cmd := &cobra.Command{
		Use:   "start <name>",
		Short: "Start a pipeline and register its external backends",
		Long: `Start the pipeline services and wait for the gateway to report healthy.
A gateway that never confirms is a warning, not a failure: the containers
are running. External backends are registered with the gateway afterwards.
Starting an already running pipeline is a no-op.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			driver, dir, err := newDriver(ctx, args[0])
			if err != nil {
				return err
			}
			cfg, err := dir.LoadConfig()
			if err != nil {
				return err
			}

			if err := driver.Start(ctx, components); err != nil {
				return err
			}
			color.Green("✓ Started pipeline %s", args[0])

			for _, err := range driver.SeedGroups(ctx, "admin@"+cfg.Domain) {
				color.Yellow("⚠ %v", err)
				logger.Warn("Group seeding failed", zap.Error(err))
			}

			client := registrar.NewClient(cfg.GatewayURL(), cfg.AuthToken)
			results, err := awaitAndRegister(ctx, client, cfg, skipRegistration)
			if err != nil {
				return err
			}
			for _, result := range results {
				if result.Err != nil {
					color.Yellow("⚠ Failed to register %s backend %s: %v", result.Component, result.Server, result.Err)
					continue
				}
				color.Green("✓ Registered %s backend %s", result.Component, result.Server)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&components, "component", "c", nil, "start only specific components (repeatable)")
	cmd.Flags().BoolVar(&skipRegistration, "skip-registration", false, "do not register external backends with the gateway")
	return cmd
}

// awaitAndRegister polls the gateway's health endpoint, then registers
// the configured external backends. A readiness timeout downgrades to a
// warning and registration is still attempted; per-backend failures are
// reported in the results and never fail the start.
func awaitAndRegister(ctx context.Context, client *registrar.Client, cfg *config.PipelineConfig, skipRegistration bool) ([]registrar.RegistrationResult, error) {
	if err := client.WaitReady(ctx); err != nil {
		var timeout *registrar.ReadinessTimeoutError
		if !errors.As(err, &timeout) {
			return nil, err
		}
		color.Yellow("⚠ Started, but gateway not confirmed ready: %v", err)
		logger.Warn("Gateway readiness timed out", zap.Error(err))
	}

	if cfg.Backends != config.BackendExternal || skipRegistration {
		return nil, nil
	}
	return client.Register(ctx, cfg), nil
}
