package engine

import (
	"context"
	"fmt"

	"github.com/pyparrot/parrotctl/internal/pipeline"
	"github.com/pyparrot/parrotctl/internal/utils/logger"
	"go.uber.org/zap"
)

// Driver drives the orchestration engine against one pipeline directory
// and enforces the lifecycle state machine. All transitions are
// idempotent: starting a running pipeline and stopping a stopped one are
// no-op successes.
type Driver struct {
	dir     *pipeline.Directory
	compose ComposeRunner
	api     EngineAPI
}

// NewDriver wires a driver for one pipeline.
func NewDriver(dir *pipeline.Directory, compose ComposeRunner, api EngineAPI) *Driver {
	return &Driver{dir: dir, compose: compose, api: api}
}

// State observes the pipeline's lifecycle state from the directory and
// the engine's container list.
func (d *Driver) State(ctx context.Context) (State, error) {
	if !d.dir.Exists() {
		return StateAbsent, nil
	}
	states, err := d.api.ContainerStates(ctx, d.dir.Name())
	if err != nil {
		return StateConfigured, err
	}
	if len(states) == 0 {
		return StateConfigured, nil
	}
	running := 0
	for _, c := range states {
		if c.Running() {
			running++
		}
	}
	switch running {
	case 0:
		return StateStopped, nil
	case len(states):
		return StateRunning, nil
	default:
		return StatePartial, nil
	}
}

// Build builds the pipeline's images, optionally scoped to a component
// subset. A failed build leaves the observed state unchanged; the
// engine's error is surfaced verbatim.
func (d *Driver) Build(ctx context.Context, components []string, noCache bool) error {
	if !d.dir.Exists() {
		return &NotConfiguredError{Pipeline: d.dir.Name()}
	}
	args := []string{"build"}
	if noCache {
		args = append(args, "--no-cache")
	}
	args = append(args, components...)
	return d.compose.Run(ctx, d.dir.Path(), d.dir.Name(), args...)
}

// Start brings the pipeline's containers up. Starting an already-running
// pipeline is a no-op success.
func (d *Driver) Start(ctx context.Context, components []string) error {
	if !d.dir.Exists() {
		return &NotConfiguredError{Pipeline: d.dir.Name()}
	}
	if len(components) == 0 {
		state, err := d.State(ctx)
		if err != nil {
			return err
		}
		if state == StateRunning {
			logger.Info("Pipeline already running", zap.String("pipeline", d.dir.Name()))
			return nil
		}
	}
	args := append([]string{"up", "-d"}, components...)
	return d.compose.Run(ctx, d.dir.Path(), d.dir.Name(), args...)
}

// Stop gracefully stops the pipeline's containers, retaining them.
// Stopping an already-stopped pipeline is a no-op success.
func (d *Driver) Stop(ctx context.Context, components []string) error {
	if !d.dir.Exists() {
		return &NotConfiguredError{Pipeline: d.dir.Name()}
	}
	if len(components) == 0 {
		state, err := d.State(ctx)
		if err != nil {
			return err
		}
		if state == StateStopped || state == StateConfigured {
			logger.Info("Pipeline already stopped", zap.String("pipeline", d.dir.Name()))
			return nil
		}
	}
	args := append([]string{"stop"}, components...)
	return d.compose.Run(ctx, d.dir.Path(), d.dir.Name(), args...)
}

// authGroups are the gateway's authorization sets in the queue store.
// The admin account is seeded into each after start.
var authGroups = []string{"groups:admin", "groups:presenter"}

// SeedGroups adds member to the gateway's authorization groups in the
// running queue store. Each group's outcome is independent; errors are
// returned for the caller to report as warnings and never fail start.
func (d *Driver) SeedGroups(ctx context.Context, member string) []error {
	var errs []error
	for _, group := range authGroups {
		err := d.compose.Run(ctx, d.dir.Path(), d.dir.Name(),
			"exec", "-T", "redis", "redis-cli", "sadd", group, member)
		if err != nil {
			errs = append(errs, fmt.Errorf("seeding %s: %w", group, err))
		}
	}
	return errs
}

// Delete stops and removes the pipeline's containers and pipeline-scoped
// volumes, then removes the pipeline directory. Shared certificate
// storage is declared as an external volume and survives. confirmed must
// be true; the caller gathers the operator's confirmation.
func (d *Driver) Delete(ctx context.Context, confirmed bool) error {
	if !confirmed {
		return &ConfirmationRequiredError{Pipeline: d.dir.Name()}
	}
	if !d.dir.Exists() {
		logger.Info("Pipeline already absent", zap.String("pipeline", d.dir.Name()))
		return nil
	}
	if err := d.compose.Run(ctx, d.dir.Path(), d.dir.Name(), "down", "--volumes", "--remove-orphans"); err != nil {
		return err
	}
	return d.dir.Remove()
}

// Status returns the observed state and the per-container detail.
func (d *Driver) Status(ctx context.Context) (State, []ContainerState, error) {
	state, err := d.State(ctx)
	if err != nil {
		return state, nil, err
	}
	if state == StateAbsent {
		return state, nil, nil
	}
	containers, err := d.api.ContainerStates(ctx, d.dir.Name())
	if err != nil {
		return state, nil, err
	}
	return state, containers, nil
}
