package cmd

import (
	"context"

	"github.com/pyparrot/parrotctl/internal/engine"
	"github.com/pyparrot/parrotctl/internal/pipeline"
)

// newDriver wires a deployment driver for the named pipeline: the pipeline
// directory, a detected compose CLI and a pinged engine API client.
func newDriver(ctx context.Context, name string) (*engine.Driver, *pipeline.Directory, error) {
	dir := pipeline.NewDirectory(configRoot(), name)

	compose, err := engine.DetectCompose()
	if err != nil {
		return nil, nil, err
	}
	api, err := engine.NewDockerClient(ctx)
	if err != nil {
		return nil, nil, err
	}
	return engine.NewDriver(dir, compose, api), dir, nil
}
