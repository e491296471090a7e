package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/pyparrot/parrotctl/internal/utils/logger"
)

// composeProjectLabel is set by the compose frontend on every container
// it manages.
const composeProjectLabel = "com.docker.compose.project"

const composeServiceLabel = "com.docker.compose.service"

// ContainerState is the observed state of one pipeline container.
type ContainerState struct {
	Name    string
	Service string
	State   string
	Status  string
}

// Running reports whether the container is currently running.
func (c ContainerState) Running() bool {
	return c.State == "running"
}

// EngineAPI is the slice of the engine's API the driver observes state
// through.
type EngineAPI interface {
	ContainerStates(ctx context.Context, project string) ([]ContainerState, error)
}

// DockerClient wraps the engine's HTTP API.
type DockerClient struct {
	api *client.Client
}

// NewDockerClient connects to the engine daemon and verifies it is
// reachable. An unreachable daemon yields an UnavailableError before any
// lifecycle operation is attempted.
func NewDockerClient(ctx context.Context) (*DockerClient, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := api.Ping(pingCtx); err != nil {
		return nil, &UnavailableError{Err: err}
	}

	logger.Debug("Connected to container engine")
	return &DockerClient{api: api}, nil
}

// ContainerStates lists the states of all containers belonging to a
// pipeline, stopped ones included, sorted by service name.
func (d *DockerClient) ContainerStates(ctx context.Context, project string) ([]ContainerState, error) {
	list, err := d.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", composeProjectLabel+"="+project)),
	})
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}

	states := make([]ContainerState, 0, len(list))
	for _, c := range list {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		states = append(states, ContainerState{
			Name:    name,
			Service: c.Labels[composeServiceLabel],
			State:   c.State,
			Status:  c.Status,
		})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Service < states[j].Service })
	return states, nil
}
