package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/pyparrot/parrotctl/internal/utils/logger"
	"go.uber.org/zap"
)

// ComposeRunner invokes the orchestration engine's compose frontend for
// one pipeline directory. Calls block until the engine returns; the
// driver never parallelizes across components.
type ComposeRunner interface {
	Run(ctx context.Context, dir, project string, args ...string) error
}

// CLIComposeRunner shells out to the compose CLI.
type CLIComposeRunner struct {
	base []string
}

// DetectCompose finds the available compose frontend, preferring the
// `docker compose` plugin over the standalone `docker-compose` binary.
func DetectCompose() (*CLIComposeRunner, error) {
	if err := exec.Command("docker", "compose", "version").Run(); err == nil {
		return &CLIComposeRunner{base: []string{"docker", "compose"}}, nil
	}
	if _, err := exec.LookPath("docker-compose"); err == nil {
		return &CLIComposeRunner{base: []string{"docker-compose"}}, nil
	}
	return nil, &UnavailableError{Err: fmt.Errorf("neither 'docker compose' nor 'docker-compose' found")}
}

// Run executes one compose invocation scoped to the pipeline directory.
// Engine output streams through to the user; errors are surfaced
// verbatim.
func (r *CLIComposeRunner) Run(ctx context.Context, dir, project string, args ...string) error {
	full := append([]string(nil), r.base[1:]...)
	full = append(full, "-f", "docker-compose.yaml", "-p", project)
	full = append(full, args...)

	logger.Debug("Running compose",
		zap.Strings("args", full),
		zap.String("dir", dir))

	cmd := exec.CommandContext(ctx, r.base[0], full...)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("compose %s failed: %w", args[0], err)
	}
	return nil
}
