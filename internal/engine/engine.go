package engine

import "fmt"

// State is the observed lifecycle state of a pipeline. It is derived
// from the persisted pipeline directory and the engine's container list,
// never from in-process memory, so every CLI invocation is a fresh actor
// observing persisted state.
type State string

const (
	StateAbsent     State = "absent"
	StateConfigured State = "configured"
	StateRunning    State = "running"
	StateStopped    State = "stopped"

	// StatePartial means some containers are running and some are not,
	// e.g. after a start scoped to a component subset.
	StatePartial State = "partial"
)

// UnavailableError means the orchestration engine's daemon could not be
// reached. It is checked before build/start and surfaced verbatim.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("container engine unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// ConfirmationRequiredError means a destructive operation was invoked
// without explicit confirmation.
type ConfirmationRequiredError struct {
	Pipeline string
}

func (e *ConfirmationRequiredError) Error() string {
	return fmt.Sprintf("deleting pipeline %q requires confirmation", e.Pipeline)
}

// NotConfiguredError means an operation was invoked on a pipeline with
// no pipeline directory.
type NotConfiguredError struct {
	Pipeline string
}

func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("pipeline %q is not configured", e.Pipeline)
}
