// Package supervisor drives the external process supervisor that owns the
// gateway process. This package never forks or signals the gateway itself.
package supervisor

import (
	"context"
	"errors"
)

// State is a process state as reported by the supervisor.
type State string

const (
	StateRunning  State = "RUNNING"
	StateStarting State = "STARTING"
	StateStopped  State = "STOPPED"
	StateStopping State = "STOPPING"
	StateBackoff  State = "BACKOFF"
	StateExited   State = "EXITED"
	StateFatal    State = "FATAL"
	StateUnknown  State = "UNKNOWN"
)

// ErrUnknownProgram is returned when the supervisor has no such program.
var ErrUnknownProgram = errors.New("supervisor: no such program")

// ProcessStatus is one status observation.
type ProcessStatus struct {
	State State
	PID   int
}

// Running reports whether the process is up.
func (s ProcessStatus) Running() bool {
	return s.State == StateRunning && s.PID > 0
}

// Supervisor is the capability the gateway manager needs from the process
// supervisor.
type Supervisor interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Status(ctx context.Context) (ProcessStatus, error)
	// Reload makes the supervisor re-read its program definitions.
	Reload(ctx context.Context) error
}
