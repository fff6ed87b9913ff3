package processcontrol

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/devstack-tools/orchestrator-go/pkg/process"
	"github.com/devstack-tools/orchestrator-go/pkg/readiness"
)

// ProcessControl owns the OS-level lifecycle of a single child process
type ProcessControl interface {
	// Start launches the process and begins output forwarding
	Start(ctx context.Context) error

	// WaitReady blocks until the declared readiness check passes.
	// A nil readiness config returns immediately.
	WaitReady(ctx context.Context) error

	// Stop terminates the process gracefully, escalating to a forced kill
	// after the grace period. Idempotent.
	Stop(ctx context.Context) error

	// GetDiagnostics returns runtime information about the process
	GetDiagnostics() ProcessDiagnostics
}

// ProcessControlOptions provides configuration for ProcessControl instances
type ProcessControlOptions struct {
	// Execution describes how to launch the process
	Execution process.ExecutionConfig

	// Readiness declares the readiness check, nil to treat running as ready
	Readiness *readiness.Config

	// GracefulTimeout is the grace period before forced termination
	GracefulTimeout time.Duration

	// Clock drives readiness backoff timing, nil for the real clock
	Clock clockwork.Clock
}

// ProcessDiagnostics carries runtime information for status reporting
type ProcessDiagnostics struct {
	PID       int
	StartTime *time.Time
	Exited    bool
	ExitError string
}
