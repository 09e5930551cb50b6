// Package exec provides subprocess execution behind a small interface so the
// test harness can be driven by a fake in unit tests.
package exec

import (
	"context"
	"time"
)

// Executor defines the interface for executing commands.
type Executor interface {
	// Run executes a command with the given options and returns the result.
	// A non-zero exit code is not an error; callers check Result.ExitCode.
	// When the command is killed by the context deadline, Run returns the
	// partial result together with context.DeadlineExceeded.
	Run(ctx context.Context, cmd []string, opts *Opts) (Result, error)

	// Name returns the executor name for logging/debugging.
	Name() string
}

// Opts contains options for command execution.
type Opts struct {
	// Env contains environment variables (KEY=VALUE format) appended to the
	// current process environment.
	Env []string

	// Timeout is the maximum wall-clock duration for command execution.
	// Zero means no timeout beyond the caller's context.
	Timeout time.Duration

	// WorkDir is the working directory for the command.
	WorkDir string
}

// Result contains the result of command execution.
type Result struct {
	// Stdout contains the standard output.
	Stdout string

	// Stderr contains the standard error output.
	Stderr string

	// Duration is how long the command took to execute.
	Duration time.Duration

	// ExitCode is the exit code of the command. -1 when the process was
	// killed or failed to start.
	ExitCode int
}

// CombinedOutput returns stdout followed by stderr.
func (r Result) CombinedOutput() string {
	if r.Stdout == "" {
		return r.Stderr
	}
	if r.Stderr == "" {
		return r.Stdout
	}
	return r.Stdout + "\n" + r.Stderr
}

// DefaultTimeout bounds any run whose caller did not set an explicit limit.
const DefaultTimeout = 5 * time.Minute
