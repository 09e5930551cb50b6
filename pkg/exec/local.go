package exec

import (
	"context"
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"strings"
	"time"
)

// LocalExec executes commands directly on the local system. Isolation comes
// from the scratch working directory the caller supplies, not from the
// executor itself.
type LocalExec struct{}

// NewLocalExec creates a new LocalExec executor.
func NewLocalExec() *LocalExec {
	return &LocalExec{}
}

// Name returns the executor name.
func (e *LocalExec) Name() string {
	return "local"
}

// Run executes a command locally with the given options.
func (e *LocalExec) Run(ctx context.Context, cmd []string, opts *Opts) (Result, error) {
	if len(cmd) == 0 {
		return Result{ExitCode: -1}, fmt.Errorf("command cannot be empty")
	}
	if opts == nil {
		opts = &Opts{}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	startTime := time.Now()

	// CommandContext kills the subprocess when the deadline passes, so a
	// timed-out run never leaves a process behind.
	execCmd := osexec.CommandContext(ctx, cmd[0], cmd[1:]...)

	if opts.WorkDir != "" {
		if _, err := os.Stat(opts.WorkDir); os.IsNotExist(err) {
			return Result{ExitCode: -1}, fmt.Errorf("working directory does not exist: %s", opts.WorkDir)
		}
		execCmd.Dir = opts.WorkDir
	}

	if len(opts.Env) > 0 {
		execCmd.Env = append(os.Environ(), opts.Env...)
	}

	var stdoutBuf, stderrBuf strings.Builder
	execCmd.Stdout = &stdoutBuf
	execCmd.Stderr = &stderrBuf

	runErr := execCmd.Run()

	result := Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(startTime),
		ExitCode: 0,
	}

	// The deadline firing takes precedence over whatever exit status the
	// killed process reported.
	if ctx.Err() == context.DeadlineExceeded {
		result.ExitCode = -1
		return result, context.DeadlineExceeded
	}

	if runErr != nil {
		var exitErr *osexec.ExitError
		if errors.As(runErr, &exitErr) {
			// Non-zero exit is a normal result, not an error.
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		// Command failed to start.
		result.ExitCode = -1
		return result, fmt.Errorf("failed to run %s: %w", cmd[0], runErr)
	}

	return result, nil
}
