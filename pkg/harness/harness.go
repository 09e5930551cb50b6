// Package harness executes candidate test files against their target source
// in an isolated scratch module and classifies the result. The same scratch
// module is re-run under -cover for coverage measurement.
package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"testsmith/pkg/exec"
	"testsmith/pkg/logx"
)

// Status classifies one execution of a candidate test file.
type Status string

const (
	// StatusPassed means go test exited zero.
	StatusPassed Status = "passed"
	// StatusFailed means an assertion or test failure.
	StatusFailed Status = "failed"
	// StatusTimedOut means the run exceeded the wall-clock budget and the
	// subprocess was killed.
	StatusTimedOut Status = "timed_out"
	// StatusCrashed means the candidate never ran its assertions: compile
	// failure, missing import, panic, or a subprocess that failed to start.
	StatusCrashed Status = "crashed_to_run"
)

// ExecutionResult is the classified outcome of one test run.
type ExecutionResult struct {
	Status Status
	Detail string // test output for failed runs, message for crashed runs
}

// Coverage is a statement-coverage percentage, or unavailable. Unavailable is
// distinct from 0.0: it is the value when execution failed, was skipped, or
// coverage measurement was disabled.
type Coverage struct {
	Percent   float64
	Available bool
}

// NewCoverage returns an available coverage value.
func NewCoverage(percent float64) Coverage {
	return Coverage{Percent: percent, Available: true}
}

// Unavailable returns the unavailable coverage value.
func Unavailable() Coverage {
	return Coverage{}
}

// String renders "NN.N%" or "n/a". The CLI prints this directly.
func (c Coverage) String() string {
	if !c.Available {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", c.Percent)
}

// Spec describes one candidate run: the scratch module to assemble and the
// two files that go into it.
type Spec struct {
	// ModulePath is the module identifier written to go.mod. Generated tests
	// that import the package under test by module path resolve against it.
	ModulePath string

	// Package is the package name of the source under test.
	Package string

	// Source is the full source text of the file under test.
	Source string

	// Candidate is the generated test file text.
	Candidate string

	// Timeout overrides the harness default when positive.
	Timeout time.Duration
}

// coverageRegex matches the summary line go test -cover prints.
var coverageRegex = regexp.MustCompile(`coverage: (\d+(?:\.\d+)?)% of statements`)

// Harness builds scratch modules and runs go test in them.
type Harness struct {
	executor exec.Executor
	goBinary string
	timeout  time.Duration
	logger   *logx.Logger
}

// New creates a harness. goBinary is normally "go"; timeout is the default
// wall-clock budget per run.
func New(executor exec.Executor, goBinary string, timeout time.Duration) *Harness {
	if goBinary == "" {
		goBinary = "go"
	}
	return &Harness{
		executor: executor,
		goBinary: goBinary,
		timeout:  timeout,
		logger:   logx.NewLogger("harness"),
	}
}

// Execute runs the candidate against its source in a scratch module and
// classifies the result. The scratch directory is removed on every exit path.
func (h *Harness) Execute(ctx context.Context, spec Spec) ExecutionResult {
	result, _, err := h.run(ctx, spec, false)
	if err != nil {
		return ExecutionResult{Status: StatusCrashed, Detail: err.Error()}
	}
	return result
}

// MeasureCoverage re-runs the candidate under -cover and parses the statement
// coverage percentage. Call only after Execute reported StatusPassed; any
// failure or timeout during the re-run yields unavailable coverage, never a
// forged number.
func (h *Harness) MeasureCoverage(ctx context.Context, spec Spec) Coverage {
	result, output, err := h.run(ctx, spec, true)
	if err != nil || result.Status != StatusPassed {
		h.logger.Warn("coverage re-run did not pass (status=%s err=%v); reporting unavailable", result.Status, err)
		return Unavailable()
	}
	return ParseCoverage(output)
}

// ParseCoverage extracts the percentage from go test -cover output. Output
// without a coverage line, or reporting "[no statements]", is unavailable.
func ParseCoverage(output string) Coverage {
	match := coverageRegex.FindStringSubmatch(output)
	if match == nil {
		return Unavailable()
	}
	percent, err := strconv.ParseFloat(match[1], 64)
	if err != nil || percent < 0 || percent > 100 {
		return Unavailable()
	}
	return NewCoverage(percent)
}

// run assembles the scratch module, invokes go test, and classifies the
// outcome. It returns the raw combined output for coverage parsing.
func (h *Harness) run(ctx context.Context, spec Spec, withCover bool) (ExecutionResult, string, error) {
	dir, err := h.writeScratchModule(spec)
	if err != nil {
		return ExecutionResult{}, "", err
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			h.logger.Warn("failed to remove scratch module %s: %v", dir, rmErr)
		}
	}()

	cmd := []string{h.goBinary, "test"}
	if withCover {
		cmd = append(cmd, "-cover")
	}
	cmd = append(cmd, "-count=1", ".")

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = h.timeout
	}

	result, runErr := h.executor.Run(ctx, cmd, &exec.Opts{
		WorkDir: dir,
		Timeout: timeout,
		// The scratch module has no dependencies; keep the toolchain from
		// reaching for the network.
		Env: []string{"GOFLAGS=-mod=mod", "GOPROXY=off"},
	})
	output := result.CombinedOutput()

	switch {
	case errors.Is(runErr, context.DeadlineExceeded):
		return ExecutionResult{Status: StatusTimedOut, Detail: fmt.Sprintf("test run exceeded %s", timeout)}, output, nil
	case runErr != nil:
		return ExecutionResult{Status: StatusCrashed, Detail: runErr.Error()}, output, nil
	case result.ExitCode == 0:
		return ExecutionResult{Status: StatusPassed}, output, nil
	case strings.Contains(output, "[build failed]") || strings.Contains(output, "[setup failed]"):
		return ExecutionResult{Status: StatusCrashed, Detail: output}, output, nil
	case strings.Contains(output, "panic:"):
		return ExecutionResult{Status: StatusCrashed, Detail: output}, output, nil
	default:
		return ExecutionResult{Status: StatusFailed, Detail: output}, output, nil
	}
}

// writeScratchModule lays out go.mod, the source file, and the candidate test
// file in a fresh temp directory.
func (h *Harness) writeScratchModule(spec Spec) (string, error) {
	if strings.TrimSpace(spec.Source) == "" {
		return "", fmt.Errorf("spec has no source under test")
	}
	modulePath := spec.ModulePath
	if modulePath == "" {
		modulePath = spec.Package
	}
	if modulePath == "" {
		return "", fmt.Errorf("spec has neither module path nor package name")
	}

	dir, err := os.MkdirTemp("", "testsmith-run-*")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}

	goMod := fmt.Sprintf("module %s\n\ngo 1.24\n", modulePath)
	files := map[string]string{
		"go.mod":            goMod,
		"source.go":         spec.Source,
		"candidate_test.go": spec.Candidate,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			_ = os.RemoveAll(dir)
			return "", fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return dir, nil
}
