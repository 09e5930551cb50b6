package harness

import (
	"context"
	"os"
	"testing"
	"time"

	"testsmith/pkg/exec"
)

// fakeExecutor scripts Run results and records the scratch directory each run
// used, so tests can verify cleanup without a real go toolchain.
type fakeExecutor struct {
	result   exec.Result
	err      error
	workDirs []string
	cmds     [][]string
}

func (f *fakeExecutor) Run(_ context.Context, cmd []string, opts *exec.Opts) (exec.Result, error) {
	f.cmds = append(f.cmds, cmd)
	if opts != nil {
		f.workDirs = append(f.workDirs, opts.WorkDir)
	}
	return f.result, f.err
}

func (f *fakeExecutor) Name() string { return "fake" }

func testSpec() Spec {
	return Spec{
		ModulePath: "mathutil",
		Package:    "mathutil",
		Source:     "package mathutil\n\nfunc Add(a, b int) int { return a + b }\n",
		Candidate:  "package mathutil\n\nimport \"testing\"\n\nfunc TestAdd(t *testing.T) {}\n",
	}
}

func TestExecutePassed(t *testing.T) {
	fake := &fakeExecutor{result: exec.Result{Stdout: "ok  \tmathutil\t0.01s", ExitCode: 0}}
	h := New(fake, "go", time.Minute)

	result := h.Execute(context.Background(), testSpec())
	if result.Status != StatusPassed {
		t.Fatalf("expected passed, got %s (%s)", result.Status, result.Detail)
	}
}

func TestExecuteFailed(t *testing.T) {
	output := "--- FAIL: TestAdd (0.00s)\n    candidate_test.go:6: Add(1, 2) = 4, want 3\nFAIL\nFAIL\tmathutil\t0.01s"
	fake := &fakeExecutor{result: exec.Result{Stdout: output, ExitCode: 1}}
	h := New(fake, "go", time.Minute)

	result := h.Execute(context.Background(), testSpec())
	if result.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	// The assertion text is the feedback for the next iteration.
	if result.Detail == "" {
		t.Fatal("failed result must carry the test output")
	}
}

func TestExecuteBuildFailureIsCrashed(t *testing.T) {
	output := "# mathutil [mathutil.test]\ncandidate_test.go:3:8: package no/such/package is not in std\nFAIL\tmathutil [build failed]"
	fake := &fakeExecutor{result: exec.Result{Stderr: output, ExitCode: 1}}
	h := New(fake, "go", time.Minute)

	result := h.Execute(context.Background(), testSpec())
	if result.Status != StatusCrashed {
		t.Fatalf("expected crashed_to_run for build failure, got %s", result.Status)
	}
}

func TestExecutePanicIsCrashed(t *testing.T) {
	output := "panic: runtime error: index out of range [3] with length 3\nFAIL\tmathutil\t0.01s"
	fake := &fakeExecutor{result: exec.Result{Stdout: output, ExitCode: 2}}
	h := New(fake, "go", time.Minute)

	result := h.Execute(context.Background(), testSpec())
	if result.Status != StatusCrashed {
		t.Fatalf("expected crashed_to_run for panic, got %s", result.Status)
	}
}

func TestExecuteTimeout(t *testing.T) {
	fake := &fakeExecutor{err: context.DeadlineExceeded}
	h := New(fake, "go", time.Minute)

	result := h.Execute(context.Background(), testSpec())
	if result.Status != StatusTimedOut {
		t.Fatalf("expected timed_out, got %s", result.Status)
	}
}

// Scratch directories must be gone on every exit path, including timeout.
func TestScratchModuleCleanup(t *testing.T) {
	for name, fake := range map[string]*fakeExecutor{
		"passed":   {result: exec.Result{ExitCode: 0}},
		"failed":   {result: exec.Result{Stdout: "FAIL", ExitCode: 1}},
		"timedout": {err: context.DeadlineExceeded},
	} {
		t.Run(name, func(t *testing.T) {
			h := New(fake, "go", time.Minute)
			h.Execute(context.Background(), testSpec())

			if len(fake.workDirs) != 1 {
				t.Fatalf("expected one run, got %d", len(fake.workDirs))
			}
			if _, err := os.Stat(fake.workDirs[0]); !os.IsNotExist(err) {
				t.Errorf("scratch dir %s still present after run", fake.workDirs[0])
			}
		})
	}
}

func TestScratchModuleLayout(t *testing.T) {
	var seen map[string]bool
	fake := &fakeExecutor{result: exec.Result{ExitCode: 0}}
	h := New(fake, "go", time.Minute)

	// Capture the layout before cleanup via a wrapping executor.
	capture := &captureExecutor{inner: fake, files: &seen}
	h.executor = capture

	h.Execute(context.Background(), testSpec())

	for _, want := range []string{"go.mod", "source.go", "candidate_test.go"} {
		if !seen[want] {
			t.Errorf("scratch module missing %s, saw %v", want, seen)
		}
	}
}

type captureExecutor struct {
	inner exec.Executor
	files *map[string]bool
}

func (c *captureExecutor) Run(ctx context.Context, cmd []string, opts *exec.Opts) (exec.Result, error) {
	entries, err := os.ReadDir(opts.WorkDir)
	if err != nil {
		return exec.Result{}, err
	}
	found := make(map[string]bool, len(entries))
	for _, e := range entries {
		found[e.Name()] = true
	}
	*c.files = found
	return c.inner.Run(ctx, cmd, opts)
}

func (c *captureExecutor) Name() string { return "capture" }

func TestMeasureCoverage(t *testing.T) {
	output := "ok  \tmathutil\t0.01s\tcoverage: 83.3% of statements"
	fake := &fakeExecutor{result: exec.Result{Stdout: output, ExitCode: 0}}
	h := New(fake, "go", time.Minute)

	cov := h.MeasureCoverage(context.Background(), testSpec())
	if !cov.Available {
		t.Fatal("expected available coverage")
	}
	if cov.Percent != 83.3 {
		t.Errorf("expected 83.3, got %g", cov.Percent)
	}
	if len(fake.cmds) != 1 {
		t.Fatalf("expected one run, got %d", len(fake.cmds))
	}
	hasCover := false
	for _, arg := range fake.cmds[0] {
		if arg == "-cover" {
			hasCover = true
		}
	}
	if !hasCover {
		t.Errorf("coverage run must pass -cover, got %v", fake.cmds[0])
	}
}

func TestMeasureCoverageFailedRunIsUnavailable(t *testing.T) {
	fake := &fakeExecutor{result: exec.Result{Stdout: "FAIL", ExitCode: 1}}
	h := New(fake, "go", time.Minute)

	if cov := h.MeasureCoverage(context.Background(), testSpec()); cov.Available {
		t.Errorf("coverage from a failed re-run must be unavailable, got %s", cov)
	}
}

func TestParseCoverage(t *testing.T) {
	cases := []struct {
		output    string
		percent   float64
		available bool
	}{
		{"ok  \tm\t0.1s\tcoverage: 100.0% of statements", 100.0, true},
		{"ok  \tm\t0.1s\tcoverage: 0.0% of statements", 0.0, true},
		{"ok  \tm\t0.1s\tcoverage: 57.1% of statements", 57.1, true},
		{"ok  \tm\t0.1s\tcoverage: [no statements]", 0, false},
		{"ok  \tm\t0.1s", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		cov := ParseCoverage(tc.output)
		if cov.Available != tc.available {
			t.Errorf("ParseCoverage(%q).Available = %v, want %v", tc.output, cov.Available, tc.available)
			continue
		}
		if cov.Available && cov.Percent != tc.percent {
			t.Errorf("ParseCoverage(%q) = %g, want %g", tc.output, cov.Percent, tc.percent)
		}
	}
}

func TestCoverageString(t *testing.T) {
	if got := NewCoverage(83.3).String(); got != "83.3%" {
		t.Errorf("expected 83.3%%, got %s", got)
	}
	if got := Unavailable().String(); got != "n/a" {
		t.Errorf("expected n/a, got %s", got)
	}
}
