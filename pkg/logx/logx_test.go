package logx

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

// setupTestLogger captures log output in a bytes.Buffer.
func setupTestLogger() *bytes.Buffer {
	var buf bytes.Buffer
	logWriterLock.Lock()
	logWriter = &buf
	logWriterLock.Unlock()
	return &buf
}

// resetTestLogger resets the logger to default stderr.
func resetTestLogger() {
	logWriterLock.Lock()
	logWriter = nil
	logWriterLock.Unlock()
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger("controller")

	if logger.GetComponent() != "controller" {
		t.Errorf("Expected component 'controller', got '%s'", logger.GetComponent())
	}
}

func TestLogFormat(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	logger := NewLogger("harness")
	logger.Info("Test message with %s", "formatting")

	output := buf.String()

	if !strings.Contains(output, "[harness]") {
		t.Errorf("Expected component in output, got: %s", output)
	}

	if !strings.Contains(output, "INFO") {
		t.Errorf("Expected log level in output, got: %s", output)
	}

	if !strings.Contains(output, "Test message with formatting") {
		t.Errorf("Expected formatted message in output, got: %s", output)
	}

	// Check timestamp format (basic check)
	if !strings.Contains(output, "T") || !strings.Contains(output, "Z") {
		t.Errorf("Expected ISO timestamp in output, got: %s", output)
	}
}

func TestLogLevels(t *testing.T) {
	logger := NewLogger("test")

	tests := []struct {
		logFunc  func(string, ...any)
		level    Level
		expected string
	}{
		{logger.Debug, LevelDebug, "DEBUG"},
		{logger.Info, LevelInfo, "INFO"},
		{logger.Warn, LevelWarn, "WARN"},
		{logger.Error, LevelError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			buf := setupTestLogger()
			defer resetTestLogger()

			// Enable debug for DEBUG level test.
			if tt.level == LevelDebug {
				SetDebugEnabled(true)
				defer SetDebugEnabled(false)
			}

			tt.logFunc("test message")

			output := buf.String()
			if !strings.Contains(output, tt.expected) {
				t.Errorf("Expected level '%s' in output, got: %s", tt.expected, output)
			}
		})
	}
}

func TestDebugSuppressedByDefault(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	SetDebugEnabled(false)
	logger := NewLogger("test")
	logger.Debug("should not appear")

	if buf.Len() != 0 {
		t.Errorf("Expected no output with debug disabled, got: %s", buf.String())
	}
}

func TestDebugDomainFiltering(t *testing.T) {
	SetDebugEnabled(true)
	SetDebugDomains([]string{"loop"})
	defer func() {
		SetDebugEnabled(false)
		SetDebugDomains(nil)
	}()

	buf := setupTestLogger()
	defer resetTestLogger()

	ctx := WithComponent(context.Background(), "worker-1")
	Debug(ctx, "loop", "iteration %d", 2)
	Debug(ctx, "harness", "should be filtered")

	output := buf.String()
	if !strings.Contains(output, "[loop] iteration 2") {
		t.Errorf("Expected loop domain message, got: %s", output)
	}
	if !strings.Contains(output, "[worker-1]") {
		t.Errorf("Expected component from context, got: %s", output)
	}
	if strings.Contains(output, "harness") {
		t.Errorf("Expected harness domain to be filtered, got: %s", output)
	}
}

func TestWithComponent(t *testing.T) {
	originalLogger := NewLogger("controller")
	newLogger := originalLogger.WithComponent("worker-3")

	if newLogger.GetComponent() != "worker-3" {
		t.Errorf("Expected new component 'worker-3', got '%s'", newLogger.GetComponent())
	}

	if originalLogger.GetComponent() != "controller" {
		t.Errorf("Expected original component unchanged, got '%s'", originalLogger.GetComponent())
	}
}

func TestErrorfReturnsError(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	err := Errorf("setup failed: %d", 42)
	if err == nil {
		t.Fatal("Expected non-nil error")
	}
	if err.Error() != "setup failed: 42" {
		t.Errorf("Unexpected error text: %s", err.Error())
	}
	if !strings.Contains(buf.String(), "setup failed: 42") {
		t.Errorf("Expected error to be logged, got: %s", buf.String())
	}
}

func TestWrap(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	if Wrap(nil, "no-op") != nil {
		t.Error("Expected Wrap(nil, ...) to return nil")
	}

	base := Errorf("connect refused")
	buf.Reset()

	wrapped := Wrap(base, "db open")
	if wrapped == nil {
		t.Fatal("Expected non-nil wrapped error")
	}
	if wrapped.Error() != "db open: connect refused" {
		t.Errorf("Unexpected wrapped text: %s", wrapped.Error())
	}
	if !strings.Contains(buf.String(), "db open: connect refused") {
		t.Errorf("Expected wrapped error to be logged, got: %s", buf.String())
	}
}

func TestTimestampFormat(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	logger := NewLogger("test")
	logger.Info("timestamp test")

	output := buf.String()

	// Extract timestamp (should be between first [ and ])
	start := strings.Index(output, "[")
	end := strings.Index(output, "]")

	if start == -1 || end == -1 || end <= start {
		t.Fatalf("Could not find timestamp in output: %s", output)
	}

	timestamp := output[start+1 : end]

	_, err := time.Parse("2006-01-02T15:04:05.000Z", timestamp)
	if err != nil {
		t.Errorf("Invalid timestamp format '%s': %v", timestamp, err)
	}
}
