// Package logx provides leveled logging with env-controlled debug domains.
package logx

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

type Logger struct {
	component string
	logger    *log.Logger
}

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// DebugConfig controls debug logging behavior.
type DebugConfig struct {
	Domains map[string]bool // Which domains to enable debug for (nil = all)
	Enabled bool
}

var (
	debugConfig = &DebugConfig{
		Enabled: false,
		Domains: nil,
	}
	debugMutex sync.RWMutex

	// logWriter overrides the destination of all loggers when non-nil.
	// Tests use this to capture output.
	logWriter     io.Writer
	logWriterLock sync.RWMutex
)

// Initialize debug configuration from environment variables.
func init() { //nolint:gochecknoinits // Required for env var initialization
	initDebugFromEnv()
}

// initDebugFromEnv initializes debug configuration from environment variables.
func initDebugFromEnv() {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	// Check if debug is enabled via DEBUG=1 or DEBUG=true
	if debug := os.Getenv("DEBUG"); debug == "1" || strings.EqualFold(debug, "true") {
		debugConfig.Enabled = true
	}

	// Parse domain filtering from DEBUG_DOMAINS=loop,harness,llm
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debugConfig.Domains = make(map[string]bool)
		for _, domain := range strings.Split(domains, ",") {
			debugConfig.Domains[strings.TrimSpace(domain)] = true
		}
	}
}

func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		logger:    log.New(os.Stderr, "", 0), // Log to stderr for CLI compatibility
	}
}

// SetDebugEnabled toggles global debug logging.
func SetDebugEnabled(enabled bool) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugConfig.Enabled = enabled
}

// SetDebugDomains configures which domains should have debug logging enabled.
func SetDebugDomains(domains []string) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if len(domains) == 0 {
		debugConfig.Domains = nil // Enable all domains
	} else {
		debugConfig.Domains = make(map[string]bool)
		for _, domain := range domains {
			debugConfig.Domains[strings.TrimSpace(domain)] = true
		}
	}
}

// IsDebugEnabled returns whether debug logging is enabled.
func IsDebugEnabled() bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()
	return debugConfig.Enabled
}

// IsDebugEnabledForDomain returns whether debug logging is enabled for a specific domain.
func IsDebugEnabledForDomain(domain string) bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()

	if !debugConfig.Enabled {
		return false
	}

	// If no domain filtering is configured, enable all domains.
	if debugConfig.Domains == nil {
		return true
	}

	return debugConfig.Domains[domain]
}

func (l *Logger) log(level Level, format string, args ...any) {
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	message := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("[%s] [%s] %s: %s", timestamp, l.component, level, message)

	logWriterLock.RLock()
	w := logWriter
	logWriterLock.RUnlock()
	if w != nil {
		fmt.Fprintln(w, line)
		return
	}
	l.logger.Println(line)
}

func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabled() {
		return
	}
	l.log(LevelDebug, format, args...)
}

// Debug logs a debug message with context and domain filtering.
//
// Usage examples:
//
//	logx.Debug(ctx, "loop", "iteration %d: %s", i, state)
//	logx.Debug(ctx, "harness", "scratch module at %s", dir)
//
// Environment variable control:
//
//	DEBUG=1                           # Enable debug for all domains
//	DEBUG=1 DEBUG_DOMAINS=loop        # Enable debug only for loop domain
//	DEBUG=1 DEBUG_DOMAINS=loop,llm    # Enable debug for multiple domains
func Debug(ctx context.Context, domain, format string, args ...any) {
	if !IsDebugEnabledForDomain(domain) {
		return
	}

	// Get component ID from context if available.
	component := "system"
	if ctx != nil {
		if id := ctx.Value(componentKey{}); id != nil {
			if idStr, ok := id.(string); ok {
				component = idStr
			}
		}
	}

	logger := NewLogger(component)
	logger.log(LevelDebug, "[%s] %s", domain, fmt.Sprintf(format, args...))
}

// componentKey is the context key carrying a component id for package-level Debug.
type componentKey struct{}

// WithComponent returns a context carrying the given component id.
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey{}, component)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

func (l *Logger) GetComponent() string {
	return l.component
}

func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		component: component,
		logger:    l.logger,
	}
}

// Global logging functions for convenience.
var defaultLogger = NewLogger("system")

func Debugf(format string, args ...any) {
	defaultLogger.Debug(format, args...)
}

func Infof(format string, args ...any) {
	defaultLogger.Info(format, args...)
}

func Warnf(format string, args ...any) {
	defaultLogger.Warn(format, args...)
}

// Errorf logs and returns the formatted error.
// Use this when you need both logging and error returning:
//
//	err := logx.Errorf("setup failed: %w", err).
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.Error("%s", err.Error())
	return err
}

// Wrap logs msg + ": " + err.Error() and returns fmt.Errorf("%s: %w", msg, err).
// Use this when you need both logging and error wrapping:
//
//	if err != nil { return logx.Wrap(err, "db connect") }.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrappedErr := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.Error("%s", wrappedErr.Error())
	return wrappedErr
}
