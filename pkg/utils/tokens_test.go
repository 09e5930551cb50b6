package utils

import (
	"strings"
	"testing"
)

func TestNewTokenCounter(t *testing.T) {
	tests := []struct {
		model string
	}{
		{"gpt-4o"},
		{"o3-mini"},
		{"claude-sonnet-4-20250514"},
		{"gemini-2.5-flash"},
		{"qwen2.5-coder"}, // Unknown models default to gpt-4 encoding
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			counter, err := NewTokenCounter(tt.model)
			if err != nil {
				t.Errorf("NewTokenCounter(%s) failed: %v", tt.model, err)
			}
			if counter == nil {
				t.Errorf("NewTokenCounter(%s) returned nil counter", tt.model)
			}
		})
	}
}

func TestCountTokens(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4")
	if err != nil {
		t.Fatalf("Failed to create token counter: %v", err)
	}

	tests := []struct {
		text      string
		minTokens int
		maxTokens int
	}{
		{"", 0, 0},
		{"Hello", 1, 2},
		{"Hello world", 2, 3},
		{"func Add(a, b int) int { return a + b }", 10, 20},
		{strings.Repeat("word ", 100), 90, 110}, // ~100 tokens
	}

	for _, tt := range tests {
		name := tt.text
		if len(name) > 20 {
			name = name[:20]
		}
		t.Run(name, func(t *testing.T) {
			tokens := counter.CountTokens(tt.text)
			if tokens < tt.minTokens || tokens > tt.maxTokens {
				t.Errorf("CountTokens(%q) = %d, want between %d and %d",
					tt.text, tokens, tt.minTokens, tt.maxTokens)
			}
		})
	}
}

func TestCountTokensFallback(t *testing.T) {
	// A zero-value counter has no codec and estimates by characters.
	var counter TokenCounter
	text := strings.Repeat("x", 40)
	if got := counter.CountTokens(text); got != 10 {
		t.Errorf("fallback CountTokens = %d, want 10", got)
	}
}

func TestCountTokensSimple(t *testing.T) {
	tokens := CountTokensSimple("Hello world")
	if tokens < 2 || tokens > 3 {
		t.Errorf("CountTokensSimple(\"Hello world\") = %d, want between 2 and 3", tokens)
	}
}

func TestValidateTokenLimit(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4")
	if err != nil {
		t.Fatalf("Failed to create token counter: %v", err)
	}

	if !counter.ValidateTokenLimit("short text", 100) {
		t.Error("Expected short text within limit 100")
	}
	if counter.ValidateTokenLimit(strings.Repeat("word ", 200), 50) {
		t.Error("Expected long text to exceed limit 50")
	}
}

func TestTruncateToTokenLimit(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4")
	if err != nil {
		t.Fatalf("Failed to create token counter: %v", err)
	}

	short := "already short"
	if got := counter.TruncateToTokenLimit(short, 100); got != short {
		t.Errorf("Expected short text unchanged, got %q", got)
	}

	long := strings.Repeat("assertion failed: expected 4 got 5\n", 200)
	truncated := counter.TruncateToTokenLimit(long, 50)
	if len(truncated) >= len(long) {
		t.Errorf("Expected truncation, got len %d >= %d", len(truncated), len(long))
	}
	if !strings.HasSuffix(truncated, "...") {
		t.Errorf("Expected ellipsis suffix, got %q", truncated[len(truncated)-10:])
	}
	if counter.CountTokens(truncated) > 60 {
		t.Errorf("Truncated text still too long: %d tokens", counter.CountTokens(truncated))
	}
}
