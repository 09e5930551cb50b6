// Package utils provides tiktoken-based token counting utilities.
package utils

import (
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter provides accurate token counting for different models.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a new token counter for the specified model.
// All supported chat models are approximated with the GPT-4 encoding; Claude,
// Gemini, and local models tokenize similarly enough for budget estimation.
func NewTokenCounter(model string) (*TokenCounter, error) {
	var tikModel tokenizer.Model
	switch {
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		tikModel = tokenizer.GPT4
	case strings.HasPrefix(model, "claude-"):
		tikModel = tokenizer.GPT4
	case strings.HasPrefix(model, "gemini-"):
		tikModel = tokenizer.GPT4
	default:
		// Local/unknown models default to GPT-4 encoding
		tikModel = tokenizer.GPT4
	}

	codec, err := tokenizer.ForModel(tikModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}

	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in the given text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc.codec == nil {
		// Fallback to character-based estimation (4 chars ≈ 1 token)
		return len(text) / 4
	}

	count, err := tc.codec.Count(text)
	if err != nil {
		// Fallback to character-based estimation on error
		return len(text) / 4
	}

	return count
}

// CountTokensSimple provides a simple token counting function without requiring a TokenCounter instance.
// Uses GPT-4 encoding by default.
func CountTokensSimple(text string) int {
	counter, err := NewTokenCounter("gpt-4")
	if err != nil {
		return len(text) / 4
	}
	return counter.CountTokens(text)
}

// ValidateTokenLimit checks if text exceeds the specified token limit.
// Returns true if within limit, false if exceeds limit.
func (tc *TokenCounter) ValidateTokenLimit(text string, limit int) bool {
	return tc.CountTokens(text) <= limit
}

// TruncateToTokenLimit truncates text to fit within the specified token limit.
// This is a rough approximation - it truncates by characters, not perfect token boundaries.
func (tc *TokenCounter) TruncateToTokenLimit(text string, limit int) string {
	currentTokens := tc.CountTokens(text)
	if currentTokens <= limit {
		return text
	}

	// Rough approximation: truncate proportionally
	ratio := float64(limit) / float64(currentTokens)
	charLimit := int(float64(len(text)) * ratio * 0.9) // 0.9 safety margin

	if charLimit >= len(text) {
		return text
	}

	return text[:charLimit] + "..."
}
