package llmerrors

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTypeString(t *testing.T) {
	cases := map[ErrorType]string{
		ErrorTypeRateLimit:          "rate_limit",
		ErrorTypeTransient:          "transient",
		ErrorTypeEmptyResponse:      "empty_response",
		ErrorTypeAuth:               "auth",
		ErrorTypeBadPrompt:          "bad_prompt",
		ErrorTypeUnknown:            "unknown",
		ErrorTypeServiceUnavailable: "service_unavailable",
	}
	for et, want := range cases {
		assert.Equal(t, want, et.String())
	}
	assert.Equal(t, "invalid", ErrorType(99).String())
}

func TestErrorMessageFormats(t *testing.T) {
	withMsg := NewError(ErrorTypeAuth, "invalid api key")
	assert.Equal(t, "LLM error (auth): invalid api key", withMsg.Error())

	cause := errors.New("connection reset")
	withCause := &Error{Type: ErrorTypeTransient, Err: cause}
	assert.Equal(t, "LLM error (transient): connection reset", withCause.Error())
	assert.Equal(t, cause, withCause.Unwrap())

	withStatus := &Error{Type: ErrorTypeRateLimit, StatusCode: 429}
	assert.Equal(t, "LLM error (rate_limit): status 429", withStatus.Error())
}

func TestIsRetryable(t *testing.T) {
	retryable := []ErrorType{ErrorTypeRateLimit, ErrorTypeTransient, ErrorTypeEmptyResponse, ErrorTypeUnknown}
	for _, et := range retryable {
		assert.True(t, NewError(et, "x").IsRetryable(), "expected %s retryable", et)
	}

	fatal := []ErrorType{ErrorTypeAuth, ErrorTypeBadPrompt, ErrorTypeServiceUnavailable}
	for _, et := range fatal {
		assert.False(t, NewError(et, "x").IsRetryable(), "expected %s non-retryable", et)
	}
}

func TestIsAndTypeOfThroughWrapping(t *testing.T) {
	base := NewErrorWithStatus(ErrorTypeAuth, 401, "bad key")
	wrapped := fmt.Errorf("complete: %w", base)

	assert.True(t, Is(wrapped, ErrorTypeAuth))
	assert.False(t, Is(wrapped, ErrorTypeRateLimit))
	assert.Equal(t, ErrorTypeAuth, TypeOf(wrapped))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(errors.New("plain")))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(NewError(ErrorTypeAuth, "unauthorized")))
	assert.True(t, IsFatal(fmt.Errorf("wrap: %w", NewError(ErrorTypeBadPrompt, "too long"))))
	assert.False(t, IsFatal(NewError(ErrorTypeTransient, "eof")))
	assert.False(t, IsFatal(errors.New("unclassified")))
}

func TestGetRetryConfig(t *testing.T) {
	cfg := NewError(ErrorTypeRateLimit, "x").GetRetryConfig()
	require.Equal(t, DefaultRateLimitRetries, cfg.MaxRetries)
	assert.True(t, cfg.Jitter)

	authCfg := NewError(ErrorTypeAuth, "x").GetRetryConfig()
	assert.Zero(t, authCfg.MaxRetries)
}

func TestSanitizePrompt(t *testing.T) {
	short := "generate tests for Add"
	assert.Equal(t, short, SanitizePrompt(short, 100))

	long := strings.Repeat("a", 500) + strings.Repeat("b", 500)
	got := SanitizePrompt(long, 300)
	assert.Contains(t, got, "hash:")
	assert.Contains(t, got, "[1000 chars")
	assert.True(t, strings.HasPrefix(got, "a"))
	assert.True(t, strings.HasSuffix(got, "b"))
	assert.Less(t, len(got), len(long))
}

func TestServiceUnavailable(t *testing.T) {
	cause := NewError(ErrorTypeTransient, "connect timeout")
	err := NewServiceUnavailableError(cause, 4)

	assert.True(t, IsServiceUnavailable(err))
	assert.False(t, err.IsRetryable())
	assert.Contains(t, err.Error(), "after 4 retry attempts")
	assert.Equal(t, cause, errors.Unwrap(err))
}
