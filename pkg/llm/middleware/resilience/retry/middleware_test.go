package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"testsmith/pkg/llm"
	"testsmith/pkg/llm/llmerrors"
)

// stubClient is a minimal LLM client for exercising the retry loop.
type stubClient struct {
	completeFunc func(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error)
	model        string
}

func (s *stubClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	return s.completeFunc(ctx, req)
}

func (s *stubClient) GetModelName() string {
	if s.model != "" {
		return s.model
	}
	return "stub-model"
}

// fastConfig keeps retry delays negligible so loop tests run quickly.
//
//nolint:gochecknoglobals // Test fixture
var fastConfig = Config{
	MaxAttempts:   3,
	InitialDelay:  time.Millisecond,
	MaxDelay:      10 * time.Millisecond,
	BackoffFactor: 2.0,
	Jitter:        false,
}

func wrap(client llm.LLMClient, policy *Policy) llm.LLMClient {
	return Middleware(policy)(client)
}

func TestMiddleware_SuccessFirstAttempt(t *testing.T) {
	calls := 0
	client := wrap(&stubClient{
		completeFunc: func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
			calls++
			return llm.CompletionResponse{Content: "ok"}, nil
		},
	}, NewPolicy(fastConfig, nil))

	resp, err := client.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("Content = %q, want %q", resp.Content, "ok")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestMiddleware_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	client := wrap(&stubClient{
		completeFunc: func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
			calls++
			if calls < 3 {
				return llm.CompletionResponse{}, errors.New("connection reset by peer")
			}
			return llm.CompletionResponse{Content: "recovered"}, nil
		},
	}, NewPolicy(fastConfig, nil))

	resp, err := client.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Content != "recovered" {
		t.Errorf("Content = %q, want %q", resp.Content, "recovered")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestMiddleware_NonRetryableFailsImmediately(t *testing.T) {
	calls := 0
	authErr := llmerrors.NewError(llmerrors.ErrorTypeAuth, "invalid api key")
	client := wrap(&stubClient{
		completeFunc: func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
			calls++
			return llm.CompletionResponse{}, authErr
		},
	}, NewPolicy(fastConfig, nil))

	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries for auth errors)", calls)
	}
	if !llmerrors.Is(err, llmerrors.ErrorTypeAuth) {
		t.Errorf("error = %v, want auth error preserved", err)
	}
}

func TestMiddleware_ExhaustedEmitsServiceUnavailable(t *testing.T) {
	calls := 0
	client := wrap(&stubClient{
		completeFunc: func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
			calls++
			return llm.CompletionResponse{}, errors.New("connection refused")
		},
	}, NewPolicy(fastConfig, nil))

	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	if calls != fastConfig.MaxAttempts {
		t.Errorf("calls = %d, want %d", calls, fastConfig.MaxAttempts)
	}
	if !llmerrors.Is(err, llmerrors.ErrorTypeServiceUnavailable) {
		t.Errorf("error = %v, want service unavailable after exhaustion", err)
	}
}

func TestMiddleware_ClassifiedBudgetOverridesConfig(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out a real per-type backoff delay")
	}

	// Unknown-type provider errors allow 1 retry (2 attempts total) regardless
	// of the policy's larger MaxAttempts.
	calls := 0
	client := wrap(&stubClient{
		completeFunc: func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
			calls++
			return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeUnknown, "glitch")
		},
	}, NewPolicy(Config{MaxAttempts: 10, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1.0}, nil))

	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	want := 1 + llmerrors.DefaultUnknownRetries
	if calls != want {
		t.Errorf("calls = %d, want %d", calls, want)
	}
	if !llmerrors.Is(err, llmerrors.ErrorTypeServiceUnavailable) {
		t.Errorf("error = %v, want service unavailable after exhaustion", err)
	}
}

func TestMiddleware_ContextCancelledDuringBackoff(t *testing.T) {
	calls := 0
	slowConfig := Config{
		MaxAttempts:   3,
		InitialDelay:  5 * time.Second,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 1.0,
	}
	client := wrap(&stubClient{
		completeFunc: func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
			calls++
			return llm.CompletionResponse{}, errors.New("connection refused")
		},
	}, NewPolicy(slowConfig, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Complete(ctx, llm.CompletionRequest{})
	elapsed := time.Since(start)

	if calls != 1 {
		t.Errorf("calls = %d, want 1 (cancelled during backoff)", calls)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded in chain", err)
	}
	if elapsed >= 5*time.Second {
		t.Errorf("waited full backoff (%v) despite cancellation", elapsed)
	}
}

func TestMiddleware_DelegatesModelName(t *testing.T) {
	client := wrap(&stubClient{model: "claude-sonnet-4-5"}, NewPolicy(fastConfig, nil))
	if got := client.GetModelName(); got != "claude-sonnet-4-5" {
		t.Errorf("GetModelName() = %q, want %q", got, "claude-sonnet-4-5")
	}
}
