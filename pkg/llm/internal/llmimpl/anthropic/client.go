// Package anthropic provides the Anthropic Claude client implementation for the LLM interface.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"testsmith/pkg/llm"
	"testsmith/pkg/llm/llmerrors"
)

// ClaudeClient wraps the Anthropic API client to implement llm.LLMClient.
type ClaudeClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClaudeClientWithModel creates a new Claude client with a specific model
// (raw client, middleware applied at higher level).
func NewClaudeClientWithModel(apiKey, model string) llm.LLMClient {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &ClaudeClient{
		client: client,
		model:  anthropic.Model(model),
	}
}

// validatePreSend performs final validation before the API call.
// - No system messages in messages array (must be in system parameter)
// - Proper alternation maintained
// - All roles valid for the Anthropic API.
func validatePreSend(messages []llm.CompletionMessage) error {
	for i := range messages {
		msg := &messages[i]
		if msg.Role == llm.RoleSystem {
			return fmt.Errorf("system message found in messages array at index %d (should be extracted to system parameter)", i)
		}
		if msg.Role != llm.RoleUser && msg.Role != llm.RoleAssistant {
			return fmt.Errorf("invalid role %s at index %d (Anthropic only supports user and assistant in messages array)", msg.Role, i)
		}
		if i > 0 && msg.Role == messages[i-1].Role {
			return fmt.Errorf("alternation violation at index %d: consecutive %s messages", i, msg.Role)
		}
	}

	if len(messages) > 0 && messages[0].Role != llm.RoleUser {
		return fmt.Errorf("first message must be user role, got: %s", messages[0].Role)
	}
	if len(messages) > 0 && messages[len(messages)-1].Role != llm.RoleUser {
		return fmt.Errorf("last message must be user role, got: %s", messages[len(messages)-1].Role)
	}

	return nil
}

// ensureAlternation prepares messages for Anthropic API requirements.
// 1. Extracts system messages to the top-level system parameter
// 2. Merges consecutive non-assistant messages into single user messages
// 3. Ensures strict user/assistant alternation ending on a user message.
func ensureAlternation(messages []llm.CompletionMessage) (systemPrompt string, alternating []llm.CompletionMessage, err error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}

	var systemParts []string
	var nonSystemMessages []llm.CompletionMessage

	for i := range messages {
		msg := &messages[i]
		if msg.Role == llm.RoleSystem {
			systemParts = append(systemParts, msg.Content)
		} else {
			nonSystemMessages = append(nonSystemMessages, *msg)
		}
	}

	systemPrompt = strings.Join(systemParts, "\n\n")

	if len(nonSystemMessages) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}

	// Merge consecutive non-assistant messages.
	var merged []llm.CompletionMessage
	var currentUserParts []string

	for i := range nonSystemMessages {
		msg := &nonSystemMessages[i]

		if msg.Role == llm.RoleAssistant {
			if len(currentUserParts) > 0 {
				merged = append(merged, llm.CompletionMessage{
					Role:    llm.RoleUser,
					Content: strings.Join(currentUserParts, "\n\n"),
				})
				currentUserParts = nil
			}
			merged = append(merged, *msg)
		} else {
			currentUserParts = append(currentUserParts, msg.Content)
		}
	}

	if len(currentUserParts) > 0 {
		merged = append(merged, llm.CompletionMessage{
			Role:    llm.RoleUser,
			Content: strings.Join(currentUserParts, "\n\n"),
		})
	}

	for i := range merged {
		msg := &merged[i]
		if i > 0 && msg.Role == merged[i-1].Role {
			return "", nil, fmt.Errorf("alternation violation at index %d: consecutive %s messages", i, msg.Role)
		}
		if i == 0 && msg.Role != llm.RoleUser {
			return "", nil, fmt.Errorf("first message must be user role, got: %s", msg.Role)
		}
	}

	lastMsg := &merged[len(merged)-1]
	if lastMsg.Role != llm.RoleUser {
		return "", nil, fmt.Errorf("last message must be user role, got: %s", lastMsg.Role)
	}

	return systemPrompt, merged, nil
}

// Complete implements the llm.LLMClient interface.
func (c *ClaudeClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	systemPrompt, alternatingMessages, err := ensureAlternation(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message alternation error: %v", err))
	}

	if validationErr := validatePreSend(alternatingMessages); validationErr != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("pre-send validation failed: %v", validationErr))
	}

	messages := make([]anthropic.MessageParam, 0, len(alternatingMessages))
	for i := range alternatingMessages {
		msg := &alternatingMessages[i]
		messages = append(messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(msg.Role),
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)},
		})
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(in.MaxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}

	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{
			Text: systemPrompt,
			Type: "text",
		}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, c.classifyError(err)
	}

	if resp == nil || len(resp.Content) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty or nil response from Claude API")
	}

	var responseText string
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			responseText += block.AsText().Text
		}
	}

	return llm.CompletionResponse{
		Content:    responseText,
		StopReason: string(resp.StopReason),
	}, nil
}

// GetModelName returns the model name for this client.
func (c *ClaudeClient) GetModelName() string {
	return string(c.model)
}

// classifyError maps Anthropic SDK errors to our structured error types.
func (c *ClaudeClient) classifyError(err error) *llmerrors.Error {
	if err == nil {
		return nil
	}

	errStr := err.Error()

	// Context-related errors first
	if errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request canceled")
	}

	// The SDK typically includes status codes in error messages.
	statusCode := extractStatusCode(errStr)

	switch statusCode {
	case 401:
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeAuth, statusCode, "authentication failed - check API key")
	case 403:
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeAuth, statusCode, "permission denied - check API access")
	case 429:
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeRateLimit, statusCode, "rate limit exceeded")
	case 400:
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeBadPrompt, statusCode, "bad request - check prompt format and parameters")
	case 500, 502, 503, 504:
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeTransient, statusCode, "server error")
	}

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "temporary") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "reset") {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "network or connection error")
	}

	if strings.Contains(strings.ToLower(errStr), "rate") ||
		strings.Contains(strings.ToLower(errStr), "quota") ||
		strings.Contains(strings.ToLower(errStr), "limit") {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeRateLimit, err, "rate limiting detected")
	}

	if strings.Contains(strings.ToLower(errStr), "auth") ||
		strings.Contains(strings.ToLower(errStr), "key") ||
		strings.Contains(strings.ToLower(errStr), "unauthorized") {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, "authentication error")
	}

	if strings.Contains(strings.ToLower(errStr), "invalid") ||
		strings.Contains(strings.ToLower(errStr), "malformed") ||
		strings.Contains(strings.ToLower(errStr), "too large") ||
		strings.Contains(strings.ToLower(errStr), "token") {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "prompt or request error")
	}

	return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "unclassified error")
}

// extractStatusCode attempts to extract an HTTP status code from an error string.
func extractStatusCode(errStr string) int {
	patterns := []string{
		"status code: ",
		"status: ",
		"HTTP ",
		"code ",
	}

	for _, pattern := range patterns {
		if idx := strings.Index(strings.ToLower(errStr), pattern); idx != -1 {
			start := idx + len(pattern)
			if start < len(errStr) {
				end := start + 3
				if end > len(errStr) {
					end = len(errStr)
				}
				statusStr := errStr[start:end]

				switch {
				case strings.HasPrefix(statusStr, "400"):
					return 400
				case strings.HasPrefix(statusStr, "401"):
					return 401
				case strings.HasPrefix(statusStr, "403"):
					return 403
				case strings.HasPrefix(statusStr, "429"):
					return 429
				case strings.HasPrefix(statusStr, "500"):
					return 500
				case strings.HasPrefix(statusStr, "502"):
					return 502
				case strings.HasPrefix(statusStr, "503"):
					return 503
				case strings.HasPrefix(statusStr, "504"):
					return 504
				}
			}
		}
	}

	return 0
}
