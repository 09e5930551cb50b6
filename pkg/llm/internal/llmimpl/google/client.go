// Package google provides Google Gemini client implementation for LLM interface.
package google

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"testsmith/pkg/llm"
	"testsmith/pkg/llm/llmerrors"
)

// GeminiClient wraps the Google GenAI client to implement llm.LLMClient interface.
type GeminiClient struct {
	client *genai.Client
	apiKey string
	model  string
}

// NewGeminiClientWithModel creates a new Gemini client with specific model (raw client, middleware applied at higher level).
func NewGeminiClientWithModel(apiKey, model string) llm.LLMClient {
	// Client creation requires context, so we defer it to Complete().
	return &GeminiClient{
		client: nil, // Created on first use
		apiKey: apiKey,
		model:  model,
	}
}

// Complete implements the llm.LLMClient interface.
func (g *GeminiClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if g.client == nil {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeAuth, fmt.Sprintf("failed to create Gemini client: %v", err))
		}
		g.client = client
	}

	contents, systemInstruction, err := convertMessagesToGemini(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	//nolint:gosec // MaxTokens validated at higher layer, overflow acceptable
	maxTokens := int32(in.MaxTokens)
	config := &genai.GenerateContentConfig{
		Temperature:     &in.Temperature,
		MaxOutputTokens: maxTokens,
	}

	if systemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		}
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}

	if result == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Gemini API")
	}

	content := result.Text()
	if content == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty content from Gemini API")
	}

	return llm.CompletionResponse{
		Content:    content,
		StopReason: getStopReason(result),
	}, nil
}

// GetModelName returns the model name for this client.
func (g *GeminiClient) GetModelName() string {
	return g.model
}

// convertMessagesToGemini converts our message format to Gemini's Content format.
// Returns contents array and optional system instruction.
func convertMessagesToGemini(messages []llm.CompletionMessage) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("message list cannot be empty")
	}

	var systemInstruction string
	var contents []*genai.Content

	for i := range messages {
		msg := &messages[i]

		// Extract system messages for system instruction
		if msg.Role == llm.RoleSystem {
			if systemInstruction != "" {
				systemInstruction += "\n\n" + msg.Content
			} else {
				systemInstruction = msg.Content
			}
			continue
		}

		var role string
		switch msg.Role {
		case llm.RoleUser:
			role = "user"
		case llm.RoleAssistant:
			role = "model" // Gemini uses "model" instead of "assistant"
		default:
			return nil, "", fmt.Errorf("unsupported message role: %s", msg.Role)
		}

		if msg.Content == "" {
			continue
		}

		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}

	return contents, systemInstruction, nil
}

// getStopReason extracts the stop reason from Gemini response.
func getStopReason(result *genai.GenerateContentResponse) string {
	if result == nil {
		return "unknown"
	}

	if len(result.Candidates) > 0 {
		switch result.Candidates[0].FinishReason {
		case genai.FinishReasonStop:
			return "end_turn"
		case genai.FinishReasonMaxTokens:
			return "max_tokens"
		}
	}

	return "end_turn"
}

// classifyError converts Gemini API errors to our error types.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	if err == context.DeadlineExceeded {
		return llmerrors.NewError(llmerrors.ErrorTypeTransient, "request timeout")
	}
	if err == context.Canceled {
		return llmerrors.NewError(llmerrors.ErrorTypeTransient, "request canceled")
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "401") || strings.Contains(errStr, "403") || strings.Contains(errStr, "api key"):
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeAuth, 401, fmt.Sprintf("Gemini authentication failed: %v", err))
	case strings.Contains(errStr, "429") || strings.Contains(errStr, "quota") || strings.Contains(errStr, "rate limit"):
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeRateLimit, 429, fmt.Sprintf("Gemini rate limited: %v", err))
	case strings.Contains(errStr, "400") || strings.Contains(errStr, "invalid argument"):
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeBadPrompt, 400, fmt.Sprintf("Gemini rejected request: %v", err))
	case strings.Contains(errStr, "500") || strings.Contains(errStr, "502") || strings.Contains(errStr, "503") || strings.Contains(errStr, "unavailable"):
		return llmerrors.NewError(llmerrors.ErrorTypeTransient, fmt.Sprintf("Gemini server error: %v", err))
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "connection") || strings.Contains(errStr, "eof"):
		return llmerrors.NewError(llmerrors.ErrorTypeTransient, fmt.Sprintf("Gemini connection error: %v", err))
	default:
		return llmerrors.NewError(llmerrors.ErrorTypeUnknown, fmt.Sprintf("Gemini API call failed: %v", err))
	}
}
