// Package ollama provides the Ollama client implementation for the LLM interface.
// Ollama is a local LLM runtime that allows running open-source models.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"testsmith/pkg/llm"
	"testsmith/pkg/llm/llmerrors"
)

// Client wraps the Ollama API client to implement llm.LLMClient.
type Client struct {
	client  *api.Client
	model   string
	hostURL string
}

// NewOllamaClientWithModel creates a new Ollama client with a specific model.
// hostURL should be the Ollama server URL (e.g., "http://localhost:11434").
func NewOllamaClientWithModel(hostURL, model string) llm.LLMClient {
	parsedURL, err := url.Parse(hostURL)
	if err != nil {
		// Fall back to default if URL is invalid
		parsedURL, _ = url.Parse("http://localhost:11434")
	}

	client := api.NewClient(parsedURL, http.DefaultClient)

	return &Client{
		client:  client,
		model:   model,
		hostURL: hostURL,
	}
}

// Complete implements the llm.LLMClient interface.
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages, err := convertMessagesToOllama(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	stream := false // We don't stream in Complete()
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}

	var response api.ChatResponse
	err = o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}

	if response.Message.Content == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty response from Ollama")
	}

	return llm.CompletionResponse{
		Content:    response.Message.Content,
		StopReason: getStopReason(&response),
	}, nil
}

// GetModelName returns the model name for this client.
func (o *Client) GetModelName() string {
	return o.model
}

// convertMessagesToOllama converts our message format to Ollama's Message format.
func convertMessagesToOllama(messages []llm.CompletionMessage) ([]api.Message, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}

	result := make([]api.Message, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		result = append(result, api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	return result, nil
}

// getStopReason converts Ollama's done_reason to our stop reason format.
func getStopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}

	switch resp.DoneReason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "":
		// Done but no reason, assume normal completion
		return "end_turn"
	default:
		return resp.DoneReason
	}
}

// classifyError converts Ollama errors to our error types.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "connection refused"):
		return llmerrors.NewError(llmerrors.ErrorTypeTransient, fmt.Sprintf("Ollama server not reachable: %v", err))
	case strings.Contains(errStr, "model") && strings.Contains(errStr, "not found"):
		return llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("Ollama model not found: %v", err))
	case strings.Contains(errStr, "context canceled"):
		return llmerrors.NewError(llmerrors.ErrorTypeTransient, fmt.Sprintf("request canceled: %v", err))
	case strings.Contains(errStr, "timeout"):
		return llmerrors.NewError(llmerrors.ErrorTypeTransient, fmt.Sprintf("request timeout: %v", err))
	default:
		return llmerrors.NewError(llmerrors.ErrorTypeUnknown, fmt.Sprintf("Ollama API error: %v", err))
	}
}
