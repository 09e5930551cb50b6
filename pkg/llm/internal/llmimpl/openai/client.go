// Package openai provides the OpenAI client implementation using the official OpenAI Go package.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"testsmith/pkg/config"
	"testsmith/pkg/llm"
	"testsmith/pkg/llm/llmerrors"
)

// OfficialClient wraps the official OpenAI Go client to implement llm.LLMClient.
type OfficialClient struct {
	client openai.Client
	model  string
}

// NewOfficialClientWithModel creates a new OpenAI client with a specific model
// (raw client, middleware applied at higher level).
func NewOfficialClientWithModel(apiKey, model string) llm.LLMClient {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OfficialClient{
		client: client,
		model:  model,
	}
}

// Complete implements the llm.LLMClient interface using the Responses API.
func (o *OfficialClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	// The responses API takes a single input string; flatten the conversation.
	var inputText string
	for i := range in.Messages {
		msg := &in.Messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			inputText += fmt.Sprintf("System: %s\n\n", msg.Content)
		case llm.RoleUser:
			inputText += msg.Content
		case llm.RoleAssistant:
			inputText += fmt.Sprintf("Assistant: %s\n\n", msg.Content)
		}
	}

	// Cap MaxTokens to the model's actual limit to prevent API errors.
	maxTokens := in.MaxTokens
	if modelInfo, exists := config.KnownModels[o.model]; exists && modelInfo.MaxOutputTokens > 0 {
		if maxTokens > modelInfo.MaxOutputTokens {
			maxTokens = modelInfo.MaxOutputTokens
		}
	}

	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(int64(maxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(inputText)},
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, o.classifyError(err)
	}

	if resp == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "nil response from OpenAI Responses API")
	}

	content := resp.OutputText()
	if content == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from OpenAI Responses API")
	}

	return llm.CompletionResponse{
		Content:    content,
		StopReason: "end_turn",
	}, nil
}

// GetModelName returns the model name for this client.
func (o *OfficialClient) GetModelName() string {
	return o.model
}

// classifyError maps OpenAI SDK errors to our structured error types.
func (o *OfficialClient) classifyError(err error) *llmerrors.Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request canceled")
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "401") || strings.Contains(errStr, "invalid api key") || strings.Contains(errStr, "incorrect api key"):
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeAuth, 401, "authentication failed - check API key")
	case strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "quota"):
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeRateLimit, 429, "rate limit exceeded")
	case strings.Contains(errStr, "400") || strings.Contains(errStr, "invalid request") || strings.Contains(errStr, "context length"):
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeBadPrompt, 400, "bad request - check prompt format and parameters")
	case strings.Contains(errStr, "500") || strings.Contains(errStr, "502") || strings.Contains(errStr, "503") || strings.Contains(errStr, "504"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "server error")
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "connection") || strings.Contains(errStr, "eof") || strings.Contains(errStr, "reset"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "network or connection error")
	default:
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "unclassified error")
	}
}
