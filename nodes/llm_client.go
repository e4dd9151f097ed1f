package nodes

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

// LLMClient is the part of the OpenAI client the LLM nodes use.
type LLMClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

var _ LLMClient = (*openai.Client)(nil)

// LLMClientConfig holds the credentials and endpoint for an
// OpenAI-compatible API. Nothing is read from the environment.
type LLMClientConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewOpenAIClient returns nil when no API key is configured, which makes
// the LLM nodes answer with mock responses.
func NewOpenAIClient(cfg LLMClientConfig) *openai.Client {
	if cfg.APIKey == "" {
		return nil
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientCfg)
}

var errNoChoices = errors.New("completion returned no choices")

// chatRequest is one system+user exchange.
type chatRequest struct {
	Model       string
	System      string
	User        string
	Temperature float32
	MaxTokens   int
	Stop        []string
}

// chat sends req and returns the first choice's content.
func chat(ctx context.Context, client LLMClient, req chatRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	if req.User != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.User})
	}
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

// isNilClient also catches a typed nil *openai.Client stored in the
// interface.
func isNilClient(c LLMClient) bool {
	if c == nil {
		return true
	}
	oc, ok := c.(*openai.Client)
	return ok && oc == nil
}
