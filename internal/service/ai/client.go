package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"skillsling/internal/config"
)

// ErrInferenceUnavailable marks the inference collaborator as unreachable or
// errored. Callers must treat it as a distinct recoverable condition; it is
// never folded into a generic failure string.
var ErrInferenceUnavailable = errors.New("inference unavailable")

const defaultOllamaBaseURL = "http://localhost:11434/v1"

// Streamer is the inference collaborator contract: an ordered list of turns
// in, a stream of chunks out. Chunks arrive in generation order and their
// concatenation equals the final text.
type Streamer interface {
	Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error)
}

// Client wraps one configured chat model.
type Client struct {
	chatModel model.ToolCallingChatModel
	provider  string
	modelName string
}

// NewClient builds the chat model for a provider. Ollama is reached through
// the openai-compatible endpoint and needs no key; cloud providers require
// the user's API key.
func NewClient(ctx context.Context, cfg *config.Config, provider, modelName, apiKey string) (*Client, error) {
	provCfg := cfg.Providers[provider]
	if modelName == "" {
		modelName = provCfg.Model
	}
	if modelName == "" {
		return nil, fmt.Errorf("no model configured for provider %s", provider)
	}

	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  apiKey,
		})
	case "ollama":
		baseURL := provCfg.BaseURL
		if baseURL == "" {
			baseURL = defaultOllamaBaseURL
		}
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: baseURL,
			Model:   modelName,
			APIKey:  "ollama",
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    apiKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
		if err != nil {
			break
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}

	return &Client{
		chatModel: chatModel,
		provider:  provider,
		modelName: modelName,
	}, nil
}

// Stream forwards to the underlying chat model.
func (c *Client) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return c.chatModel.Stream(ctx, input, opts...)
}

// Provider reports which collaborator this client talks to.
func (c *Client) Provider() string {
	return c.provider
}

// Model reports the selected model identifier.
func (c *Client) Model() string {
	return c.modelName
}
