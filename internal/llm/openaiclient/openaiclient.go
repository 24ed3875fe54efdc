// Package openaiclient adapts the official OpenAI SDK to the llm.Client contract. Grounded on
// jackzampolin-shelf's internal/providers/openai_tts.go client-construction idiom
// (openai.NewClient with functional options) and on its ChatRequest/ChatResult shape carrying a
// provider FinishReason.
package openaiclient

import (
	"context"
	"fmt"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"coherentrecon/internal/llm"
)

// Config configures the OpenAI-backed client.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string // optional, for test doubles
	MaxRetries int
	Timeout    time.Duration
}

// Client implements llm.Client against the OpenAI chat completions API.
type Client struct {
	model   string
	timeout time.Duration
	client  openai.Client
}

// New constructs a Client. The underlying SDK handles its own low-level transport retries
// (option.WithMaxRetries); the llm/retryclient decorator layered on top of this handles the
// pipeline-level retry policy from §4.D/§4.I.
func New(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4o
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{
		model:   cfg.Model,
		timeout: cfg.Timeout,
		client:  openai.NewClient(opts...),
	}
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	model := req.Model
	if model == "" {
		model = c.model
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.UserPrompt))

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.Response{}, fmt.Errorf("%w: %v", llm.ErrTransport, err)
	}
	if len(completion.Choices) == 0 {
		return llm.Response{}, llm.ErrResponseInvalid
	}

	choice := completion.Choices[0]
	text := choice.Message.Content
	if text == "" {
		return llm.Response{}, llm.ErrResponseInvalid
	}

	return llm.Response{
		Text:       text,
		StopReason: mapFinishReason(string(choice.FinishReason)),
		Usage: llm.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
		},
	}, nil
}

func mapFinishReason(reason string) llm.StopReason {
	switch reason {
	case "stop":
		return llm.StopEndTurn
	case "length":
		return llm.StopMaxTokens
	default:
		return llm.StopOther
	}
}

var _ llm.Client = (*Client)(nil)
