// Package geminiclient adapts Google's genai SDK to the llm.Client contract. Grounded on
// theRebelliousNerd-codenerd's internal/embedding/genai.go client-construction idiom
// (genai.NewClient with a ClientConfig carrying APIKey).
package geminiclient

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"coherentrecon/internal/llm"
)

// Config configures the Gemini-backed client.
type Config struct {
	APIKey string
	Model  string
}

// Client implements llm.Client against the Gemini generateContent API.
type Client struct {
	client *genai.Client
	model  string
}

// New constructs a Client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("geminiclient: API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("geminiclient: create client: %w", err)
	}
	return &Client{client: client, model: model}, nil
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	contents := []*genai.Content{genai.NewContentFromText(req.UserPrompt, genai.RoleUser)}

	var cfg *genai.GenerateContentConfig
	if req.SystemPrompt != "" || req.MaxTokens > 0 {
		cfg = &genai.GenerateContentConfig{}
		if req.SystemPrompt != "" {
			cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
		}
		if req.MaxTokens > 0 {
			cfg.MaxOutputTokens = int32(req.MaxTokens)
		}
		if req.Temperature > 0 {
			t := float32(req.Temperature)
			cfg.Temperature = &t
		}
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return llm.Response{}, fmt.Errorf("%w: %v", llm.ErrTransport, err)
	}
	if len(resp.Candidates) == 0 {
		return llm.Response{}, llm.ErrResponseInvalid
	}

	cand := resp.Candidates[0]
	text := resp.Text()
	if text == "" {
		return llm.Response{}, llm.ErrResponseInvalid
	}

	return llm.Response{
		Text:       text,
		StopReason: mapFinishReason(string(cand.FinishReason)),
	}, nil
}

func mapFinishReason(reason string) llm.StopReason {
	switch reason {
	case "STOP", "":
		return llm.StopEndTurn
	case "MAX_TOKENS":
		return llm.StopMaxTokens
	default:
		return llm.StopOther
	}
}

var _ llm.Client = (*Client)(nil)
