// Package llmfactory selects and constructs the concrete llm.Client behind the LLM_PROVIDER
// config knob, wrapping it in the transport-level retry policy cmd/api and cmd/worker both need.
// Grounded on LLM_SPT's plugin registry (a provider name string selects a concrete
// contract.LLMClient implementation) generalized to this pipeline's two concrete providers plus a
// deterministic stub for local runs without API keys.
package llmfactory

import (
	"context"
	"fmt"

	"coherentrecon/internal/config"
	"coherentrecon/internal/llm"
	"coherentrecon/internal/llm/geminiclient"
	"coherentrecon/internal/llm/openaiclient"
	"coherentrecon/internal/llm/retryclient"
	"coherentrecon/internal/llm/stubclient"
)

// New builds the configured provider's llm.Client, wrapped in the skeleton-extraction-grade
// exponential retry policy for transport-level failures. Per-chunk retry (fixed-delay) is layered
// separately, inside internal/controller, since that policy also governs malformed-continuation
// recovery that only makes sense at the chunk level.
func New(cfg config.Config) (llm.Client, error) {
	var base llm.Client
	switch cfg.LLMProvider {
	case "openai":
		base = openaiclient.New(openaiclient.Config{
			APIKey: cfg.LLMAPIKey,
			Model:  cfg.LLMModel,
		})
	case "gemini":
		client, err := geminiclient.New(context.Background(), geminiclient.Config{
			APIKey: cfg.LLMAPIKey,
			Model:  cfg.LLMModel,
		})
		if err != nil {
			return nil, fmt.Errorf("construct gemini client: %w", err)
		}
		base = client
	case "stub":
		base = stubclient.New(stubclient.Options{Mode: stubclient.ModeRatio, Ratio: 1.0})
	default:
		return nil, fmt.Errorf("llmfactory: unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
	return retryclient.New(base, retryclient.ExponentialPolicy()), nil
}
