// Package providers adapts the flat router's provider adapters
// (internal/providers/{anthropic,openai,vllm}, all implementing
// router.Sender) into registry.Provider, the interface the consensus core
// calls. This is the "thin facade over the same client" registry.Provider's
// doc comment anticipates: one HTTP client, two call shapes.
package providers

import (
	"context"
	"encoding/json"

	"github.com/jordanhubbard/duh/internal/consensus"
	"github.com/jordanhubbard/duh/internal/router"
)

// Facade wraps a router.Sender plus its served models so it satisfies
// registry.Provider.
type Facade struct {
	id     string
	sender router.Sender
	models []consensus.ModelInfo
}

// New wraps sender under providerID, serving the given models.
func New(providerID string, sender router.Sender, models []consensus.ModelInfo) *Facade {
	return &Facade{id: providerID, sender: sender, models: models}
}

func (f *Facade) ID() string { return f.id }

func (f *Facade) ListModels() []consensus.ModelInfo { return f.models }

// HealthCheck reports the sender reachable. Per-provider liveness probing
// (internal/health.Prober) operates at the HTTP-surface level and is
// deliberately not duplicated here; this facade only bridges call shapes.
func (f *Facade) HealthCheck(ctx context.Context) bool { return true }

// Send translates a consensus.Message turn into a router.Request, invokes
// the wrapped sender, and parses the raw provider response for content and
// token usage.
func (f *Facade) Send(ctx context.Context, modelID string, messages []consensus.Message, maxTokens int, temperature float64, responseFormat string) (consensus.ModelResponse, error) {
	routerMessages := make([]router.Message, len(messages))
	for i, m := range messages {
		routerMessages[i] = router.Message{Role: m.Role, Content: m.Content}
	}

	params := map[string]any{
		"max_tokens":  maxTokens,
		"temperature": temperature,
	}
	if responseFormat == "json" {
		params["response_format"] = map[string]string{"type": "json_object"}
	}

	raw, err := f.sender.Send(ctx, modelID, router.Request{
		Messages:   routerMessages,
		Parameters: params,
	})
	if err != nil {
		return consensus.ModelResponse{}, err
	}

	return consensus.ModelResponse{
		Content: router.ExtractContent(raw),
		Usage:   extractUsage(raw),
	}, nil
}

// extractUsage pulls token counts out of an OpenAI- or Anthropic-shaped
// response body, mirroring router.ExtractContent's dual-format probing.
func extractUsage(raw router.ProviderResponse) consensus.Usage {
	var oai struct {
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if json.Unmarshal(raw, &oai) == nil && (oai.Usage.PromptTokens > 0 || oai.Usage.CompletionTokens > 0) {
		return consensus.Usage{InputTokens: oai.Usage.PromptTokens, OutputTokens: oai.Usage.CompletionTokens}
	}

	var ant struct {
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if json.Unmarshal(raw, &ant) == nil {
		return consensus.Usage{InputTokens: ant.Usage.InputTokens, OutputTokens: ant.Usage.OutputTokens}
	}

	return consensus.Usage{}
}
