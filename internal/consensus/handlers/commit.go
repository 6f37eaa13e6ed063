package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jordanhubbard/duh/internal/consensus"
	"github.com/jordanhubbard/duh/internal/consensus/registry"
)

// computeConfidence scores [0.5, 1.0] from challenge quality: 0.5 with no
// challenges (untested revision), rising toward 1.0 as more challenges were
// genuine (non-sycophantic).
func computeConfidence(challenges []consensus.ChallengeResult) float64 {
	if len(challenges) == 0 {
		return 0.5
	}
	genuine := 0
	for _, c := range challenges {
		if !c.Sycophantic {
			genuine++
		}
	}
	return 0.5 + (float64(genuine)/float64(len(challenges)))*0.5
}

// extractDissent preserves minority viewpoints from genuine (non-sycophantic)
// challenges. Returns "" if no genuine dissent survives.
func extractDissent(challenges []consensus.ChallengeResult) string {
	var parts []string
	for _, c := range challenges {
		if c.Sycophantic {
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s]: %s", c.ModelRef, c.Content))
	}
	return strings.Join(parts, "\n\n")
}

// HandleCommit executes the COMMIT phase: sets ctx.Decision from the
// revision, computes confidence from challenge quality, and preserves
// dissent. The context must already be in StateCommit with a revision set.
func HandleCommit(dctx *consensus.DeliberationContext) error {
	if dctx.State != consensus.StateCommit {
		return consensus.NewConsensusError("handle_commit requires commit state, got %s", dctx.State)
	}
	if dctx.Revision == "" {
		return consensus.NewConsensusError("handle_commit requires a revision in context")
	}

	dctx.Decision = dctx.Revision
	dctx.Confidence = computeConfidence(dctx.Challenges)
	dctx.Dissent = extractDissent(dctx.Challenges)

	return nil
}

const classifyPromptTemplate = "Classify this decision into taxonomy fields. " +
	"Return ONLY a JSON object with these fields:\n" +
	"- \"intent\": one of \"factual\", \"judgment\", \"creative\", \"strategic\", \"technical\"\n" +
	"- \"category\": a short topic label (e.g. \"database\", \"security\", \"architecture\")\n" +
	"- \"genus\": a more specific classification (optional, can be null)\n\n" +
	"Question: %s\nDecision: %s"

// ClassifyDecision makes a lightweight call to the cheapest registered model
// in JSON mode to tag the committed decision with taxonomy fields. Any
// failure (no models, provider error, malformed JSON) is non-fatal: it
// returns the zero Taxonomy and a nil error so callers can proceed without
// classification.
func ClassifyDecision(ctx context.Context, dctx *consensus.DeliberationContext, reg *registry.Registry) (consensus.Taxonomy, error) {
	models := reg.ListAllModels()
	if len(models) == 0 {
		return consensus.Taxonomy{}, nil
	}

	cheapest := models[0]
	for _, m := range models[1:] {
		if m.InputCostPerMtok < cheapest.InputCostPerMtok {
			cheapest = m
		}
	}

	provider, modelID, err := reg.GetProvider(cheapest.ModelRef())
	if err != nil {
		return consensus.Taxonomy{}, nil
	}

	prompt := fmt.Sprintf(classifyPromptTemplate, dctx.Question, dctx.Decision)
	messages := []consensus.Message{{Role: "user", Content: prompt}}

	response, err := provider.Send(ctx, modelID, messages, 200, 0.3, "json")
	if err != nil {
		return consensus.Taxonomy{}, nil
	}

	taxonomy, err := extractTaxonomy(response.Content)
	if err != nil {
		return consensus.Taxonomy{}, nil
	}

	_, _ = reg.RecordUsage(cheapest, response.Usage)
	return taxonomy, nil
}

func extractTaxonomy(content string) (consensus.Taxonomy, error) {
	raw := extractJSONBlock(content)

	var data struct {
		Intent   string `json:"intent"`
		Category string `json:"category"`
		Genus    string `json:"genus"`
	}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return consensus.Taxonomy{}, &consensus.JSONExtractionError{Raw: content, Err: err}
	}

	return consensus.Taxonomy{Intent: data.Intent, Category: data.Category, Genus: data.Genus}, nil
}

// extractJSONBlock pulls a JSON object out of model output that may be
// fenced in a ```json code block or may already be bare JSON.
func extractJSONBlock(content string) string {
	if idx := strings.Index(content, "```json"); idx >= 0 {
		start := idx + len("```json")
		if end := strings.Index(content[start:], "```"); end >= 0 {
			return strings.TrimSpace(content[start : start+end])
		}
	}
	content = strings.TrimSpace(content)
	return content
}
