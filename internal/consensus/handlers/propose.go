package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/jordanhubbard/duh/internal/consensus"
	"github.com/jordanhubbard/duh/internal/consensus/registry"
)

// BuildProposePrompt builds the message list for the PROPOSE phase. Round 1
// is just the system prompt plus the question; later rounds fold in the
// previous round's decision and challenges so the proposer can improve on it.
func BuildProposePrompt(ctx *consensus.DeliberationContext) []consensus.Message {
	return BuildProposePromptAt(ctx, time.Now)
}

// BuildProposePromptAt is BuildProposePrompt with an injectable clock, for
// deterministic tests of the grounding-prefix date stamp.
func BuildProposePromptAt(ctx *consensus.DeliberationContext, now func() time.Time) []consensus.Message {
	system := groundingPrefix(now) + "\n\n" + proposerSystemPrompt

	userContent := ctx.Question
	if ctx.CurrentRound > 1 && len(ctx.RoundHistory) > 0 {
		prev := ctx.RoundHistory[len(ctx.RoundHistory)-1]
		challengesText := ""
		for i, c := range prev.Challenges {
			if i > 0 {
				challengesText += "\n\n"
			}
			challengesText += "- " + c.Content
		}
		userContent = fmt.Sprintf(
			"%s\n\nIn a previous round, the answer was:\n%s\n\nIt received these challenges:\n%s\n\n"+
				"Produce an improved answer that addresses the valid challenges.",
			ctx.Question, prev.Decision, challengesText)
	}

	return []consensus.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: userContent},
	}
}

// SelectProposer picks the strongest available model for proposing, using
// output cost per million tokens as a capability proxy. Proposer-ineligible
// models (e.g. search-grounded models) are always excluded. When panel is
// non-empty, only models whose ModelRef appears in it are considered.
func SelectProposer(reg *registry.Registry, panel []string) (string, error) {
	models := reg.ListAllModels()
	if len(models) == 0 {
		return "", &consensus.InsufficientModelsError{Role: "proposer", Reason: "no models available for proposal"}
	}

	if len(panel) > 0 {
		models = filterByPanel(models, panel)
	}

	var eligible []consensus.ModelInfo
	for _, m := range models {
		if m.ProposerEligible {
			eligible = append(eligible, m)
		}
	}
	if len(eligible) == 0 {
		return "", &consensus.InsufficientModelsError{Role: "proposer", Reason: "no proposer-eligible models available"}
	}

	best := eligible[0]
	for _, m := range eligible[1:] {
		if m.OutputCostPerMtok > best.OutputCostPerMtok {
			best = m
		}
	}
	return best.ModelRef(), nil
}

func filterByPanel(models []consensus.ModelInfo, panel []string) []consensus.ModelInfo {
	allowed := make(map[string]bool, len(panel))
	for _, p := range panel {
		allowed[p] = true
	}
	var out []consensus.ModelInfo
	for _, m := range models {
		if allowed[m.ModelRef()] {
			out = append(out, m)
		}
	}
	return out
}

// HandlePropose executes the PROPOSE phase: builds the prompt, calls
// modelRef through the registry, records usage, and writes ctx.Proposal /
// ctx.ProposalModel. The context must already be in StatePropose.
func HandlePropose(ctx context.Context, dctx *consensus.DeliberationContext, reg *registry.Registry, modelRef string, maxTokens int, temperature float64) (consensus.ModelResponse, error) {
	if dctx.State != consensus.StatePropose {
		return consensus.ModelResponse{}, consensus.NewConsensusError("handle_propose requires propose state, got %s", dctx.State)
	}

	messages := BuildProposePrompt(dctx)
	provider, modelID, err := reg.GetProvider(modelRef)
	if err != nil {
		return consensus.ModelResponse{}, err
	}

	response, err := provider.Send(ctx, modelID, messages, maxTokens, temperature, "")
	if err != nil {
		return consensus.ModelResponse{}, err
	}

	info, err := reg.GetModelInfo(modelRef)
	if err != nil {
		return consensus.ModelResponse{}, err
	}
	if _, err := reg.RecordUsage(info, response.Usage); err != nil {
		return consensus.ModelResponse{}, err
	}

	dctx.Proposal = response.Content
	dctx.ProposalModel = modelRef

	return response, nil
}
