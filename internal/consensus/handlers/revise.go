package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jordanhubbard/duh/internal/consensus"
	"github.com/jordanhubbard/duh/internal/consensus/registry"
)

// BuildRevisePrompt builds the message list for the REVISE phase: the
// question, the original proposal, and every challenge, so the reviser
// addresses each one directly.
func BuildRevisePrompt(dctx *consensus.DeliberationContext) []consensus.Message {
	return BuildRevisePromptAt(dctx, time.Now)
}

func BuildRevisePromptAt(dctx *consensus.DeliberationContext, now func() time.Time) []consensus.Message {
	system := groundingPrefix(now) + "\n\n" + reviserSystemPrompt

	var b strings.Builder
	for i, c := range dctx.Challenges {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Challenge from " + c.ModelRef + ":\n" + c.Content)
	}

	userContent := fmt.Sprintf(
		"Question: %s\n\nYour original answer:\n%s\n\nIndependent expert challenges:\n%s\n\nProduce your improved final answer:",
		dctx.Question, dctx.Proposal, b.String())

	return []consensus.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: userContent},
	}
}

// HandleRevise executes the REVISE phase. If modelRef is empty, it defaults
// to the proposer model, since the proposer revises its own work. The
// context must already be in StateRevise with a proposal and challenges set.
func HandleRevise(ctx context.Context, dctx *consensus.DeliberationContext, reg *registry.Registry, modelRef string, maxTokens int, temperature float64) (consensus.ModelResponse, error) {
	if dctx.State != consensus.StateRevise {
		return consensus.ModelResponse{}, consensus.NewConsensusError("handle_revise requires revise state, got %s", dctx.State)
	}
	if dctx.Proposal == "" {
		return consensus.ModelResponse{}, consensus.NewConsensusError("handle_revise requires a proposal in context")
	}
	if len(dctx.Challenges) == 0 {
		return consensus.ModelResponse{}, consensus.NewConsensusError("handle_revise requires challenges in context")
	}

	reviserRef := modelRef
	if reviserRef == "" {
		reviserRef = dctx.ProposalModel
	}
	if reviserRef == "" {
		return consensus.ModelResponse{}, consensus.NewConsensusError("handle_revise requires a model_ref or proposal_model")
	}

	messages := BuildRevisePrompt(dctx)
	provider, modelID, err := reg.GetProvider(reviserRef)
	if err != nil {
		return consensus.ModelResponse{}, err
	}

	response, err := provider.Send(ctx, modelID, messages, maxTokens, temperature, "")
	if err != nil {
		return consensus.ModelResponse{}, err
	}

	info, err := reg.GetModelInfo(reviserRef)
	if err != nil {
		return consensus.ModelResponse{}, err
	}
	if _, err := reg.RecordUsage(info, response.Usage); err != nil {
		return consensus.ModelResponse{}, err
	}

	dctx.Revision = response.Content
	dctx.RevisionModel = reviserRef

	return response, nil
}
