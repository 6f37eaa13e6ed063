package handlers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jordanhubbard/duh/internal/consensus"
	"github.com/jordanhubbard/duh/internal/consensus/registry"
)

// BuildChallengePrompt builds the message list for a CHALLENGE call under
// the given adversarial framing. Unrecognized framings fall back to "flaw".
func BuildChallengePrompt(dctx *consensus.DeliberationContext, framing string) []consensus.Message {
	return BuildChallengePromptAt(dctx, framing, time.Now)
}

func BuildChallengePromptAt(dctx *consensus.DeliberationContext, framing string, now func() time.Time) []consensus.Message {
	system := groundingPrefix(now) + "\n\n" + framingPrompt(framing)
	userContent := fmt.Sprintf(
		"Question: %s\n\nAnswer from another expert (do NOT defer to this -- challenge it):\n%s",
		dctx.Question, dctx.Proposal)

	return []consensus.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: userContent},
	}
}

// SelectChallengers picks up to count models for the challenge phase,
// preferring models other than the proposer (cross-model challenge beats
// self-critique). Remaining slots, if any, are filled with the proposer
// itself (same-model ensemble).
func SelectChallengers(reg *registry.Registry, proposerModel string, count int, panel []string) ([]string, error) {
	models := reg.ListAllModels()
	if len(models) == 0 {
		return nil, &consensus.InsufficientModelsError{Role: "challenger", Reason: "no models available for challenge"}
	}

	if len(panel) > 0 {
		models = filterByPanel(models, panel)
		if len(models) == 0 {
			return nil, &consensus.InsufficientModelsError{Role: "challenger", Reason: "no panel models available for challenge"}
		}
	}

	var others []consensus.ModelInfo
	for _, m := range models {
		if m.ModelRef() != proposerModel {
			others = append(others, m)
		}
	}
	sort.Slice(others, func(i, j int) bool {
		return others[i].OutputCostPerMtok > others[j].OutputCostPerMtok
	})

	selected := make([]string, 0, count)
	for i := 0; i < count && i < len(others); i++ {
		selected = append(selected, others[i].ModelRef())
	}
	for len(selected) < count {
		selected = append(selected, proposerModel)
	}
	return selected, nil
}

type challengerOutcome struct {
	modelRef string
	framing  string
	response consensus.ModelResponse
	err      error
}

func callChallenger(ctx context.Context, dctx *consensus.DeliberationContext, reg *registry.Registry, modelRef, framing string, maxTokens int, temperature float64) challengerOutcome {
	messages := BuildChallengePrompt(dctx, framing)
	provider, modelID, err := reg.GetProvider(modelRef)
	if err != nil {
		return challengerOutcome{modelRef: modelRef, framing: framing, err: err}
	}

	response, err := provider.Send(ctx, modelID, messages, maxTokens, temperature, "")
	if err != nil {
		return challengerOutcome{modelRef: modelRef, framing: framing, err: err}
	}

	info, err := reg.GetModelInfo(modelRef)
	if err == nil {
		_, _ = reg.RecordUsage(info, response.Usage)
	}

	return challengerOutcome{modelRef: modelRef, framing: framing, response: response}
}

// HandleChallenge executes the CHALLENGE phase: fans out to every challenger
// model in parallel with round-robin adversarial framings. Individual
// failures are tolerated; only an all-challengers-failed outcome is an
// error. The context must already be in StateChallenge.
func HandleChallenge(ctx context.Context, dctx *consensus.DeliberationContext, reg *registry.Registry, challengerModels []string, maxTokens int, temperature float64) ([]consensus.ModelResponse, error) {
	if dctx.State != consensus.StateChallenge {
		return nil, consensus.NewConsensusError("handle_challenge requires challenge state, got %s", dctx.State)
	}
	if dctx.Proposal == "" {
		return nil, consensus.NewConsensusError("handle_challenge requires a proposal in context")
	}

	outcomes := make([]challengerOutcome, len(challengerModels))
	var wg sync.WaitGroup
	for i, ref := range challengerModels {
		wg.Add(1)
		go func(i int, ref string) {
			defer wg.Done()
			framing := FramingOrder[i%len(FramingOrder)]
			outcomes[i] = callChallenger(ctx, dctx, reg, ref, framing, maxTokens, temperature)
		}(i, ref)
	}
	wg.Wait()

	var challenges []consensus.ChallengeResult
	var responses []consensus.ModelResponse
	for _, o := range outcomes {
		if o.err != nil {
			continue
		}
		challenges = append(challenges, consensus.ChallengeResult{
			ModelRef:    o.modelRef,
			Content:     o.response.Content,
			Sycophantic: DetectSycophancy(o.response.Content),
			Framing:     consensus.Framing(o.framing),
		})
		responses = append(responses, o.response)
	}

	if len(challenges) == 0 {
		return nil, consensus.NewConsensusError("all challengers failed")
	}

	dctx.Challenges = challenges
	return responses, nil
}
