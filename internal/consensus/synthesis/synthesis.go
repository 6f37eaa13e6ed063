// Package synthesis implements Synthesis (C7): merging a decomposition's
// SubtaskResults into one coherent answer using the strongest (highest
// output-cost) registered model, grounded on voting's judge-call pattern —
// itself adapted from internal/temporal/workflows.go's voteWorkflow.
package synthesis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jordanhubbard/duh/internal/consensus"
	"github.com/jordanhubbard/duh/internal/consensus/registry"
)

const mergeSystemPrompt = "You are synthesizing the results of several independent sub-task deliberations into a single " +
	"coherent answer to the original question. Combine the sub-task results into a well-organized whole, " +
	"resolving any surface-level redundancy."

const prioritizeSystemPrompt = "You are synthesizing the results of several independent sub-task deliberations into a single " +
	"coherent answer to the original question. Sub-task results are ordered by descending confidence -- " +
	"weight the earlier, higher-confidence results more heavily when they conflict with later ones."

// Run synthesizes subtaskResults into a SynthesisResult. Strategy merge
// presents sub-task results in their given order; prioritize sorts them by
// descending confidence first. Both call the same highest-cost model;
// returned confidence is always the arithmetic mean of the input
// SubtaskResult confidences, regardless of strategy.
func Run(ctx context.Context, reg *registry.Registry, parentQuestion string, subtaskResults []consensus.SubtaskResult, strategy consensus.SynthesisStrategy) (consensus.SynthesisResult, error) {
	if len(subtaskResults) == 0 {
		return consensus.SynthesisResult{}, consensus.NewConsensusError("synthesis requires at least one subtask result")
	}

	ordered := subtaskResults
	if strategy == consensus.SynthesisPrioritize {
		ordered = sortedByConfidenceDescending(subtaskResults)
	}

	modelRef, err := strongestModel(reg)
	if err != nil {
		return consensus.SynthesisResult{}, err
	}

	provider, modelID, err := reg.GetProvider(modelRef)
	if err != nil {
		return consensus.SynthesisResult{}, err
	}

	messages := []consensus.Message{
		{Role: "system", Content: systemPrompt(strategy)},
		{Role: "user", Content: buildUserPrompt(parentQuestion, ordered)},
	}

	response, err := provider.Send(ctx, modelID, messages, 4096, 0.5, "")
	if err != nil {
		return consensus.SynthesisResult{}, err
	}

	info, err := reg.GetModelInfo(modelRef)
	if err == nil {
		_, _ = reg.RecordUsage(info, response.Usage)
	}

	return consensus.SynthesisResult{
		Content:    response.Content,
		Confidence: meanConfidence(subtaskResults),
		Strategy:   strategy,
	}, nil
}

func sortedByConfidenceDescending(results []consensus.SubtaskResult) []consensus.SubtaskResult {
	out := append([]consensus.SubtaskResult(nil), results...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

func meanConfidence(results []consensus.SubtaskResult) float64 {
	var sum float64
	for _, r := range results {
		sum += r.Confidence
	}
	return sum / float64(len(results))
}

func strongestModel(reg *registry.Registry) (string, error) {
	models := reg.ListAllModels()
	if len(models) == 0 {
		return "", &consensus.InsufficientModelsError{Role: "synthesizer", Reason: "no models available for synthesis"}
	}
	best := models[0]
	for _, m := range models[1:] {
		if m.OutputCostPerMtok > best.OutputCostPerMtok {
			best = m
		}
	}
	return best.ModelRef(), nil
}

func systemPrompt(strategy consensus.SynthesisStrategy) string {
	if strategy == consensus.SynthesisPrioritize {
		return prioritizeSystemPrompt
	}
	return mergeSystemPrompt
}

func buildUserPrompt(parentQuestion string, results []consensus.SubtaskResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original question: %s\n\n", parentQuestion)
	for _, r := range results {
		fmt.Fprintf(&b, "--- Sub-task %q (confidence %.2f) ---\n%s\n\n", r.Label, r.Confidence, r.Decision)
	}
	b.WriteString("Produce the synthesized answer:")
	return b.String()
}
