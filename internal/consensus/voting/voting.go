// Package voting implements the Voting Protocol (C5): parallel single-turn
// fan-out to every eligible model plus a meta-judge aggregation step,
// grounded on internal/temporal/workflows.go's voteWorkflow child-workflow
// fan-out and judge-selection pattern, adapted to run in-process rather than
// as Temporal child workflows.
package voting

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/jordanhubbard/duh/internal/consensus"
	"github.com/jordanhubbard/duh/internal/consensus/registry"
)

const (
	majorityConfidence = 0.8
	weightedConfidence = 0.85
)

type voteOutcome struct {
	vote consensus.VoteResult
	err  error
}

func castVote(ctx context.Context, reg *registry.Registry, modelRef, question string) voteOutcome {
	provider, modelID, err := reg.GetProvider(modelRef)
	if err != nil {
		return voteOutcome{err: err}
	}

	messages := []consensus.Message{{Role: "user", Content: question}}
	response, err := provider.Send(ctx, modelID, messages, 4096, 0.7, "")
	if err != nil {
		return voteOutcome{err: err}
	}

	info, err := reg.GetModelInfo(modelRef)
	if err == nil {
		_, _ = reg.RecordUsage(info, response.Usage)
	}

	return voteOutcome{vote: consensus.VoteResult{ModelRef: modelRef, Content: response.Content}}
}

// Run executes the voting protocol: fans out to every model in modelRefs in
// parallel, then aggregates. Individual call failures are dropped from the
// vote set; an all-failed outcome is not an error (see zero votes below).
//
// Degenerate cases: zero votes yields an empty VotingAggregation at
// confidence 0; exactly one vote is returned directly at confidence 1.0,
// with no meta-judge call. Two or more votes are aggregated by calling the
// highest-cost model with every vote labelled — majority asks it to pick
// the single best answer (fixed confidence 0.8), weighted asks it to
// synthesise a merge weighted by vote quality (fixed confidence 0.85).
func Run(ctx context.Context, reg *registry.Registry, question string, modelRefs []string, aggregation consensus.VotingAggregationStrategy) (consensus.VotingAggregation, error) {
	outcomes := make([]voteOutcome, len(modelRefs))
	var wg sync.WaitGroup
	for i, ref := range modelRefs {
		wg.Add(1)
		go func(i int, ref string) {
			defer wg.Done()
			outcomes[i] = castVote(ctx, reg, ref, question)
		}(i, ref)
	}
	wg.Wait()

	var votes []consensus.VoteResult
	for _, o := range outcomes {
		if o.err != nil {
			continue
		}
		votes = append(votes, o.vote)
	}

	if len(votes) == 0 {
		return consensus.VotingAggregation{Strategy: aggregation, Confidence: 0}, nil
	}

	if len(votes) == 1 {
		return consensus.VotingAggregation{
			Votes:      votes,
			Decision:   votes[0].Content,
			Strategy:   aggregation,
			Confidence: 1.0,
		}, nil
	}

	return aggregate(ctx, reg, question, votes, aggregation)
}

func aggregate(ctx context.Context, reg *registry.Registry, question string, votes []consensus.VoteResult, aggregation consensus.VotingAggregationStrategy) (consensus.VotingAggregation, error) {
	judgeRef, err := strongestModel(reg)
	if err != nil {
		return consensus.VotingAggregation{}, err
	}

	prompt := judgePrompt(question, votes, aggregation)
	provider, modelID, err := reg.GetProvider(judgeRef)
	if err != nil {
		return consensus.VotingAggregation{}, err
	}

	response, err := provider.Send(ctx, modelID, []consensus.Message{{Role: "user", Content: prompt}}, 4096, 0.3, "")
	if err != nil {
		return consensus.VotingAggregation{}, err
	}

	info, err := reg.GetModelInfo(judgeRef)
	if err == nil {
		_, _ = reg.RecordUsage(info, response.Usage)
	}

	decision := response.Content
	confidence := weightedConfidence
	if aggregation == consensus.AggregationMajority {
		confidence = majorityConfidence
		decision = resolveMajoritySelection(response.Content, votes)
	}

	return consensus.VotingAggregation{
		Votes:      votes,
		Decision:   decision,
		Strategy:   aggregation,
		Confidence: confidence,
	}, nil
}

// strongestModel returns the ModelRef with the highest output cost per
// million tokens, used as a capability proxy for the meta-judge.
func strongestModel(reg *registry.Registry) (string, error) {
	models := reg.ListAllModels()
	if len(models) == 0 {
		return "", &consensus.InsufficientModelsError{Role: "judge", Reason: "no models available for judging"}
	}
	best := models[0]
	for _, m := range models[1:] {
		if m.OutputCostPerMtok > best.OutputCostPerMtok {
			best = m
		}
	}
	return best.ModelRef(), nil
}

func judgePrompt(question string, votes []consensus.VoteResult, aggregation consensus.VotingAggregationStrategy) string {
	var labelled strings.Builder
	for i, v := range votes {
		fmt.Fprintf(&labelled, "\n--- Response %d (model: %s) ---\n%s\n", i+1, v.ModelRef, v.Content)
	}

	if aggregation == consensus.AggregationWeighted {
		return fmt.Sprintf(
			"You are a judge. Given multiple expert responses to the same question, synthesise a single "+
				"weighted merge that favors the strongest points across all of them.\n\n"+
				"Question: %s\n\nResponses:%s\n\nProduce the merged answer:",
			question, labelled.String())
	}

	return fmt.Sprintf(
		"You are a judge. Given multiple AI responses to the same prompt, select the best one. "+
			"Reply with ONLY the number (1-based) of the best response.\n\n"+
			"Question: %s\n\nResponses:%s\n\nWhich response number is best?",
		question, labelled.String())
}

// resolveMajoritySelection parses a judge's numeric pick back to the
// original vote content, falling back to the judge's raw text if parsing
// fails or the index is out of range.
func resolveMajoritySelection(judgeReply string, votes []consensus.VoteResult) string {
	trimmed := strings.TrimSpace(judgeReply)
	n, err := strconv.Atoi(trimmed)
	if err != nil || n < 1 || n > len(votes) {
		return judgeReply
	}
	return votes[n-1].Content
}
