package store

import (
	"time"

	"github.com/jordanhubbard/duh/internal/consensus"
)

// FromDeliberationContext builds the consensus-protocol portion of a
// DeliberationRecord from a completed DeliberationContext's round history.
// Callers set ThreadSummary/TurnSummary and TotalCostUSD themselves, since
// neither is owned by the core's working state.
func FromDeliberationContext(dctx *consensus.DeliberationContext, createdAt time.Time) DeliberationRecord {
	rec := DeliberationRecord{
		ThreadID:  dctx.ThreadID,
		Question:  dctx.Question,
		Protocol:  "consensus",
		CreatedAt: createdAt,
	}
	for _, round := range dctx.RoundHistory {
		turn := TurnRecord{
			RoundNumber: round.RoundNumber,
			Decision:    round.Decision,
			Confidence:  round.Confidence,
			Dissent:     round.Dissent,
		}
		turn.Contributions = append(turn.Contributions, ContributionRecord{
			ModelRef: round.ProposalModel,
			Role:     "proposer",
			Content:  round.Proposal,
		})
		for _, ch := range round.Challenges {
			turn.Contributions = append(turn.Contributions, ContributionRecord{
				ModelRef: ch.ModelRef,
				Role:     "challenger",
				Content:  ch.Content,
				Framing:  string(ch.Framing),
			})
		}
		rec.Turns = append(rec.Turns, turn)
	}
	if dctx.Taxonomy != nil && len(rec.Turns) > 0 {
		last := &rec.Turns[len(rec.Turns)-1]
		last.TaxonomyIntent = dctx.Taxonomy.Intent
		last.TaxonomyCategory = dctx.Taxonomy.Category
		last.TaxonomyGenus = dctx.Taxonomy.Genus
	}
	return rec
}

// FromVotingAggregation builds the voting-protocol portion of a
// DeliberationRecord.
func FromVotingAggregation(threadID, question string, agg consensus.VotingAggregation, createdAt time.Time) DeliberationRecord {
	rec := DeliberationRecord{
		ThreadID:         threadID,
		Question:         question,
		Protocol:         "voting",
		CreatedAt:        createdAt,
		VotingStrategy:   agg.Strategy,
		VotingDecision:   agg.Decision,
		VotingConfidence: agg.Confidence,
	}
	for _, v := range agg.Votes {
		rec.Votes = append(rec.Votes, VoteRecord{ModelRef: v.ModelRef, Content: v.Content, Confidence: v.Confidence})
	}
	return rec
}

// FromDecomposeOutcome builds the decompose-protocol portion of a
// DeliberationRecord from a synthesis result and its sub-task results.
func FromDecomposeOutcome(threadID, question string, subtasks []consensus.SubtaskSpec, results []consensus.SubtaskResult, synth consensus.SynthesisResult, createdAt time.Time) DeliberationRecord {
	rec := DeliberationRecord{
		ThreadID:            threadID,
		Question:            question,
		Protocol:            "decompose",
		CreatedAt:           createdAt,
		SynthesisContent:    synth.Content,
		SynthesisStrategy:   synth.Strategy,
		SynthesisConfidence: synth.Confidence,
	}
	byLabel := make(map[string]consensus.SubtaskResult, len(results))
	for _, r := range results {
		byLabel[r.Label] = r
	}
	for _, spec := range subtasks {
		result := byLabel[spec.Label]
		rec.Subtasks = append(rec.Subtasks, SubtaskRecord{
			Label:        spec.Label,
			Description:  spec.Description,
			Dependencies: spec.Dependencies,
			Decision:     result.Decision,
			Confidence:   result.Confidence,
		})
	}
	return rec
}
