package store

import (
	"testing"
	"time"

	"github.com/jordanhubbard/duh/internal/consensus"
)

func TestFromDeliberationContextBuildsTurnsAndContributions(t *testing.T) {
	dctx := consensus.NewDeliberationContext("t1", "What should we build?", 3)
	dctx.RoundHistory = []consensus.RoundResult{
		{
			RoundNumber:   1,
			Proposal:      "Build X",
			ProposalModel: "anthropic:opus",
			Challenges: []consensus.ChallengeResult{
				{ModelRef: "anthropic:haiku", Content: "What about Y?", Framing: consensus.FramingFlaw},
			},
			Decision:   "Build X",
			Confidence: 0.85,
		},
	}
	taxonomy := consensus.Taxonomy{Intent: "strategic", Category: "planning", Genus: "decision"}
	dctx.Taxonomy = &taxonomy

	rec := FromDeliberationContext(dctx, time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC))
	if rec.ThreadID != "t1" || rec.Protocol != "consensus" {
		t.Fatalf("unexpected record header: %+v", rec)
	}
	if len(rec.Turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(rec.Turns))
	}
	turn := rec.Turns[0]
	if len(turn.Contributions) != 2 {
		t.Fatalf("expected proposer + 1 challenger contribution, got %d", len(turn.Contributions))
	}
	if turn.Contributions[0].Role != "proposer" || turn.Contributions[1].Role != "challenger" {
		t.Fatalf("unexpected contribution roles: %+v", turn.Contributions)
	}
	if turn.TaxonomyIntent != "strategic" {
		t.Fatalf("expected taxonomy carried onto last turn, got %q", turn.TaxonomyIntent)
	}
}

func TestFromVotingAggregationCarriesVotesAndDecision(t *testing.T) {
	agg := consensus.VotingAggregation{
		Votes:      []consensus.VoteResult{{ModelRef: "anthropic:opus", Content: "React", Confidence: 1.0}},
		Decision:   "React",
		Strategy:   consensus.AggregationMajority,
		Confidence: 0.8,
	}
	rec := FromVotingAggregation("t2", "Pick a framework", agg, time.Now())
	if rec.Protocol != "voting" || len(rec.Votes) != 1 || rec.VotingDecision != "React" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestFromDecomposeOutcomeJoinsSubtasksWithResults(t *testing.T) {
	subtasks := []consensus.SubtaskSpec{
		{Label: "research", Description: "look into options"},
		{Label: "decide", Description: "pick one", Dependencies: []string{"research"}},
	}
	results := []consensus.SubtaskResult{
		{Label: "research", Decision: "found options", Confidence: 0.9},
		{Label: "decide", Decision: "picked React", Confidence: 0.95},
	}
	synth := consensus.SynthesisResult{Content: "Use React", Confidence: 0.925, Strategy: consensus.SynthesisMerge}

	rec := FromDecomposeOutcome("t3", "Pick a framework", subtasks, results, synth, time.Now())
	if len(rec.Subtasks) != 2 {
		t.Fatalf("expected 2 subtasks, got %d", len(rec.Subtasks))
	}
	if rec.Subtasks[1].Decision != "picked React" || rec.Subtasks[1].Dependencies[0] != "research" {
		t.Fatalf("unexpected subtask joined result: %+v", rec.Subtasks[1])
	}
	if rec.SynthesisContent != "Use React" {
		t.Fatalf("unexpected synthesis content: %q", rec.SynthesisContent)
	}
}
