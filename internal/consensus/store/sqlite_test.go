package store

import (
	"context"
	"testing"
	"time"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMigrateIdempotent(t *testing.T) {
	s := newTestRepo(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestCreateThreadThenSaveDeliberation(t *testing.T) {
	s := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	if err := s.CreateThread(ctx, "t1", "What should we build?", "consensus", now); err != nil {
		t.Fatalf("create thread: %v", err)
	}
	// Idempotent: calling again for the same id must not error.
	if err := s.CreateThread(ctx, "t1", "What should we build?", "consensus", now); err != nil {
		t.Fatalf("create thread again: %v", err)
	}

	rec := DeliberationRecord{
		ThreadID: "t1",
		Turns: []TurnRecord{
			{
				RoundNumber: 1,
				Decision:    "Build the thing",
				Confidence:  0.8,
				Contributions: []ContributionRecord{
					{ModelRef: "anthropic:opus", Role: "proposer", Content: "Proposal text"},
					{ModelRef: "anthropic:haiku", Role: "challenger", Content: "Challenge text", Framing: "flaw"},
				},
			},
		},
		ThreadSummary: "decided to build the thing",
		TurnSummary:   "round 1 decision",
	}
	if err := s.SaveDeliberation(ctx, rec); err != nil {
		t.Fatalf("save deliberation: %v", err)
	}

	summary, err := s.LoadThreadSummary(ctx, "t1")
	if err != nil {
		t.Fatalf("load summary: %v", err)
	}
	if summary.Summary != "decided to build the thing" {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestSaveDeliberationWithVotesAndSubtasks(t *testing.T) {
	s := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	if err := s.CreateThread(ctx, "t2", "Pick a framework", "voting", now); err != nil {
		t.Fatalf("create thread: %v", err)
	}

	rec := DeliberationRecord{
		ThreadID: "t2",
		Votes: []VoteRecord{
			{ModelRef: "anthropic:opus", Content: "React", Confidence: 1.0},
			{ModelRef: "anthropic:haiku", Content: "Vue", Confidence: 1.0},
		},
		VotingStrategy:   "majority",
		VotingDecision:   "React",
		VotingConfidence: 0.8,
		Subtasks: []SubtaskRecord{
			{Label: "research", Description: "look into options", Dependencies: nil, Decision: "done", Confidence: 0.9},
		},
	}
	if err := s.SaveDeliberation(ctx, rec); err != nil {
		t.Fatalf("save deliberation: %v", err)
	}
}

func TestLoadThreadSummaryUnknownThreadReturnsZeroValue(t *testing.T) {
	s := newTestRepo(t)
	summary, err := s.LoadThreadSummary(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Summary != "" {
		t.Fatalf("expected zero-value summary, got %+v", summary)
	}
}
