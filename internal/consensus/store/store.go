// Package store implements the Repository capability consumed by the
// consensus core (spec §6): persistence for completed deliberations, kept
// entirely outside the core so it never touches storage directly. The core
// hands a Repository a fully-formed DeliberationRecord at completion; this
// package is responsible for getting it onto disk inside one transaction,
// rolling back whole on any write failure.
package store

import (
	"context"
	"time"

	"github.com/jordanhubbard/duh/internal/consensus"
)

// ContributionRecord is one (model, role) contribution within a turn —
// a proposal, a challenge, or a revision.
type ContributionRecord struct {
	ModelRef string
	Role     string // proposer | challenger | reviser
	Content  string
	Framing  string // only meaningful for role=challenger
}

// TurnRecord is the persisted form of one deliberation round.
type TurnRecord struct {
	RoundNumber   int
	Contributions []ContributionRecord
	Decision      string
	Confidence    float64
	Dissent       string
	TaxonomyIntent   string
	TaxonomyCategory string
	TaxonomyGenus    string
}

// VoteRecord is one model's vote within a voting-protocol run.
type VoteRecord struct {
	ModelRef   string
	Content    string
	Confidence float64
}

// SubtaskRecord is one node of a persisted decomposition DAG.
type SubtaskRecord struct {
	Label        string
	Description  string
	Dependencies []string
	Decision     string
	Confidence   float64
}

// ThreadSummary is a short, human-readable recap attached to a thread at
// completion (e.g. for a dashboard list view).
type ThreadSummary struct {
	ThreadID  string
	Summary   string
	UpdatedAt time.Time
}

// DeliberationRecord is everything the core has accumulated about one
// completed (or failed) deliberation, ready to be written as a single unit.
type DeliberationRecord struct {
	ThreadID  string
	Question  string
	Protocol  string // consensus | voting | decompose
	CreatedAt time.Time

	Turns []TurnRecord

	// Voting-protocol runs populate Votes and leave Turns/Subtasks empty.
	Votes            []VoteRecord
	VotingStrategy   consensus.VotingAggregationStrategy
	VotingDecision   string
	VotingConfidence float64

	// Decompose-protocol runs populate Subtasks and the synthesis fields;
	// the nested consensus turns of each subtask are not included in Turns.
	Subtasks           []SubtaskRecord
	SynthesisContent   string
	SynthesisStrategy  consensus.SynthesisStrategy
	SynthesisConfidence float64

	TotalCostUSD float64

	ThreadSummary string
	TurnSummary   string
}

// Repository is the persistence contract the consensus core writes through
// at deliberation completion (spec §6). Every write for one deliberation
// happens inside SaveDeliberation's single transaction; implementations
// must roll back wholesale on any failure rather than leave partial state.
type Repository interface {
	// CreateThread registers a new deliberation thread. Safe to call again
	// for an existing threadID: the call is a no-op and the thread keeps its
	// original question/protocol.
	CreateThread(ctx context.Context, threadID, question, protocol string, createdAt time.Time) error

	// SaveDeliberation persists a completed deliberation's turns,
	// contributions, decision, votes, subtasks, and summaries within a
	// single transaction. On any write failure the transaction is rolled
	// back and a *StorageError is returned; the deliberation itself is not
	// considered failed, only unpersisted.
	SaveDeliberation(ctx context.Context, rec DeliberationRecord) error

	// LoadThreadSummary returns the most recently saved summary for a
	// thread, or the zero value if none exists.
	LoadThreadSummary(ctx context.Context, threadID string) (ThreadSummary, error)

	// Migrate brings the backing schema up to date.
	Migrate(ctx context.Context) error

	// Close releases any held resources (connections, file handles).
	Close() error
}
