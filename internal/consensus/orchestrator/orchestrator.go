// Package orchestrator exposes the three protocol entry points
// (RunConsensus, RunVoting, RunDecompose) plus ClassifyTaskType, wiring
// together the state machine, phase handlers, convergence detector, voting,
// decomposition, scheduler, and synthesis packages behind a single
// configuration-driven API. Grounded on the plain
// struct-holding-a-router-and-exposing-mode-methods shape of
// orchestrator.Orchestrator in this codebase's earlier adversarial/vote
// orchestration, generalized from ad hoc prompt phases to the full
// consensus protocol.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/jordanhubbard/duh/internal/consensus"
	"github.com/jordanhubbard/duh/internal/consensus/classifier"
	"github.com/jordanhubbard/duh/internal/consensus/convergence"
	"github.com/jordanhubbard/duh/internal/consensus/decompose"
	"github.com/jordanhubbard/duh/internal/consensus/handlers"
	"github.com/jordanhubbard/duh/internal/consensus/registry"
	"github.com/jordanhubbard/duh/internal/consensus/scheduler"
	"github.com/jordanhubbard/duh/internal/consensus/store"
	"github.com/jordanhubbard/duh/internal/consensus/synthesis"
	"github.com/jordanhubbard/duh/internal/consensus/voting"
	"github.com/jordanhubbard/duh/internal/metrics"
)

// DecomposeConfig configures the Decomposition + Scheduler entry point.
type DecomposeConfig struct {
	MaxSubtasks int  // default 7
	Parallel    bool // default true
}

// Config is the orchestrator-facing configuration surface from spec §6.
type Config struct {
	MaxRounds         int
	Decompose         DecomposeConfig
	VotingAggregation consensus.VotingAggregationStrategy // default majority
	Protocol          string                              // consensus | voting | auto
	Classify          bool
	ChallengerCount   int // default 2
	MaxTokens         int // default 4096
	Temperature       float64
}

// DefaultConfig mirrors spec §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxRounds:         3,
		Decompose:         DecomposeConfig{MaxSubtasks: 7, Parallel: true},
		VotingAggregation: consensus.AggregationMajority,
		Protocol:          "consensus",
		ChallengerCount:   2,
		MaxTokens:         4096,
		Temperature:       0.7,
	}
}

// Orchestrator holds the shared Provider Registry and logger used across
// every deliberation it drives, plus an optional Repository that every
// protocol entry point writes its outcome through at completion.
type Orchestrator struct {
	registry *registry.Registry
	logger   *slog.Logger
	repo     store.Repository
	metrics  *metrics.Registry
}

// Option configures an Orchestrator at construction.
type Option func(*Orchestrator)

// WithRepository wires a Repository so every protocol entry point persists
// its outcome at completion. Without one, deliberations run in-process only.
func WithRepository(repo store.Repository) Option {
	return func(o *Orchestrator) { o.repo = repo }
}

// WithMetrics wires round/confidence/convergence/challenger-failure counters
// into the shared Prometheus registry. Without one, metrics calls are no-ops.
func WithMetrics(m *metrics.Registry) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New constructs an Orchestrator over the given Provider Registry.
func New(reg *registry.Registry, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{registry: reg, logger: logger}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ConsensusOutcome is RunConsensus's result: the committed decision,
// confidence, optional dissent, optional taxonomy, and the incremental
// registry cost this deliberation incurred.
type ConsensusOutcome struct {
	Decision     string
	Confidence   float64
	Dissent      string
	Taxonomy     consensus.Taxonomy
	TotalCostUSD float64
}

// RunConsensus drives the state machine through Propose/Challenge/Revise/
// Commit rounds until convergence or round exhaustion, per spec §4.1–§4.4.
func (o *Orchestrator) RunConsensus(ctx context.Context, threadID, question string, cfg Config, panel []string) (ConsensusOutcome, error) {
	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 3
	}
	challengerCount := cfg.ChallengerCount
	if challengerCount <= 0 {
		challengerCount = 2
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	dctx := consensus.NewDeliberationContext(threadID, question, maxRounds)
	sm := consensus.NewStateMachine(dctx)
	costBefore := o.registry.TotalCostUSD()

	for {
		if err := ctx.Err(); err != nil {
			sm.Fail("cancelled")
			return ConsensusOutcome{}, consensus.NewConsensusError("cancelled")
		}

		if sm.State() == consensus.StateIdle {
			if err := sm.Transition(consensus.StatePropose); err != nil {
				return ConsensusOutcome{}, err
			}
		}

		proposerRef, err := handlers.SelectProposer(o.registry, panel)
		if err != nil {
			sm.Fail(err.Error())
			return ConsensusOutcome{}, err
		}
		if _, err := handlers.HandlePropose(ctx, dctx, o.registry, proposerRef, maxTokens, cfg.Temperature); err != nil {
			sm.Fail(err.Error())
			return ConsensusOutcome{}, err
		}
		o.logger.Info("consensus propose complete", "thread_id", threadID, "round", dctx.CurrentRound, "model", proposerRef)

		if err := sm.Transition(consensus.StateChallenge); err != nil {
			return ConsensusOutcome{}, err
		}
		challengerRefs, err := handlers.SelectChallengers(o.registry, proposerRef, challengerCount, panel)
		if err != nil {
			sm.Fail(err.Error())
			return ConsensusOutcome{}, err
		}
		if _, err := handlers.HandleChallenge(ctx, dctx, o.registry, challengerRefs, maxTokens, cfg.Temperature); err != nil {
			sm.Fail(err.Error())
			return ConsensusOutcome{}, err
		}
		if o.metrics != nil {
			if failed := len(challengerRefs) - len(dctx.Challenges); failed > 0 {
				o.metrics.ConsensusChallengerFailures.Add(float64(failed))
			}
		}

		if err := sm.Transition(consensus.StateRevise); err != nil {
			return ConsensusOutcome{}, err
		}
		if _, err := handlers.HandleRevise(ctx, dctx, o.registry, "", maxTokens, cfg.Temperature); err != nil {
			sm.Fail(err.Error())
			return ConsensusOutcome{}, err
		}

		if err := sm.Transition(consensus.StateCommit); err != nil {
			return ConsensusOutcome{}, err
		}
		if err := handlers.HandleCommit(dctx); err != nil {
			sm.Fail(err.Error())
			return ConsensusOutcome{}, err
		}
		if cfg.Classify {
			if taxonomy, err := handlers.ClassifyDecision(ctx, dctx, o.registry); err == nil {
				dctx.Taxonomy = &taxonomy
			}
		}

		converged := convergence.Check(dctx)
		o.logger.Info("consensus round committed", "thread_id", threadID, "round", dctx.CurrentRound, "converged", converged)
		if o.metrics != nil {
			o.metrics.ConsensusConfidence.Observe(dctx.Confidence)
			convergedLabel := "false"
			if converged {
				convergedLabel = "true"
			}
			o.metrics.ConsensusConvergenceTotal.WithLabelValues(convergedLabel).Inc()
		}

		if converged || dctx.CurrentRound >= maxRounds {
			if err := sm.Transition(consensus.StateComplete); err != nil {
				return ConsensusOutcome{}, err
			}
			if o.metrics != nil {
				outcomeLabel := "max_rounds"
				if converged {
					outcomeLabel = "converged"
				}
				o.metrics.ConsensusRoundsTotal.WithLabelValues(outcomeLabel).Inc()
			}
			break
		}
		if err := sm.Transition(consensus.StatePropose); err != nil {
			return ConsensusOutcome{}, err
		}
	}

	outcome := ConsensusOutcome{
		Decision:     dctx.Decision,
		Confidence:   dctx.Confidence,
		Dissent:      dctx.Dissent,
		TotalCostUSD: o.registry.TotalCostUSD() - costBefore,
	}
	if dctx.Taxonomy != nil {
		outcome.Taxonomy = *dctx.Taxonomy
	}

	o.persistConsensus(ctx, dctx, outcome)
	return outcome, nil
}

// persistConsensus writes dctx's round history through the configured
// Repository, if any. Per spec §6, a write failure never fails the
// deliberation — it's logged and the logically-complete outcome still
// returns.
func (o *Orchestrator) persistConsensus(ctx context.Context, dctx *consensus.DeliberationContext, outcome ConsensusOutcome) {
	if o.repo == nil {
		return
	}
	if err := o.repo.CreateThread(ctx, dctx.ThreadID, dctx.Question, "consensus", time.Now()); err != nil {
		o.logger.Warn("consensus thread create failed", "thread_id", dctx.ThreadID, "error", err)
		return
	}
	rec := store.FromDeliberationContext(dctx, time.Now())
	rec.TotalCostUSD = outcome.TotalCostUSD
	rec.ThreadSummary = outcome.Decision
	rec.TurnSummary = outcome.Decision
	if err := o.repo.SaveDeliberation(ctx, rec); err != nil {
		o.logger.Warn("consensus deliberation persist failed", "thread_id", dctx.ThreadID, "error", err)
	}
}

// RunVoting drives the flat voting protocol (C5) over every model in
// modelRefs.
func (o *Orchestrator) RunVoting(ctx context.Context, question string, modelRefs []string, aggregation consensus.VotingAggregationStrategy) (consensus.VotingAggregation, error) {
	if aggregation == "" {
		aggregation = consensus.AggregationMajority
	}
	return voting.Run(ctx, o.registry, question, modelRefs, aggregation)
}

// PersistVoting writes a completed voting-protocol outcome through the
// configured Repository under threadID. Callers that need persisted voting
// runs invoke this after RunVoting; it is a no-op without a Repository.
func (o *Orchestrator) PersistVoting(ctx context.Context, threadID, question string, agg consensus.VotingAggregation) {
	if o.repo == nil {
		return
	}
	if err := o.repo.CreateThread(ctx, threadID, question, "voting", time.Now()); err != nil {
		o.logger.Warn("voting thread create failed", "thread_id", threadID, "error", err)
		return
	}
	rec := store.FromVotingAggregation(threadID, question, agg, time.Now())
	rec.ThreadSummary = agg.Decision
	if err := o.repo.SaveDeliberation(ctx, rec); err != nil {
		o.logger.Warn("voting persist failed", "thread_id", threadID, "error", err)
	}
}

// DecomposeOutcome is RunDecompose's result: the synthesized answer, every
// sub-task's individual result, and the incremental registry cost this
// decomposition incurred.
type DecomposeOutcome struct {
	Synthesis      consensus.SynthesisResult
	SubtaskResults []consensus.SubtaskResult
	TotalCostUSD   float64
}

// RunDecompose splits question into a sub-task DAG (C6's Decomposition),
// schedules each node as a nested RunConsensus call, and synthesizes the
// results (C7). A decomposition yielding exactly one subtask skips the
// scheduler and synthesis entirely, running a plain RunConsensus instead.
func (o *Orchestrator) RunDecompose(ctx context.Context, threadID, question string, cfg Config, strategy consensus.SynthesisStrategy) (DecomposeOutcome, error) {
	costBefore := o.registry.TotalCostUSD()

	subtasks, err := decompose.Decompose(ctx, o.registry, question, cfg.Decompose.MaxSubtasks)
	if err != nil {
		return DecomposeOutcome{}, err
	}

	if len(subtasks) == 1 {
		single, err := o.RunConsensus(ctx, threadID, question, cfg, nil)
		if err != nil {
			return DecomposeOutcome{}, err
		}
		result := consensus.SubtaskResult{Label: subtasks[0].Label, Decision: single.Decision, Confidence: single.Confidence}
		outcome := DecomposeOutcome{
			Synthesis:      consensus.SynthesisResult{Content: single.Decision, Confidence: single.Confidence, Strategy: strategy},
			SubtaskResults: []consensus.SubtaskResult{result},
			TotalCostUSD:   o.registry.TotalCostUSD() - costBefore,
		}
		o.persistDecompose(ctx, threadID, question, subtasks, outcome)
		return outcome, nil
	}

	deliberate := func(ctx context.Context, subQuestion string) (string, float64, error) {
		outcome, err := o.RunConsensus(ctx, threadID, subQuestion, cfg, nil)
		if err != nil {
			return "", 0, err
		}
		return outcome.Decision, outcome.Confidence, nil
	}

	results, err := scheduler.Run(ctx, subtasks, question, cfg.Decompose.Parallel, deliberate)
	if err != nil {
		return DecomposeOutcome{}, err
	}

	synth, err := synthesis.Run(ctx, o.registry, question, results, strategy)
	if err != nil {
		return DecomposeOutcome{}, err
	}

	outcome := DecomposeOutcome{
		Synthesis:      synth,
		SubtaskResults: results,
		TotalCostUSD:   o.registry.TotalCostUSD() - costBefore,
	}
	o.persistDecompose(ctx, threadID, question, subtasks, outcome)
	return outcome, nil
}

// persistDecompose writes a completed decomposition's subtasks and
// synthesis through the configured Repository, if any.
func (o *Orchestrator) persistDecompose(ctx context.Context, threadID, question string, subtasks []consensus.SubtaskSpec, outcome DecomposeOutcome) {
	if o.repo == nil {
		return
	}
	if err := o.repo.CreateThread(ctx, threadID, question, "decompose", time.Now()); err != nil {
		o.logger.Warn("decompose thread create failed", "thread_id", threadID, "error", err)
		return
	}
	rec := store.FromDecomposeOutcome(threadID, question, subtasks, outcome.SubtaskResults, outcome.Synthesis, time.Now())
	rec.TotalCostUSD = outcome.TotalCostUSD
	rec.ThreadSummary = outcome.Synthesis.Content
	if err := o.repo.SaveDeliberation(ctx, rec); err != nil {
		o.logger.Warn("decompose persist failed", "thread_id", threadID, "error", err)
	}
}

// ClassifyTaskType routes protocol=auto: a best-effort classification of
// question into reasoning, judgment, or unknown.
func (o *Orchestrator) ClassifyTaskType(ctx context.Context, question string) consensus.TaskType {
	return classifier.Classify(ctx, o.registry, question)
}
