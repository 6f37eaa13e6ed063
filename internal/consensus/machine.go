package consensus

import "strings"

// transitionKey is a (from, to) edge in the state graph.
type transitionKey struct {
	From ConsensusState
	To   ConsensusState
}

// guardFunc inspects the context and reports whether the edge may be taken;
// a non-empty reason explains a guard failure.
type guardFunc func(ctx *DeliberationContext) (ok bool, reason string)

func alwaysOK(*DeliberationContext) (bool, string) { return true, "" }

// transitionTable lists every legal edge with its guard. Edges absent from
// this map are rejected as InvalidTransition regardless of guard state.
var transitionTable = map[transitionKey]guardFunc{
	{StateIdle, StateDecompose}: guardQuestionNonEmpty,
	{StateIdle, StatePropose}:   guardQuestionNonEmpty,
	{StateDecompose, StatePropose}: alwaysOK,
	{StatePropose, StateChallenge}: guardProposalSet,
	{StateChallenge, StateRevise}:  guardChallengesNonEmpty,
	{StateRevise, StateCommit}:     guardRevisionSet,
	{StateCommit, StatePropose}:    guardCanStartNewRound,
	{StateCommit, StateComplete}:   guardCanComplete,
}

func guardQuestionNonEmpty(ctx *DeliberationContext) (bool, string) {
	if strings.TrimSpace(ctx.Question) == "" {
		return false, "question is empty"
	}
	return true, ""
}

func guardProposalSet(ctx *DeliberationContext) (bool, string) {
	if ctx.Proposal == "" {
		return false, "no proposal set"
	}
	return true, ""
}

func guardChallengesNonEmpty(ctx *DeliberationContext) (bool, string) {
	if len(ctx.Challenges) == 0 {
		return false, "no challenges received"
	}
	return true, ""
}

func guardRevisionSet(ctx *DeliberationContext) (bool, string) {
	if ctx.Revision == "" {
		return false, "no revision set"
	}
	return true, ""
}

func guardCanStartNewRound(ctx *DeliberationContext) (bool, string) {
	if ctx.Converged {
		return false, "already converged"
	}
	if ctx.CurrentRound >= ctx.MaxRounds {
		return false, "max rounds reached"
	}
	return true, ""
}

func guardCanComplete(ctx *DeliberationContext) (bool, string) {
	if !ctx.Converged && ctx.CurrentRound < ctx.MaxRounds {
		return false, "not converged, rounds remaining"
	}
	return true, ""
}

// StateMachine owns the phase graph of a single deliberation and enforces
// legal transitions over its DeliberationContext.
type StateMachine struct {
	ctx *DeliberationContext
}

// NewStateMachine wraps a context for transition-checked mutation.
func NewStateMachine(ctx *DeliberationContext) *StateMachine {
	return &StateMachine{ctx: ctx}
}

// Context returns the underlying DeliberationContext.
func (sm *StateMachine) Context() *DeliberationContext { return sm.ctx }

// State returns the current state.
func (sm *StateMachine) State() ConsensusState { return sm.ctx.State }

// IsTerminal reports whether the current state accepts no outbound edges.
func (sm *StateMachine) IsTerminal() bool {
	return sm.ctx.State == StateComplete || sm.ctx.State == StateFailed
}

// CanTransition reports whether the edge is legal and its guard currently
// holds.
func (sm *StateMachine) CanTransition(to ConsensusState) bool {
	if sm.IsTerminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	guard, ok := transitionTable[transitionKey{sm.ctx.State, to}]
	if !ok {
		return false
	}
	passed, _ := guard(sm.ctx)
	return passed
}

// ValidTransitions lists every state currently reachable in one step.
func (sm *StateMachine) ValidTransitions() []ConsensusState {
	if sm.IsTerminal() {
		return nil
	}
	var valid []ConsensusState
	for key, guard := range transitionTable {
		if key.From != sm.ctx.State {
			continue
		}
		if ok, _ := guard(sm.ctx); ok {
			valid = append(valid, key.To)
		}
	}
	valid = append(valid, StateFailed)
	return valid
}

// Transition applies the named edge, running its guard and mutating the
// context on success. Returns InvalidTransitionError on an illegal edge or
// failed guard.
func (sm *StateMachine) Transition(to ConsensusState) error {
	if sm.IsTerminal() {
		return &InvalidTransitionError{From: sm.ctx.State, To: to, Reason: "already in a terminal state"}
	}

	if to == StateFailed {
		return &InvalidTransitionError{From: sm.ctx.State, To: to, Reason: "use Fail(reason) to transition to failed"}
	}

	guard, ok := transitionTable[transitionKey{sm.ctx.State, to}]
	if !ok {
		return &InvalidTransitionError{From: sm.ctx.State, To: to}
	}
	if passed, reason := guard(sm.ctx); !passed {
		return &InvalidTransitionError{From: sm.ctx.State, To: to, Reason: reason}
	}

	from := sm.ctx.State
	sm.ctx.State = to

	switch {
	case from == StateIdle && to == StatePropose:
		sm.ctx.CurrentRound = 1
		sm.ctx.clearRoundData()
	case from == StateCommit && to == StatePropose:
		sm.ctx.archiveRound()
		sm.ctx.CurrentRound++
		sm.ctx.clearRoundData()
	case from == StateCommit && to == StateComplete:
		sm.ctx.archiveRound()
	}

	return nil
}

// Fail transitions from any non-terminal state to Failed, recording the
// given error message on the context.
func (sm *StateMachine) Fail(reason string) {
	if sm.IsTerminal() {
		return
	}
	sm.ctx.State = StateFailed
	sm.ctx.Error = reason
}
