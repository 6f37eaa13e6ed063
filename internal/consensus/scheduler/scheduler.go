// Package scheduler implements the Scheduler half of C6: given a validated
// sub-task DAG, it runs each node as a nested mini-deliberation in
// topological order, honoring a parallel-within-layer execution mode.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/jordanhubbard/duh/internal/consensus"
	"github.com/jordanhubbard/duh/internal/consensus/decompose"
	"github.com/jordanhubbard/duh/internal/consensus/registry"
)

// RunDeliberation executes one nested consensus deliberation for a sub-task's
// augmented question and returns its decision and confidence. Callers supply
// this, typically backed by the orchestrator's RunConsensus.
type RunDeliberation func(ctx context.Context, question string) (decision string, confidence float64, err error)

// Run schedules every node in subtasks via Kahn layering: nodes in the same
// layer execute concurrently when parallel is true, sequentially otherwise;
// layer boundaries are always serialization points. Each node's augmented
// question is parentQuestion + its description + any upstream dependency
// results formatted as "Result from <label>: <decision>". Failure of any
// node aborts the entire schedule; completed sibling nodes' work is
// discarded.
func Run(ctx context.Context, subtasks []consensus.SubtaskSpec, parentQuestion string, parallel bool, deliberate RunDeliberation) ([]consensus.SubtaskResult, error) {
	layers, err := decompose.TopologicalLayers(subtasks)
	if err != nil {
		return nil, err
	}

	results := make(map[string]consensus.SubtaskResult, len(subtasks))

	for _, layer := range layers {
		if err := ctx.Err(); err != nil {
			return nil, consensus.NewConsensusError("cancelled")
		}

		if parallel {
			if err := runLayerParallel(ctx, layer, parentQuestion, results, deliberate); err != nil {
				return nil, err
			}
		} else {
			if err := runLayerSequential(ctx, layer, parentQuestion, results, deliberate); err != nil {
				return nil, err
			}
		}
	}

	out := make([]consensus.SubtaskResult, 0, len(subtasks))
	for _, s := range subtasks {
		out = append(out, results[s.Label])
	}
	return out, nil
}

func runLayerSequential(ctx context.Context, layer []consensus.SubtaskSpec, parentQuestion string, results map[string]consensus.SubtaskResult, deliberate RunDeliberation) error {
	for _, node := range layer {
		result, err := runNode(ctx, node, parentQuestion, results, deliberate)
		if err != nil {
			return err
		}
		results[node.Label] = result
	}
	return nil
}

func runLayerParallel(ctx context.Context, layer []consensus.SubtaskSpec, parentQuestion string, results map[string]consensus.SubtaskResult, deliberate RunDeliberation) error {
	type outcome struct {
		label  string
		result consensus.SubtaskResult
		err    error
	}

	outcomes := make([]outcome, len(layer))
	var wg sync.WaitGroup
	for i, node := range layer {
		wg.Add(1)
		go func(i int, node consensus.SubtaskSpec) {
			defer wg.Done()
			result, err := runNode(ctx, node, parentQuestion, results, deliberate)
			outcomes[i] = outcome{label: node.Label, result: result, err: err}
		}(i, node)
	}
	wg.Wait()

	for _, o := range outcomes {
		if o.err != nil {
			return o.err
		}
		results[o.label] = o.result
	}
	return nil
}

func runNode(ctx context.Context, node consensus.SubtaskSpec, parentQuestion string, results map[string]consensus.SubtaskResult, deliberate RunDeliberation) (consensus.SubtaskResult, error) {
	question := augmentedQuestion(node, parentQuestion, results)
	decision, confidence, err := deliberate(ctx, question)
	if err != nil {
		return consensus.SubtaskResult{}, consensus.NewConsensusError("subtask %q failed: %v", node.Label, err)
	}
	return consensus.SubtaskResult{Label: node.Label, Decision: decision, Confidence: confidence}, nil
}

func augmentedQuestion(node consensus.SubtaskSpec, parentQuestion string, results map[string]consensus.SubtaskResult) string {
	question := parentQuestion + "\n\n" + node.Description
	for _, dep := range node.Dependencies {
		if r, ok := results[dep]; ok {
			question += fmt.Sprintf("\n\nResult from %s: %s", r.Label, r.Decision)
		}
	}
	return question
}

// RunWithDecompose is the single-entry convenience wrapper: it runs the
// scheduler against an already-decomposed and validated DAG obtained from
// decompose.Decompose, sharing the same Registry for nested model calls.
func RunWithDecompose(ctx context.Context, reg *registry.Registry, question string, maxSubtasks int, parallel bool, deliberate RunDeliberation) ([]consensus.SubtaskResult, error) {
	subtasks, err := decompose.Decompose(ctx, reg, question, maxSubtasks)
	if err != nil {
		return nil, err
	}
	return Run(ctx, subtasks, question, parallel, deliberate)
}
