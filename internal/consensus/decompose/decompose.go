// Package decompose implements Decomposition (half of C6): a single
// JSON-mode call to the cheapest registered model that splits a question
// into a dependency DAG of SubtaskSpecs, with strict parsing and DAG
// validation (acyclic, 2..maxSubtasks nodes, unique labels, no
// self-dependency, every dependency resolvable). A decomposition of exactly
// one subtask is returned without DAG validation.
package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jordanhubbard/duh/internal/consensus"
	"github.com/jordanhubbard/duh/internal/consensus/registry"
)

const defaultMaxSubtasks = 7

const promptTemplate = "Decompose this question into between 2 and %d independent or dependent subtasks. " +
	"Return ONLY a JSON object of the form " +
	`{"subtasks": [{"label": "...", "description": "...", "dependencies": ["..."]}]}. ` +
	"The dependency graph must be acyclic. Each label must be unique and referenced only by subtasks " +
	"that depend on it.\n\nQuestion: %s"

type rawSubtask struct {
	Label        any `json:"label"`
	Description  any `json:"description"`
	Dependencies any `json:"dependencies"`
}

type rawDecomposition struct {
	Subtasks []rawSubtask `json:"subtasks"`
}

// Decompose calls the cheapest registered model in JSON mode to split
// question into a validated sub-task DAG. maxSubtasks <= 0 defaults to 7.
// A single parsed subtask is returned as-is so the caller can run a plain
// consensus instead; any other count must pass Validate.
func Decompose(ctx context.Context, reg *registry.Registry, question string, maxSubtasks int) ([]consensus.SubtaskSpec, error) {
	if maxSubtasks <= 0 {
		maxSubtasks = defaultMaxSubtasks
	}

	models := reg.ListAllModels()
	if len(models) == 0 {
		return nil, &consensus.InsufficientModelsError{Role: "decomposer", Reason: "no models available for decomposition"}
	}
	cheapest := models[0]
	for _, m := range models[1:] {
		if m.InputCostPerMtok < cheapest.InputCostPerMtok {
			cheapest = m
		}
	}

	provider, modelID, err := reg.GetProvider(cheapest.ModelRef())
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(promptTemplate, maxSubtasks, question)
	messages := []consensus.Message{{Role: "user", Content: prompt}}

	response, err := provider.Send(ctx, modelID, messages, 2048, 0.3, "json")
	if err != nil {
		return nil, err
	}

	subtasks, err := parseSubtasks(response.Content)
	if err != nil {
		return nil, err
	}

	if len(subtasks) != 1 {
		if err := Validate(subtasks, maxSubtasks); err != nil {
			return nil, err
		}
	}

	_, _ = reg.RecordUsage(cheapest, response.Usage)
	return subtasks, nil
}

func parseSubtasks(content string) ([]consensus.SubtaskSpec, error) {
	raw := extractJSONBlock(content)

	var decomp rawDecomposition
	if err := json.Unmarshal([]byte(raw), &decomp); err != nil {
		return nil, consensus.NewConsensusError("decomposition response is not valid JSON: %v", err)
	}
	if decomp.Subtasks == nil {
		return nil, consensus.NewConsensusError("decomposition response missing \"subtasks\" key")
	}

	subtasks := make([]consensus.SubtaskSpec, 0, len(decomp.Subtasks))
	for i, rs := range decomp.Subtasks {
		label, ok := rs.Label.(string)
		if !ok || label == "" {
			return nil, consensus.NewConsensusError("subtask %d missing string \"label\"", i)
		}
		description, ok := rs.Description.(string)
		if !ok || description == "" {
			return nil, consensus.NewConsensusError("subtask %d missing string \"description\"", i)
		}

		var deps []string
		if rs.Dependencies != nil {
			depsRaw, ok := rs.Dependencies.([]any)
			if !ok {
				return nil, consensus.NewConsensusError("subtask %d \"dependencies\" is not an array", i)
			}
			for _, d := range depsRaw {
				ds, ok := d.(string)
				if !ok {
					return nil, consensus.NewConsensusError("subtask %d has a non-string dependency", i)
				}
				deps = append(deps, ds)
			}
		}

		subtasks = append(subtasks, consensus.SubtaskSpec{Label: label, Description: description, Dependencies: deps})
	}

	return subtasks, nil
}

// Validate checks every DAG invariant from §3/§4.6: node count bounds,
// unique labels, no self-dependency, all dependencies resolvable, no cycle.
func Validate(subtasks []consensus.SubtaskSpec, maxSubtasks int) error {
	if maxSubtasks <= 0 {
		maxSubtasks = defaultMaxSubtasks
	}
	if len(subtasks) < 2 || len(subtasks) > maxSubtasks {
		return consensus.NewConsensusError("decomposition must yield between 2 and %d subtasks, got %d", maxSubtasks, len(subtasks))
	}

	labels := make(map[string]bool, len(subtasks))
	for _, s := range subtasks {
		if labels[s.Label] {
			return consensus.NewConsensusError("duplicate subtask label %q", s.Label)
		}
		labels[s.Label] = true
	}

	for _, s := range subtasks {
		for _, dep := range s.Dependencies {
			if dep == s.Label {
				return consensus.NewConsensusError("subtask %q depends on itself", s.Label)
			}
			if !labels[dep] {
				return consensus.NewConsensusError("subtask %q depends on unknown label %q", s.Label, dep)
			}
		}
	}

	if _, err := TopologicalLayers(subtasks); err != nil {
		return err
	}

	return nil
}

// TopologicalLayers runs Kahn's algorithm, grouping subtasks into layers:
// layer 0 holds every node with no pending dependencies; removing a layer
// exposes the next. Returns ConsensusError if a cycle prevents full
// ordering.
func TopologicalLayers(subtasks []consensus.SubtaskSpec) ([][]consensus.SubtaskSpec, error) {
	byLabel := make(map[string]consensus.SubtaskSpec, len(subtasks))
	inDegree := make(map[string]int, len(subtasks))
	dependents := make(map[string][]string, len(subtasks))

	for _, s := range subtasks {
		byLabel[s.Label] = s
		if _, ok := inDegree[s.Label]; !ok {
			inDegree[s.Label] = 0
		}
		for _, dep := range s.Dependencies {
			inDegree[s.Label]++
			dependents[dep] = append(dependents[dep], s.Label)
		}
	}

	var layers [][]consensus.SubtaskSpec
	remaining := len(subtasks)

	for remaining > 0 {
		var layer []string
		for label, deg := range inDegree {
			if deg == 0 {
				layer = append(layer, label)
			}
		}
		if len(layer) == 0 {
			return nil, consensus.NewConsensusError("subtask dependency graph has a cycle")
		}
		sort.Strings(layer)

		layerSpecs := make([]consensus.SubtaskSpec, 0, len(layer))
		for _, label := range layer {
			layerSpecs = append(layerSpecs, byLabel[label])
			delete(inDegree, label)
			remaining--
		}
		layers = append(layers, layerSpecs)

		for _, label := range layer {
			for _, dependent := range dependents[label] {
				if _, ok := inDegree[dependent]; ok {
					inDegree[dependent]--
				}
			}
		}
	}

	return layers, nil
}

func extractJSONBlock(content string) string {
	if idx := strings.Index(content, "```json"); idx >= 0 {
		start := idx + len("```json")
		if end := strings.Index(content[start:], "```"); end >= 0 {
			return strings.TrimSpace(content[start : start+end])
		}
	}
	return strings.TrimSpace(content)
}
