// Package classifier implements protocol=auto's question classifier: a
// best-effort JSON-mode call to the cheapest registered model that tags a
// question as reasoning, judgment, or unknown (on any failure).
package classifier

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jordanhubbard/duh/internal/consensus"
	"github.com/jordanhubbard/duh/internal/consensus/registry"
)

const classifyPrompt = "Classify this question for task routing. " +
	"Return ONLY a JSON object: {\"task_type\": \"reasoning\" | \"judgment\"}.\n\n" +
	"\"reasoning\" fits factual, technical, or multi-step analytical questions best served by iterative " +
	"deliberation. \"judgment\" fits subjective or preference questions best served by polling independent " +
	"opinions.\n\nQuestion: %s"

// Classify makes a best-effort JSON-mode call to the cheapest registered
// model to tag question. Any failure — no models, provider error, malformed
// JSON, unrecognized label — yields TaskUnknown.
func Classify(ctx context.Context, reg *registry.Registry, question string) consensus.TaskType {
	models := reg.ListAllModels()
	if len(models) == 0 {
		return consensus.TaskUnknown
	}

	cheapest := models[0]
	for _, m := range models[1:] {
		if m.InputCostPerMtok < cheapest.InputCostPerMtok {
			cheapest = m
		}
	}

	p, modelID, err := reg.GetProvider(cheapest.ModelRef())
	if err != nil {
		return consensus.TaskUnknown
	}

	prompt := strings.Replace(classifyPrompt, "%s", question, 1)
	messages := []consensus.Message{{Role: "user", Content: prompt}}

	response, err := p.Send(ctx, modelID, messages, 50, 0.0, "json")
	if err != nil {
		return consensus.TaskUnknown
	}

	taskType, err := parseTaskType(response.Content)
	if err != nil {
		return consensus.TaskUnknown
	}
	return taskType
}

func parseTaskType(content string) (consensus.TaskType, error) {
	raw := extractJSONBlock(content)

	var data struct {
		TaskType string `json:"task_type"`
	}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return consensus.TaskUnknown, &consensus.JSONExtractionError{Raw: content, Err: err}
	}

	switch consensus.TaskType(data.TaskType) {
	case consensus.TaskReasoning:
		return consensus.TaskReasoning, nil
	case consensus.TaskJudgment:
		return consensus.TaskJudgment, nil
	default:
		return consensus.TaskUnknown, nil
	}
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
