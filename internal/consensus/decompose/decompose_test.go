package decompose

import (
	"context"
	"testing"

	"github.com/jordanhubbard/duh/internal/consensus"
	"github.com/jordanhubbard/duh/internal/consensus/registry"
)

type fakeProvider struct {
	id       string
	models   []consensus.ModelInfo
	response string
	err      error
}

func (p *fakeProvider) ID() string                          { return p.id }
func (p *fakeProvider) ListModels() []consensus.ModelInfo    { return p.models }
func (p *fakeProvider) HealthCheck(ctx context.Context) bool { return true }
func (p *fakeProvider) Send(ctx context.Context, modelID string, messages []consensus.Message, maxTokens int, temperature float64, responseFormat string) (consensus.ModelResponse, error) {
	if p.err != nil {
		return consensus.ModelResponse{}, p.err
	}
	return consensus.ModelResponse{Content: p.response, Usage: consensus.Usage{InputTokens: 10, OutputTokens: 10}}, nil
}

func regWith(t *testing.T, response string) *registry.Registry {
	t.Helper()
	p := &fakeProvider{
		id: "anthropic",
		models: []consensus.ModelInfo{
			{ProviderID: "anthropic", ModelID: "haiku", InputCostPerMtok: 1},
			{ProviderID: "anthropic", ModelID: "opus", InputCostPerMtok: 15},
		},
		response: response,
	}
	reg := registry.New()
	if err := reg.Register(p, 0); err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestDecomposeHappyPath(t *testing.T) {
	reg := regWith(t, `{"subtasks":[{"label":"research","description":"gather data","dependencies":[]},{"label":"write","description":"draft the report","dependencies":["research"]}]}`)
	subtasks, err := Decompose(context.Background(), reg, "Write a report", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(subtasks) != 2 {
		t.Fatalf("expected 2 subtasks, got %d", len(subtasks))
	}
}

func TestDecomposeMissingSubtasksKey(t *testing.T) {
	reg := regWith(t, `{"tasks":[]}`)
	if _, err := Decompose(context.Background(), reg, "Q", 0); err == nil {
		t.Fatal("expected error for missing subtasks key")
	}
}

func TestDecomposeMissingLabel(t *testing.T) {
	reg := regWith(t, `{"subtasks":[{"description":"a"},{"label":"b","description":"b"}]}`)
	if _, err := Decompose(context.Background(), reg, "Q", 0); err == nil {
		t.Fatal("expected error for missing label")
	}
}

func TestDecomposeNonStringDependency(t *testing.T) {
	reg := regWith(t, `{"subtasks":[{"label":"a","description":"a","dependencies":[1]},{"label":"b","description":"b"}]}`)
	if _, err := Decompose(context.Background(), reg, "Q", 0); err == nil {
		t.Fatal("expected error for non-string dependency")
	}
}

func TestDecomposeFencedJSON(t *testing.T) {
	reg := regWith(t, "Here you go:\n```json\n"+
		`{"subtasks":[{"label":"a","description":"a"},{"label":"b","description":"b"}]}`+
		"\n```")
	subtasks, err := Decompose(context.Background(), reg, "Q", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(subtasks) != 2 {
		t.Fatalf("expected 2 subtasks, got %d", len(subtasks))
	}
}

func TestValidateCountBounds(t *testing.T) {
	one := []consensus.SubtaskSpec{{Label: "a", Description: "a"}}
	if err := Validate(one, 7); err == nil {
		t.Fatal("expected error for single subtask")
	}

	var many []consensus.SubtaskSpec
	for i := 0; i < 8; i++ {
		many = append(many, consensus.SubtaskSpec{Label: string(rune('a' + i)), Description: "x"})
	}
	if err := Validate(many, 7); err == nil {
		t.Fatal("expected error for exceeding maxSubtasks")
	}
}

func TestValidateDuplicateLabels(t *testing.T) {
	subtasks := []consensus.SubtaskSpec{{Label: "a", Description: "x"}, {Label: "a", Description: "y"}}
	if err := Validate(subtasks, 7); err == nil {
		t.Fatal("expected error for duplicate labels")
	}
}

func TestValidateSelfDependency(t *testing.T) {
	subtasks := []consensus.SubtaskSpec{
		{Label: "a", Description: "x", Dependencies: []string{"a"}},
		{Label: "b", Description: "y"},
	}
	if err := Validate(subtasks, 7); err == nil {
		t.Fatal("expected error for self-dependency")
	}
}

func TestValidateUnknownDependency(t *testing.T) {
	subtasks := []consensus.SubtaskSpec{
		{Label: "a", Description: "x", Dependencies: []string{"ghost"}},
		{Label: "b", Description: "y"},
	}
	if err := Validate(subtasks, 7); err == nil {
		t.Fatal("expected error for unknown dependency")
	}
}

func TestValidateCycle(t *testing.T) {
	subtasks := []consensus.SubtaskSpec{
		{Label: "a", Description: "x", Dependencies: []string{"b"}},
		{Label: "b", Description: "y", Dependencies: []string{"a"}},
	}
	if err := Validate(subtasks, 7); err == nil {
		t.Fatal("expected error for cycle")
	}
}

func TestTopologicalLayers(t *testing.T) {
	subtasks := []consensus.SubtaskSpec{
		{Label: "fetch", Description: "x"},
		{Label: "parse", Description: "y", Dependencies: []string{"fetch"}},
		{Label: "summarize", Description: "z", Dependencies: []string{"parse"}},
	}
	layers, err := TopologicalLayers(subtasks)
	if err != nil {
		t.Fatal(err)
	}
	if len(layers) != 3 {
		t.Fatalf("expected 3 layers, got %d", len(layers))
	}
	if layers[0][0].Label != "fetch" || layers[1][0].Label != "parse" || layers[2][0].Label != "summarize" {
		t.Fatalf("unexpected layer ordering: %+v", layers)
	}
}

func TestTopologicalLayersParallelLayer(t *testing.T) {
	subtasks := []consensus.SubtaskSpec{
		{Label: "a", Description: "x"},
		{Label: "b", Description: "y"},
		{Label: "c", Description: "z", Dependencies: []string{"a", "b"}},
	}
	layers, err := TopologicalLayers(subtasks)
	if err != nil {
		t.Fatal(err)
	}
	if len(layers) != 2 || len(layers[0]) != 2 || len(layers[1]) != 1 {
		t.Fatalf("unexpected layers: %+v", layers)
	}
}
