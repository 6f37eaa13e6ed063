package classifier

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
	return consensus.ModelResponse{Content: p.response, Usage: consensus.Usage{InputTokens: 5, OutputTokens: 5}}, nil
}

func regWith(t *testing.T, response string, err error) *registry.Registry {
	t.Helper()
	p := &fakeProvider{
		id:       "anthropic",
		models:   []consensus.ModelInfo{{ProviderID: "anthropic", ModelID: "haiku", InputCostPerMtok: 1}},
		response: response,
		err:      err,
	}
	reg := registry.New()
	if err := reg.Register(p, 0); err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestClassifyReasoning(t *testing.T) {
	reg := regWith(t, `{"task_type":"reasoning"}`, nil)
	if got := Classify(context.Background(), reg, "What's the time complexity of quicksort?"); got != consensus.TaskReasoning {
		t.Fatalf("expected reasoning, got %s", got)
	}
}

func TestClassifyJudgment(t *testing.T) {
	reg := regWith(t, `{"task_type":"judgment"}`, nil)
	if got := Classify(context.Background(), reg, "Which framework is nicer to work with?"); got != consensus.TaskJudgment {
		t.Fatalf("expected judgment, got %s", got)
	}
}

func TestClassifyUnknownOnNoModels(t *testing.T) {
	reg := registry.New()
	if got := Classify(context.Background(), reg, "Q"); got != consensus.TaskUnknown {
		t.Fatalf("expected unknown, got %s", got)
	}
}

func TestClassifyUnknownOnMalformedJSON(t *testing.T) {
	reg := regWith(t, "not json at all", nil)
	if got := Classify(context.Background(), reg, "Q"); got != consensus.TaskUnknown {
		t.Fatalf("expected unknown, got %s", got)
	}
}

func TestClassifyUnknownOnUnrecognizedLabel(t *testing.T) {
	reg := regWith(t, `{"task_type":"creative"}`, nil)
	if got := Classify(context.Background(), reg, "Q"); got != consensus.TaskUnknown {
		t.Fatalf("expected unknown, got %s", got)
	}
}

func TestClassifyUnknownOnProviderError(t *testing.T) {
	reg := regWith(t, "", &consensus.ProviderError{ProviderID: "anthropic", Class: consensus.ProviderErrTimeout})
	if got := Classify(context.Background(), reg, "Q"); got != consensus.TaskUnknown {
		t.Fatalf("expected unknown, got %s", got)
	}
}
