package store

import (
	"context"
	"testing"
	"time"
)

func TestMemoryRepositoryCreateThreadIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	if err := m.CreateThread(ctx, "t1", "Q", "consensus", now); err != nil {
		t.Fatal(err)
	}
	if err := m.CreateThread(ctx, "t1", "different question", "consensus", now); err != nil {
		t.Fatal(err)
	}
}

func TestMemoryRepositorySaveAndLoadSummary(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	rec := DeliberationRecord{ThreadID: "t1", ThreadSummary: "a summary"}
	if err := m.SaveDeliberation(ctx, rec); err != nil {
		t.Fatal(err)
	}
	summary, err := m.LoadThreadSummary(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if summary.Summary != "a summary" {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(m.Deliberations()) != 1 {
		t.Fatalf("expected 1 recorded deliberation, got %d", len(m.Deliberations()))
	}
}

func TestMemoryRepositoryUnknownThreadReturnsZeroValue(t *testing.T) {
	m := NewMemory()
	summary, err := m.LoadThreadSummary(context.Background(), "missing")
	if err != nil {
		t.Fatal(err)
	}
	if summary.Summary != "" {
		t.Fatalf("expected zero value, got %+v", summary)
	}
}
