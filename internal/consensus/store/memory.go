package store

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository is an in-memory Repository for tests and for running the
// core without a configured database.
type MemoryRepository struct {
	mu       sync.Mutex
	threads  map[string]ThreadSummary
	protocol map[string]string
	question map[string]string

	deliberations []DeliberationRecord
}

// NewMemory constructs an empty MemoryRepository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{
		threads:  make(map[string]ThreadSummary),
		protocol: make(map[string]string),
		question: make(map[string]string),
	}
}

func (m *MemoryRepository) CreateThread(ctx context.Context, threadID, question, protocol string, createdAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.threads[threadID]; exists {
		return nil
	}
	m.threads[threadID] = ThreadSummary{ThreadID: threadID}
	m.protocol[threadID] = protocol
	m.question[threadID] = question
	return nil
}

func (m *MemoryRepository) SaveDeliberation(ctx context.Context, rec DeliberationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliberations = append(m.deliberations, rec)
	m.threads[rec.ThreadID] = ThreadSummary{
		ThreadID:  rec.ThreadID,
		Summary:   rec.ThreadSummary,
		UpdatedAt: time.Now(),
	}
	return nil
}

func (m *MemoryRepository) LoadThreadSummary(ctx context.Context, threadID string) (ThreadSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threads[threadID], nil
}

func (m *MemoryRepository) Migrate(ctx context.Context) error { return nil }

func (m *MemoryRepository) Close() error { return nil }

// Deliberations returns every DeliberationRecord saved so far, in save
// order. Test-only accessor.
func (m *MemoryRepository) Deliberations() []DeliberationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeliberationRecord, len(m.deliberations))
	copy(out, m.deliberations)
	return out
}
