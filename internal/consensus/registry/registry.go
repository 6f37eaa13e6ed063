// Package registry implements the Provider Registry: model lookup, a
// per-provider sliding-window rate budget, and cumulative cost accounting
// shared across concurrent deliberations.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/jordanhubbard/duh/internal/consensus"
	"github.com/jordanhubbard/duh/internal/metrics"
)

// Provider is the capability every registered model source implements.
// Concrete adapters in internal/providers/{anthropic,openai,vllm} implement
// router.Sender for the flat router; a thin facade over the same client
// satisfies this interface for the consensus core.
type Provider interface {
	ID() string
	ListModels() []consensus.ModelInfo
	Send(ctx context.Context, modelID string, messages []consensus.Message, maxTokens int, temperature float64, responseFormat string) (consensus.ModelResponse, error)
	HealthCheck(ctx context.Context) bool
}

type registeredProvider struct {
	provider Provider
	models   map[string]consensus.ModelInfo // modelRef -> info
	rateLimitPerMin int
	callTimes       []time.Time // sliding 60s window of getProvider calls
}

// Registry wraps a mutex-guarded provider map, exactly as router.Engine
// guards its adapters map. It is the only legitimately shared mutable state
// in the consensus core; DeliberationContexts are never shared.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*registeredProvider

	costHardLimitUSD float64
	cumulativeCostUSD float64

	metrics *metrics.Registry // optional, nil-safe

	nowFunc func() time.Time
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithCostHardLimit sets the cumulative cost ceiling. Zero means unlimited.
func WithCostHardLimit(usd float64) Option {
	return func(r *Registry) { r.costHardLimitUSD = usd }
}

// WithMetrics wires usage recording into the shared Prometheus registry so
// consensus cost is visible on the same /metrics surface as router cost.
func WithMetrics(m *metrics.Registry) Option {
	return func(r *Registry) { r.metrics = m }
}

// New constructs an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		providers: make(map[string]*registeredProvider),
		nowFunc:   time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds a provider and its models. Idempotent registration is
// rejected: a repeat providerId fails with DuplicateProviderError.
func (r *Registry) Register(p Provider, rateLimitPerMin int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[p.ID()]; exists {
		return &consensus.DuplicateProviderError{ProviderID: p.ID()}
	}

	models := make(map[string]consensus.ModelInfo)
	for _, m := range p.ListModels() {
		models[m.ModelRef()] = m
	}

	r.providers[p.ID()] = &registeredProvider{
		provider:        p,
		models:          models,
		rateLimitPerMin: rateLimitPerMin,
	}
	return nil
}

// Unregister removes a provider and all its models.
func (r *Registry) Unregister(providerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[providerID]; !exists {
		return &consensus.ProviderNotFoundError{ProviderID: providerID}
	}
	delete(r.providers, providerID)
	return nil
}

// ListAllModels returns a snapshot of every registered ModelInfo.
func (r *Registry) ListAllModels() []consensus.ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []consensus.ModelInfo
	for _, rp := range r.providers {
		for _, m := range rp.models {
			out = append(out, m)
		}
	}
	return out
}

// GetModelInfo looks up a single model by its modelRef.
func (r *Registry) GetModelInfo(modelRef string) (consensus.ModelInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rp := range r.providers {
		if m, ok := rp.models[modelRef]; ok {
			return m, nil
		}
	}
	return consensus.ModelInfo{}, &consensus.ModelNotFoundError{ModelRef: modelRef}
}

// GetProvider resolves a modelRef to its Provider and bare modelID,
// enforcing the provider's sliding-window rate budget. A configured limit
// of zero means unlimited.
func (r *Registry) GetProvider(modelRef string) (Provider, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, err := r.unlockedModelInfo(modelRef)
	if err != nil {
		return nil, "", err
	}

	rp := r.providers[info.ProviderID]
	if rp.rateLimitPerMin > 0 {
		cutoff := r.nowFunc().Add(-60 * time.Second)
		kept := rp.callTimes[:0]
		for _, t := range rp.callTimes {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		rp.callTimes = kept

		if len(rp.callTimes) >= rp.rateLimitPerMin {
			return nil, "", &consensus.ProviderQuotaExceededError{
				ProviderID:  info.ProviderID,
				LimitPerMin: rp.rateLimitPerMin,
			}
		}
	}
	rp.callTimes = append(rp.callTimes, r.nowFunc())

	return rp.provider, info.ModelID, nil
}

func (r *Registry) unlockedModelInfo(modelRef string) (consensus.ModelInfo, error) {
	for _, rp := range r.providers {
		if m, ok := rp.models[modelRef]; ok {
			return m, nil
		}
	}
	return consensus.ModelInfo{}, &consensus.ModelNotFoundError{ModelRef: modelRef}
}

// RecordUsage accumulates token usage into cumulative cost and reports the
// incremental cost of this call. Fails with CostLimitExceededError if the
// new cumulative cost would cross the configured hard limit.
func (r *Registry) RecordUsage(info consensus.ModelInfo, usage consensus.Usage) (float64, error) {
	cost := EstimateCostUSD(usage, info)

	r.mu.Lock()
	defer r.mu.Unlock()

	newTotal := r.cumulativeCostUSD + cost
	if r.costHardLimitUSD > 0 && newTotal > r.costHardLimitUSD {
		return 0, &consensus.CostLimitExceededError{LimitUSD: r.costHardLimitUSD, CurrentUSD: newTotal}
	}
	r.cumulativeCostUSD = newTotal

	if r.metrics != nil {
		r.metrics.CostUSD.WithLabelValues(info.ModelRef(), info.ProviderID).Add(cost)
	}

	return cost, nil
}

// EstimateCostUSD computes the dollar cost of one call's token usage.
func EstimateCostUSD(usage consensus.Usage, info consensus.ModelInfo) float64 {
	return (float64(usage.InputTokens)*info.InputCostPerMtok +
		float64(usage.OutputTokens)*info.OutputCostPerMtok) / 1_000_000
}

// TotalCostUSD returns the cumulative cost recorded so far.
func (r *Registry) TotalCostUSD() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cumulativeCostUSD
}

// ResetCost clears cumulative cost counters. Used by tests and per-request
// cost bounds.
func (r *Registry) ResetCost() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cumulativeCostUSD = 0
}
