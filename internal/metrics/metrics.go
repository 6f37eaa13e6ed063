package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestLatency   *prometheus.HistogramVec
	CostUSD          *prometheus.CounterVec
	RateLimitedTotal prometheus.Counter
	TemporalUp       prometheus.Gauge

	// Circuit breaker metrics.
	TemporalCircuitState prometheus.Gauge   // 0=closed, 1=open, 2=half-open
	TemporalFallbackTotal prometheus.Counter // count of requests that fell back to direct engine

	// Consensus engine metrics.
	ConsensusRoundsTotal          *prometheus.CounterVec
	ConsensusConfidence           prometheus.Histogram
	ConsensusConvergenceTotal     *prometheus.CounterVec
	ConsensusChallengerFailures   prometheus.Counter
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duh_consensus_requests_total",
			Help: "Total requests routed through duh",
		}, []string{"mode", "model", "provider", "status"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "duh_consensus_request_latency_ms",
			Help: "Request latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"mode", "model", "provider"}),
		CostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duh_consensus_cost_usd_total",
			Help: "Estimated USD cost",
		}, []string{"model", "provider"}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duh_consensus_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		TemporalUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duh_consensus_temporal_up",
			Help: "Whether Temporal workflow engine is connected (1=up, 0=down/disabled)",
		}),
		TemporalCircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duh_consensus_temporal_circuit_state",
			Help: "Temporal circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		TemporalFallbackTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duh_consensus_temporal_fallback_total",
			Help: "Total requests that fell back to direct engine due to circuit breaker",
		}),
		ConsensusRoundsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duh_consensus_rounds_total",
			Help: "Total deliberation rounds executed, by terminal outcome",
		}, []string{"outcome"}),
		ConsensusConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "duh_consensus_confidence",
			Help:    "Committed deliberation confidence scores",
			Buckets: prometheus.LinearBuckets(0.5, 0.05, 11),
		}),
		ConsensusConvergenceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duh_consensus_convergence_total",
			Help: "Total convergence checks, by result",
		}, []string{"converged"}),
		ConsensusChallengerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duh_consensus_challenger_failures_total",
			Help: "Total individual challenger call failures",
		}),
	}
	reg.MustRegister(m.RequestsTotal, m.RequestLatency, m.CostUSD, m.RateLimitedTotal, m.TemporalUp, m.TemporalCircuitState, m.TemporalFallbackTotal,
		m.ConsensusRoundsTotal, m.ConsensusConfidence, m.ConsensusConvergenceTotal, m.ConsensusChallengerFailures)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
