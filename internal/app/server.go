package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.temporal.io/sdk/client"
	"golang.org/x/time/rate"

	"github.com/jordanhubbard/duh/internal/circuitbreaker"
	"github.com/jordanhubbard/duh/internal/consensus"
	"github.com/jordanhubbard/duh/internal/consensus/orchestrator"
	"github.com/jordanhubbard/duh/internal/consensus/providers"
	"github.com/jordanhubbard/duh/internal/consensus/registry"
	"github.com/jordanhubbard/duh/internal/consensus/store"
	"github.com/jordanhubbard/duh/internal/events"
	"github.com/jordanhubbard/duh/internal/health"
	"github.com/jordanhubbard/duh/internal/logging"
	"github.com/jordanhubbard/duh/internal/metrics"
	"github.com/jordanhubbard/duh/internal/providers/anthropic"
	"github.com/jordanhubbard/duh/internal/providers/openai"
	"github.com/jordanhubbard/duh/internal/providers/vllm"
	"github.com/jordanhubbard/duh/internal/router"
	temporalpkg "github.com/jordanhubbard/duh/internal/temporal"
	"github.com/jordanhubbard/duh/internal/tracing"
)

// Server is the thin dispatcher in front of the consensus core: it owns the
// HTTP surface, the provider registry, the repository, and — when enabled —
// the Temporal client, but none of the deliberation logic itself. That all
// lives in internal/consensus.
type Server struct {
	cfg Config

	r *chi.Mux

	registry     *registry.Registry
	orchestrator *orchestrator.Orchestrator
	repo         store.Repository
	logger       *slog.Logger
	eventBus     *events.Bus
	metrics      *metrics.Registry

	temporal        *temporalpkg.Manager  // nil when Temporal disabled
	temporalBreaker *circuitbreaker.Breaker
	prober          *health.Prober // nil when no probeable adapters

	rateLimiter *ipRateLimiter

	otelShutdown func(context.Context) error // nil when OTel disabled

	httpServer *http.Server // set via SetHTTPServer; used by Close() to drain in-flight requests
}

func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)

	if cfg.AdminToken == "" {
		cfg.AdminToken = randomToken()
		if cfg.AdminToken != "" {
			logger.Warn("DUH_ADMIN_TOKEN not set, generated a random admin token for this process lifetime only",
				slog.String("admin_token", cfg.AdminToken))
		}
	}

	otelShutdown, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("otel setup: %w", err)
	}
	if cfg.OTelEnabled {
		logger.Info("opentelemetry tracing enabled",
			slog.String("endpoint", cfg.OTelEndpoint),
			slog.String("service", cfg.OTelServiceName),
		)
	}

	m := metrics.New()

	repo, err := store.NewSQLite(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := repo.Migrate(context.Background()); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	logger.Info("database initialized", slog.String("dsn", cfg.DBDSN))

	bus := events.NewBus()

	ht := health.NewTracker(health.DefaultConfig(),
		health.WithEventBus(bus),
		health.WithOnUpdate(func(providerID string, state health.State) {
			logger.Info("provider health changed", slog.String("provider", providerID), slog.String("state", string(state)))
		}),
	)

	reg := registry.New(
		registry.WithCostHardLimit(orchestrator.CostHardLimitUSDFromEnv()),
		registry.WithMetrics(m),
	)

	timeout := time.Duration(cfg.ProviderTimeoutSecs) * time.Second
	probeTargets := loadCredentialsFile(cfg.CredentialsFile, reg, timeout, logger)

	var prober *health.Prober
	if os.Getenv("DUH_HEALTH_PROBE_DISABLED") != "true" && len(probeTargets) > 0 {
		prober = health.NewProber(health.DefaultProberConfig(), ht, probeTargets, logger)
		prober.Start()
		logger.Info("health prober started", slog.Int("targets", len(probeTargets)))
	}

	orch := orchestrator.New(reg, logger,
		orchestrator.WithRepository(repo),
		orchestrator.WithMetrics(m),
	)

	var tm *temporalpkg.Manager
	var breaker *circuitbreaker.Breaker
	if cfg.TemporalEnabled {
		acts := &temporalpkg.Activities{Orchestrator: orch}
		tm, err = temporalpkg.New(temporalpkg.Config{
			HostPort:  cfg.TemporalHostPort,
			Namespace: cfg.TemporalNamespace,
			TaskQueue: cfg.TemporalTaskQueue,
		}, acts)
		if err != nil {
			logger.Warn("temporal unavailable, falling back to direct orchestrator dispatch", slog.String("error", err.Error()))
			tm = nil
			m.TemporalUp.Set(0)
		} else if err := tm.Start(); err != nil {
			logger.Warn("temporal worker failed to start, falling back to direct orchestrator dispatch", slog.String("error", err.Error()))
			tm = nil
			m.TemporalUp.Set(0)
		} else {
			logger.Info("temporal worker started", slog.String("task_queue", cfg.TemporalTaskQueue))
			m.TemporalUp.Set(1)
		}
		breaker = circuitbreaker.New(circuitbreaker.WithOnStateChange(func(from, to circuitbreaker.State) {
			m.TemporalCircuitState.Set(float64(to))
			logger.Info("temporal circuit breaker state changed", slog.String("from", from.String()), slog.String("to", to.String()))
		}))
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	if cfg.OTelEnabled {
		r.Use(tracing.Middleware())
	}
	corsOrigins := cfg.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s := &Server{
		cfg:             cfg,
		r:               r,
		registry:        reg,
		orchestrator:    orch,
		repo:            repo,
		logger:          logger,
		eventBus:        bus,
		metrics:         m,
		temporal:        tm,
		temporalBreaker: breaker,
		prober:          prober,
		rateLimiter:     newIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, m),
		otelShutdown:    otelShutdown,
	}
	s.mountRoutes(m)
	return s, nil
}

func (s *Server) mountRoutes(m *metrics.Registry) {
	s.r.Get("/healthz", s.handleHealthz)
	s.r.Handle("/metrics", m.Handler())

	s.r.Group(func(r chi.Router) {
		r.Use(s.rateLimiter.middleware)
		if s.cfg.AdminToken != "" {
			r.Use(s.requireAdminToken)
		}
		r.Post("/v1/consensus", s.handleConsensus)
		r.Post("/v1/voting", s.handleVoting)
		r.Post("/v1/decompose", s.handleDecompose)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) requireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got == "" || got != s.cfg.AdminToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type consensusRequest struct {
	ThreadID string   `json:"thread_id"`
	Question string   `json:"question"`
	Panel    []string `json:"panel"`
}

type consensusResponse struct {
	Decision     string            `json:"decision"`
	Confidence   float64           `json:"confidence"`
	Dissent      string            `json:"dissent,omitempty"`
	Taxonomy     consensus.Taxonomy `json:"taxonomy"`
	TotalCostUSD float64           `json:"total_cost_usd"`
}

func (s *Server) handleConsensus(w http.ResponseWriter, r *http.Request) {
	var req consensusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	cfg := orchestrator.ConfigFromEnv()

	if s.temporal != nil {
		if s.temporalBreaker.Allow() {
			out, err := s.dispatchTemporalConsensus(r.Context(), req, cfg)
			if err == nil {
				s.temporalBreaker.RecordSuccess()
				writeJSON(w, http.StatusOK, out)
				return
			}
			s.temporalBreaker.RecordFailure()
			s.metrics.TemporalFallbackTotal.Inc()
			s.logger.Warn("temporal dispatch failed, falling back to direct orchestrator", slog.String("error", err.Error()))
		} else {
			s.metrics.TemporalFallbackTotal.Inc()
			s.logger.Warn("temporal circuit open, falling back to direct orchestrator")
		}
	}

	outcome, err := s.orchestrator.RunConsensus(r.Context(), req.ThreadID, req.Question, cfg, req.Panel)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, consensusResponse{
		Decision:     outcome.Decision,
		Confidence:   outcome.Confidence,
		Dissent:      outcome.Dissent,
		Taxonomy:     outcome.Taxonomy,
		TotalCostUSD: outcome.TotalCostUSD,
	})
}

func (s *Server) dispatchTemporalConsensus(ctx context.Context, req consensusRequest, cfg orchestrator.Config) (consensusResponse, error) {
	workflowID := "consensus-" + req.ThreadID
	opts := client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: s.temporal.TaskQueue(),
	}
	s.eventBus.Publish(events.Event{
		Type:         events.EventWorkflowStarted,
		WorkflowID:   workflowID,
		WorkflowType: "ConsensusWorkflow",
		RequestID:    req.ThreadID,
	})
	run, err := s.temporal.Client().ExecuteWorkflow(ctx, opts, temporalpkg.ConsensusWorkflow, temporalpkg.ConsensusWorkflowInput{
		ThreadID: req.ThreadID,
		Question: req.Question,
		Cfg:      cfg,
		Panel:    req.Panel,
	})
	if err != nil {
		s.eventBus.Publish(events.Event{Type: events.EventWorkflowFailed, WorkflowID: workflowID, ErrorMsg: err.Error()})
		return consensusResponse{}, err
	}
	var out temporalpkg.ConsensusOutput
	if err := run.Get(ctx, &out); err != nil {
		s.eventBus.Publish(events.Event{Type: events.EventWorkflowFailed, WorkflowID: workflowID, ErrorMsg: err.Error()})
		return consensusResponse{}, err
	}
	if out.Error != "" {
		s.eventBus.Publish(events.Event{Type: events.EventWorkflowFailed, WorkflowID: workflowID, ErrorMsg: out.Error})
		return consensusResponse{}, fmt.Errorf("%s", out.Error)
	}
	s.eventBus.Publish(events.Event{
		Type:         events.EventWorkflowCompleted,
		WorkflowID:   workflowID,
		TotalCostUSD: out.TotalCostUSD,
	})
	return consensusResponse{
		Decision:     out.Decision,
		Confidence:   out.Confidence,
		Dissent:      out.Dissent,
		Taxonomy:     out.Taxonomy,
		TotalCostUSD: out.TotalCostUSD,
	}, nil
}

type votingRequest struct {
	Question    string                               `json:"question"`
	ModelRefs   []string                              `json:"model_refs"`
	Aggregation consensus.VotingAggregationStrategy `json:"aggregation"`
}

func (s *Server) handleVoting(w http.ResponseWriter, r *http.Request) {
	var req votingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	agg, err := s.orchestrator.RunVoting(r.Context(), req.Question, req.ModelRefs, req.Aggregation)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

type decomposeRequest struct {
	ThreadID string                         `json:"thread_id"`
	Question string                         `json:"question"`
	Strategy consensus.SynthesisStrategy `json:"strategy"`
}

func (s *Server) handleDecompose(w http.ResponseWriter, r *http.Request) {
	var req decomposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = consensus.SynthesisMerge
	}
	cfg := orchestrator.ConfigFromEnv()
	outcome, err := s.orchestrator.RunDecompose(r.Context(), req.ThreadID, req.Question, cfg, strategy)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) Router() http.Handler { return s.r }

// SetHTTPServer registers the HTTP server so that Close() can drain in-flight
// requests via http.Server.Shutdown before releasing other resources.
func (s *Server) SetHTTPServer(srv *http.Server) {
	s.httpServer = srv
}

// Reload applies hot-reloadable configuration parameters at runtime without
// restarting the server.
func (s *Server) Reload(cfg Config) {
	s.rateLimiter.updateLimits(cfg.RateLimitRPS, cfg.RateLimitBurst)
	logging.SetLevel(cfg.LogLevel)
	s.cfg = cfg
	s.logger.Info("configuration reloaded",
		slog.Int("rate_limit_rps", cfg.RateLimitRPS),
		slog.Int("rate_limit_burst", cfg.RateLimitBurst),
		slog.String("log_level", cfg.LogLevel),
	)
}

func (s *Server) Close() error {
	if s.httpServer != nil {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer drainCancel()
		if err := s.httpServer.Shutdown(drainCtx); err != nil {
			s.logger.Warn("HTTP drain error", slog.String("error", err.Error()))
		}
	}

	if s.prober != nil {
		s.prober.Stop()
	}
	if s.temporal != nil {
		s.temporal.Stop()
	}
	if s.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.otelShutdown(ctx); err != nil {
			s.logger.Warn("otel shutdown error", slog.String("error", err.Error()))
		}
	}
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// ipRateLimiter guards /v1/* with a per-client-IP token bucket, replacing
// the flat router's hand-rolled internal/ratelimit with golang.org/x/time/rate
// — the same package Temporal's SDK already pulls in transitively.
type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      int
	burst    int
	metrics  *metrics.Registry
}

func newIPRateLimiter(rps, burst int, m *metrics.Registry) *ipRateLimiter {
	return &ipRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
		metrics:  m,
	}
}

func (l *ipRateLimiter) updateLimits(rps, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rps = rps
	l.burst = burst
	l.limiters = make(map[string]*rate.Limiter)
}

func (l *ipRateLimiter) forIP(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.limiters[ip] = lim
	}
	return lim
}

func (l *ipRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := splitHostPort(r.RemoteAddr); err == nil {
			ip = host
		}
		if !l.forIP(ip).Allow() {
			if l.metrics != nil {
				l.metrics.RateLimitedTotal.Inc()
			}
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func splitHostPort(addr string) (string, string, error) {
	i := strings.LastIndexByte(addr, ':')
	if i < 0 {
		return addr, "", fmt.Errorf("no port in address %q", addr)
	}
	return addr[:i], addr[i+1:], nil
}

// newProviderAdapter constructs the raw router.Sender HTTP client for a
// provider type. The same adapter is both wrapped in a providers.Facade (for
// registry.Provider) and kept raw (for health.Probeable) where supported.
func newProviderAdapter(provType, id, apiKey, baseURL string, timeout time.Duration) (router.Sender, error) {
	switch provType {
	case "anthropic":
		return anthropic.New(id, apiKey, baseURL, anthropic.WithTimeout(timeout)), nil
	case "vllm":
		opts := []vllm.Option{vllm.WithTimeout(timeout)}
		if apiKey != "" {
			opts = append(opts, vllm.WithAPIKey(apiKey))
		}
		return vllm.New(id, baseURL, opts...), nil
	case "openai", "":
		return openai.New(id, apiKey, baseURL), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", provType)
	}
}

type credModel struct {
	ID                string  `json:"id"`
	ProviderID        string  `json:"provider_id"`
	InputCostPerMtok  float64 `json:"input_cost_per_mtok"`
	OutputCostPerMtok float64 `json:"output_cost_per_mtok"`
	ProposerEligible  bool    `json:"proposer_eligible"`
	MaxContextTokens  int     `json:"max_context_tokens"`
	Weight            int     `json:"weight"`
}

type credProvider struct {
	ID              string      `json:"id"`
	Type            string      `json:"type"`
	BaseURL         string      `json:"base_url"`
	APIKey          string      `json:"api_key"`
	RateLimitPerMin int         `json:"rate_limit_per_min"`
	Models          []credModel `json:"models"`
}

type credFile struct {
	Providers []credProvider `json:"providers"`
}

// loadCredentialsFile reads a JSON credentials file (default ~/.duh/credentials)
// describing providers and the models they serve, registering a
// providers.Facade for each with the consensus registry. It returns the raw
// adapters that implement health.Probeable so the caller can wire up a prober.
//
// The file must be owner-readable only (mode 0600 or stricter).
func loadCredentialsFile(path string, reg *registry.Registry, timeout time.Duration, logger *slog.Logger) []health.Probeable {
	if path == "" {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		logger.Warn("credentials file stat error", slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		logger.Warn("credentials file has insecure permissions, skipping",
			slog.String("path", path),
			slog.String("mode", fmt.Sprintf("%04o", mode)),
			slog.String("required", "0600 or stricter"),
		)
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("failed to read credentials file", slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}

	var creds credFile
	if err := json.Unmarshal(data, &creds); err != nil {
		logger.Warn("failed to parse credentials file", slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}

	var probeTargets []health.Probeable
	for _, p := range creds.Providers {
		if p.ID == "" || p.BaseURL == "" {
			logger.Warn("skipping credentials provider: id and base_url required", slog.String("id", p.ID))
			continue
		}
		adapter, err := newProviderAdapter(p.Type, p.ID, p.APIKey, p.BaseURL, timeout)
		if err != nil {
			logger.Warn("skipping credentials provider: unknown type", slog.String("provider", p.ID), slog.String("type", p.Type))
			continue
		}
		if probeable, ok := adapter.(health.Probeable); ok {
			probeTargets = append(probeTargets, probeable)
		}

		models := make([]consensus.ModelInfo, 0, len(p.Models))
		for _, cm := range p.Models {
			models = append(models, consensus.ModelInfo{
				ProviderID:        p.ID,
				ModelID:           cm.ID,
				InputCostPerMtok:  cm.InputCostPerMtok,
				OutputCostPerMtok: cm.OutputCostPerMtok,
				ProposerEligible:  cm.ProposerEligible,
				MaxContextTokens:  cm.MaxContextTokens,
				Weight:            cm.Weight,
			})
		}

		facade := providers.New(p.ID, adapter, models)
		rateLimit := p.RateLimitPerMin
		if rateLimit <= 0 {
			rateLimit = 60
		}
		if err := reg.Register(facade, rateLimit); err != nil {
			logger.Warn("failed to register provider", slog.String("provider", p.ID), slog.String("error", err.Error()))
			continue
		}
		logger.Info("registered provider from credentials file",
			slog.String("provider", p.ID), slog.String("base_url", p.BaseURL), slog.Int("models", len(models)))
	}

	return probeTargets
}

// randomToken generates an admin token for first-run bootstrap when none is
// configured via DUH_ADMIN_TOKEN.
func randomToken() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}
