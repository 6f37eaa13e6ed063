package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config is the process-level configuration surface: listener, logging,
// storage, and provider credentials. Deliberation behavior itself
// (DUH_CONSENSUS_*) is loaded separately by
// internal/consensus/orchestrator.ConfigFromEnv, since it belongs to the
// core rather than this thin dispatcher.
type Config struct {
	ListenAddr string
	LogLevel   string

	DBDSN string

	ProviderTimeoutSecs int

	// Security & hardening.
	AdminToken     string   // bearer token required by POST /v1/consensus, /v1/voting and /v1/decompose
	CORSOrigins    []string // allowed CORS origins; empty = ["*"]
	RateLimitRPS   int      // requests per second per IP
	RateLimitBurst int      // burst capacity per IP

	// OpenTelemetry tracing (opt-in).
	OTelEnabled     bool   // DUH_OTEL_ENABLED, default false
	OTelEndpoint    string // DUH_OTEL_ENDPOINT, default "localhost:4318"
	OTelServiceName string // DUH_OTEL_SERVICE_NAME, default "duh"

	// Temporal workflow engine: optional durable execution substrate one
	// layer above the core (internal/temporal).
	TemporalEnabled   bool
	TemporalHostPort  string
	TemporalNamespace string
	TemporalTaskQueue string

	// External credentials file describing which model providers to
	// register at startup.
	CredentialsFile string // DUH_CREDENTIALS_FILE, default ~/.duh/credentials
}

func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr: getEnv("DUH_LISTEN_ADDR", ":8080"),
		LogLevel:   getEnv("DUH_LOG_LEVEL", "info"),
		DBDSN:      getEnv("DUH_DB_DSN", "file:/data/duh.sqlite"),

		ProviderTimeoutSecs: getEnvInt("DUH_PROVIDER_TIMEOUT_SECS", 60),

		AdminToken:     getEnv("DUH_ADMIN_TOKEN", ""),
		CORSOrigins:    getEnvStringSlice("DUH_CORS_ORIGINS", nil),
		RateLimitRPS:   getEnvInt("DUH_RATE_LIMIT_RPS", 60),
		RateLimitBurst: getEnvInt("DUH_RATE_LIMIT_BURST", 120),

		OTelEnabled:     getEnvBool("DUH_OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("DUH_OTEL_ENDPOINT", "localhost:4318"),
		OTelServiceName: getEnv("DUH_OTEL_SERVICE_NAME", "duh"),

		TemporalEnabled:   getEnvBool("DUH_TEMPORAL_ENABLED", false),
		TemporalHostPort:  getEnv("DUH_TEMPORAL_HOST", "localhost:7233"),
		TemporalNamespace: getEnv("DUH_TEMPORAL_NAMESPACE", "duh"),
		TemporalTaskQueue: getEnv("DUH_TEMPORAL_TASK_QUEUE", "duh-consensus"),

		CredentialsFile: getEnv("DUH_CREDENTIALS_FILE", defaultCredentialsPath()),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("DUH_RATE_LIMIT_RPS must be > 0, got %d", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("DUH_RATE_LIMIT_BURST must be > 0, got %d", c.RateLimitBurst)
	}
	if c.ProviderTimeoutSecs <= 0 {
		return fmt.Errorf("DUH_PROVIDER_TIMEOUT_SECS must be > 0, got %d", c.ProviderTimeoutSecs)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}

func defaultCredentialsPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".duh", "credentials")
	}
	return ""
}
