package orchestrator

import (
	"os"
	"strconv"

	"github.com/jordanhubbard/duh/internal/consensus"
)

// ConfigFromEnv builds a Config from DUH_CONSENSUS_* environment variables,
// falling back to DefaultConfig's values for anything unset or unparsable.
// Mirrors internal/app.LoadConfig's getEnv* helper style.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	cfg.MaxRounds = getEnvInt("DUH_CONSENSUS_MAX_ROUNDS", cfg.MaxRounds)
	cfg.Decompose.MaxSubtasks = getEnvInt("DUH_CONSENSUS_DECOMPOSE_MAX_SUBTASKS", cfg.Decompose.MaxSubtasks)
	cfg.Decompose.Parallel = getEnvBool("DUH_CONSENSUS_DECOMPOSE_PARALLEL", cfg.Decompose.Parallel)
	cfg.Protocol = getEnv("DUH_CONSENSUS_PROTOCOL", cfg.Protocol)
	cfg.Classify = getEnvBool("DUH_CONSENSUS_CLASSIFY", cfg.Classify)
	cfg.ChallengerCount = getEnvInt("DUH_CONSENSUS_CHALLENGER_COUNT", cfg.ChallengerCount)

	switch os.Getenv("DUH_CONSENSUS_VOTING_AGGREGATION") {
	case "majority":
		cfg.VotingAggregation = consensus.AggregationMajority
	case "weighted":
		cfg.VotingAggregation = consensus.AggregationWeighted
	}

	return cfg
}

// CostHardLimitUSDFromEnv reads DUH_CONSENSUS_COST_HARD_LIMIT_USD for wiring
// into registry.WithCostHardLimit. Zero (the default) means unlimited.
func CostHardLimitUSDFromEnv() float64 {
	return getEnvFloat("DUH_CONSENSUS_COST_HARD_LIMIT_USD", 0)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
