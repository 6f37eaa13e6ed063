package consensus

import "fmt"

// ConfigurationError reports malformed configuration detected at load time.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// InsufficientModelsError reports that no eligible model exists for a
// requested role (proposer, challenger, voter, decomposer, ...).
type InsufficientModelsError struct {
	Role   string
	Reason string
}

func (e *InsufficientModelsError) Error() string {
	return fmt.Sprintf("insufficient models for %s: %s", e.Role, e.Reason)
}

// InvalidTransitionError reports a state machine transition rejected by the
// transition table or a guard.
type InvalidTransitionError struct {
	From   ConsensusState
	To     ConsensusState
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid transition %s -> %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// ConsensusError is a general deliberation failure: bad DAG, all
// challengers failed, a required context field missing.
type ConsensusError struct {
	Reason string
}

func (e *ConsensusError) Error() string { return e.Reason }

// NewConsensusError constructs a ConsensusError from a formatted message.
func NewConsensusError(format string, args ...any) *ConsensusError {
	return &ConsensusError{Reason: fmt.Sprintf(format, args...)}
}

// ProviderErrorClass distinguishes retryable from fatal provider failures.
type ProviderErrorClass string

const (
	ProviderErrAuth       ProviderErrorClass = "auth"
	ProviderErrRateLimit  ProviderErrorClass = "rate_limit"
	ProviderErrTimeout    ProviderErrorClass = "timeout"
	ProviderErrOverloaded ProviderErrorClass = "overloaded"
	ProviderErrNotFound   ProviderErrorClass = "model_not_found"
)

// ProviderError wraps a provider-side failure with a retry classification.
type ProviderError struct {
	ProviderID string
	Class      ProviderErrorClass
	RetryAfter int // seconds, only meaningful for ProviderErrRateLimit
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s error (%s): %v", e.ProviderID, e.Class, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the error class is worth a bounded retry.
func (e *ProviderError) Retryable() bool {
	switch e.Class {
	case ProviderErrRateLimit, ProviderErrTimeout, ProviderErrOverloaded:
		return true
	default:
		return false
	}
}

// ProviderQuotaExceededError reports a local per-provider rate limit hit.
type ProviderQuotaExceededError struct {
	ProviderID string
	LimitPerMin int
}

func (e *ProviderQuotaExceededError) Error() string {
	return fmt.Sprintf("provider %s exceeded its quota of %d calls/60s", e.ProviderID, e.LimitPerMin)
}

// CostLimitExceededError reports the registry's cumulative cost hard limit
// would be crossed by the attempted usage record.
type CostLimitExceededError struct {
	LimitUSD   float64
	CurrentUSD float64
}

func (e *CostLimitExceededError) Error() string {
	return fmt.Sprintf("cost limit exceeded: current $%.4f, limit $%.4f", e.CurrentUSD, e.LimitUSD)
}

// JSONExtractionError reports a JSON-mode call whose response could not be
// parsed as JSON, even after defensive code-fence stripping.
type JSONExtractionError struct {
	Raw string
	Err error
}

func (e *JSONExtractionError) Error() string {
	return fmt.Sprintf("failed to extract JSON from response: %v", e.Err)
}

func (e *JSONExtractionError) Unwrap() error { return e.Err }

// StorageError reports a repository write failure at deliberation completion.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// DuplicateProviderError reports a register() call for a providerId that is
// already present in the registry.
type DuplicateProviderError struct {
	ProviderID string
}

func (e *DuplicateProviderError) Error() string {
	return fmt.Sprintf("provider %q is already registered", e.ProviderID)
}

// ModelNotFoundError reports a lookup against an unregistered modelRef.
type ModelNotFoundError struct {
	ModelRef string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model %q is not registered", e.ModelRef)
}

// ProviderNotFoundError reports an unregister()/lookup against an unknown
// providerId.
type ProviderNotFoundError struct {
	ProviderID string
}

func (e *ProviderNotFoundError) Error() string {
	return fmt.Sprintf("provider %q is not registered", e.ProviderID)
}
