// Package errs implements the pipeline's error taxonomy: a
// classified error type plus two global marker states (ProviderUnhealthy,
// DegradedMode) that are conditions callers check for, not exceptions that
// propagate.
package errs

import (
	"fmt"
	"time"
)

// Kind classifies a PipelineError for retry/surfacing policy.
type Kind int

const (
	Validation Kind = iota
	NotFound
	RateLimit
	TransientNetwork
	UpstreamSchema
	FatalKind
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "ValidationError"
	case NotFound:
		return "NotFoundError"
	case RateLimit:
		return "RateLimitError"
	case TransientNetwork:
		return "TransientNetworkError"
	case UpstreamSchema:
		return "UpstreamSchemaError"
	case FatalKind:
		return "Fatal"
	default:
		return "UnknownError"
	}
}

// PipelineError is the classified error type all pipeline components return.
type PipelineError struct {
	Kind       Kind
	Op         string // component/operation that raised it, e.g. "priceengine.GetPrice"
	Message    string
	RetryAfter time.Duration // advisory, set for RateLimit
	Cause      error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s (%v)", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Cause }

func newErr(kind Kind, op, msg string, cause error) *PipelineError {
	return &PipelineError{Kind: kind, Op: op, Message: msg, Cause: cause}
}

// NewValidation reports malformed input (address, chain, symbol, decimals).
// Never retried; surfaced immediately.
func NewValidation(op, msg string) *PipelineError {
	return newErr(Validation, op, msg, nil)
}

// NewNotFound reports an unknown asset/token/wallet for an operation that
// requires one.
func NewNotFound(op, msg string) *PipelineError {
	return newErr(NotFound, op, msg, nil)
}

// NewRateLimit reports a 429 or semantic equivalent. Callers retry with
// back-off and endpoint failover; this is only surfaced once exhausted.
func NewRateLimit(op, msg string, retryAfter time.Duration, cause error) *PipelineError {
	e := newErr(RateLimit, op, msg, cause)
	e.RetryAfter = retryAfter
	return e
}

// NewTransientNetwork reports timeouts, connection resets, and 5xx
// responses. Contributes to degraded-mode entry in the price engine.
func NewTransientNetwork(op, msg string, cause error) *PipelineError {
	return newErr(TransientNetwork, op, msg, cause)
}

// NewUpstreamSchema reports a provider response that was non-JSON or
// otherwise unparseable. Treated identically to TransientNetwork for retry
// purposes.
func NewUpstreamSchema(op, msg string, cause error) *PipelineError {
	return newErr(UpstreamSchema, op, msg, cause)
}

// NewFatal reports schema migration failure or cache-table corruption: no
// partial state may be committed, and it is always surfaced to the operator.
func NewFatal(op, msg string, cause error) *PipelineError {
	return newErr(FatalKind, op, msg, cause)
}

// Is reports whether err is a PipelineError of the given kind.
func Is(err error, kind Kind) bool {
	pe, ok := err.(*PipelineError)
	return ok && pe.Kind == kind
}

// IsRetryable reports whether err is one of the kinds a caller should retry
// locally (rate-limit, transient network, upstream schema) rather than
// surface.
func IsRetryable(err error) bool {
	pe, ok := err.(*PipelineError)
	if !ok {
		return false
	}
	switch pe.Kind {
	case RateLimit, TransientNetwork, UpstreamSchema:
		return true
	default:
		return false
	}
}

// ErrProviderUnhealthy is a marker sentinel, not a raised exception: the
// aggregator checks provider health directly and skips unhealthy providers
// without ever constructing this value in normal operation. It exists so
// callers that do want to distinguish "skipped, unhealthy" from "tried and
// failed" have something to compare against with errors.Is.
var ErrProviderUnhealthy = newErr(TransientNetwork, "provider", "provider unhealthy: error threshold reached", nil)

// ErrDegradedMode is a marker sentinel for the price engine's global
// degraded-mode state: price resolution returns (0, ErrDegradedMode) is
// never done — degraded mode returns a plain 0 value, not an error — but
// the sentinel is kept for components (e.g. the scheduler) that want to log
// why a batch resolved to zeroes.
var ErrDegradedMode = newErr(TransientNetwork, "priceengine", "degraded mode active", nil)
