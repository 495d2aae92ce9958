package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ============================================================================
// ERROR TAXONOMY
// Leaf components wrap external failures with a kind tag and structured
// context. The orchestrator translates kinds into agent results or response
// statuses; only Fatal propagates to the shell unhandled.
// ============================================================================

// ErrorKind classifies a failure for routing, retry, and surfacing decisions.
type ErrorKind string

const (
	// KindConfig marks invalid inputs. Fatal for the query, surfaced as-is.
	KindConfig ErrorKind = "ConfigError"

	// KindTransient marks failures expected to succeed on retry.
	KindTransient ErrorKind = "Transient"

	// KindRateLimited marks provider throttling. Retried honoring the
	// RetryAfter hint when present, otherwise treated as Transient.
	KindRateLimited ErrorKind = "RateLimited"

	// KindBudgetExhausted marks token, time, or cycle budget exhaustion.
	// Never retried; the orchestrator returns a partial synthesis.
	KindBudgetExhausted ErrorKind = "BudgetExhausted"

	// KindAgentFailure marks an agent whose breaker tripped; the agent is
	// skipped for the remaining cycles of the query.
	KindAgentFailure ErrorKind = "AgentFailure"

	// KindStorage marks a storage operation failure. Reads degrade to empty
	// results with a capability flag; writes retry once before surfacing.
	KindStorage ErrorKind = "StorageError"

	// KindAuditInconclusive marks claims the auditor could not classify
	// after the maximum rounds. Hedging applies; not an error to the caller.
	KindAuditInconclusive ErrorKind = "AuditInconclusive"

	// KindCancelled marks cooperative cancellation.
	KindCancelled ErrorKind = "Cancelled"

	// KindFatal marks an internal invariant violation.
	KindFatal ErrorKind = "Fatal"
)

// Error is a kind-tagged error with the operation that produced it.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string

	// RetryAfter carries a throttling hint for KindRateLimited.
	RetryAfter time.Duration

	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Op, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a kind-tagged error.
func New(kind ErrorKind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Newf creates a kind-tagged error with a formatted message.
func Newf(kind ErrorKind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// WrapErr tags an underlying error with a kind and operation.
func WrapErr(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of err. Context cancellation and deadline errors
// classify without tagging; untagged errors report KindFatal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindFatal
}

// IsRetriable reports whether err may be retried with backoff.
func IsRetriable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRateLimited:
		return true
	}
	return false
}

// RetryAfterHint returns the throttling hint attached to err, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.RetryAfter > 0 {
		return e.RetryAfter, true
	}
	return 0, false
}

// StatusOf maps an error to the status code surfaced by shells.
func StatusOf(err error) StatusCode {
	if err == nil {
		return StatusOK
	}
	switch KindOf(err) {
	case KindConfig:
		return StatusBadRequest
	case KindCancelled:
		return StatusCancelled
	case KindBudgetExhausted:
		return StatusDeadlineExceeded
	case KindTransient, KindRateLimited, KindStorage:
		return StatusUnavailable
	default:
		return StatusInternal
	}
}
