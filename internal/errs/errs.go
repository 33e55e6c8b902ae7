// Package errs defines the error taxonomy every layer of Mark propagates
// against: Transient, Validation, NotFound, Duplicate, AdapterFailure and
// Fatal. Call sites wrap a sentinel with fmt.Errorf("...: %w", Sentinel) and
// callers branch with errors.Is.
package errs

import (
	"errors"
	"strings"
)

var (
	// ErrTransient marks a retryable failure: RPC timeout, HTTP 5xx, rate limit.
	ErrTransient = errors.New("transient error")
	// ErrValidation marks a documented invoice/route rejection reason.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks an entity lookup miss on an id the caller believes exists.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate marks a unique-constraint violation.
	ErrDuplicate = errors.New("duplicate")
	// ErrAdapterFailure marks a bridge/swap adapter definitive failure.
	ErrAdapterFailure = errors.New("adapter failure")
	// ErrFatal marks an unrecoverable process-level error (e.g. DB pool death).
	ErrFatal = errors.New("fatal error")
	// ErrQuoteUnavailable marks a bridge adapter's inability to quote a route.
	ErrQuoteUnavailable = errors.New("quote unavailable")
)

// IsTransientMessage classifies a raw error string from an RPC/HTTP client as
// transient using the case-insensitive markers named in spec §7: timeouts,
// 5xx, and rate-limit responses.
func IsTransientMessage(msg string) bool {
	lower := strings.ToLower(msg)
	markers := []string{
		"timeout", "timed out", "too many requests", "429",
		"500", "502", "503", "504", "rate limit", "connection reset",
	}
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
