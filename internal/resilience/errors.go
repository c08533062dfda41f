// Package resilience classifies enrichment failures and paces calls to
// rate-limited providers.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Kind is the failure taxonomy every per-record stage reports in.
type Kind int

// Failure kinds. Only KindFatal aborts a run.
const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindProviderUnavailable
	KindInsufficientPrecision
	KindPersistenceConflict
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindProviderUnavailable:
		return "provider_unavailable"
	case KindInsufficientPrecision:
		return "insufficient_precision"
	case KindPersistenceConflict:
		return "persistence_conflict"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error tags an underlying error with a Kind and the provider that produced it.
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Provider != "" {
		return e.Provider + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Tag wraps err with kind and provider. A nil err yields a bare tagged error.
func Tag(kind Kind, provider string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Err: err}
}

// Unavailable tags err as a provider failure.
func Unavailable(provider string, err error) *Error {
	return Tag(KindProviderUnavailable, provider, err)
}

// StatusError reports a non-success HTTP status from provider.
func StatusError(provider string, statusCode int) *Error {
	return &Error{
		Kind:       KindProviderUnavailable,
		Provider:   provider,
		StatusCode: statusCode,
		Err:        fmt.Errorf("returned status %d", statusCode),
	}
}

// Imprecise tags a result that was dropped for insufficient precision.
func Imprecise(provider, reason string) *Error {
	return Tag(KindInsufficientPrecision, provider, errors.New(reason))
}

// KindOf returns the Kind of the first tagged error in err's chain. Untagged
// network and timeout errors count as provider failures.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || IsTransient(err) {
		return KindProviderUnavailable
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsTransient returns true if the error (or any error in its chain) is a
// provider failure with a transient HTTP status, or matches common transient
// network patterns (timeouts, connection resets, DNS failures).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var e *Error
	if errors.As(err, &e) && e.StatusCode != 0 {
		return IsTransientHTTPStatus(e.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

var transientPatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"transport connection broken",
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}
