// Package resilience provides the typed error taxonomy and bounded-retry
// helper shared by every connector call.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// Kind classifies a connector or store failure. The kind decides the
// propagation policy: backoff, bounded retry, record-level skip, or manual
// review.
type Kind string

const (
	// KindRateLimited means the provider signalled throttling (429). The Rate
	// Governor applies a penalty window; the call retries after backoff.
	KindRateLimited Kind = "rate_limited"
	// KindTransient is a network failure or 5xx. Bounded retries, then
	// record-level skip.
	KindTransient Kind = "transient"
	// KindInvalid is a schema or parse failure. The record is logged with its
	// raw payload reference and dropped, never retried.
	KindInvalid Kind = "invalid"
	// KindConflict is a crosswalk uniqueness violation on write. Logged as a
	// data-integrity incident, never silently overwritten.
	KindConflict Kind = "conflict"
	// KindAmbiguous marks two simultaneous claimants to one office slot.
	// Held for manual review, no automatic transition.
	KindAmbiguous Kind = "ambiguous_replacement"
)

// Error carries a failure kind through wrap chains.
type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrExhausted is the terminal signal of a record stream. Not a failure;
// analogous to io.EOF.
var ErrExhausted = errors.New("stream exhausted")

// RateLimited wraps err as a provider throttling signal.
func RateLimited(err error, statusCode int) *Error {
	return &Error{Kind: KindRateLimited, StatusCode: statusCode, Err: err}
}

// Transient wraps err as retryable.
func Transient(err error, statusCode int) *Error {
	return &Error{Kind: KindTransient, StatusCode: statusCode, Err: err}
}

// Invalid wraps err as a non-retryable payload failure.
func Invalid(err error) *Error {
	return &Error{Kind: KindInvalid, Err: err}
}

// Conflict wraps err as a crosswalk-uniqueness violation.
func Conflict(err error) *Error {
	return &Error{Kind: KindConflict, Err: err}
}

// KindOf extracts the failure kind from an error chain. Returns KindTransient
// for errors that look like network-level transient failures even when
// untyped, and empty string otherwise.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if isNetworkTransient(err) {
		return KindTransient
	}
	return ""
}

// IsRateLimited reports whether the error chain carries a throttling signal.
func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimited
}

// IsTransient reports whether the error is safe to retry.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// IsInvalid reports whether the error is a payload failure.
func IsInvalid(err error) bool {
	return KindOf(err) == KindInvalid
}

// IsConflict reports whether the error is a crosswalk collision.
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}

func isNetworkTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// ClassifyStatus maps an HTTP status code to a failure kind. 2xx maps to the
// empty kind.
func ClassifyStatus(statusCode int) Kind {
	switch {
	case statusCode == 429:
		return KindRateLimited
	case statusCode == 408 || statusCode >= 500:
		return KindTransient
	case statusCode >= 400:
		return KindInvalid
	}
	return ""
}
