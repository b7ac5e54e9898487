// Package apperr defines the service-wide error taxonomy. Every failure that
// crosses a component boundary is an *Error carrying a Kind; the API layer
// maps kinds to HTTP status codes and the single JSON error envelope.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for HTTP mapping and retry decisions.
type Kind string

const (
	KindValidation        Kind = "VALIDATION"
	KindNotFound          Kind = "NOT_FOUND"
	KindOverloaded        Kind = "OVERLOADED"
	KindDraining          Kind = "DRAINING"
	KindTimeout           Kind = "TIMEOUT"
	KindBrowser           Kind = "BROWSER"
	KindContentExtraction Kind = "CONTENT_EXTRACTION"
	KindResponseTooLarge  Kind = "RESPONSE_TOO_LARGE"
	KindCancelled         Kind = "CANCELLED"
	KindInternal          Kind = "INTERNAL"
)

// Error is the internal error type. It implements the error interface and
// supports wrapping via Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Details string

	// UpstreamStatus is the HTTP status returned by the scraped site, when
	// known. The fingerprint advisor inspects it for anti-bot detection.
	UpstreamStatus int

	Err error // wrapped original error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error.
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithDetails attaches human-readable details (e.g. validation violations).
func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

// WithUpstreamStatus records the HTTP status observed from the target site.
func (e *Error) WithUpstreamStatus(status int) *Error {
	e.UpstreamStatus = status
	return e
}

// From coerces any error into an *Error. Context cancellation and deadline
// errors are classified; everything else becomes KindInternal.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return New(KindTimeout, "operation timed out", err)
	case errors.Is(err, context.Canceled):
		return New(KindCancelled, "request cancelled", err)
	default:
		return New(KindInternal, err.Error(), err)
	}
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}

// HTTPStatus translates a kind to the HTTP status code used in responses.
// Cancelled maps to 400: the client is gone or gave up, so the code is
// cosmetic, but 400 keeps it out of the 5xx alerting bucket.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindCancelled:
		return http.StatusBadRequest // 400
	case KindNotFound:
		return http.StatusNotFound // 404
	case KindOverloaded, KindDraining:
		return http.StatusServiceUnavailable // 503
	case KindTimeout:
		return http.StatusGatewayTimeout // 504
	case KindBrowser:
		return http.StatusBadGateway // 502
	case KindContentExtraction:
		return http.StatusUnprocessableEntity // 422
	case KindResponseTooLarge:
		return http.StatusRequestEntityTooLarge // 413
	default:
		return http.StatusInternalServerError // 500
	}
}
