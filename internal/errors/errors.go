// Package errors provides the shared error taxonomy for the document pipeline.
// Every component reports failures as a single *Error tagged with a Kind,
// so callers can classify, redact and present them uniformly.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind identifies the category of a pipeline failure.
type Kind string

const (
	KindConnection        Kind = "connection"
	KindAuthentication    Kind = "authentication"
	KindAuthorization     Kind = "authorization"
	KindContentProcessing Kind = "contentProcessing"
	KindPublishing        Kind = "publishing"
	KindRateLimit         Kind = "rateLimit"
	KindValidation        Kind = "validation"
	KindNetwork           Kind = "network"
	KindParsing           Kind = "parsing"

	// Content-specific kinds raised by the extraction stage.
	KindMarkdownProcessing Kind = "markdownProcessing"
	KindHTMLProcessing     Kind = "htmlProcessing"
	KindEscapeMarker       Kind = "escapeMarker"
	KindContentFormat      Kind = "contentFormat"
	KindContentExtraction  Kind = "contentExtraction"
)

// Attempt records why one extraction strategy failed.
type Attempt struct {
	Strategy string `json:"strategy"`
	Reason   string `json:"reason"`
}

// Error is the tagged pipeline error. Message and TechnicalDetails must be
// redacted by the producing component before the error is built.
type Error struct {
	Kind             Kind
	Message          string
	TechnicalDetails string
	RecoveryAction   string

	// RetryAfterSeconds is set for KindRateLimit.
	RetryAfterSeconds int
	// StatusCode is the HTTP status that produced the error, if any.
	StatusCode int

	// Marker state, set for KindEscapeMarker.
	StartMarkerFound bool
	EndMarkerFound   bool

	// Attempts lists every strategy tried, set for KindContentExtraction.
	Attempts []Attempt

	cause error
}

func (e *Error) Error() string {
	if e.TechnicalDetails != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.TechnicalDetails)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// MarkersMissing reports whether an escape-marker error was caused by both
// markers being absent, which means the generation ignored the output contract.
func (e *Error) MarkersMissing() bool {
	return e.Kind == KindEscapeMarker && !e.StartMarkerFound && !e.EndMarkerFound
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that keeps cause reachable through errors.Is/As.
// The cause's text is not copied into the message; callers add redacted
// details explicitly with WithDetails.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetails sets the technical details and returns the error.
func (e *Error) WithDetails(details string) *Error {
	e.TechnicalDetails = details
	return e
}

// WithRecovery sets the recovery action and returns the error.
func (e *Error) WithRecovery(action string) *Error {
	e.RecoveryAction = action
	return e
}

// WithStatus sets the HTTP status code and returns the error.
func (e *Error) WithStatus(code int) *Error {
	e.StatusCode = code
	return e
}

// NewValidationError creates a validation error for a named field. The
// offending value is deliberately not included.
func NewValidationError(field, message string) *Error {
	msg := message
	if field != "" {
		msg = fmt.Sprintf("invalid %s: %s", field, message)
	}
	return &Error{
		Kind:           KindValidation,
		Message:        msg,
		RecoveryAction: "Check the value and try again.",
	}
}

// NewRateLimitError creates a rate-limit error carrying the server's
// Retry-After hint. The caller decides whether and when to retry.
func NewRateLimitError(operation string, retryAfterSeconds int) *Error {
	return &Error{
		Kind:              KindRateLimit,
		Message:           fmt.Sprintf("rate limit exceeded for %s", operation),
		RecoveryAction:    fmt.Sprintf("Wait %d seconds before retrying.", retryAfterSeconds),
		RetryAfterSeconds: retryAfterSeconds,
		StatusCode:        429,
	}
}

// NewEscapeMarkerError creates an escape-marker error describing which
// markers were found.
func NewEscapeMarkerError(message string, startFound, endFound bool) *Error {
	return &Error{
		Kind:             KindEscapeMarker,
		Message:          message,
		StartMarkerFound: startFound,
		EndMarkerFound:   endFound,
		RecoveryAction:   "Regenerate the document; the response did not follow the @@@START@@@/@@@END@@@ format.",
	}
}

// NewExtractionError aggregates every failed strategy into one error.
func NewExtractionError(attempts []Attempt) *Error {
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		parts = append(parts, a.Strategy+": "+a.Reason)
	}
	return &Error{
		Kind:             KindContentExtraction,
		Message:          fmt.Sprintf("all %d extraction strategies failed", len(attempts)),
		TechnicalDetails: strings.Join(parts, "; "),
		RecoveryAction:   "Regenerate the document or simplify the request.",
		Attempts:         attempts,
	}
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of the *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
