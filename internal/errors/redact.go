package errors

import (
	"regexp"
	"strings"
)

// Redacted replaces secret material in messages.
const Redacted = "[REDACTED]"

var (
	// Authorization header values, in any casing.
	authHeaderRegex = regexp.MustCompile(`(?i)\b(basic|bearer)\s+[A-Za-z0-9+/=._\-]{8,}`)

	// Atlassian API tokens have a recognisable prefix.
	atlassianTokenRegex = regexp.MustCompile(`\bATATT[A-Za-z0-9_\-=]{10,}`)

	// token=..., api_key: ... and similar assignments.
	secretAssignRegex = regexp.MustCompile(`(?i)\b(token|api[_-]?key|password|secret)(["']?\s*[:=]\s*["']?)[^\s"'&,;]+`)
)

// Redact removes every occurrence of the given secrets plus anything that
// looks like a credential from s.
func Redact(s string, secrets ...string) string {
	for _, secret := range secrets {
		if len(secret) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, secret, Redacted)
	}
	s = authHeaderRegex.ReplaceAllString(s, "$1 "+Redacted)
	s = atlassianTokenRegex.ReplaceAllString(s, Redacted)
	s = secretAssignRegex.ReplaceAllString(s, "$1$2"+Redacted)
	return s
}

// RedactError returns a copy of e with Message and TechnicalDetails redacted.
func RedactError(e *Error, secrets ...string) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Message = Redact(e.Message, secrets...)
	cp.TechnicalDetails = Redact(e.TechnicalDetails, secrets...)
	cp.RecoveryAction = Redact(e.RecoveryAction, secrets...)
	return &cp
}
