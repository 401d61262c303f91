package errors

import (
	"fmt"
	"strings"
)

// Severity describes how a failure should be surfaced to the user.
type Severity string

const (
	// SeverityCritical failures interrupt the user with a dialog.
	SeverityCritical Severity = "critical"
	// SeverityTransient failures are shown as inline notices.
	SeverityTransient Severity = "transient"
)

// ShouldShowAsDialog reports whether err needs the user's attention before
// they can continue: the generated document could not be recovered at all.
func ShouldShowAsDialog(err error) bool {
	e, ok := As(err)
	if !ok {
		return false
	}
	switch e.Kind {
	case KindContentExtraction, KindMarkdownProcessing, KindHTMLProcessing:
		return true
	case KindEscapeMarker:
		return e.MarkersMissing()
	default:
		return false
	}
}

// SeverityOf maps err to a presentation severity.
func SeverityOf(err error) Severity {
	if ShouldShowAsDialog(err) {
		return SeverityCritical
	}
	return SeverityTransient
}

// RecoverySuggestions returns user-facing guidance for err, most specific first.
func RecoverySuggestions(err error) []string {
	e, ok := As(err)
	if !ok {
		return []string{"Try the operation again."}
	}

	var out []string
	if e.RecoveryAction != "" {
		out = append(out, e.RecoveryAction)
	}

	switch e.Kind {
	case KindConnection:
		out = append(out,
			"Check that the Confluence base URL is correct and reachable.",
			"Verify your network connection.")
	case KindNetwork:
		out = append(out,
			"Check your network connection.",
			"The request may have timed out; try again in a moment.")
	case KindAuthentication:
		out = append(out,
			"Verify the email address matches the account that owns the API token.",
			"Create a new API token and store it again.")
	case KindAuthorization:
		out = append(out,
			"Ask a space administrator for permission to view or edit pages in this space.")
	case KindRateLimit:
		if e.RetryAfterSeconds > 0 {
			out = append(out, fmt.Sprintf("Confluence asked to wait %d seconds.", e.RetryAfterSeconds))
		}
		out = append(out, "Reduce the number of linked pages resolved at once.")
	case KindValidation:
		out = append(out, "Review the connection settings and the page details.")
	case KindParsing:
		out = append(out, "The server returned an unexpected response; confirm the base URL points at Confluence.")
	case KindPublishing:
		out = append(out,
			"Check that the space key exists and the page was not modified concurrently.",
			"Your document is unchanged locally; you can publish again.")
	case KindEscapeMarker:
		if e.MarkersMissing() {
			out = append(out, "The model ignored the output format; regenerate the document.")
		} else {
			out = append(out, "The model output was cut off or malformed; regenerate the document.")
		}
	case KindContentExtraction, KindMarkdownProcessing, KindHTMLProcessing, KindContentFormat, KindContentProcessing:
		out = append(out,
			"Regenerate the document.",
			"Shorten the input or split it into smaller requests.")
	}

	return dedupe(out)
}

// FormatForLogging renders err as a single structured log line. TechnicalDetails
// are expected to be redacted already by the producing component.
func FormatForLogging(err error, context string) string {
	e, ok := As(err)
	if !ok {
		if err == nil {
			return fmt.Sprintf("[%s] kind=unknown message=%q", context, "")
		}
		return fmt.Sprintf("[%s] kind=unknown message=%q", context, Redact(err.Error()))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] kind=%s message=%q", context, e.Kind, e.Message)
	fmt.Fprintf(&sb, " recoveryAction=%q", e.RecoveryAction)
	fmt.Fprintf(&sb, " technicalDetails=%q", e.TechnicalDetails)
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " status=%d", e.StatusCode)
	}
	if e.Kind == KindRateLimit {
		fmt.Fprintf(&sb, " retryAfterSeconds=%d", e.RetryAfterSeconds)
	}
	return sb.String()
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
