// Package sanitize normalizes and validates every value that crosses a trust
// boundary: Confluence base URLs, credentials, page identifiers, query values,
// free text and HTML. Validation failures are validation-kind errors that
// never echo the rejected value.
package sanitize

import (
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	apierrors "github.com/olgasafonova/confluence-spec-mcp-server/internal/errors"
)

const (
	MaxTitleLength      = 255
	MaxQueryValueLength = 1000
	MaxTokenLength      = 1024
	MinTokenLength      = 8
	MaxPageIDLength     = 20
)

var (
	pageIDRegex   = regexp.MustCompile(`^\d+$`)
	spaceKeyRegex = regexp.MustCompile(`^~?[A-Za-z0-9_]{1,255}$`)

	// Script-like payloads rejected in path components and query values.
	// Event handlers only count inside a tag or right after a quote that
	// closes an attribute, so plain text such as "?online=1" passes.
	scriptLikeRegex = regexp.MustCompile(`(?i)<\s*/?\s*(script|iframe|object|embed|svg|img|style)\b|javascript\s*:|vbscript\s*:|data\s*:\s*text/html|<[a-z][^>]*\son[a-z]+\s*=|["']\s+on[a-z]+\s*=\s*["']`)

	// API suffixes users paste along with the base URL.
	apiSuffixes = []string{"/wiki/rest/api", "/rest/api"}
)

// BaseURL trims whitespace, trailing slashes and any REST API suffix from a
// user-supplied Confluence base URL. The result never ends in "/" or
// "/wiki/rest/api".
func BaseURL(raw string) string {
	s := strings.TrimSpace(raw)
	for {
		before := s
		s = strings.TrimRight(s, "/")
		for _, suffix := range apiSuffixes {
			if len(s) >= len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix) {
				s = s[:len(s)-len(suffix)]
			}
		}
		if s == before {
			return s
		}
	}
}

// ValidateBaseURL checks that raw is an absolute http(s) URL with a host and
// no embedded credentials.
func ValidateBaseURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return apierrors.NewValidationError("base URL", "is required")
	}
	if hasControlChars(raw) {
		return apierrors.NewValidationError("base URL", "contains control characters")
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return apierrors.NewValidationError("base URL", "is not a valid URL")
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return apierrors.NewValidationError("base URL", "must use http or https")
	}
	if u.Hostname() == "" {
		return apierrors.NewValidationError("base URL", "must include a host")
	}
	if u.User != nil {
		return apierrors.NewValidationError("base URL", "must not contain credentials")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return apierrors.NewValidationError("base URL", "must not contain a query or fragment")
	}
	return nil
}

// ValidateEmail checks that email is a single bare address.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return apierrors.NewValidationError("email", "is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return apierrors.NewValidationError("email", "is not a valid address")
	}
	return nil
}

// ValidateToken checks the shape of an API token without inspecting its value
// beyond length and character class.
func ValidateToken(token string) error {
	if token == "" {
		return apierrors.NewValidationError("API token", "is required")
	}
	if len(token) < MinTokenLength || len(token) > MaxTokenLength {
		return apierrors.NewValidationError("API token", "has an invalid length")
	}
	for _, r := range token {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r > unicode.MaxASCII {
			return apierrors.NewValidationError("API token", "contains invalid characters")
		}
	}
	return nil
}

// ValidatePageID checks that id is a numeric Confluence content id.
func ValidatePageID(id string) error {
	if id == "" {
		return apierrors.NewValidationError("page id", "is required")
	}
	if len(id) > MaxPageIDLength || !pageIDRegex.MatchString(id) {
		return apierrors.NewValidationError("page id", "must be numeric")
	}
	return nil
}

// ValidateSpaceKey checks a Confluence space key; personal spaces start with "~".
func ValidateSpaceKey(key string) error {
	if key == "" {
		return apierrors.NewValidationError("space key", "is required")
	}
	if !spaceKeyRegex.MatchString(key) {
		return apierrors.NewValidationError("space key", "may only contain letters, digits and underscores")
	}
	return nil
}

// ValidateTitle checks a page title.
func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return apierrors.NewValidationError("title", "is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return apierrors.NewValidationError("title", "is too long")
	}
	if hasControlChars(title) {
		return apierrors.NewValidationError("title", "contains control characters")
	}
	if scriptLikeRegex.MatchString(title) {
		return apierrors.NewValidationError("title", "contains markup")
	}
	return nil
}

// ValidateQueryValue rejects control characters and script-like payloads in
// a value destined for a URL path segment or query string.
func ValidateQueryValue(name, value string) error {
	if len(value) > MaxQueryValueLength {
		return apierrors.NewValidationError(name, "is too long")
	}
	if !utf8.ValidString(value) {
		return apierrors.NewValidationError(name, "is not valid UTF-8")
	}
	if hasControlChars(value) {
		return apierrors.NewValidationError(name, "contains control characters")
	}
	if scriptLikeRegex.MatchString(value) {
		return apierrors.NewValidationError(name, "contains a script-like payload")
	}
	return nil
}

// PathSegment validates and escapes one URL path component.
func PathSegment(name, value string) (string, error) {
	if value == "" {
		return "", apierrors.NewValidationError(name, "is required")
	}
	if err := ValidateQueryValue(name, value); err != nil {
		return "", err
	}
	if value == "." || value == ".." {
		return "", apierrors.NewValidationError(name, "is not a valid path segment")
	}
	return url.PathEscape(value), nil
}

// Text normalizes free text to NFC, drops control characters other than
// newline and tab, and normalizes line endings.
func Text(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == '\u200b' || r == '\ufeff' {
			return -1
		}
		return r
	}, s)
	return norm.NFC.String(s)
}

func hasControlChars(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}
