// Package links detects Confluence links in user text, resolves them to page
// content and substitutes that content into LLM prompts as inline markers.
package links

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	apierrors "github.com/olgasafonova/confluence-spec-mcp-server/internal/errors"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/sanitize"
)

// DefaultTTL is how long a resolved link stays fresh.
const DefaultTTL = 30 * time.Minute

// Content marker delimiters wrapped around resolved page content.
const (
	MarkerPrefix = "@conf-cnt "
	MarkerSuffix = "@"
)

// WikiLink is the outcome of one resolution attempt.
type WikiLink struct {
	OriginalURL      string    `json:"originalUrl"`
	PageID           string    `json:"pageId,omitempty"`
	ExtractedContent string    `json:"extractedContent"`
	ProcessedAt      time.Time `json:"processedAt"`
	IsValid          bool      `json:"isValid"`
	ErrorMessage     string    `json:"errorMessage,omitempty"`
}

// NewResolvedLink records a successful resolution.
func NewResolvedLink(originalURL, pageID, content string, at time.Time) WikiLink {
	return WikiLink{
		OriginalURL:      originalURL,
		PageID:           pageID,
		ExtractedContent: content,
		ProcessedAt:      at,
		IsValid:          true,
	}
}

// NewFailedLink records a failed resolution. The original URL is kept so the
// reference is never dropped.
func NewFailedLink(originalURL, pageID, message string, at time.Time) WikiLink {
	if message == "" {
		message = "link could not be resolved"
	}
	return WikiLink{
		OriginalURL:  originalURL,
		PageID:       pageID,
		ProcessedAt:  at,
		IsValid:      false,
		ErrorMessage: message,
	}
}

// ContentMarker is the text substituted for the link in a prompt: the
// original URL when there is nothing to embed, otherwise the content wrapped
// in a single-line marker.
func (l WikiLink) ContentMarker() string {
	if !l.IsValid {
		return l.OriginalURL
	}
	content := singleLine(l.ExtractedContent)
	if content == "" {
		return l.OriginalURL
	}
	return MarkerPrefix + content + MarkerSuffix
}

// IsFresh reports whether the link was processed less than ttl ago.
func (l WikiLink) IsFresh(ttl time.Duration) bool {
	return l.IsFreshAt(time.Now(), ttl)
}

// IsFreshAt is IsFresh evaluated at now.
func (l WikiLink) IsFreshAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(l.ProcessedAt) < ttl
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var pagesPathRegex = regexp.MustCompile(`/pages/(\d+)`)

var numericRegex = regexp.MustCompile(`^\d+$`)

// ExtractPageID returns the numeric page id in a /pages/<id> path segment or
// a pageId query parameter, or "" when there is none.
func ExtractPageID(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	if m := pagesPathRegex.FindStringSubmatch(u.Path); m != nil {
		return m[1]
	}
	if id := u.Query().Get("pageId"); numericRegex.MatchString(id) {
		return id
	}
	return ""
}

// Shape is the kind of Confluence link.
type Shape int

const (
	ShapeUnknown Shape = iota
	ShapePage          // /pages/<id> or ?pageId=<id>
	ShapeShort         // /x/<code>
	ShapeDisplay       // /display/<space>/<title>
	ShapeOther         // accepted path without a resolvable id
)

func (s Shape) String() string {
	switch s {
	case ShapePage:
		return "page"
	case ShapeShort:
		return "short"
	case ShapeDisplay:
		return "display"
	case ShapeOther:
		return "other"
	default:
		return "unknown"
	}
}

// Classify validates rawURL against the configured base URL and reports its
// shape. The host must match the base host and the path must look like a
// Confluence page link.
func Classify(rawURL, baseURL string) (Shape, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ShapeUnknown, apierrors.NewValidationError("link", "is not an absolute http(s) URL")
	}
	b, err := url.Parse(sanitize.BaseURL(baseURL))
	if err != nil || b.Host == "" {
		return ShapeUnknown, apierrors.NewValidationError("base URL", "is not configured")
	}
	if !strings.EqualFold(u.Hostname(), b.Hostname()) {
		return ShapeUnknown, apierrors.NewValidationError("link", "does not belong to the configured Confluence site")
	}

	path := u.Path
	// Paths relative to a self-hosted context path, e.g. /confluence/x/AbC.
	rel := strings.TrimPrefix(path, strings.TrimRight(b.Path, "/"))

	switch {
	case ExtractPageID(rawURL) != "":
		return ShapePage, nil
	case strings.HasPrefix(path, "/x/") || strings.HasPrefix(rel, "/x/") || strings.HasPrefix(path, "/wiki/x/"):
		return ShapeShort, nil
	case strings.Contains(path, "/display/"):
		return ShapeDisplay, nil
	case strings.Contains(path, "/wiki/"), strings.Contains(path, "/pages/"), strings.Contains(path, "viewpage.action"):
		return ShapeOther, nil
	default:
		return ShapeUnknown, apierrors.NewValidationError("link", "is not a Confluence page link")
	}
}

// Validate reports whether rawURL is an acceptable Confluence link for baseURL.
func Validate(rawURL, baseURL string) error {
	_, err := Classify(rawURL, baseURL)
	return err
}

// displayTarget splits a /display/<space>/<title> path.
func displayTarget(rawURL string) (spaceKey, title string, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", false
	}
	_, rest, found := strings.Cut(u.Path, "/display/")
	if !found {
		return "", "", false
	}
	spaceKey, rawTitle, found := strings.Cut(rest, "/")
	if !found || spaceKey == "" || rawTitle == "" {
		return "", "", false
	}
	title, err = url.QueryUnescape(strings.TrimSuffix(rawTitle, "/"))
	if err != nil || strings.TrimSpace(title) == "" {
		return "", "", false
	}
	return spaceKey, title, true
}
