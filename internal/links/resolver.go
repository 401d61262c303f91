package links

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/olgasafonova/confluence-spec-mcp-server/internal/confluence"
	apierrors "github.com/olgasafonova/confluence-spec-mcp-server/internal/errors"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/infra"
	"github.com/olgasafonova/confluence-spec-mcp-server/metrics"
	"github.com/olgasafonova/confluence-spec-mcp-server/tracing"
)

const (
	// DefaultCacheSize bounds the number of cached links
	DefaultCacheSize = 500

	// DefaultMaxContentLength caps embedded page text, in runes
	DefaultMaxContentLength = 8000

	// DefaultMaxConcurrent bounds parallel resolutions in ExpandText
	DefaultMaxConcurrent = 4
)

// PageSource is the subset of the Confluence client the resolver needs.
type PageSource interface {
	GetPage(ctx context.Context, id string) (*confluence.Page, error)
	FindPageByTitle(ctx context.Context, spaceKey, title string) (*confluence.Page, bool, error)
	ResolveShortLink(ctx context.Context, shortURL string) (string, error)
}

// Resolver turns Confluence links into WikiLinks, caching successful
// resolutions per URL.
type Resolver struct {
	source        PageSource
	baseURL       string
	cache         *infra.Cache[WikiLink]
	dedup         *infra.RequestDeduplicator[WikiLink]
	ttl           time.Duration
	now           func() time.Time
	logger        *slog.Logger
	maxConcurrent int
	maxContentLen int
	cacheSize     int
}

// Option configures the Resolver
type Option func(*Resolver)

// WithTTL sets how long resolved links are cached
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithLogger sets a custom logger
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// WithClock overrides the clock for timestamps and cache expiry
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// WithCacheSize sets the maximum number of cached links
func WithCacheSize(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.cacheSize = n
		}
	}
}

// WithMaxConcurrent sets how many links ExpandText resolves in parallel
func WithMaxConcurrent(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxConcurrent = n
		}
	}
}

// WithMaxContentLength caps the embedded text per page, in runes
func WithMaxContentLength(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxContentLen = n
		}
	}
}

// NewResolver creates a resolver fetching through source. baseURL is used
// when a call does not name one.
func NewResolver(source PageSource, baseURL string, opts ...Option) *Resolver {
	r := &Resolver{
		source:        source,
		baseURL:       baseURL,
		ttl:           DefaultTTL,
		now:           time.Now,
		logger:        slog.Default(),
		maxConcurrent: DefaultMaxConcurrent,
		maxContentLen: DefaultMaxContentLength,
		cacheSize:     DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cache = infra.NewCache[WikiLink](r.cacheSize, infra.WithClock[WikiLink](r.now))
	r.dedup = infra.NewRequestDeduplicator[WikiLink]()
	return r
}

// CacheStats returns link cache statistics.
func (r *Resolver) CacheStats() infra.CacheStats {
	return r.cache.Stats()
}

// Invalidate drops a cached link so the next Resolve fetches it again.
func (r *Resolver) Invalidate(rawURL string) {
	r.cache.Delete(strings.TrimSpace(rawURL))
	metrics.SetLinkCacheSize(r.cache.Size())
}

// Resolve resolves rawURL against baseURL ("" for the resolver's default).
// It never fails: problems are reported as a failed WikiLink that keeps the
// original URL. Only successful resolutions are cached.
func (r *Resolver) Resolve(ctx context.Context, rawURL, baseURL string) WikiLink {
	rawURL = strings.TrimSpace(rawURL)
	if baseURL == "" {
		baseURL = r.baseURL
	}

	shape, err := Classify(rawURL, baseURL)
	if err != nil {
		metrics.RecordLinkResolution(false)
		return NewFailedLink(rawURL, "", errorText(err), r.now())
	}

	if link, ok := r.cache.Get(rawURL); ok && link.IsFreshAt(r.now(), r.ttl) {
		metrics.RecordLinkCacheAccess(true)
		return link
	}
	metrics.RecordLinkCacheAccess(false)

	link, shared, err := r.dedup.Do(ctx, rawURL, func(ctx context.Context) (WikiLink, error) {
		return r.fetch(ctx, rawURL, shape), nil
	})
	if err != nil {
		link = NewFailedLink(rawURL, ExtractPageID(rawURL), errorText(err), r.now())
	}

	if link.IsValid && !shared {
		r.cache.Set(rawURL, link, r.ttl)
		metrics.SetLinkCacheSize(r.cache.Size())
	}
	metrics.RecordLinkResolution(link.IsValid)
	return link
}

func (r *Resolver) fetch(ctx context.Context, rawURL string, shape Shape) WikiLink {
	ctx, span := tracing.StartSpan(ctx, "links.resolve")
	defer span.End()

	page, err := r.lookup(ctx, rawURL, shape)
	if err != nil {
		tracing.RecordError(span, err)
		r.logger.Warn("Link resolution failed",
			"url", rawURL,
			"shape", shape.String(),
			"error", errorText(err))
		return NewFailedLink(rawURL, ExtractPageID(rawURL), errorText(err), r.now())
	}

	tracing.AddConfluenceAttributes(span, "resolve_link", "GET", page.ID)
	r.logger.Debug("Link resolved",
		"url", rawURL,
		"page_id", page.ID,
		"title", page.Title)
	return NewResolvedLink(rawURL, page.ID, r.pageContent(page), r.now())
}

func (r *Resolver) lookup(ctx context.Context, rawURL string, shape Shape) (*confluence.Page, error) {
	switch shape {
	case ShapePage:
		return r.source.GetPage(ctx, ExtractPageID(rawURL))

	case ShapeShort:
		target, err := r.source.ResolveShortLink(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if id := ExtractPageID(target); id != "" {
			return r.source.GetPage(ctx, id)
		}
		if spaceKey, title, ok := displayTarget(target); ok {
			return r.byTitle(ctx, spaceKey, title)
		}
		return nil, apierrors.New(apierrors.KindParsing, "short link does not point to a page")

	case ShapeDisplay:
		spaceKey, title, ok := displayTarget(rawURL)
		if !ok {
			return nil, apierrors.New(apierrors.KindParsing, "link does not name a space and page title")
		}
		return r.byTitle(ctx, spaceKey, title)

	default:
		return nil, apierrors.New(apierrors.KindParsing, "link does not contain a page id")
	}
}

func (r *Resolver) byTitle(ctx context.Context, spaceKey, title string) (*confluence.Page, error) {
	page, ok, err := r.source.FindPageByTitle(ctx, spaceKey, title)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apierrors.Newf(apierrors.KindConnection, "no page titled %q in space %s", title, spaceKey)
	}
	if page.Content == "" && page.ID != "" {
		// Search results may omit the body.
		return r.source.GetPage(ctx, page.ID)
	}
	return page, nil
}

// pageContent renders a page as plain text prefixed with its title,
// truncated to the configured length.
func (r *Resolver) pageContent(page *confluence.Page) string {
	text := PlainText(page.Content)
	if text == "" {
		return ""
	}
	content := page.Title + ": " + text
	if utf8.RuneCountInString(content) > r.maxContentLen {
		runes := []rune(content)
		content = string(runes[:r.maxContentLen]) + "..."
	}
	return content
}

// PlainText extracts the visible text of a storage-format body, with
// whitespace collapsed.
func PlainText(storage string) string {
	if strings.TrimSpace(storage) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(storage))
	if err != nil {
		return singleLine(storage)
	}
	doc.Find("script, style").Remove()
	var parts []string
	doc.Find("body").Contents().Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return singleLine(strings.Join(parts, " "))
}

// errorText is the user-facing reason stored on a failed link. Errors from
// the Confluence client are already redacted.
func errorText(err error) string {
	if e, ok := apierrors.As(err); ok {
		if e.Kind == apierrors.KindRateLimit {
			return fmt.Sprintf("%s (retry after %d seconds)", e.Message, e.RetryAfterSeconds)
		}
		return e.Message
	}
	return apierrors.Redact(err.Error())
}
