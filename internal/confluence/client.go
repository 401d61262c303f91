// Package confluence implements the Confluence REST client used by the link
// resolver and the publish workflow. Credentials are looked up per request
// from the credentials store; every failure is reported as a tagged
// *errors.Error with the token redacted.
package confluence

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/olgasafonova/confluence-spec-mcp-server/internal/base"
	apierrors "github.com/olgasafonova/confluence-spec-mcp-server/internal/errors"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/infra"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/sanitize"
	"github.com/olgasafonova/confluence-spec-mcp-server/metrics"
	"github.com/olgasafonova/confluence-spec-mcp-server/tracing"
)

// DefaultRetryAfterSeconds is used when a 429 carries no usable Retry-After.
const DefaultRetryAfterSeconds = 60

// PageExpand is the expansion requested for every page fetch.
const PageExpand = "body.storage,version,ancestors,space"

// TokenSource resolves a token reference to the secret. *credentials.Store
// implements it.
type TokenSource interface {
	Get(ctx context.Context, ref string) (string, bool, error)
}

// Client talks to one Confluence site.
type Client struct {
	*base.Client
	config ConnectionConfig
	tokens TokenSource
	now    func() time.Time
}

// Option configures the Client
type Option func(*Client)

// WithBaseOptions passes options to the underlying HTTP client
func WithBaseOptions(opts ...base.ClientOption) Option {
	return func(c *Client) {
		for _, opt := range opts {
			opt(c.Client)
		}
	}
}

// WithClock overrides the clock used for Retry-After dates and validation stamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a client for cfg. The configuration is normalized but
// not checked here; requests fail with a validation error while it is
// incomplete.
func NewClient(cfg ConnectionConfig, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		Client: base.NewClient(),
		config: cfg.Normalized(),
		tokens: tokens,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the connection configuration the client was built with.
func (c *Client) Config() ConnectionConfig {
	return c.config
}

// Response is a successful (2xx) Confluence response.
type Response struct {
	StatusCode int
	Body       []byte
	FinalURL   string
}

// Request performs one authenticated API call. path is relative to the API
// root, with "/"-separated segments that are each validated and escaped.
// body, when non-nil, is JSON-encoded. Non-2xx statuses become errors.
func (c *Client) Request(ctx context.Context, method, path string, query url.Values, body any) (*Response, error) {
	op := operationName(method, path)

	segments, err := pathSegments(path)
	if err != nil {
		return nil, err
	}
	for name, values := range query {
		for _, v := range values {
			if err := sanitize.ValidateQueryValue(name, v); err != nil {
				return nil, err
			}
		}
	}

	u := APIBaseURL(c.config.BaseURL) + "/" + strings.Join(segments, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, apierrors.Wrap(apierrors.KindPublishing, err, "failed to encode request body")
		}
	}
	return c.send(ctx, op, method, u, payload)
}

// send authenticates and performs a request against an absolute URL.
func (c *Client) send(ctx context.Context, op, method, rawURL string, payload []byte) (*Response, error) {
	ctx, span := tracing.StartSpan(ctx, "confluence."+op)
	defer span.End()
	tracing.AddConfluenceAttributes(span, op, method, "")

	token, err := c.token(ctx)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Basic "+basicCredentials(c.config.Email, token))

	resp, err := c.Do(ctx, base.Request{
		Operation: op,
		Method:    method,
		URL:       rawURL,
		Header:    header,
		Body:      payload,
	})
	if err != nil {
		e := c.transportError(err, token)
		metrics.RecordAPIError(op, string(e.Kind))
		tracing.RecordError(span, e)
		return nil, e
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := c.statusError(op, resp, token)
		metrics.RecordAPIError(op, string(e.Kind))
		tracing.RecordError(span, e)
		return nil, e
	}

	return &Response{StatusCode: resp.StatusCode, Body: resp.Body, FinalURL: resp.FinalURL}, nil
}

// token resolves the configured token reference. Incomplete configuration
// and a missing token are validation failures raised before any network call.
func (c *Client) token(ctx context.Context) (string, error) {
	if !c.config.IsConfigurationComplete() {
		return "", apierrors.New(apierrors.KindValidation, "Confluence connection is not configured").
			WithDetails("missing " + strings.Join(c.config.MissingFields(), ", ")).
			WithRecovery("Configure the Confluence base URL, email and API token.")
	}
	if c.tokens == nil {
		return "", apierrors.New(apierrors.KindValidation, "API token is not available").
			WithRecovery("Store the Confluence API token again.")
	}
	token, ok, err := c.tokens.Get(ctx, c.config.TokenRef)
	if err != nil {
		return "", err
	}
	if !ok || token == "" {
		return "", apierrors.New(apierrors.KindValidation, "API token is not available").
			WithRecovery("Store the Confluence API token again.")
	}
	return token, nil
}

func (c *Client) transportError(err error, token string) *apierrors.Error {
	var open *infra.ErrCircuitOpen
	if errors.As(err, &open) {
		return apierrors.Wrap(apierrors.KindConnection, err, "Confluence is temporarily unavailable").
			WithDetails(open.Error()).
			WithRecovery("Too many recent failures; wait a moment before trying again.")
	}

	msg := "could not reach Confluence"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "request to Confluence timed out"
	} else if errors.Is(err, context.Canceled) {
		msg = "request to Confluence was cancelled"
	}
	return apierrors.Wrap(apierrors.KindNetwork, err, msg).
		WithDetails(apierrors.Redact(err.Error(), token)).
		WithRecovery("Check the network connection and the Confluence base URL.")
}

func (c *Client) statusError(op string, resp *base.Response, token string) *apierrors.Error {
	status := resp.StatusCode
	detail := apierrors.Redact(fmt.Sprintf("HTTP %d: %s", status, errorMessage(resp.Body)), token)

	switch {
	case status == http.StatusTooManyRequests:
		seconds := c.retryAfter(resp.Header.Get("Retry-After"))
		c.Logger.Warn("Confluence rate limit",
			"operation", op,
			"retry_after_seconds", seconds)
		return apierrors.NewRateLimitError(op, seconds).WithDetails(detail)
	case status == http.StatusUnauthorized:
		return apierrors.New(apierrors.KindAuthentication, "Confluence rejected the credentials").
			WithDetails(detail).
			WithStatus(status).
			WithRecovery("Check the email address and API token.")
	case status == http.StatusForbidden:
		return apierrors.New(apierrors.KindAuthorization, "not permitted to perform this Confluence operation").
			WithDetails(detail).
			WithStatus(status).
			WithRecovery("Ask a space administrator for the required permission.")
	case status == http.StatusNotFound:
		return apierrors.New(apierrors.KindConnection, "Confluence resource not found").
			WithDetails(detail).
			WithStatus(status).
			WithRecovery("Check the page id, space key or link.")
	default:
		return apierrors.Newf(apierrors.KindConnection, "Confluence returned HTTP %d", status).
			WithDetails(detail).
			WithStatus(status).
			WithRecovery("Try again later or check the Confluence status page.")
	}
}

// retryAfter parses a Retry-After header given as seconds or an HTTP date.
func (c *Client) retryAfter(v string) int {
	v = strings.TrimSpace(v)
	if v == "" {
		return DefaultRetryAfterSeconds
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 {
			return 0
		}
		return n
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(c.now())
		if d <= 0 {
			return 0
		}
		return int(math.Ceil(d.Seconds()))
	}
	return DefaultRetryAfterSeconds
}

// errorMessage pulls the message out of a Confluence error body, falling
// back to a truncated body.
func errorMessage(body []byte) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		return base.Truncate(e.Message, 300)
	}
	return base.Truncate(sanitize.StripTags(string(body)), 200)
}

func basicCredentials(email, token string) string {
	return base64.StdEncoding.EncodeToString([]byte(email + ":" + token))
}

func pathSegments(path string) ([]string, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		seg, err := sanitize.PathSegment("path segment", p)
		if err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, nil
}

// operationName derives a stable metric label from the method and the
// non-numeric path segments, e.g. "GET content/{id}" -> "get_content_id".
func operationName(method, path string) string {
	parts := []string{strings.ToLower(method)}
	for _, p := range strings.Split(strings.Trim(path, "/"), "/") {
		if p == "" {
			continue
		}
		if _, err := strconv.ParseUint(p, 10, 64); err == nil {
			p = "id"
		}
		parts = append(parts, strings.ToLower(p))
	}
	return strings.Join(parts, "_")
}

// GetPage fetches a page with its storage body, version, ancestors and space.
func (c *Client) GetPage(ctx context.Context, id string) (*Page, error) {
	if err := sanitize.ValidatePageID(id); err != nil {
		return nil, err
	}
	resp, err := c.Request(ctx, http.MethodGet, "content/"+id, url.Values{"expand": {PageExpand}}, nil)
	if err != nil {
		return nil, err
	}
	return decodePage(resp.Body, c.config.BaseURL)
}

// CreatePage creates a page in in.SpaceKey, optionally under in.ParentID.
func (c *Client) CreatePage(ctx context.Context, in PageInput) (*Page, error) {
	if err := sanitize.ValidateSpaceKey(in.SpaceKey); err != nil {
		return nil, err
	}
	if err := sanitize.ValidateTitle(in.Title); err != nil {
		return nil, err
	}
	req := createPageRequest{
		Type:  "page",
		Title: in.Title,
		Space: apiSpace{Key: in.SpaceKey},
		Body:  storageBody{Storage: apiStorage{Value: in.Body, Representation: "storage"}},
	}
	if in.ParentID != "" {
		if err := sanitize.ValidatePageID(in.ParentID); err != nil {
			return nil, err
		}
		req.Ancestors = []idRef{{ID: in.ParentID}}
	}

	resp, err := c.Request(ctx, http.MethodPost, "content", nil, req)
	if err != nil {
		return nil, err
	}
	return decodePage(resp.Body, c.config.BaseURL)
}

// UpdatePage replaces the body and title of page id. in.Version must be the
// new version number, one more than the current one.
func (c *Client) UpdatePage(ctx context.Context, id string, in PageInput) (*Page, error) {
	if err := sanitize.ValidatePageID(id); err != nil {
		return nil, err
	}
	if err := sanitize.ValidateTitle(in.Title); err != nil {
		return nil, err
	}
	if in.Version < 2 {
		return nil, apierrors.NewValidationError("version", "must be greater than the current page version")
	}
	req := updatePageRequest{
		ID:      id,
		Type:    "page",
		Title:   in.Title,
		Body:    storageBody{Storage: apiStorage{Value: in.Body, Representation: "storage"}},
		Version: apiVersion{Number: in.Version},
	}
	if in.SpaceKey != "" {
		req.Space = &apiSpace{Key: in.SpaceKey}
	}

	resp, err := c.Request(ctx, http.MethodPut, "content/"+id, nil, req)
	if err != nil {
		return nil, err
	}
	return decodePage(resp.Body, c.config.BaseURL)
}

// FindPageByTitle looks up a page by exact title within a space.
func (c *Client) FindPageByTitle(ctx context.Context, spaceKey, title string) (*Page, bool, error) {
	if err := sanitize.ValidateSpaceKey(spaceKey); err != nil {
		return nil, false, err
	}
	if err := sanitize.ValidateTitle(title); err != nil {
		return nil, false, err
	}
	q := url.Values{
		"spaceKey": {spaceKey},
		"title":    {title},
		"type":     {"page"},
		"expand":   {PageExpand},
	}
	resp, err := c.Request(ctx, http.MethodGet, "content", q, nil)
	if err != nil {
		return nil, false, err
	}

	var list apiContentList
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return nil, false, apierrors.Wrap(apierrors.KindParsing, err, "Confluence returned a malformed search result")
	}
	if len(list.Results) == 0 {
		return nil, false, nil
	}
	p, err := pageFromContent(list.Results[0], c.config.BaseURL)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// ResolveShortLink follows a /x/<code> short link and returns the URL it
// redirects to. The link must be on the configured host.
func (c *Client) ResolveShortLink(ctx context.Context, shortURL string) (string, error) {
	u, err := url.Parse(shortURL)
	if err != nil || u.Host == "" {
		return "", apierrors.NewValidationError("link", "is not an absolute URL")
	}
	b, err := url.Parse(sanitize.BaseURL(c.config.BaseURL))
	if err != nil || !strings.EqualFold(u.Hostname(), b.Hostname()) {
		return "", apierrors.NewValidationError("link", "does not belong to the configured Confluence site")
	}
	if err := sanitize.ValidateQueryValue("link", shortURL); err != nil {
		return "", err
	}

	resp, err := c.send(ctx, "resolve_short_link", http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	if resp.FinalURL == "" || resp.FinalURL == u.String() {
		return "", apierrors.New(apierrors.KindParsing, "short link did not redirect to a page")
	}
	return resp.FinalURL, nil
}

// CurrentUser returns the account the credentials belong to.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	resp, err := c.Request(ctx, http.MethodGet, "user/current", nil, nil)
	if err != nil {
		return nil, err
	}
	var u apiUser
	if err := json.Unmarshal(resp.Body, &u); err != nil {
		return nil, apierrors.Wrap(apierrors.KindParsing, err, "Confluence returned a malformed user")
	}
	if u.AccountID == "" && u.Username == "" {
		return nil, apierrors.New(apierrors.KindParsing, "Confluence returned a malformed user").
			WithDetails("missing accountId and username")
	}
	name := u.DisplayName
	if name == "" {
		name = u.PublicName
	}
	return &User{AccountID: u.AccountID, Username: u.Username, DisplayName: name, Email: u.Email}, nil
}

// ValidateConnection checks the credentials against the server and returns
// a copy of the configuration stamped with the result. Authentication and
// authorization failures mark the connection invalid; other failures leave
// the previous state untouched and return the error.
func (c *Client) ValidateConnection(ctx context.Context) (ConnectionConfig, *User, error) {
	if err := sanitize.ValidateBaseURL(c.config.BaseURL); err != nil {
		return c.config, nil, err
	}
	if err := sanitize.ValidateEmail(c.config.Email); err != nil {
		return c.config, nil, err
	}

	u, err := c.CurrentUser(ctx)
	if err != nil {
		switch apierrors.KindOf(err) {
		case apierrors.KindAuthentication, apierrors.KindAuthorization:
			return c.config.MarkValidated(c.now(), false), nil, err
		}
		return c.config, nil, err
	}

	c.Logger.Info("Confluence connection validated",
		slog.String("base_url", c.config.BaseURL),
		slog.String("user", u.DisplayName))
	return c.config.MarkValidated(c.now(), true), u, nil
}
