// Package llm talks to the language model that writes the documents. The
// pipeline depends only on the Completer interface.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/olgasafonova/confluence-spec-mcp-server/internal/base"
	apierrors "github.com/olgasafonova/confluence-spec-mcp-server/internal/errors"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/infra"
	"github.com/olgasafonova/confluence-spec-mcp-server/tracing"
)

const (
	DefaultBaseURL   = "https://api.anthropic.com"
	DefaultModel     = "claude-haiku-4-5-20251001"
	DefaultMaxTokens = 4096
	DefaultTimeout   = 2 * time.Minute

	anthropicVersion     = "2023-06-01"
	defaultRetryAfterSec = 60
)

// Prompt is one completion request.
type Prompt struct {
	System    string
	User      string
	MaxTokens int
}

// Completer produces raw model output for a prompt.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Options configures the Anthropic client.
type Options struct {
	APIKey  string
	BaseURL string
	Model   string
	// IsOAuth sends the key as a bearer token instead of X-Api-Key.
	IsOAuth bool
}

// Client is an Anthropic Messages API client.
type Client struct {
	*base.Client
	opts Options
}

// NewClient creates a Client with defaults for unset options.
func NewClient(opts Options, baseOpts ...base.ClientOption) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	baseOpts = append([]base.ClientOption{base.WithHTTPClient(base.NewHTTPClient(DefaultTimeout))}, baseOpts...)
	return &Client{Client: base.NewClient(baseOpts...), opts: opts}
}

var _ Completer = (*Client)(nil)

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system,omitempty"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends p to /v1/messages and returns the first text block.
func (c *Client) Complete(ctx context.Context, p Prompt) (string, error) {
	if c.opts.APIKey == "" {
		return "", apierrors.NewValidationError("llm api key", "is not configured").
			WithRecovery("Set the model API key in the configuration.")
	}
	if strings.TrimSpace(p.User) == "" {
		return "", apierrors.NewValidationError("prompt", "must not be empty")
	}

	ctx, span := tracing.StartSpan(ctx, "llm.complete")
	defer span.End()

	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	body, err := json.Marshal(apiRequest{
		Model:     c.opts.Model,
		MaxTokens: maxTokens,
		System:    p.System,
		Messages:  []apiMessage{{Role: "user", Content: p.User}},
	})
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	header := http.Header{}
	header.Set("Anthropic-Version", anthropicVersion)
	if c.opts.IsOAuth {
		header.Set("Authorization", "Bearer "+c.opts.APIKey)
	} else {
		header.Set("X-Api-Key", c.opts.APIKey)
	}

	resp, err := c.Do(ctx, base.Request{
		Operation: "llm_complete",
		Method:    http.MethodPost,
		URL:       strings.TrimRight(c.opts.BaseURL, "/") + "/v1/messages",
		Header:    header,
		Body:      body,
	})
	if err != nil {
		e := c.transportError(err)
		tracing.RecordError(span, e)
		return "", e
	}
	if resp.StatusCode != http.StatusOK {
		e := c.statusError(resp)
		tracing.RecordError(span, e)
		return "", e
	}

	var out apiResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", apierrors.Wrap(apierrors.KindParsing, err, "model response could not be decoded")
	}
	for _, block := range out.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", apierrors.New(apierrors.KindParsing, "model response contained no text")
}

func (c *Client) transportError(err error) *apierrors.Error {
	var open *infra.ErrCircuitOpen
	if errors.As(err, &open) {
		return apierrors.Wrap(apierrors.KindConnection, err, "the model service is temporarily unavailable").
			WithRecovery("Wait a moment and try again.")
	}
	msg := "could not reach the model service"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "the model request timed out"
	} else if errors.Is(err, context.Canceled) {
		msg = "the model request was cancelled"
	}
	return apierrors.Wrap(apierrors.KindNetwork, err, msg).
		WithDetails(apierrors.Redact(err.Error(), c.opts.APIKey))
}

func (c *Client) statusError(resp *base.Response) *apierrors.Error {
	var body apiErrorBody
	_ = json.Unmarshal(resp.Body, &body)
	details := apierrors.Redact(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, body.Error.Message), c.opts.APIKey)

	var e *apierrors.Error
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return apierrors.NewRateLimitError("llm_complete", retryAfter(resp.Header.Get("Retry-After"))).
			WithDetails(details)
	case http.StatusUnauthorized:
		e = apierrors.New(apierrors.KindAuthentication, "the model API key was rejected").
			WithRecovery("Check the configured model API key.")
	case http.StatusForbidden:
		e = apierrors.New(apierrors.KindAuthorization, "the model API key may not use this model")
	case http.StatusBadRequest:
		e = apierrors.New(apierrors.KindValidation, "the model rejected the request")
	default:
		e = apierrors.Newf(apierrors.KindConnection, "the model service returned HTTP %d", resp.StatusCode)
	}
	return e.WithDetails(details).WithStatus(resp.StatusCode)
}

func retryAfter(v string) int {
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
		return n
	}
	return defaultRetryAfterSec
}

// Static is a Completer that returns fixed output. It backs offline runs and
// evals.
type Static struct {
	Output string
	Err    error
}

func (s Static) Complete(_ context.Context, _ Prompt) (string, error) {
	return s.Output, s.Err
}
