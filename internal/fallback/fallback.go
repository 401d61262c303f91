// Package fallback recovers a document from LLM output that the strict
// extractor rejects. Strategies run in a fixed order and the first success
// wins; when all fail the caller gets one error listing every attempt.
package fallback

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	apierrors "github.com/olgasafonova/confluence-spec-mcp-server/internal/errors"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/extract"
	"github.com/olgasafonova/confluence-spec-mcp-server/metrics"
	"github.com/olgasafonova/confluence-spec-mcp-server/tracing"
)

// Strategy names, in default order.
const (
	StrategyPrimary        = "primary"
	StrategyLenientMarkers = "lenient-markers"
	StrategyCrossFormat    = "cross-format"
	StrategyPlainText      = "plain-text"
)

// Strategy turns raw LLM output into cleaned content for format.
type Strategy struct {
	Name string
	Run  func(raw string, format extract.Format) (string, error)
}

// DefaultStrategies returns the cascade in order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: StrategyPrimary, Run: primary},
		{Name: StrategyLenientMarkers, Run: lenientMarkers},
		{Name: StrategyCrossFormat, Run: crossFormat},
		{Name: StrategyPlainText, Run: plainText},
	}
}

// Result is a successful extraction and how it was obtained.
type Result struct {
	Document extract.Document    `json:"document"`
	Strategy string              `json:"strategy"`
	Attempts []apierrors.Attempt `json:"attempts,omitempty"`
}

// Processor runs the strategy cascade.
type Processor struct {
	strategies []Strategy
	logger     *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithStrategies replaces the cascade.
func WithStrategies(s ...Strategy) Option {
	return func(p *Processor) {
		p.strategies = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = l
	}
}

// New creates a Processor with the default cascade.
func New(opts ...Option) *Processor {
	p := &Processor{
		strategies: DefaultStrategies(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Strategies returns the strategy names in order.
func (p *Processor) Strategies() []string {
	names := make([]string, len(p.strategies))
	for i, s := range p.strategies {
		names[i] = s.Name
	}
	return names
}

// ExtractContent tries each strategy in order. Failed attempts before the
// winning one are reported in Result.Attempts.
func (p *Processor) ExtractContent(ctx context.Context, raw string, format extract.Format) (Result, error) {
	ctx, span := tracing.StartSpan(ctx, "fallback.extract")
	defer span.End()

	var attempts []apierrors.Attempt
	for _, s := range p.strategies {
		if err := ctx.Err(); err != nil {
			return Result{}, apierrors.Wrap(apierrors.KindNetwork, err, "extraction was cancelled")
		}

		content, err := s.Run(raw, format)
		metrics.RecordExtractionAttempt(s.Name, string(format), err == nil)
		if err != nil {
			p.logger.Debug("Extraction strategy failed",
				"strategy", s.Name,
				"format", format,
				"error", err,
			)
			attempts = append(attempts, apierrors.Attempt{Strategy: s.Name, Reason: reason(err)})
			continue
		}

		tracing.AddExtractionAttributes(span, string(format), s.Name)
		if len(attempts) > 0 {
			p.logger.Info("Content recovered by fallback strategy",
				"strategy", s.Name,
				"format", format,
				"failed_attempts", len(attempts),
			)
		}
		return Result{
			Document: extract.Document{Format: format, Content: content},
			Strategy: s.Name,
			Attempts: attempts,
		}, nil
	}

	err := apierrors.NewExtractionError(attempts)
	tracing.RecordError(span, err)
	p.logger.Warn("All extraction strategies failed",
		"format", format,
		"attempts", len(attempts),
	)
	return Result{}, err
}

func reason(err error) string {
	if e, ok := apierrors.As(err); ok {
		return e.Message
	}
	return err.Error()
}

func primary(raw string, format extract.Format) (string, error) {
	p, err := extract.New(format)
	if err != nil {
		return "", err
	}
	doc, err := p.Extract(raw)
	if err != nil {
		return "", err
	}
	return doc.Content, nil
}

// Marker spellings models drift into: @@START@@, @@@ start @@@, @@@@END@@@@.
var (
	lenientStartRegex = regexp.MustCompile(`(?i)@{2,4}\s*start\s*@{2,4}`)
	lenientEndRegex   = regexp.MustCompile(`(?i)@{2,4}\s*end\s*@{2,4}`)
)

// lenientPayload takes the text between the first start-like marker and the
// last end-like marker after it.
func lenientPayload(raw string) (string, bool) {
	start := lenientStartRegex.FindStringIndex(raw)
	if start == nil {
		return "", false
	}
	rest := raw[start[1]:]
	ends := lenientEndRegex.FindAllStringIndex(rest, -1)
	if len(ends) == 0 {
		return "", false
	}
	payload := rest[:ends[len(ends)-1][0]]
	// Any repeated markers inside are noise at this point.
	payload = lenientStartRegex.ReplaceAllString(payload, "")
	payload = lenientEndRegex.ReplaceAllString(payload, "")
	payload = strings.TrimSpace(payload)
	return payload, payload != ""
}

func lenientMarkers(raw string, format extract.Format) (string, error) {
	payload, ok := lenientPayload(raw)
	if !ok {
		return "", apierrors.New(apierrors.KindEscapeMarker, "no marker pair found, even leniently")
	}
	p, err := extract.New(format)
	if err != nil {
		return "", err
	}
	return p.Process(payload)
}

// candidate is the best guess at the document body: the lenient payload if
// there is one, otherwise the whole response without markers.
func candidate(raw string) string {
	if payload, ok := lenientPayload(raw); ok {
		return payload
	}
	s := lenientStartRegex.ReplaceAllString(raw, "")
	return strings.TrimSpace(lenientEndRegex.ReplaceAllString(s, ""))
}

// crossFormat handles a model answering in the wrong format: HTML when
// Markdown was asked for and the other way round.
func crossFormat(raw string, format extract.Format) (string, error) {
	body := candidate(raw)
	var (
		converted string
		err       error
	)
	switch format {
	case extract.FormatMarkdown:
		if !looksLikeHTML(body) {
			return "", apierrors.New(apierrors.KindContentFormat, "response is not HTML, nothing to convert")
		}
		converted, err = extract.HTMLToMarkdown(body)
	case extract.FormatHTML:
		if !looksLikeMarkdown(body) {
			return "", apierrors.New(apierrors.KindContentFormat, "response is not Markdown, nothing to convert")
		}
		converted, err = markdownToHTML(body)
	default:
		return "", apierrors.NewValidationError("format", "must be markdown or html")
	}
	if err != nil {
		return "", apierrors.Wrap(apierrors.KindContentFormat, err, "format conversion failed")
	}

	p, err := extract.New(format)
	if err != nil {
		return "", err
	}
	return p.Process(converted)
}
