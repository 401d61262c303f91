package pipeline

import (
	"context"
	"fmt"
	"strings"

	apierrors "github.com/olgasafonova/confluence-spec-mcp-server/internal/errors"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/extract"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/fallback"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/links"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/llm"
	"github.com/olgasafonova/confluence-spec-mcp-server/tracing"
)

// GenerateRequest asks the model for a specification document.
type GenerateRequest struct {
	Input string
	// Format is "markdown" or "html"; "" uses the service default.
	Format string
	// Template optionally describes the sections the document should have.
	Template string
	// SkipLinks leaves Confluence links in Input unexpanded.
	SkipLinks bool
}

// GenerateResult is a generated, extracted document.
type GenerateResult struct {
	fallback.Result
	Links []links.WikiLink `json:"links"`
}

// Generate expands links in the input, asks the model for a document and
// extracts it through the fallback cascade.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	if s.completer == nil {
		return GenerateResult{}, apierrors.New(apierrors.KindValidation, "no language model is configured").
			WithRecovery("Set the model API key in the configuration.")
	}
	if strings.TrimSpace(req.Input) == "" {
		return GenerateResult{}, apierrors.NewValidationError("input", "must not be empty")
	}
	format, err := s.parseFormat(req.Format)
	if err != nil {
		return GenerateResult{}, err
	}

	ctx, span := tracing.StartSpan(ctx, "pipeline.generate")
	defer span.End()

	input := req.Input
	resolved := []links.WikiLink{}
	if !req.SkipLinks {
		exp := s.ExpandLinks(ctx, input)
		input, resolved = exp.Text, exp.Links
	}

	raw, err := s.completer.Complete(ctx, BuildPrompt(input, req.Template, format))
	if err != nil {
		tracing.RecordError(span, err)
		return GenerateResult{Links: resolved}, err
	}

	res, err := s.extractor.ExtractContent(ctx, raw, format)
	if err != nil {
		tracing.RecordError(span, err)
		return GenerateResult{Links: resolved}, err
	}
	s.logger.Info("Document generated",
		"format", format,
		"strategy", res.Strategy,
		"links", len(resolved),
	)
	return GenerateResult{Result: res, Links: resolved}, nil
}

// BuildPrompt builds the model prompt. The system part carries the output
// protocol; embedded page content arrives as @conf-cnt markers in input.
func BuildPrompt(input, template string, format extract.Format) llm.Prompt {
	formatRule := "Write the document in Markdown. Use # headings and do not use HTML tags."
	if format == extract.FormatHTML {
		formatRule = "Write the document as HTML using h1-h6, p, ul, ol, li, table, pre and code elements. Do not use Markdown."
	}

	system := fmt.Sprintf(`You write structured specification documents.

%s

Put the complete document between a line containing %s and a line containing %s.
Use each marker exactly once and write nothing outside them.
Every heading must be followed by body text.

Text of the form %s<content>%s is the content of a referenced Confluence page.
Use it as source material; do not copy the marker into the document.`,
		formatRule, extract.StartMarker, extract.EndMarker, links.MarkerPrefix, links.MarkerSuffix)

	var user strings.Builder
	if t := strings.TrimSpace(template); t != "" {
		user.WriteString("Follow this document structure:\n")
		user.WriteString(t)
		user.WriteString("\n\n")
	}
	user.WriteString("Input:\n")
	user.WriteString(strings.TrimSpace(input))

	return llm.Prompt{System: system, User: user.String()}
}
