package evals

import (
	"context"
	"fmt"
	"strings"

	"github.com/olgasafonova/confluence-spec-mcp-server/internal/extract"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/fallback"
)

// ExtractionCase is a recorded model output and what the cascade should make of it.
type ExtractionCase struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Output   string `json:"output"`
	Format   string `json:"format"`

	// ExpectedStrategy names the strategy that should recover the content.
	// Empty when ExpectFailure is set.
	ExpectedStrategy string `json:"expected_strategy,omitempty"`
	ExpectFailure    bool   `json:"expect_failure,omitempty"`

	MustContain    []string `json:"must_contain,omitempty"`
	MustNotContain []string `json:"must_not_contain,omitempty"`
}

// ExtractionSuite contains recorded outputs
type ExtractionSuite struct {
	Name        string           `json:"name"`
	Version     string           `json:"version"`
	Description string           `json:"description"`
	Cases       []ExtractionCase `json:"cases"`
}

// Extractor is satisfied by *fallback.Processor.
type Extractor interface {
	ExtractContent(ctx context.Context, raw string, format extract.Format) (fallback.Result, error)
}

// ExtractionResult is the outcome of one ExtractionCase.
type ExtractionResult struct {
	CaseID           string
	ExpectedStrategy string
	ActualStrategy   string
	FailedAttempts   int
	Passed           bool
	Errors           []string
}

// LoadExtractionSuite loads recorded outputs from a JSON file
func LoadExtractionSuite(path string) (*ExtractionSuite, error) {
	return loadSuite[ExtractionSuite](path)
}

// EvaluateExtraction replays every case through extractor. Categories with
// no name are grouped under the expected strategy.
func EvaluateExtraction(ctx context.Context, suite *ExtractionSuite, extractor Extractor) (*EvalMetrics, []ExtractionResult) {
	metrics := newMetrics()
	results := make([]ExtractionResult, 0, len(suite.Cases))

	for _, c := range suite.Cases {
		result := evaluateCase(ctx, c, extractor)

		category := c.Category
		if category == "" {
			category = c.ExpectedStrategy
			if c.ExpectFailure {
				category = "failure"
			}
		}
		metrics.record(category, result.Passed,
			fmt.Sprintf("[%s] %s", c.ID, strings.Join(result.Errors, "; ")))
		results = append(results, result)
	}

	metrics.finish()
	return metrics, results
}

func evaluateCase(ctx context.Context, c ExtractionCase, extractor Extractor) ExtractionResult {
	result := ExtractionResult{
		CaseID:           c.ID,
		ExpectedStrategy: c.ExpectedStrategy,
		Passed:           true,
	}
	fail := func(format string, args ...any) {
		result.Passed = false
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}

	format, err := extract.ParseFormat(c.Format)
	if c.Format == "" {
		format, err = extract.FormatMarkdown, nil
	}
	if err != nil {
		fail("bad format %q", c.Format)
		return result
	}

	res, err := extractor.ExtractContent(ctx, c.Output, format)
	result.ActualStrategy = res.Strategy
	result.FailedAttempts = len(res.Attempts)

	if c.ExpectFailure {
		if err == nil {
			fail("expected failure, recovered by %s", res.Strategy)
		}
		return result
	}
	if err != nil {
		fail("extraction failed: %v", err)
		return result
	}

	if c.ExpectedStrategy != "" && res.Strategy != c.ExpectedStrategy {
		fail("wrong strategy: expected %s, got %s", c.ExpectedStrategy, res.Strategy)
	}
	for _, s := range c.MustContain {
		if !strings.Contains(res.Document.Content, s) {
			fail("missing %q", s)
		}
	}
	for _, s := range c.MustNotContain {
		if strings.Contains(res.Document.Content, s) {
			fail("unexpected %q", s)
		}
	}
	return result
}
