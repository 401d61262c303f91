package evals

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/olgasafonova/confluence-spec-mcp-server/internal/extract"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/fallback"
	"github.com/olgasafonova/confluence-spec-mcp-server/tools"
)

// MockToolSelector implements ToolSelector for testing
type MockToolSelector struct {
	// Responses maps input strings to tool names
	Responses map[string]string
	// DefaultTool is returned if input isn't in Responses
	DefaultTool string
	Err         error
}

func (m *MockToolSelector) SelectTool(input string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	if tool, ok := m.Responses[input]; ok {
		return tool, nil
	}
	return m.DefaultTool, nil
}

// PerfectToolSelector returns the expected tool for each test
type PerfectToolSelector struct {
	suite *ToolSelectionSuite
}

func (p *PerfectToolSelector) SelectTool(input string) (string, error) {
	for _, test := range p.suite.Tests {
		if test.Input == input {
			return test.ExpectedTool, nil
		}
	}
	return "", nil
}

func quietProcessor() *fallback.Processor {
	return fallback.New(fallback.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestLoadToolSelectionSuite(t *testing.T) {
	suite, err := LoadToolSelectionSuite(filepath.Join(".", ToolSelectionFile))
	if err != nil {
		t.Fatalf("Failed to load tool selection suite: %v", err)
	}

	if suite.Name == "" {
		t.Error("Suite name should not be empty")
	}
	if len(suite.Tests) == 0 {
		t.Fatal("Suite should have tests")
	}

	for _, test := range suite.Tests {
		if test.ID == "" || test.Input == "" || test.ExpectedTool == "" {
			t.Errorf("Test %+v is missing required fields", test)
		}
	}
}

func TestToolSelectionSuiteCoversRegisteredTools(t *testing.T) {
	suite, err := LoadToolSelectionSuite(filepath.Join(".", ToolSelectionFile))
	if err != nil {
		t.Fatalf("Failed to load suite: %v", err)
	}

	registered := map[string]bool{}
	for _, spec := range tools.AllTools {
		registered[spec.Name] = true
	}

	covered := map[string]bool{}
	for _, test := range suite.Tests {
		if !registered[test.ExpectedTool] {
			t.Errorf("[%s] expects unknown tool %q", test.ID, test.ExpectedTool)
		}
		for _, not := range test.NotTools {
			if !registered[not] {
				t.Errorf("[%s] forbids unknown tool %q", test.ID, not)
			}
		}
		covered[test.ExpectedTool] = true
	}
	for name := range registered {
		if !covered[name] {
			t.Errorf("tool %s has no selection test", name)
		}
	}
}

func TestEvaluateToolSelection(t *testing.T) {
	suite, err := LoadToolSelectionSuite(filepath.Join(".", ToolSelectionFile))
	if err != nil {
		t.Fatalf("Failed to load suite: %v", err)
	}

	metrics, results := EvaluateToolSelection(suite, &PerfectToolSelector{suite: suite})

	if metrics.TotalTests != len(suite.Tests) {
		t.Errorf("Total tests: expected %d, got %d", len(suite.Tests), metrics.TotalTests)
	}
	if metrics.Accuracy != 1.0 {
		t.Errorf("Perfect selector should have 100%% accuracy, got %.1f%%", metrics.Accuracy*100)
	}
	for _, result := range results {
		if !result.Passed {
			t.Errorf("Test %s should pass with perfect selector", result.TestID)
		}
	}
}

func TestEvaluateToolSelectionWithWrongAnswers(t *testing.T) {
	suite := &ToolSelectionSuite{
		Name: "Test Suite",
		Tests: []ToolSelectionTest{
			{
				ID:           "test-001",
				Category:     "links",
				Input:        "inline the linked pages",
				ExpectedTool: "spec_expand_links",
				NotTools:     []string{"confluence_resolve_link"},
			},
			{
				ID:           "test-002",
				Category:     "pages",
				Input:        "show page 123",
				ExpectedTool: "confluence_get_page",
			},
		},
	}

	metrics, results := EvaluateToolSelection(suite, &MockToolSelector{DefaultTool: "confluence_resolve_link"})

	if metrics.PassedTests != 0 {
		t.Errorf("Wrong selector should have 0 passed tests, got %d", metrics.PassedTests)
	}
	if metrics.FailedTests != 2 {
		t.Errorf("Wrong selector should have 2 failed tests, got %d", metrics.FailedTests)
	}
	if metrics.Accuracy != 0 {
		t.Errorf("Wrong selector should have 0%% accuracy, got %.1f%%", metrics.Accuracy*100)
	}

	// The first test also selected a forbidden tool
	if len(results[0].Errors) != 2 {
		t.Errorf("Expected wrong-tool and forbidden-tool errors, got %v", results[0].Errors)
	}
	if len(results[1].Errors) != 1 {
		t.Errorf("Expected one error, got %v", results[1].Errors)
	}
}

func TestEvaluateToolSelectionSelectorError(t *testing.T) {
	suite := &ToolSelectionSuite{Tests: []ToolSelectionTest{
		{ID: "t", Category: "c", Input: "x", ExpectedTool: "spec_extract_content"},
	}}

	metrics, results := EvaluateToolSelection(suite, &MockToolSelector{Err: errors.New("model offline")})

	if metrics.FailedTests != 1 {
		t.Errorf("FailedTests = %d, want 1", metrics.FailedTests)
	}
	if !strings.Contains(strings.Join(results[0].Errors, ";"), "model offline") {
		t.Errorf("selector error not reported: %v", results[0].Errors)
	}
}

func TestLoadExtractionSuite(t *testing.T) {
	suite, err := LoadExtractionSuite(filepath.Join(".", ExtractionFile))
	if err != nil {
		t.Fatalf("Failed to load extraction suite: %v", err)
	}
	if len(suite.Cases) == 0 {
		t.Fatal("Suite should have cases")
	}

	strategies := map[string]bool{}
	for _, name := range quietProcessor().Strategies() {
		strategies[name] = true
	}
	for _, c := range suite.Cases {
		if c.ID == "" || c.Output == "" {
			t.Errorf("Case %+v is missing required fields", c)
		}
		if c.ExpectFailure == (c.ExpectedStrategy != "") {
			t.Errorf("[%s] needs exactly one of expected_strategy and expect_failure", c.ID)
		}
		if c.ExpectedStrategy != "" && !strategies[c.ExpectedStrategy] {
			t.Errorf("[%s] unknown strategy %q", c.ID, c.ExpectedStrategy)
		}
	}
}

func TestEvaluateExtraction_RecordedSuite(t *testing.T) {
	suite, err := LoadExtractionSuite(filepath.Join(".", ExtractionFile))
	if err != nil {
		t.Fatalf("Failed to load extraction suite: %v", err)
	}

	metrics, results := EvaluateExtraction(context.Background(), suite, quietProcessor())

	if metrics.TotalTests != len(suite.Cases) {
		t.Errorf("Total tests: expected %d, got %d", len(suite.Cases), metrics.TotalTests)
	}
	for _, r := range results {
		if !r.Passed {
			t.Errorf("[%s] expected %s, got %s: %v", r.CaseID, r.ExpectedStrategy, r.ActualStrategy, r.Errors)
		}
	}
}

func TestEvaluateExtraction_Mismatches(t *testing.T) {
	suite := &ExtractionSuite{Cases: []ExtractionCase{
		{
			ID:               "wrong-strategy",
			Output:           "@@@START@@@\n# Spec\n\nBody.\n@@@END@@@",
			ExpectedStrategy: fallback.StrategyPlainText,
		},
		{
			ID:            "unexpected-success",
			Output:        "@@@START@@@\n# Spec\n\nBody.\n@@@END@@@",
			ExpectFailure: true,
		},
		{
			ID:               "missing-text",
			Output:           "@@@START@@@\n# Spec\n\nBody.\n@@@END@@@",
			ExpectedStrategy: fallback.StrategyPrimary,
			MustContain:      []string{"Appendix"},
		},
		{
			ID:               "bad-format",
			Output:           "anything",
			Format:           "pdf",
			ExpectedStrategy: fallback.StrategyPrimary,
		},
	}}

	metrics, results := EvaluateExtraction(context.Background(), suite, quietProcessor())

	if metrics.PassedTests != 0 || metrics.FailedTests != 4 {
		t.Errorf("Passed/Failed = %d/%d, want 0/4", metrics.PassedTests, metrics.FailedTests)
	}
	if results[0].ActualStrategy != fallback.StrategyPrimary {
		t.Errorf("ActualStrategy = %q, want primary", results[0].ActualStrategy)
	}
	if _, ok := metrics.ByCategory["failure"]; !ok {
		t.Error("cases expecting failure should be grouped under failure")
	}
}

type stubExtractor struct {
	strategy string
}

func (s stubExtractor) ExtractContent(_ context.Context, raw string, format extract.Format) (fallback.Result, error) {
	return fallback.Result{
		Document: extract.Document{Format: format, Content: raw},
		Strategy: s.strategy,
	}, nil
}

func TestEvaluateExtraction_DefaultsToMarkdown(t *testing.T) {
	suite := &ExtractionSuite{Cases: []ExtractionCase{
		{ID: "x", Category: "stub", Output: "body", ExpectedStrategy: "stub", MustContain: []string{"body"}},
	}}

	metrics, _ := EvaluateExtraction(context.Background(), suite, stubExtractor{strategy: "stub"})

	if metrics.Accuracy != 1.0 {
		t.Errorf("Accuracy = %v, want 1", metrics.Accuracy)
	}
}

func TestFormatMetrics(t *testing.T) {
	metrics := &EvalMetrics{
		TotalTests:  10,
		PassedTests: 8,
		FailedTests: 2,
		Accuracy:    0.8,
		ByCategory: map[string]*CategoryMetrics{
			"links": {Total: 5, Passed: 4, Failed: 1},
			"pages": {Total: 5, Passed: 4, Failed: 1},
		},
		FailedDetails: []string{
			"[test-1] input: error",
			"[test-2] input: error",
		},
	}

	output := FormatMetrics(metrics, "Test Suite")

	if !strings.Contains(output, "80.0%") {
		t.Error("Should show accuracy percentage")
	}
	if strings.Index(output, "links") > strings.Index(output, "pages") {
		t.Error("Categories should be sorted")
	}
	if !strings.Contains(output, "Failed Tests:") {
		t.Error("Should show failed tests section")
	}
}

func TestFormatMetricsTruncatesDetails(t *testing.T) {
	metrics := &EvalMetrics{ByCategory: map[string]*CategoryMetrics{}}
	for i := 0; i < 12; i++ {
		metrics.FailedDetails = append(metrics.FailedDetails, "detail")
	}

	output := FormatMetrics(metrics, "Big")

	if !strings.Contains(output, "showing first 10 of 12") {
		t.Errorf("expected truncation notice, got %q", output)
	}
	if got := strings.Count(output, "  - detail"); got != 10 {
		t.Errorf("printed %d details, want 10", got)
	}
}

func TestLoadAllEvals(t *testing.T) {
	toolSelection, extraction, err := LoadAllEvals(".")
	if err != nil {
		t.Fatalf("Failed to load all evals: %v", err)
	}
	if toolSelection == nil || extraction == nil {
		t.Fatal("suites should not be nil")
	}

	t.Logf("Loaded %d evaluation cases", len(toolSelection.Tests)+len(extraction.Cases))
}

func TestLoadAllEvals_MissingDir(t *testing.T) {
	if _, _, err := LoadAllEvals(t.TempDir()); err == nil {
		t.Error("expected an error for a directory without suites")
	}
}
