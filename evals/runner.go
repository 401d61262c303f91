// Package evals replays recorded language model output through the
// extraction cascade and checks tool selection suites for the MCP tools.
package evals

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Suite file names inside an evals directory.
const (
	ToolSelectionFile = "tool_selection.json"
	ExtractionFile    = "extraction.json"
)

// ToolSelectionTest is one natural language request and the tool that should answer it.
type ToolSelectionTest struct {
	ID           string   `json:"id"`
	Category     string   `json:"category"`
	Input        string   `json:"input"`
	ExpectedTool string   `json:"expected_tool"`
	NotTools     []string `json:"not_tools"`
}

// ToolSelectionSuite contains all tool selection tests
type ToolSelectionSuite struct {
	Name        string              `json:"name"`
	Version     string              `json:"version"`
	Description string              `json:"description"`
	Tests       []ToolSelectionTest `json:"tests"`
}

// ToolSelector is implemented by an LLM harness, or a mock in tests.
type ToolSelector interface {
	SelectTool(input string) (toolName string, err error)
}

// ToolSelectionResult is the outcome of one ToolSelectionTest.
type ToolSelectionResult struct {
	TestID       string
	Input        string
	ExpectedTool string
	ActualTool   string
	Passed       bool
	Errors       []string
}

// EvalMetrics contains aggregate metrics for an evaluation run
type EvalMetrics struct {
	TotalTests    int
	PassedTests   int
	FailedTests   int
	Accuracy      float64 // PassedTests / TotalTests
	ByCategory    map[string]*CategoryMetrics
	FailedDetails []string
}

// CategoryMetrics contains metrics per category
type CategoryMetrics struct {
	Total  int
	Passed int
	Failed int
}

func newMetrics() *EvalMetrics {
	return &EvalMetrics{ByCategory: make(map[string]*CategoryMetrics)}
}

// record counts one test; detail is kept only for failures.
func (m *EvalMetrics) record(category string, passed bool, detail string) {
	cat := m.ByCategory[category]
	if cat == nil {
		cat = &CategoryMetrics{}
		m.ByCategory[category] = cat
	}
	m.TotalTests++
	cat.Total++
	if passed {
		m.PassedTests++
		cat.Passed++
		return
	}
	m.FailedTests++
	cat.Failed++
	m.FailedDetails = append(m.FailedDetails, detail)
}

func (m *EvalMetrics) finish() {
	if m.TotalTests > 0 {
		m.Accuracy = float64(m.PassedTests) / float64(m.TotalTests)
	}
}

func loadSuite[T any](path string) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	var suite T
	if err := json.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	return &suite, nil
}

// LoadToolSelectionSuite loads tool selection tests from a JSON file
func LoadToolSelectionSuite(path string) (*ToolSelectionSuite, error) {
	return loadSuite[ToolSelectionSuite](path)
}

// EvaluateToolSelection runs tool selection tests against a selector
func EvaluateToolSelection(suite *ToolSelectionSuite, selector ToolSelector) (*EvalMetrics, []ToolSelectionResult) {
	metrics := newMetrics()
	results := make([]ToolSelectionResult, 0, len(suite.Tests))

	for _, test := range suite.Tests {
		actual, err := selector.SelectTool(test.Input)
		result := ToolSelectionResult{
			TestID:       test.ID,
			Input:        test.Input,
			ExpectedTool: test.ExpectedTool,
			ActualTool:   actual,
			Passed:       true,
		}

		if err != nil {
			result.Passed = false
			result.Errors = append(result.Errors, fmt.Sprintf("selector error: %v", err))
		}
		if actual != test.ExpectedTool {
			result.Passed = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("wrong tool: expected %s, got %s", test.ExpectedTool, actual))
		}
		for _, forbidden := range test.NotTools {
			if actual == forbidden {
				result.Passed = false
				result.Errors = append(result.Errors, fmt.Sprintf("selected forbidden tool: %s", forbidden))
			}
		}

		metrics.record(test.Category, result.Passed,
			fmt.Sprintf("[%s] %s: %s", test.ID, test.Input, strings.Join(result.Errors, "; ")))
		results = append(results, result)
	}

	metrics.finish()
	return metrics, results
}

// FormatMetrics returns a human-readable summary of evaluation metrics
func FormatMetrics(metrics *EvalMetrics, suiteName string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "\n=== %s ===\n", suiteName)
	fmt.Fprintf(&b, "Total: %d tests\n", metrics.TotalTests)
	fmt.Fprintf(&b, "Passed: %d (%.1f%%)\n", metrics.PassedTests, metrics.Accuracy*100)
	fmt.Fprintf(&b, "Failed: %d\n", metrics.FailedTests)

	if len(metrics.ByCategory) > 0 {
		cats := make([]string, 0, len(metrics.ByCategory))
		for cat := range metrics.ByCategory {
			cats = append(cats, cat)
		}
		sort.Strings(cats)

		b.WriteString("\nBy Category:\n")
		for _, cat := range cats {
			m := metrics.ByCategory[cat]
			if m.Total > 0 {
				acc := float64(m.Passed) / float64(m.Total) * 100
				fmt.Fprintf(&b, "  %-25s: %d/%d (%.0f%%)\n", cat, m.Passed, m.Total, acc)
			}
		}
	}

	const maxDetails = 10
	details := metrics.FailedDetails
	switch {
	case len(details) == 0:
	case len(details) <= maxDetails:
		b.WriteString("\nFailed Tests:\n")
	default:
		fmt.Fprintf(&b, "\nFailed Tests (showing first %d of %d):\n", maxDetails, len(details))
		details = details[:maxDetails]
	}
	for _, detail := range details {
		fmt.Fprintf(&b, "  - %s\n", detail)
	}

	return b.String()
}

// LoadAllEvals loads every suite from a directory
func LoadAllEvals(dir string) (*ToolSelectionSuite, *ExtractionSuite, error) {
	toolSelection, err := LoadToolSelectionSuite(filepath.Join(dir, ToolSelectionFile))
	if err != nil {
		return nil, nil, fmt.Errorf("loading tool selection: %w", err)
	}

	extraction, err := LoadExtractionSuite(filepath.Join(dir, ExtractionFile))
	if err != nil {
		return nil, nil, fmt.Errorf("loading extraction: %w", err)
	}

	return toolSelection, extraction, nil
}
