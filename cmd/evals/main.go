// Command evals replays recorded model output through the extraction
// cascade and summarizes the tool selection suite.
//
// Usage:
//
//	go run ./cmd/evals -dir ./evals -suite all
//
// The extraction suite runs offline. Tool selection needs a model; this
// command reports its coverage, and an LLM harness can implement
// evals.ToolSelector to score it.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/olgasafonova/confluence-spec-mcp-server/evals"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/fallback"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/logger"
	"github.com/olgasafonova/confluence-spec-mcp-server/tools"
)

func main() {
	dir := flag.String("dir", "./evals", "Directory containing eval JSON files")
	suite := flag.String("suite", "all", "Suite to run: extraction, tool_selection, or all")
	verbose := flag.Bool("verbose", false, "Show per-case results and strategy logs")
	flag.Parse()

	fmt.Println("Confluence Spec MCP Server - Evaluation Framework")
	fmt.Println("=================================================")

	ok := true
	switch *suite {
	case "extraction":
		ok = runExtraction(*dir, *verbose)
	case "tool_selection":
		summarizeToolSelection(*dir, *verbose)
	case "all":
		ok = runExtraction(*dir, *verbose)
		summarizeToolSelection(*dir, *verbose)
	default:
		fmt.Fprintf(os.Stderr, "Unknown suite: %s\n", *suite)
		os.Exit(1)
	}

	if !ok {
		os.Exit(1)
	}
}

func runExtraction(dir string, verbose bool) bool {
	suite, err := evals.LoadExtractionSuite(filepath.Join(dir, evals.ExtractionFile))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading extraction suite: %v\n", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if verbose {
		log = logger.New(os.Stderr, logger.LogFormatPretty, slog.LevelDebug)
	}
	processor := fallback.New(fallback.WithLogger(log))

	metrics, results := evals.EvaluateExtraction(context.Background(), suite, processor)
	fmt.Print(evals.FormatMetrics(metrics, suite.Name))

	if verbose {
		fmt.Println("\nCases:")
		for _, r := range results {
			mark := "✓"
			if !r.Passed {
				mark = "✗"
			}
			fmt.Printf("  %s [%s] %s after %d failed attempts\n", mark, r.CaseID, r.ActualStrategy, r.FailedAttempts)
		}
	}
	return metrics.FailedTests == 0
}

func summarizeToolSelection(dir string, verbose bool) {
	suite, err := evals.LoadToolSelectionSuite(filepath.Join(dir, evals.ToolSelectionFile))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading tool selection suite: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\n=== %s ===\n", suite.Name)
	fmt.Printf("Version: %s\n", suite.Version)
	fmt.Printf("Total Tests: %d\n", len(suite.Tests))

	counts := make(map[string]int)
	for _, test := range suite.Tests {
		counts[test.ExpectedTool]++
	}

	fmt.Println("\nTests by Tool:")
	for _, spec := range tools.AllTools {
		fmt.Printf("  %-35s: %d\n", spec.Name, counts[spec.Name])
		delete(counts, spec.Name)
	}
	if len(counts) > 0 {
		unknown := make([]string, 0, len(counts))
		for name := range counts {
			unknown = append(unknown, name)
		}
		sort.Strings(unknown)
		fmt.Printf("\nUnknown tools referenced: %v\n", unknown)
	}

	if verbose {
		fmt.Println("\nTest Cases:")
		for _, test := range suite.Tests {
			fmt.Printf("  [%s] %s\n", test.ID, test.Input)
			fmt.Printf("    → %s\n", test.ExpectedTool)
			if len(test.NotTools) > 0 {
				fmt.Printf("    ✗ %v\n", test.NotTools)
			}
		}
	}

	fmt.Println("\nTo score tool selection, implement evals.ToolSelector and call evals.EvaluateToolSelection()")
}
