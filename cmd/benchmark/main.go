// Command benchmark measures the extraction cascade offline and, when a
// Confluence connection is configured, link resolution with and without the
// cache.
//
// Usage:
//
//	go run ./cmd/benchmark -evals ./evals -n 200
//	go run ./cmd/benchmark -config config.yaml -link https://acme.atlassian.net/wiki/spaces/ENG/pages/123
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
	"time"

	"github.com/olgasafonova/confluence-spec-mcp-server/evals"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/config"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/extract"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/fallback"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/pipeline"
)

// measureExtraction replays every recorded output n times and reports the
// mean latency per winning strategy.
func measureExtraction(dir string, n int) {
	suite, err := evals.LoadExtractionSuite(filepath.Join(dir, evals.ExtractionFile))
	if err != nil {
		fmt.Printf("Suite error: %v\n", err)
		return
	}
	processor := fallback.New(fallback.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	ctx := context.Background()

	fmt.Println("=== Extraction Cascade ===")
	fmt.Println()

	total := map[string]time.Duration{}
	count := map[string]int{}
	for _, c := range suite.Cases {
		format, err := extract.ParseFormat(c.Format)
		if err != nil || c.Format == "" {
			format = extract.FormatMarkdown
		}

		start := time.Now()
		var strategy string
		for i := 0; i < n; i++ {
			res, err := processor.ExtractContent(ctx, c.Output, format)
			strategy = res.Strategy
			if err != nil {
				strategy = "failed"
			}
		}
		total[strategy] += time.Since(start)
		count[strategy] += n
	}

	names := make([]string, 0, len(total))
	for name := range total {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return total[names[i]]/time.Duration(count[names[i]]) < total[names[j]]/time.Duration(count[names[j]]) })

	for _, name := range names {
		fmt.Printf("   %-16s %6d runs   mean %v\n", name, count[name], total[name]/time.Duration(count[name]))
	}
	fmt.Println()
}

// measureLinkCache resolves link twice: the first call goes to Confluence,
// the second should come from the cache.
func measureLinkCache(configPath, link string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		return
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	svc, db, err := pipeline.Open(cfg, logger)
	if err != nil {
		fmt.Printf("Open error: %v\n", err)
		return
	}
	defer db.Close()
	ctx := context.Background()

	fmt.Println("=== Link Cache ===")
	fmt.Println()

	start := time.Now()
	first, err := svc.ResolveLink(ctx, link)
	if err != nil {
		fmt.Printf("   Error: %v\n", err)
		return
	}
	if !first.IsValid {
		fmt.Printf("   Link did not resolve: %s\n", first.ErrorMessage)
		return
	}
	cold := time.Since(start)
	fmt.Printf("   First call (network):  %v\n", cold)

	start = time.Now()
	_, _ = svc.ResolveLink(ctx, link)
	warm := time.Since(start)
	fmt.Printf("   Second call (cached):  %v\n", warm)
	fmt.Printf("   Speedup: %.0fx faster\n", float64(cold)/float64(warm))

	stats := svc.LinkCacheStats()
	fmt.Printf("   Cache: %d entries, %d hits, %d misses\n", stats.Entries, stats.Hits, stats.Misses)
	fmt.Println()
}

func main() {
	configPath := flag.String("config", config.DefaultConfigFile, "Path to the configuration file")
	evalsDir := flag.String("evals", "./evals", "Directory containing extraction.json")
	n := flag.Int("n", 100, "Runs per recorded output")
	link := flag.String("link", "", "Confluence link to resolve cold and cached")
	flag.Parse()

	fmt.Println("Confluence Spec MCP Server - Performance Measurements")
	fmt.Println("=====================================================")
	fmt.Println()

	measureExtraction(*evalsDir, max(*n, 1))
	if *link != "" {
		measureLinkCache(*configPath, *link)
	}
}
