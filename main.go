// Confluence Spec MCP Server - A Model Context Protocol server that turns
// language model output into clean specification documents and publishes
// them to Confluence.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/olgasafonova/confluence-spec-mcp-server/internal/config"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/infra"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/logger"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/pipeline"
	"github.com/olgasafonova/confluence-spec-mcp-server/tools"
	"github.com/olgasafonova/confluence-spec-mcp-server/tracing"
)

// recoverPanic wraps a function with panic recovery and logs instead of crashing
func recoverPanic(logger *slog.Logger, operation string) {
	if r := recover(); r != nil {
		logger.Error("Panic recovered",
			"operation", operation,
			"panic", r,
			"stack", string(debug.Stack()))
	}
}

const (
	ServerName    = "confluence-spec-mcp-server"
	ServerVersion = "1.0.0"
)

const instructions = `Confluence Spec MCP Server turns language model output into specification documents and publishes them to Confluence.

Available tools:
- spec_extract_content: Extract a clean document from raw model output (@@@START@@@ / @@@END@@@ markers)
- spec_generate_document: Generate a specification from free-form input, inlining linked Confluence pages
- spec_expand_links: Replace Confluence links in text with page content
- confluence_resolve_link: Resolve one Confluence link
- confluence_get_page: Fetch a page with storage body and version
- confluence_publish_page: Create or update a page (updates back up the previous version)
- confluence_validate_connection: Check the configured credentials

Configure via config.yaml or SPECPIPE_* environment variables. Store the Confluence API token with: specctl token set`

func main() {
	configPath := flag.String("config", config.DefaultConfigFile, "Path to the configuration file")
	httpAddr := flag.String("http", "", "Serve streamable HTTP on this address instead of stdio (e.g. :8080)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// stdout carries the MCP protocol in stdio mode
	logger := logger.Init(os.Stderr, logger.ParseLogFormat(cfg.LogFormat), logger.ParseLogLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	traceCfg := tracing.DefaultConfig()
	traceCfg.ServiceName = ServerName
	traceCfg.ServiceVersion = ServerVersion
	shutdownTracing, err := tracing.Setup(ctx, traceCfg)
	if err != nil {
		logger.Warn("Tracing disabled", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("Tracing shutdown failed", "error", err)
		}
	}()

	svc, db, err := pipeline.Open(cfg, logger)
	if err != nil {
		logger.Error("Failed to open pipeline", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	server := newServer(svc, logger)

	conn := svc.Connection()
	logger.Info("Starting Confluence Spec MCP Server",
		"name", ServerName,
		"version", ServerVersion,
		"confluence_url", conn.BaseURL,
		"confluence_configured", conn.IsConfigurationComplete(),
	)

	addr := *httpAddr
	if addr == "" {
		if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Server error", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := serveHTTP(ctx, addr, server, svc, cfg, logger); err != nil {
		logger.Error("HTTP server error", "error", err)
		os.Exit(1)
	}
}

// newServer creates the MCP server with every tool registered.
func newServer(svc *pipeline.Service, logger *slog.Logger) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: ServerVersion,
	}, &mcp.ServerOptions{
		Logger:       logger,
		Instructions: instructions,
	})

	tools.NewHandlerRegistry(svc, logger).RegisterAll(server)
	return server
}

// newMux routes the MCP endpoint through the security middleware and exposes
// metrics and health alongside it.
func newMux(server *mcp.Server, svc *pipeline.Service, sec SecurityConfig, logger *slog.Logger) (*http.ServeMux, *SecurityMiddleware) {
	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
	secured := NewSecurityMiddleware(mcpHandler, logger, sec)

	mux := http.NewServeMux()
	mux.Handle("/mcp", secured)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler(svc, logger))
	return mux, secured
}

func serveHTTP(ctx context.Context, addr string, server *mcp.Server, svc *pipeline.Service, cfg *config.Config, logger *slog.Logger) error {
	mux, secured := newMux(server, svc, SecurityConfig{
		RateLimit:   cfg.RateLimit,
		MaxBodySize: cfg.MaxBodySize,
	}, logger)
	defer secured.Close()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		defer recoverPanic(logger, "http_server")
		logger.Info("Listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

type healthResponse struct {
	Status               string           `json:"status"`
	Name                 string           `json:"name"`
	Version              string           `json:"version"`
	ConfluenceConfigured bool             `json:"confluence_configured"`
	ConfluenceValid      bool             `json:"confluence_valid"`
	LinkCache            infra.CacheStats `json:"link_cache"`
}

func healthHandler(svc *pipeline.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer recoverPanic(logger, "health")

		conn := svc.Connection()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(healthResponse{
			Status:               "ok",
			Name:                 ServerName,
			Version:              ServerVersion,
			ConfluenceConfigured: conn.IsConfigurationComplete(),
			ConfluenceValid:      conn.IsValid,
			LinkCache:            svc.LinkCacheStats(),
		}); err != nil {
			logger.Warn("Failed to write health response", "error", err)
		}
	}
}
