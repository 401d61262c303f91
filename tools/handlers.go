package tools

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	apierrors "github.com/olgasafonova/confluence-spec-mcp-server/internal/errors"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/pipeline"
	"github.com/olgasafonova/confluence-spec-mcp-server/metrics"
	"github.com/olgasafonova/confluence-spec-mcp-server/tracing"
)

// HandlerRegistry provides type-safe tool registration by mapping
// tool names to their concrete handler implementations.
type HandlerRegistry struct {
	service *pipeline.Service
	logger  *slog.Logger
}

// NewHandlerRegistry creates a new handler registry.
func NewHandlerRegistry(service *pipeline.Service, logger *slog.Logger) *HandlerRegistry {
	return &HandlerRegistry{
		service: service,
		logger:  logger,
	}
}

// RegisterAll registers all tools with the MCP server.
func (h *HandlerRegistry) RegisterAll(server *mcp.Server) {
	registered := 0
	for _, spec := range AllTools {
		if h.registerByName(server, spec) {
			registered++
		}
	}
	h.logger.Info("Registered all tools", "count", registered)
}

// registerByName dispatches to the correct typed registration function.
func (h *HandlerRegistry) registerByName(server *mcp.Server, spec ToolSpec) bool {
	tool := h.buildTool(spec)
	s := h.service

	switch spec.Method {
	case "ExtractContent":
		register(h, server, tool, spec, s.ExtractContentMCP)
	case "GenerateDocument":
		register(h, server, tool, spec, s.GenerateDocumentMCP)
	case "ExpandLinks":
		register(h, server, tool, spec, s.ExpandLinksMCP)
	case "ResolveLink":
		register(h, server, tool, spec, s.ResolveLinkMCP)
	case "GetPage":
		register(h, server, tool, spec, s.GetPageMCP)
	case "PublishPage":
		register(h, server, tool, spec, s.PublishPageMCP)
	case "ValidateConnection":
		register(h, server, tool, spec, s.ValidateConnectionMCP)
	default:
		h.logger.Error("Unknown method, tool not registered", "method", spec.Method, "tool", spec.Name)
		return false
	}
	return true
}

// buildTool creates an mcp.Tool from a ToolSpec.
func (h *HandlerRegistry) buildTool(spec ToolSpec) *mcp.Tool {
	annotations := &mcp.ToolAnnotations{
		Title:          spec.Title,
		ReadOnlyHint:   spec.ReadOnly,
		IdempotentHint: spec.Idempotent,
	}
	if spec.Destructive {
		annotations.DestructiveHint = ptr(true)
	} else if !spec.ReadOnly {
		annotations.DestructiveHint = ptr(false)
	}
	if spec.OpenWorld {
		annotations.OpenWorldHint = ptr(true)
	} else {
		annotations.OpenWorldHint = ptr(false)
	}

	return &mcp.Tool{
		Name:        spec.Name,
		Description: spec.Description,
		Annotations: annotations,
	}
}

// register is a generic helper that registers a tool with the MCP server.
// It wraps the service method with panic recovery, metrics, tracing, and logging.
func register[Args, Result any](
	h *HandlerRegistry,
	server *mcp.Server,
	tool *mcp.Tool,
	spec ToolSpec,
	method func(context.Context, Args) (Result, error),
) {
	mcp.AddTool(server, tool, handler(h, spec, method))
}

// handler builds the wrapped tool function. It is separate from register so
// tests can call it without a server.
func handler[Args, Result any](h *HandlerRegistry, spec ToolSpec, method func(context.Context, Args) (Result, error)) mcp.ToolHandlerFor[Args, Result] {
	return func(ctx context.Context, req *mcp.CallToolRequest, args Args) (_ *mcp.CallToolResult, result Result, err error) {
		defer h.recoverPanic(spec.Name, &err)

		// Start trace span
		ctx, span := tracing.StartSpan(ctx, "mcp.tool."+spec.Name)
		defer span.End()

		tracing.AddToolAttributes(span, spec.Name, spec.Category)
		span.SetAttributes(attribute.Bool("mcp.tool.readonly", spec.ReadOnly))

		// Track in-flight requests
		metrics.RequestInFlight.WithLabelValues(spec.Name).Inc()
		defer metrics.RequestInFlight.WithLabelValues(spec.Name).Dec()

		start := time.Now()
		result, err = method(ctx, args)
		duration := time.Since(start).Seconds()

		span.SetAttributes(attribute.Float64("mcp.tool.duration_seconds", duration))

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			metrics.RecordRequest(spec.Name, duration, false)
			h.logger.Warn("Tool failed",
				"tool", spec.Name,
				"error", apierrors.FormatForLogging(err, spec.Name))
			var zero Result
			return nil, zero, toolError(spec.Name, err)
		}

		span.SetStatus(codes.Ok, "")
		metrics.RecordRequest(spec.Name, duration, true)
		h.logExecution(spec, args, result)
		return nil, result, nil
	}
}

// toolError is the error text the calling model sees: the user-facing
// message plus the first recovery suggestion, with credentials masked.
func toolError(name string, err error) error {
	if e, ok := apierrors.As(err); ok {
		err = apierrors.RedactError(e)
	}
	if hints := apierrors.RecoverySuggestions(err); len(hints) > 0 {
		return fmt.Errorf("%s failed: %w. %s", name, err, hints[0])
	}
	return fmt.Errorf("%s failed: %w", name, err)
}

// recoverPanic recovers from panics in tool handlers and turns them into a
// tool error.
func (h *HandlerRegistry) recoverPanic(toolName string, err *error) {
	if rec := recover(); rec != nil {
		metrics.PanicsRecovered.WithLabelValues(toolName).Inc()
		h.logger.Error("Panic recovered",
			"tool", toolName,
			"panic", rec,
			"stack", string(debug.Stack()))
		*err = fmt.Errorf("%s failed: internal error", toolName)
	}
}

// logExecution logs tool execution details.
func (h *HandlerRegistry) logExecution(spec ToolSpec, args, result any) {
	attrs := []any{"tool", spec.Name, "category", spec.Category}

	// Add extractable fields from args using type assertions
	switch a := args.(type) {
	case pipeline.ExtractContentArgs:
		attrs = append(attrs, "format", a.Format, "content_bytes", len(a.Content))
	case pipeline.GenerateDocumentArgs:
		attrs = append(attrs, "format", a.Format, "input_bytes", len(a.Input))
	case pipeline.ExpandLinksArgs:
		attrs = append(attrs, "text_bytes", len(a.Text))
	case pipeline.ResolveLinkArgs:
		attrs = append(attrs, "url", a.URL)
	case pipeline.GetPageArgs:
		attrs = append(attrs, "page", a.Page)
	case pipeline.PublishPageArgs:
		attrs = append(attrs, "space_key", a.SpaceKey, "page_id", a.PageID, "title", a.Title)
	case pipeline.ValidateConnectionArgs:
		// No args to log
	}

	// Add extractable fields from result
	switch r := result.(type) {
	case pipeline.ExtractContentResult:
		attrs = append(attrs, "strategy", r.Strategy, "failed_attempts", len(r.Attempts))
	case pipeline.GenerateDocumentResult:
		attrs = append(attrs, "strategy", r.Strategy, "links", len(r.Links))
	case pipeline.ExpandLinksResult:
		attrs = append(attrs, "resolved", r.Resolved, "failed", r.Failed)
	case pipeline.ResolveLinkResult:
		attrs = append(attrs, "valid", r.Link.IsValid, "page_id", r.Link.PageID)
	case pipeline.GetPageResult:
		attrs = append(attrs, "page_id", r.ID, "version", r.Version)
	case pipeline.PublishPageResult:
		attrs = append(attrs, "success", r.Success, "operation", r.Operation, "run_id", r.RunID)
	case pipeline.ValidateConnectionResult:
		attrs = append(attrs, "valid", r.IsValid)
	}

	h.logger.Info("Tool executed", attrs...)
}
