// Package pipeline composes link expansion, generation, extraction and
// publishing behind one Service used by the MCP tools and the CLI.
package pipeline

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/olgasafonova/confluence-spec-mcp-server/internal/base"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/confluence"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/credentials"
	apierrors "github.com/olgasafonova/confluence-spec-mcp-server/internal/errors"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/extract"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/fallback"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/infra"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/links"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/llm"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/publish"
)

// ConnectionSaver persists the connection after it changes.
type ConnectionSaver func(confluence.ConnectionConfig) error

// Service is safe for concurrent use. Connection changes rebuild the
// Confluence-facing components; calls in flight keep the ones they started with.
type Service struct {
	mu       sync.RWMutex
	conn     confluence.ConnectionConfig
	client   *confluence.Client
	resolver *links.Resolver
	workflow *publish.Workflow

	creds      *credentials.Store
	extractor  *fallback.Processor
	completer  llm.Completer
	backups    publish.BackupStore
	save       ConnectionSaver
	logger     *slog.Logger
	now        func() time.Time
	baseOpts   []base.ClientOption
	linkOpts   []links.Option
	format     extract.Format
	strategies []fallback.Strategy
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithCompleter sets the model used by Generate.
func WithCompleter(c llm.Completer) Option {
	return func(s *Service) {
		s.completer = c
	}
}

// WithBackupStore sets where pre-update page snapshots are kept.
func WithBackupStore(b publish.BackupStore) Option {
	return func(s *Service) {
		s.backups = b
	}
}

// WithConnectionSaver sets how connection changes are persisted.
func WithConnectionSaver(fn ConnectionSaver) Option {
	return func(s *Service) {
		s.save = fn
	}
}

// WithBaseOptions passes options to the Confluence HTTP client.
func WithBaseOptions(opts ...base.ClientOption) Option {
	return func(s *Service) {
		s.baseOpts = append(s.baseOpts, opts...)
	}
}

// WithLinkOptions passes options to the link resolver.
func WithLinkOptions(opts ...links.Option) Option {
	return func(s *Service) {
		s.linkOpts = append(s.linkOpts, opts...)
	}
}

// WithDefaultFormat sets the format used when a call names none.
func WithDefaultFormat(f extract.Format) Option {
	return func(s *Service) {
		s.format = f
	}
}

// WithStrategies replaces the extraction cascade.
func WithStrategies(st ...fallback.Strategy) Option {
	return func(s *Service) {
		s.strategies = st
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates a Service for conn. creds resolves and stores API tokens.
func New(conn confluence.ConnectionConfig, creds *credentials.Store, opts ...Option) *Service {
	s := &Service{
		creds:  creds,
		save:   func(confluence.ConnectionConfig) error { return nil },
		logger: slog.Default(),
		now:    time.Now,
		format: extract.FormatMarkdown,
	}
	for _, opt := range opts {
		opt(s)
	}

	fbOpts := []fallback.Option{fallback.WithLogger(s.logger)}
	if len(s.strategies) > 0 {
		fbOpts = append(fbOpts, fallback.WithStrategies(s.strategies...))
	}
	s.extractor = fallback.New(fbOpts...)
	s.rebuild(conn)
	return s
}

// rebuild swaps in components for conn. Callers hold mu (or own s exclusively).
func (s *Service) rebuild(conn confluence.ConnectionConfig) {
	s.conn = conn.Normalized()
	s.client = confluence.NewClient(s.conn, s.creds,
		confluence.WithBaseOptions(append([]base.ClientOption{base.WithLogger(s.logger)}, s.baseOpts...)...),
		confluence.WithClock(s.now),
	)

	linkOpts := append([]links.Option{links.WithLogger(s.logger), links.WithClock(s.now)}, s.linkOpts...)
	s.resolver = links.NewResolver(s.client, s.conn.BaseURL, linkOpts...)

	pubOpts := []publish.Option{publish.WithLogger(s.logger), publish.WithClock(s.now)}
	if s.backups != nil {
		pubOpts = append(pubOpts, publish.WithBackupStore(s.backups))
	}
	s.workflow = publish.NewWorkflow(s.client, pubOpts...)
}

type components struct {
	conn     confluence.ConnectionConfig
	client   *confluence.Client
	resolver *links.Resolver
	workflow *publish.Workflow
}

func (s *Service) snapshot() components {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return components{conn: s.conn, client: s.client, resolver: s.resolver, workflow: s.workflow}
}

// connected returns the components, or a validation error naming the
// missing connection fields.
func (s *Service) connected() (components, error) {
	c := s.snapshot()
	if !c.conn.IsConfigurationComplete() {
		return c, apierrors.Newf(apierrors.KindValidation,
			"Confluence connection is not configured (missing %s)", strings.Join(c.conn.MissingFields(), ", ")).
			WithRecovery("Set the base URL, email and API token, then enable the connection.")
	}
	return c, nil
}

// Connection returns the current connection configuration.
func (s *Service) Connection() confluence.ConnectionConfig {
	return s.snapshot().conn
}

// parseFormat resolves a caller-supplied format name.
func (s *Service) parseFormat(name string) (extract.Format, error) {
	if strings.TrimSpace(name) == "" {
		return s.format, nil
	}
	return extract.ParseFormat(name)
}

// LinkCacheStats reports the resolver cache.
func (s *Service) LinkCacheStats() infra.CacheStats {
	return s.snapshot().resolver.CacheStats()
}
