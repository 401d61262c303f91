package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/olgasafonova/confluence-spec-mcp-server/internal/base"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/config"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/confluence"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/credentials"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/extract"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/links"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/llm"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/storage"
)

// Open wires a Service from cfg: the SQLite database backs sealed tokens and
// page backups, the key file seals tokens, and the connection file is read
// and kept up to date. The caller closes the returned database.
func Open(cfg *config.Config, logger *slog.Logger) (*Service, *storage.DB, error) {
	db, err := storage.Open(cfg.DatabaseFile)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	key, err := config.LoadOrCreateKey(cfg.KeyFile)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	creds, err := credentials.NewStore(db, key)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	conn, err := config.LoadConnection(cfg.ConnectionFile)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	format, err := extract.ParseFormat(cfg.Format)
	if err != nil {
		format = extract.FormatMarkdown
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	opts := []Option{
		WithLogger(logger),
		WithBackupStore(db),
		WithDefaultFormat(format),
		WithConnectionSaver(func(c confluence.ConnectionConfig) error {
			return config.SaveConnection(cfg.ConnectionFile, c)
		}),
		WithBaseOptions(base.WithHTTPClient(base.NewHTTPClient(timeout))),
		WithLinkOptions(
			links.WithTTL(cfg.Links.TTL),
			links.WithMaxConcurrent(cfg.Links.MaxConcurrent),
			links.WithCacheSize(cfg.Links.CacheSize),
		),
	}
	if cfg.LLM.APIKey != "" {
		opts = append(opts, WithCompleter(llm.NewClient(llm.Options{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			IsOAuth: cfg.LLM.OAuth,
		}, base.WithLogger(logger))))
	}

	return New(conn, creds, opts...), db, nil
}
