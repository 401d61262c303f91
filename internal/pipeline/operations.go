package pipeline

import (
	"context"
	"strings"

	"github.com/olgasafonova/confluence-spec-mcp-server/internal/confluence"
	apierrors "github.com/olgasafonova/confluence-spec-mcp-server/internal/errors"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/extract"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/fallback"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/links"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/publish"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/sanitize"
)

// ExtractContent recovers a document from raw model output in the named
// format ("" for the default).
func (s *Service) ExtractContent(ctx context.Context, raw, format string) (fallback.Result, error) {
	f, err := s.parseFormat(format)
	if err != nil {
		return fallback.Result{}, err
	}
	if strings.TrimSpace(raw) == "" {
		return fallback.Result{}, apierrors.NewValidationError("content", "must not be empty")
	}
	return s.extractor.ExtractContent(ctx, raw, f)
}

// ExpandLinks replaces Confluence links in text with page content markers.
// Without a complete connection the text comes back unchanged.
func (s *Service) ExpandLinks(ctx context.Context, text string) links.Expansion {
	c, err := s.connected()
	if err != nil {
		return links.Expansion{Text: text, Links: []links.WikiLink{}}
	}
	return c.resolver.ExpandText(ctx, text, c.conn.BaseURL)
}

// ResolveLink resolves one Confluence link. Resolution problems are reported
// in the returned link; err is set only when no connection is configured.
func (s *Service) ResolveLink(ctx context.Context, rawURL string) (links.WikiLink, error) {
	c, err := s.connected()
	if err != nil {
		return links.WikiLink{}, err
	}
	return c.resolver.Resolve(ctx, rawURL, c.conn.BaseURL), nil
}

// RefreshLink drops any cached copy of rawURL and resolves it again.
func (s *Service) RefreshLink(ctx context.Context, rawURL string) (links.WikiLink, error) {
	c, err := s.connected()
	if err != nil {
		return links.WikiLink{}, err
	}
	c.resolver.Invalidate(rawURL)
	return c.resolver.Resolve(ctx, rawURL, c.conn.BaseURL), nil
}

// GetPage fetches a page by id or by a URL that carries one.
func (s *Service) GetPage(ctx context.Context, idOrURL string) (*confluence.Page, error) {
	id := strings.TrimSpace(idOrURL)
	if strings.Contains(id, "/") {
		id = links.ExtractPageID(id)
	}
	if err := sanitize.ValidatePageID(id); err != nil {
		return nil, err
	}
	c, err := s.connected()
	if err != nil {
		return nil, err
	}
	return c.client.GetPage(ctx, id)
}

// PublishRequest is a document to publish. Content is in Format ("" for the
// default) and is converted to storage markup before upload.
type PublishRequest struct {
	SpaceKey string
	Title    string
	Content  string
	Format   string
	ParentID string
	PageID   string
}

// PublishPage converts and publishes a document. The Result is populated
// even when err is set.
func (s *Service) PublishPage(ctx context.Context, req PublishRequest, onProgress publish.ProgressFunc) (publish.Result, error) {
	op := publish.OperationCreate
	if req.PageID != "" {
		op = publish.OperationUpdate
	}
	failed := func(err error) (publish.Result, error) {
		e, ok := apierrors.As(err)
		if !ok {
			e = apierrors.Wrap(apierrors.KindPublishing, err, "publishing failed")
		}
		// Failures before the workflow starts still end the progress stream.
		if onProgress != nil {
			onProgress(publish.Progress{
				Step:         publish.StepFailed,
				Message:      "Publishing failed",
				IsComplete:   true,
				ErrorMessage: e.Message,
			})
		}
		return publish.Result{
			Operation:    op,
			Title:        req.Title,
			PageID:       req.PageID,
			PublishedAt:  s.now().UTC(),
			ErrorMessage: e.Message,
			ErrorKind:    e.Kind,
		}, e
	}

	c, err := s.connected()
	if err != nil {
		return failed(err)
	}
	f, err := s.parseFormat(req.Format)
	if err != nil {
		return failed(err)
	}
	body, err := extract.Document{Format: f, Content: req.Content}.StorageBody()
	if err != nil {
		return failed(err)
	}

	return c.workflow.Publish(ctx, publish.Request{
		SpaceKey: req.SpaceKey,
		Title:    req.Title,
		Body:     body,
		ParentID: req.ParentID,
		PageID:   req.PageID,
	}, onProgress)
}
