package pipeline

import (
	"context"

	"github.com/olgasafonova/confluence-spec-mcp-server/internal/fallback"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/links"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/publish"
)

// MCP Tool wrapper methods
// These methods wrap the service methods with Args/Result types for MCP integration.

// ExtractContentMCP is the MCP wrapper for ExtractContent
func (s *Service) ExtractContentMCP(ctx context.Context, args ExtractContentArgs) (ExtractContentResult, error) {
	res, err := s.ExtractContent(ctx, args.Content, args.Format)
	if err != nil {
		return ExtractContentResult{}, err
	}
	return extractResult(res), nil
}

func extractResult(res fallback.Result) ExtractContentResult {
	return ExtractContentResult{
		Format:   string(res.Document.Format),
		Content:  res.Document.Content,
		Strategy: res.Strategy,
		Attempts: res.Attempts,
	}
}

// ExpandLinksMCP is the MCP wrapper for ExpandLinks
func (s *Service) ExpandLinksMCP(ctx context.Context, args ExpandLinksArgs) (ExpandLinksResult, error) {
	exp := s.ExpandLinks(ctx, args.Text)
	resolved := exp.Resolved()
	return ExpandLinksResult{
		Text:     exp.Text,
		Links:    exp.Links,
		Resolved: resolved,
		Failed:   len(exp.Links) - resolved,
	}, nil
}

// ResolveLinkMCP is the MCP wrapper for ResolveLink
func (s *Service) ResolveLinkMCP(ctx context.Context, args ResolveLinkArgs) (ResolveLinkResult, error) {
	resolve := s.ResolveLink
	if args.Refresh {
		resolve = s.RefreshLink
	}
	link, err := resolve(ctx, args.URL)
	if err != nil {
		return ResolveLinkResult{}, err
	}
	return ResolveLinkResult{Link: link, Marker: link.ContentMarker()}, nil
}

// GetPageMCP is the MCP wrapper for GetPage
func (s *Service) GetPageMCP(ctx context.Context, args GetPageArgs) (GetPageResult, error) {
	page, err := s.GetPage(ctx, args.Page)
	if err != nil {
		return GetPageResult{}, err
	}
	content := page.Content
	if args.Text {
		content = links.PlainText(content)
	}
	ancestors := make([]string, 0, len(page.Ancestors))
	for _, a := range page.Ancestors {
		ancestors = append(ancestors, a.Title)
	}
	return GetPageResult{
		ID:        page.ID,
		Title:     page.Title,
		URL:       page.URL,
		SpaceKey:  page.SpaceKey,
		Version:   page.Version,
		Ancestors: ancestors,
		Content:   content,
	}, nil
}

// PublishPageMCP is the MCP wrapper for PublishPage. A failed publish is
// reported in the result, not as a tool error, so the caller sees the
// progress trail and any retry hint.
func (s *Service) PublishPageMCP(ctx context.Context, args PublishPageArgs) (PublishPageResult, error) {
	var trail []publish.Progress
	res, _ := s.PublishPage(ctx, PublishRequest{
		SpaceKey: args.SpaceKey,
		Title:    args.Title,
		Content:  args.Content,
		Format:   args.Format,
		ParentID: args.ParentID,
		PageID:   args.PageID,
	}, func(p publish.Progress) { trail = append(trail, p) })
	if trail == nil {
		trail = []publish.Progress{}
	}
	return PublishPageResult{Result: res, Message: res.DetailedMessage(), Progress: trail}, nil
}

// ValidateConnectionMCP is the MCP wrapper for ValidateConnection
func (s *Service) ValidateConnectionMCP(ctx context.Context, _ ValidateConnectionArgs) (ValidateConnectionResult, error) {
	conn, user, err := s.ValidateConnection(ctx)
	if err != nil {
		return ValidateConnectionResult{}, err
	}
	out := ValidateConnectionResult{
		BaseURL:       conn.BaseURL,
		Email:         conn.Email,
		Enabled:       conn.Enabled,
		IsValid:       conn.IsValid,
		LastValidated: conn.LastValidated,
	}
	if user != nil {
		out.User = user.DisplayName
	}
	return out, nil
}

// GenerateDocumentMCP is the MCP wrapper for Generate
func (s *Service) GenerateDocumentMCP(ctx context.Context, args GenerateDocumentArgs) (GenerateDocumentResult, error) {
	res, err := s.Generate(ctx, GenerateRequest{
		Input:     args.Input,
		Format:    args.Format,
		Template:  args.Template,
		SkipLinks: args.SkipLinks,
	})
	if err != nil {
		return GenerateDocumentResult{}, err
	}
	return GenerateDocumentResult{ExtractContentResult: extractResult(res.Result), Links: res.Links}, nil
}
