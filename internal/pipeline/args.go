package pipeline

import (
	"time"

	apierrors "github.com/olgasafonova/confluence-spec-mcp-server/internal/errors"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/links"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/publish"
)

// ExtractContentArgs contains parameters for extracting a document from model output
type ExtractContentArgs struct {
	Content string `json:"content" jsonschema:"Raw model output, normally wrapped in @@@START@@@ and @@@END@@@ markers"`
	Format  string `json:"format,omitempty" jsonschema:"Target format: markdown (default) or html"`
}

// ExtractContentResult is an extracted document
type ExtractContentResult struct {
	Format   string              `json:"format"`
	Content  string              `json:"content"`
	Strategy string              `json:"strategy"`
	Attempts []apierrors.Attempt `json:"attempts,omitempty"`
}

// ExpandLinksArgs contains parameters for link expansion
type ExpandLinksArgs struct {
	Text string `json:"text" jsonschema:"Text containing Confluence page links"`
}

// ExpandLinksResult is text with links replaced by page content markers
type ExpandLinksResult struct {
	Text     string           `json:"text"`
	Links    []links.WikiLink `json:"links"`
	Resolved int              `json:"resolved"`
	Failed   int              `json:"failed"`
}

// ResolveLinkArgs contains parameters for resolving one link
type ResolveLinkArgs struct {
	URL     string `json:"url" jsonschema:"Confluence page URL: /pages/<id>, /display/<space>/<title> or a /x/ short link"`
	Refresh bool   `json:"refresh,omitempty" jsonschema:"Bypass the link cache and fetch the page again"`
}

// ResolveLinkResult is one resolved link
type ResolveLinkResult struct {
	Link   links.WikiLink `json:"link"`
	Marker string         `json:"marker"`
}

// GetPageArgs contains parameters for fetching a page
type GetPageArgs struct {
	Page string `json:"page" jsonschema:"Numeric page id or a page URL containing one"`
	Text bool   `json:"text,omitempty" jsonschema:"Return plain text instead of storage markup (default: false)"`
}

// GetPageResult is a fetched page
type GetPageResult struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	URL       string   `json:"url"`
	SpaceKey  string   `json:"space_key"`
	Version   int      `json:"version"`
	Ancestors []string `json:"ancestors,omitempty"`
	Content   string   `json:"content"`
}

// PublishPageArgs contains parameters for publishing a document
type PublishPageArgs struct {
	SpaceKey string `json:"space_key,omitempty" jsonschema:"Space key, required when creating a page"`
	Title    string `json:"title" jsonschema:"Page title"`
	Content  string `json:"content" jsonschema:"Document content in the given format"`
	Format   string `json:"format,omitempty" jsonschema:"Content format: markdown (default) or html"`
	ParentID string `json:"parent_id,omitempty" jsonschema:"Parent page id for a new page"`
	PageID   string `json:"page_id,omitempty" jsonschema:"Existing page id; when set the page is updated"`
}

// PublishPageResult is the publish outcome with its progress trail
type PublishPageResult struct {
	publish.Result
	Message  string             `json:"message"`
	Progress []publish.Progress `json:"progress"`
}

// ValidateConnectionArgs takes no parameters
type ValidateConnectionArgs struct{}

// ValidateConnectionResult is the connection state after validation
type ValidateConnectionResult struct {
	BaseURL       string     `json:"base_url"`
	Email         string     `json:"email"`
	Enabled       bool       `json:"enabled"`
	IsValid       bool       `json:"is_valid"`
	LastValidated *time.Time `json:"last_validated,omitempty"`
	User          string     `json:"user,omitempty"`
}

// GenerateDocumentArgs contains parameters for generating a document
type GenerateDocumentArgs struct {
	Input     string `json:"input" jsonschema:"What the document should cover; Confluence links are expanded"`
	Format    string `json:"format,omitempty" jsonschema:"Output format: markdown (default) or html"`
	Template  string `json:"template,omitempty" jsonschema:"Optional section outline to follow"`
	SkipLinks bool   `json:"skip_links,omitempty" jsonschema:"Leave Confluence links unexpanded (default: false)"`
}

// GenerateDocumentResult is a generated document
type GenerateDocumentResult struct {
	ExtractContentResult
	Links []links.WikiLink `json:"links"`
}
