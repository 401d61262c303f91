package extract

import (
	"strings"

	apierrors "github.com/olgasafonova/confluence-spec-mcp-server/internal/errors"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/sanitize"
)

// Format is the target document format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// ParseFormat accepts "markdown"/"md" and "html"/"storage", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "markdown", "md", "":
		return FormatMarkdown, nil
	case "html", "storage":
		return FormatHTML, nil
	default:
		return "", apierrors.NewValidationError("format", "must be markdown or html")
	}
}

// Other returns the opposite format.
func (f Format) Other() Format {
	if f == FormatHTML {
		return FormatMarkdown
	}
	return FormatHTML
}

// Document is a validated, cleaned extraction result.
type Document struct {
	Format  Format `json:"format"`
	Content string `json:"content"`
}

// StorageBody returns the document as Confluence storage markup. Markdown is
// rendered to HTML first; the result is passed through the storage policy.
func (d Document) StorageBody() (string, error) {
	body := d.Content
	if d.Format == FormatMarkdown {
		rendered, err := NewMarkdownProcessor().RenderHTML(d.Content)
		if err != nil {
			return "", apierrors.Wrap(apierrors.KindMarkdownProcessing, err, "could not convert the document to storage format")
		}
		body = rendered
	}
	body = strings.TrimSpace(sanitize.HTML(body))
	if body == "" {
		return "", apierrors.New(apierrors.KindContentProcessing, "document is empty in storage format")
	}
	return body, nil
}

// Processor cleans a payload for one format.
type Processor interface {
	Format() Format
	// Process cleans a payload that has already been cut out of the markers.
	Process(payload string) (string, error)
	// Extract applies the marker protocol to raw and processes the payload.
	Extract(raw string) (Document, error)
}

// New returns the processor for format.
func New(format Format) (Processor, error) {
	switch format {
	case FormatMarkdown:
		return NewMarkdownProcessor(), nil
	case FormatHTML:
		return NewHTMLProcessor(), nil
	default:
		return nil, apierrors.NewValidationError("format", "must be markdown or html")
	}
}

func extract(p Processor, raw string) (Document, error) {
	payload, err := Payload(raw)
	if err != nil {
		return Document{}, err
	}
	content, err := p.Process(payload)
	if err != nil {
		return Document{}, err
	}
	return Document{Format: p.Format(), Content: content}, nil
}

// MinHeadingsForSkeleton is the number of headings at which a document with
// no body text is treated as a truncated generation. A lone heading is a
// legitimate (if short) document.
const MinHeadingsForSkeleton = 2

func checkStructure(kind apierrors.Kind, headings, bodyBlocks int) error {
	if headings == 0 && bodyBlocks == 0 {
		return apierrors.New(kind, "document is empty after cleaning").
			WithRecovery("Regenerate the document.")
	}
	if bodyBlocks == 0 && headings >= MinHeadingsForSkeleton {
		return apierrors.Newf(kind, "document contains only headings (%d) and no body text", headings).
			WithRecovery("The generation looks truncated; regenerate the document.")
	}
	return nil
}
