package extract

import (
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	apierrors "github.com/olgasafonova/confluence-spec-mcp-server/internal/errors"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/sanitize"
)

// Formatting elements kept in HTML output. Containers such as div and span
// are unwrapped; script, style and friends are dropped with their content.
var htmlAllowedElements = []string{
	"h1", "h2", "h3", "h4", "h5", "h6",
	"p", "br", "hr", "blockquote", "pre", "code",
	"ul", "ol", "li", "dl", "dt", "dd",
	"strong", "b", "em", "i", "u", "s", "del", "sub", "sup", "mark",
	"table", "thead", "tbody", "tfoot", "tr", "th", "td", "caption",
	"a",
}

var (
	realTagRegex       = regexp.MustCompile(`<\s*/?\s*[a-zA-Z][a-zA-Z0-9:\-]*[^>]*>`)
	markdownHeadingRgx = regexp.MustCompile(`(?m)^#{1,6}\s+\S`)
	sanitizedTagRegex  = regexp.MustCompile(`<[^>]*>`)

	// Quotes bluemonday escapes in text; <, > and & stay escaped.
	textQuoteReplacer = strings.NewReplacer("&#34;", `"`, "&#39;", "'", "&quot;", `"`, "&apos;", "'")

	htmlPolicyOnce sync.Once
	htmlPolicy     *bluemonday.Policy
)

func extractionPolicy() *bluemonday.Policy {
	htmlPolicyOnce.Do(func() {
		p := bluemonday.NewPolicy()
		p.AllowElements(htmlAllowedElements...)
		p.AllowAttrs("href").OnElements("a")
		p.AllowURLSchemes("http", "https", "mailto")
		p.RequireParseableURLs(true)
		p.AllowAttrs("colspan", "rowspan").Matching(regexp.MustCompile(`^[0-9]+$`)).OnElements("td", "th")
		p.AllowAttrs("start").Matching(regexp.MustCompile(`^[0-9]+$`)).OnElements("ol")
		sanitize.AllowStorageMarkup(p)
		htmlPolicy = p
	})
	return htmlPolicy
}

// HTMLProcessor cleans HTML (Confluence storage) payloads with an allow-list
// policy.
type HTMLProcessor struct {
	policy *bluemonday.Policy
}

// NewHTMLProcessor creates an HTML processor.
func NewHTMLProcessor() *HTMLProcessor {
	return &HTMLProcessor{policy: extractionPolicy()}
}

func (p *HTMLProcessor) Format() Format { return FormatHTML }

func (p *HTMLProcessor) Extract(raw string) (Document, error) {
	return extract(p, raw)
}

func (p *HTMLProcessor) Process(payload string) (string, error) {
	s := sanitize.Text(payload)

	// Markup that arrived entity-encoded (&lt;h1&gt;...) is decoded once.
	if strings.Contains(s, "&lt;") && !realTagRegex.MatchString(s) {
		s = html.UnescapeString(s)
	}
	if !realTagRegex.MatchString(s) && markdownHeadingRgx.MatchString(s) {
		return "", apierrors.New(apierrors.KindHTMLProcessing, "payload is Markdown, not HTML").
			WithRecovery("Regenerate the document in HTML.")
	}

	cleaned := strings.TrimSpace(p.policy.Sanitize(s))
	cleaned = unescapeTextQuotes(cleaned)
	if cleaned == "" {
		return "", apierrors.New(apierrors.KindHTMLProcessing, "document is empty after cleaning").
			WithRecovery("Regenerate the document.")
	}

	headings, body, err := countHTMLBlocks(cleaned)
	if err != nil {
		return "", apierrors.Wrap(apierrors.KindHTMLProcessing, err, "could not parse the cleaned document")
	}
	if err := checkStructure(apierrors.KindHTMLProcessing, headings, body); err != nil {
		return "", err
	}
	return cleaned, nil
}

// unescapeTextQuotes restores literal quotes between tags of sanitized
// markup. Attribute values keep their escaping.
func unescapeTextQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, loc := range sanitizedTagRegex.FindAllStringIndex(s, -1) {
		b.WriteString(textQuoteReplacer.Replace(s[last:loc[0]]))
		b.WriteString(s[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(textQuoteReplacer.Replace(s[last:]))
	return b.String()
}

// countHTMLBlocks counts headings and whether any non-heading text remains.
func countHTMLBlocks(s string) (headings, body int, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return 0, 0, err
	}
	hs := doc.Find("h1, h2, h3, h4, h5, h6")
	headings = hs.Length()
	hs.Remove()

	if strings.TrimSpace(doc.Find("body").Text()) != "" || doc.Find("body table").Length() > 0 {
		body = 1
	}
	return headings, body, nil
}
