package extract

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	apierrors "github.com/olgasafonova/confluence-spec-mcp-server/internal/errors"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/sanitize"
)

// Raw HTML tags that may stay in Markdown output.
var markdownAllowedTags = map[string]bool{
	"br": true, "sub": true, "sup": true, "kbd": true, "u": true,
	"mark": true, "abbr": true, "details": true, "summary": true,
}

// Inline formatting tags rewritten as Markdown emphasis.
var markdownInlineMarks = map[string]string{
	"strong": "**", "b": "**",
	"em": "*", "i": "*",
	"del": "~~", "s": "~~", "strike": "~~",
	"code": "`",
}

// Block tags that mark a payload as an HTML document rather than Markdown.
var structuralTags = map[string]bool{
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"p": true, "div": true, "table": true, "ul": true, "ol": true,
	"section": true, "article": true, "blockquote": true, "pre": true,
}

// Raw HTML tags removed together with their content.
var dangerousTags = map[string]bool{
	"script": true, "style": true, "iframe": true, "object": true,
	"embed": true, "noscript": true, "template": true, "textarea": true,
}

var (
	tagNameRegex    = regexp.MustCompile(`^<\s*(/)?\s*([a-zA-Z][a-zA-Z0-9:\-]*)`)
	blankLinesRegex = regexp.MustCompile(`\n{3,}`)
)

// MarkdownProcessor cleans Markdown payloads. Raw HTML outside a small
// allow-list is removed using the goldmark AST, so code blocks and code
// spans are left untouched.
type MarkdownProcessor struct {
	md goldmark.Markdown
}

// NewMarkdownProcessor creates a Markdown processor with GFM tables.
func NewMarkdownProcessor() *MarkdownProcessor {
	return &MarkdownProcessor{
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.Table,
				extension.Strikethrough,
				extension.TaskList,
			),
		),
	}
}

func (p *MarkdownProcessor) Format() Format { return FormatMarkdown }

func (p *MarkdownProcessor) Extract(raw string) (Document, error) {
	return extract(p, raw)
}

func (p *MarkdownProcessor) Process(payload string) (string, error) {
	src := []byte(sanitize.Text(payload))
	doc := p.md.Parser().Parse(text.NewReader(src))
	if isHTMLDocument(doc, src) {
		return "", apierrors.New(apierrors.KindMarkdownProcessing, "payload is an HTML document, not Markdown").
			WithRecovery("Regenerate the document in Markdown.")
	}

	cleaned := applyEdits(src, htmlEdits(doc, src))
	cleaned = blankLinesRegex.ReplaceAllString(strings.TrimSpace(cleaned), "\n\n")
	if cleaned == "" {
		return "", apierrors.New(apierrors.KindMarkdownProcessing, "document is empty after cleaning").
			WithRecovery("Regenerate the document.")
	}

	headings, body := p.countBlocks(cleaned)
	if err := checkStructure(apierrors.KindMarkdownProcessing, headings, body); err != nil {
		return "", err
	}
	return cleaned, nil
}

// RenderHTML converts Markdown to HTML. Raw HTML in the input is omitted.
func (p *MarkdownProcessor) RenderHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := p.md.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

// countBlocks counts top-level headings and body blocks.
func (p *MarkdownProcessor) countBlocks(s string) (headings, body int) {
	doc := p.md.Parser().Parse(text.NewReader([]byte(s)))
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch n.Kind() {
		case ast.KindHeading:
			headings++
		case ast.KindThematicBreak:
		default:
			body++
		}
	}
	return headings, body
}

// isHTMLDocument reports whether every top-level block is structural raw HTML.
func isHTMLDocument(doc ast.Node, src []byte) bool {
	blocks, htmlBlocks := 0, 0
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if n.Kind() == ast.KindThematicBreak {
			continue
		}
		blocks++
		if hb, ok := n.(*ast.HTMLBlock); ok {
			start, stop := blockRange(hb)
			if tag, _ := tagName(string(src[start:stop])); structuralTags[tag] {
				htmlBlocks++
			}
		}
	}
	return blocks > 0 && htmlBlocks == blocks
}

// edit replaces src[start:stop] with repl.
type edit struct {
	start, stop int
	repl        string
}

// htmlEdits collects the raw HTML to remove. Dangerous elements go with their
// content; other disallowed block elements are reduced to their text.
func htmlEdits(doc ast.Node, src []byte) []edit {
	var edits []edit
	consumed := make(map[ast.Node]bool)

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if consumed[n] {
			return ast.WalkSkipChildren, nil
		}
		switch node := n.(type) {
		case *ast.HTMLBlock:
			start, stop := blockRange(node)
			if start >= stop {
				return ast.WalkSkipChildren, nil
			}
			raw := string(src[start:stop])
			tag, _ := tagName(raw)
			switch {
			case markdownAllowedTags[tag]:
			case dangerousTags[tag] || strings.HasPrefix(strings.TrimSpace(raw), "<!--"):
				edits = append(edits, edit{start: start, stop: stop})
			default:
				edits = append(edits, edit{start: start, stop: stop, repl: blockMarkdown(raw)})
			}
			return ast.WalkSkipChildren, nil

		case *ast.RawHTML:
			start, stop := inlineRange(node)
			if start >= stop {
				return ast.WalkContinue, nil
			}
			tag, closing := tagName(string(src[start:stop]))
			if markdownAllowedTags[tag] {
				return ast.WalkContinue, nil
			}
			if mark, ok := markdownInlineMarks[tag]; ok {
				edits = append(edits, edit{start: start, stop: stop, repl: mark})
				return ast.WalkContinue, nil
			}
			if dangerousTags[tag] && !closing {
				// Extend to the matching closing tag among the following siblings.
				var inside []ast.Node
				for s := n.NextSibling(); s != nil; s = s.NextSibling() {
					inside = append(inside, s)
					r, ok := s.(*ast.RawHTML)
					if !ok {
						continue
					}
					rs, rstop := inlineRange(r)
					if t, c := tagName(string(src[rs:rstop])); c && t == tag {
						stop = rstop
						for _, in := range inside {
							consumed[in] = true
						}
						break
					}
				}
			}
			edits = append(edits, edit{start: start, stop: stop})
		}
		return ast.WalkContinue, nil
	})
	return edits
}

func blockRange(b *ast.HTMLBlock) (int, int) {
	lines := b.Lines()
	if lines.Len() == 0 {
		return 0, 0
	}
	start := lines.At(0).Start
	stop := lines.At(lines.Len() - 1).Stop
	if b.HasClosure() && b.ClosureLine.Stop > stop {
		stop = b.ClosureLine.Stop
	}
	return start, stop
}

func inlineRange(r *ast.RawHTML) (int, int) {
	if r.Segments == nil || r.Segments.Len() == 0 {
		return 0, 0
	}
	return r.Segments.At(0).Start, r.Segments.At(r.Segments.Len() - 1).Stop
}

// tagName returns the lower-cased tag name of the first tag in s and whether
// it is a closing tag.
func tagName(s string) (string, bool) {
	m := tagNameRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[2]), m[1] == "/"
}

// blockMarkdown rewrites a raw HTML block (tables, lists, paragraphs) as
// Markdown after sanitizing it, falling back to its plain text.
func blockMarkdown(raw string) string {
	md, err := HTMLToMarkdown(sanitize.HTML(raw))
	if err != nil || md == "" {
		return blockText(raw)
	}
	return md + "\n"
}

// blockText keeps the text of a disallowed HTML block as plain lines.
func blockText(raw string) string {
	t := html.UnescapeString(sanitize.StripTags(raw))
	var lines []string
	for _, l := range strings.Split(t, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

func applyEdits(src []byte, edits []edit) string {
	if len(edits) == 0 {
		return string(src)
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i].start > edits[j].start })
	out := string(src)
	last := len(out) + 1
	for _, e := range edits {
		if e.stop > last {
			// Overlaps an edit already applied.
			continue
		}
		out = out[:e.start] + e.repl + out[e.stop:]
		last = e.start
	}
	return out
}
