package fallback

import (
	"regexp"

	"github.com/olgasafonova/confluence-spec-mcp-server/internal/extract"
)

var (
	htmlStructureRegex     = regexp.MustCompile(`(?i)<\s*(h[1-6]|p|ul|ol|li|table|strong|em|blockquote|pre|div)\b[^>]*>`)
	markdownStructureRegex = regexp.MustCompile(`(?m)^(#{1,6}\s+\S|\s*[-*+]\s+\S|\s*\d+\.\s+\S|>\s+\S|` + "```" + `)`)
	markdownBoldRegex      = regexp.MustCompile(`\*\*[^*\n]+\*\*`)
)

// looksLikeHTML reports whether s carries HTML structural markup.
func looksLikeHTML(s string) bool {
	return htmlStructureRegex.MatchString(s)
}

// looksLikeMarkdown reports whether s carries Markdown structure.
func looksLikeMarkdown(s string) bool {
	return markdownStructureRegex.MatchString(s) || markdownBoldRegex.MatchString(s)
}

var markdownRenderer = extract.NewMarkdownProcessor()

// markdownToHTML renders Markdown with goldmark. Raw HTML is not passed
// through; the HTML processor cleans the rest.
func markdownToHTML(md string) (string, error) {
	return markdownRenderer.RenderHTML(md)
}
