package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTMLToMarkdown converts an HTML fragment to Markdown by walking the parsed
// tree. Unknown containers are unwrapped; script and style are dropped.
func HTMLToMarkdown(s string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	body := doc.Find("body")
	if body.Length() == 0 {
		return "", nil
	}
	var b strings.Builder
	writeChildren(&b, body.Nodes[0], 0)
	return tidyMarkdown(b.String()), nil
}

// writeChildren renders the children of parent, grouping runs of text and
// inline elements into paragraphs.
func writeChildren(b *strings.Builder, parent *html.Node, depth int) {
	var run strings.Builder
	flush := func() {
		if t := strings.TrimSpace(collapseSpace(run.String())); t != "" {
			b.WriteString("\n\n" + t + "\n\n")
		}
		run.Reset()
	}
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode || (c.Type == html.ElementNode && isInline(c)) {
			run.WriteString(inlineNode(c))
			continue
		}
		flush()
		if c.Type == html.ElementNode {
			writeBlock(b, c, depth)
		}
	}
	flush()
}

func writeBlock(b *strings.Builder, n *html.Node, depth int) {
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Head, atom.Title, atom.Noscript, atom.Iframe, atom.Object:
		return
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		level := int(n.Data[1] - '0')
		b.WriteString("\n\n" + strings.Repeat("#", level) + " " + inlineText(n) + "\n\n")
	case atom.P:
		if t := inlineText(n); t != "" {
			b.WriteString("\n\n" + t + "\n\n")
		}
	case atom.Ul, atom.Ol:
		b.WriteString("\n\n")
		writeList(b, n, depth)
		b.WriteString("\n")
	case atom.Pre:
		b.WriteString("\n\n```\n" + strings.Trim(textContent(n), "\n") + "\n```\n\n")
	case atom.Blockquote:
		var inner strings.Builder
		writeChildren(&inner, n, depth)
		b.WriteString("\n\n")
		for _, line := range strings.Split(tidyMarkdown(inner.String()), "\n") {
			b.WriteString("> " + line + "\n")
		}
		b.WriteString("\n")
	case atom.Table:
		writeTable(b, n)
	case atom.Hr:
		b.WriteString("\n\n---\n\n")
	case atom.Br:
		b.WriteString("\n")
	default:
		writeChildren(b, n, depth)
	}
}

func writeList(b *strings.Builder, list *html.Node, depth int) {
	ordered := list.DataAtom == atom.Ol
	i := 0
	for li := list.FirstChild; li != nil; li = li.NextSibling {
		if li.Type != html.ElementNode || li.DataAtom != atom.Li {
			continue
		}
		i++
		marker := "- "
		if ordered {
			marker = fmt.Sprintf("%d. ", i)
		}
		var text strings.Builder
		var nested []*html.Node
		for c := li.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && (c.DataAtom == atom.Ul || c.DataAtom == atom.Ol) {
				nested = append(nested, c)
				continue
			}
			text.WriteString(inlineNode(c))
		}
		b.WriteString(strings.Repeat("  ", depth) + marker + strings.TrimSpace(collapseSpace(text.String())) + "\n")
		for _, sub := range nested {
			writeList(b, sub, depth+1)
		}
	}
}

func writeTable(b *strings.Builder, table *html.Node) {
	var rows [][]string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Tr {
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
					cells = append(cells, strings.ReplaceAll(inlineText(c), "|", `\|`))
				}
			}
			rows = append(rows, cells)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(table)
	if len(rows) == 0 {
		return
	}

	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}
	b.WriteString("\n\n")
	for i, r := range rows {
		for len(r) < width {
			r = append(r, "")
		}
		b.WriteString("| " + strings.Join(r, " | ") + " |\n")
		if i == 0 {
			b.WriteString("|" + strings.Repeat(" --- |", width) + "\n")
		}
	}
	b.WriteString("\n")
}

func isInline(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Strong, atom.B, atom.Em, atom.I, atom.Code, atom.A, atom.Span, atom.U, atom.S, atom.Del, atom.Sub, atom.Sup, atom.Mark, atom.Br:
		return true
	}
	return false
}

// inlineText renders the children of n as a single Markdown line.
func inlineText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(inlineNode(c))
	}
	return strings.TrimSpace(collapseSpace(b.String()))
}

func inlineNode(n *html.Node) string {
	switch n.Type {
	case html.TextNode:
		return collapseSpace(n.Data)
	case html.ElementNode:
	default:
		return ""
	}
	inner := func() string {
		var b strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			b.WriteString(inlineNode(c))
		}
		return b.String()
	}
	switch n.DataAtom {
	case atom.Script, atom.Style:
		return ""
	case atom.Strong, atom.B:
		return wrapInline("**", inner())
	case atom.Em, atom.I:
		return wrapInline("*", inner())
	case atom.Del, atom.S:
		return wrapInline("~~", inner())
	case atom.Code:
		return "`" + textContent(n) + "`"
	case atom.Br:
		return " "
	case atom.A:
		text := strings.TrimSpace(inner())
		href := attr(n, "href")
		if href == "" || text == "" {
			return text
		}
		return "[" + text + "](" + href + ")"
	default:
		return inner()
	}
}

func wrapInline(mark, s string) string {
	t := strings.TrimSpace(s)
	if t == "" {
		return s
	}
	lead := s[:len(s)-len(strings.TrimLeft(s, " "))]
	trail := s[len(strings.TrimRight(s, " ")):]
	return lead + mark + t + mark + trail
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

var spaceRunRegex = regexp.MustCompile(`\s+`)

func collapseSpace(s string) string {
	return spaceRunRegex.ReplaceAllString(s, " ")
}

func tidyMarkdown(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(blankLinesRegex.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}
