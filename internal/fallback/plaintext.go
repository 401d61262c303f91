package fallback

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	apierrors "github.com/olgasafonova/confluence-spec-mcp-server/internal/errors"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/extract"
)

// Heading lines are short. Anything longer is treated as prose.
const maxHeadingWords = 8

var (
	mdHeadingRegex   = regexp.MustCompile(`^#{1,6}\s+(.+)$`)
	numberedRegex    = regexp.MustCompile(`^\d+(\.\d+)*[.)]?\s+\S`)
	bulletRegex      = regexp.MustCompile(`^([-*+•]|\d+[.)])\s+(.+)$`)
	trailingColonRgx = regexp.MustCompile(`^[^:]{2,80}:$`)
)

// Section names that commonly open a spec section.
var headingCues = []string{
	"overview", "introduction", "summary", "background", "purpose", "scope",
	"goals", "non-goals", "requirements", "functional requirements",
	"non-functional requirements", "design", "architecture", "implementation",
	"api", "data model", "testing", "test plan", "risks", "open questions",
	"timeline", "milestones", "dependencies", "conclusion", "appendix",
}

type lineKind int

const (
	lineBody lineKind = iota
	lineHeading
	lineBullet
)

type plainLine struct {
	kind lineKind
	text string
}

// plainText rebuilds a document from unstructured text by treating
// heading-like lines as section headings.
func plainText(raw string, format extract.Format) (string, error) {
	body := candidate(raw)
	if looksLikeHTML(body) {
		if md, err := extract.HTMLToMarkdown(body); err == nil {
			body = md
		}
	}

	lines := classifyLines(body)
	headings, bodies := 0, 0
	for _, l := range lines {
		if l.kind == lineHeading {
			headings++
		} else {
			bodies++
		}
	}
	if headings == 0 || bodies == 0 {
		return "", apierrors.New(apierrors.KindContentFormat, "no recognisable section structure in the response")
	}

	var skeleton string
	switch format {
	case extract.FormatHTML:
		skeleton = renderHTML(lines)
	default:
		skeleton = renderMarkdown(lines)
	}

	p, err := extract.New(format)
	if err != nil {
		return "", err
	}
	return p.Process(skeleton)
}

func classifyLines(s string) []plainLine {
	title := cases.Title(language.English)
	var out []plainLine
	for _, raw := range strings.Split(s, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.Trim(line, "-=*_") == "" {
			continue
		}
		if m := mdHeadingRegex.FindStringSubmatch(line); m != nil {
			out = append(out, plainLine{kind: lineHeading, text: strings.TrimSpace(m[1])})
			continue
		}
		if isHeadingLike(line) {
			text := strings.TrimSuffix(line, ":")
			if isUpper(text) {
				text = title.String(strings.ToLower(text))
			}
			out = append(out, plainLine{kind: lineHeading, text: text})
			continue
		}
		if m := bulletRegex.FindStringSubmatch(line); m != nil {
			out = append(out, plainLine{kind: lineBullet, text: m[2]})
			continue
		}
		out = append(out, plainLine{kind: lineBody, text: line})
	}
	return out
}

func isHeadingLike(line string) bool {
	words := len(strings.Fields(line))
	if words > maxHeadingWords {
		return false
	}
	if strings.HasSuffix(line, ".") || strings.HasSuffix(line, ",") {
		return false
	}
	switch {
	case trailingColonRgx.MatchString(line):
		return true
	case isUpper(line) && words <= maxHeadingWords:
		return true
	case numberedRegex.MatchString(line) && startsUpper(strings.TrimLeft(line, "0123456789.) ")):
		return true
	}
	lower := strings.ToLower(strings.TrimLeft(line, "0123456789.) "))
	for _, cue := range headingCues {
		if lower == cue {
			return true
		}
	}
	return false
}

// isUpper reports whether s has at least two letters, all upper-case.
func isUpper(s string) bool {
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters >= 2
}

func startsUpper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}

func renderMarkdown(lines []plainLine) string {
	var b strings.Builder
	first := true
	prev := lineHeading
	for _, l := range lines {
		switch l.kind {
		case lineHeading:
			level := "## "
			if first {
				level = "# "
			}
			b.WriteString("\n\n" + level + l.text + "\n\n")
		case lineBullet:
			if prev != lineBullet {
				b.WriteString("\n\n")
			}
			b.WriteString("- " + l.text + "\n")
		default:
			b.WriteString("\n\n" + l.text + "\n\n")
		}
		first = false
		prev = l.kind
	}
	return strings.TrimSpace(b.String())
}

func renderHTML(lines []plainLine) string {
	var b strings.Builder
	first := true
	inList := false
	for _, l := range lines {
		if inList && l.kind != lineBullet {
			b.WriteString("</ul>")
			inList = false
		}
		text := html.EscapeString(l.text)
		switch l.kind {
		case lineHeading:
			tag := "h2"
			if first {
				tag = "h1"
			}
			b.WriteString("<" + tag + ">" + text + "</" + tag + ">")
		case lineBullet:
			if !inList {
				b.WriteString("<ul>")
				inList = true
			}
			b.WriteString("<li>" + text + "</li>")
		default:
			b.WriteString("<p>" + text + "</p>")
		}
		first = false
	}
	if inList {
		b.WriteString("</ul>")
	}
	return b.String()
}
