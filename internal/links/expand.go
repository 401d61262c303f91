package links

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// MaxLinksPerText bounds how many distinct links ExpandText resolves.
const MaxLinksPerText = 20

var urlRegex = regexp.MustCompile(`https?://[^\s<>"'()\[\]{}|\\^` + "`" + `]+`)

// DetectLinks returns the distinct Confluence links in text that belong to
// baseURL, in order of first appearance.
func DetectLinks(text, baseURL string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range urlRegex.FindAllString(text, -1) {
		m = strings.TrimRight(m, ".,;:!?")
		if seen[m] {
			continue
		}
		if Validate(m, baseURL) != nil {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// Expansion is the result of expanding the links in a text.
type Expansion struct {
	Text  string     `json:"text"`
	Links []WikiLink `json:"links"`
}

// Resolved counts the links that were replaced by page content.
func (e Expansion) Resolved() int {
	n := 0
	for _, l := range e.Links {
		if l.IsValid && l.ExtractedContent != "" {
			n++
		}
	}
	return n
}

// ExpandText replaces every Confluence link in text with its content marker.
// Links that fail to resolve stay as their original URL. At most
// MaxLinksPerText links are resolved; the rest are left untouched.
func (r *Resolver) ExpandText(ctx context.Context, text, baseURL string) Expansion {
	if baseURL == "" {
		baseURL = r.baseURL
	}
	urls := DetectLinks(text, baseURL)
	if len(urls) > MaxLinksPerText {
		urls = urls[:MaxLinksPerText]
	}
	if len(urls) == 0 {
		return Expansion{Text: text, Links: []WikiLink{}}
	}

	resolved := r.resolveAll(ctx, urls, baseURL)

	// Longest URLs first so a URL that prefixes another is not replaced inside it.
	order := make([]int, len(urls))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return len(urls[order[a]]) > len(urls[order[b]]) })

	// Replace through placeholders so marker content is never rescanned.
	placeholders := make([]string, len(urls))
	for _, i := range order {
		placeholders[i] = "\x00link" + string(rune('A'+i)) + "\x00"
		text = strings.ReplaceAll(text, urls[i], placeholders[i])
	}
	for i, link := range resolved {
		text = strings.ReplaceAll(text, placeholders[i], link.ContentMarker())
	}

	return Expansion{Text: text, Links: resolved}
}

// resolveAll resolves urls with a bounded worker pool, keeping input order.
func (r *Resolver) resolveAll(ctx context.Context, urls []string, baseURL string) []WikiLink {
	numWorkers := r.maxConcurrent
	if len(urls) < numWorkers {
		numWorkers = len(urls)
	}

	type job struct {
		index int
		url   string
	}
	type linkResult struct {
		index int
		link  WikiLink
	}

	jobs := make(chan job, len(urls))
	results := make(chan linkResult, len(urls))

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				select {
				case <-ctx.Done():
					results <- linkResult{
						index: j.index,
						link:  NewFailedLink(j.url, ExtractPageID(j.url), "request cancelled", r.now()),
					}
					continue
				default:
				}
				results <- linkResult{index: j.index, link: r.Resolve(ctx, j.url, baseURL)}
			}
		}()
	}

	for i, u := range urls {
		jobs <- job{index: i, url: u}
	}
	close(jobs)

	wg.Wait()
	close(results)

	out := make([]WikiLink, len(urls))
	for res := range results {
		out[res.index] = res.link
	}
	return out
}
