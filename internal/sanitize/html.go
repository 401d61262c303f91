package sanitize

import (
	"regexp"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

// Confluence storage format macros and resource identifiers kept in page bodies.
var storageElements = []string{
	"ac:structured-macro", "ac:parameter", "ac:rich-text-body", "ac:plain-text-body",
	"ac:link", "ac:link-body", "ac:plain-text-link-body", "ac:image", "ac:emoticon",
	"ac:task-list", "ac:task", "ac:task-id", "ac:task-status", "ac:task-body",
	"ac:layout", "ac:layout-section", "ac:layout-cell",
	"ri:page", "ri:attachment", "ri:url", "ri:user", "ri:space",
}

var storageAttrs = []string{
	"ac:name", "ac:schema-version", "ac:macro-id", "ac:anchor", "ac:type",
	"ri:content-title", "ri:space-key", "ri:filename", "ri:value", "ri:account-id",
}

var (
	storageOnce   sync.Once
	storagePolicy *bluemonday.Policy

	strictOnce   sync.Once
	strictPolicy *bluemonday.Policy
)

// StoragePolicy returns the policy applied to Confluence storage-format bodies:
// user-generated-content HTML plus the ac:/ri: storage elements.
func StoragePolicy() *bluemonday.Policy {
	storageOnce.Do(func() {
		bm := bluemonday.UGCPolicy()
		AllowStorageMarkup(bm)
		bm.AllowAttrs("class").Matching(regexp.MustCompile(`^[a-zA-Z0-9_\- ]+$`)).Globally()
		bm.AllowAttrs("style").Matching(regexp.MustCompile(`^text-align:\s+(left|right|center);$`)).OnElements("p", "td", "th")
		bm.AllowAttrs("colspan", "rowspan").Matching(regexp.MustCompile(`^[0-9]+$`)).OnElements("td", "th")
		storagePolicy = bm
	})
	return storagePolicy
}

// AllowStorageMarkup extends p with the Confluence ac:/ri: storage elements
// and their attributes.
func AllowStorageMarkup(p *bluemonday.Policy) {
	p.AllowElements(storageElements...)
	p.AllowAttrs(storageAttrs...).Globally()
}

// HTML sanitizes a Confluence storage-format body.
func HTML(s string) string {
	return StoragePolicy().Sanitize(s)
}

// StripTags removes every tag, keeping text. Entities stay escaped.
func StripTags(s string) string {
	strictOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy.Sanitize(s)
}
