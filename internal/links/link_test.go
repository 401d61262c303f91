package links

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/olgasafonova/confluence-spec-mcp-server/internal/errors"
)

const testBase = "https://acme.atlassian.net"

func TestExtractPageID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://acme.atlassian.net/wiki/spaces/ENG/pages/12345/Design+Doc", "12345"},
		{"https://acme.atlassian.net/wiki/spaces/ENG/pages/12345", "12345"},
		{"https://confluence.example.com/pages/viewpage.action?pageId=777", "777"},
		{"https://confluence.example.com/pages/viewpage.action?pageId=abc", ""},
		{"https://acme.atlassian.net/wiki/spaces/ENG/pages/edit-v2/abc", ""},
		{"https://acme.atlassian.net/wiki/x/AbCd", ""},
		{"https://acme.atlassian.net/wiki/display/ENG/Home", ""},
		{"not a url at all", ""},
		{"", ""},
		{"12345", ""},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got := ExtractPageID(tt.url)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, ExtractPageID(tt.url), "repeated calls agree")
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		base    string
		want    Shape
		wantErr bool
	}{
		{"cloud page", "https://acme.atlassian.net/wiki/spaces/ENG/pages/1/T", testBase, ShapePage, false},
		{"legacy viewpage", "https://acme.atlassian.net/pages/viewpage.action?pageId=9", testBase, ShapePage, false},
		{"cloud short link", "https://acme.atlassian.net/wiki/x/AbCd", testBase, ShapeShort, false},
		{"root short link", "https://confluence.example.com/x/AbCd", "https://confluence.example.com", ShapeShort, false},
		{"context path short link", "https://example.com/confluence/x/AbCd", "https://example.com/confluence", ShapeShort, false},
		{"display link", "https://confluence.example.com/display/ENG/Home+Page", "https://confluence.example.com", ShapeDisplay, false},
		{"wiki path without id", "https://acme.atlassian.net/wiki/spaces/ENG/overview", testBase, ShapeOther, false},
		{"host case-insensitive", "https://ACME.atlassian.net/wiki/spaces/ENG/pages/1", testBase, ShapePage, false},
		{"other host", "https://evil.example.com/wiki/spaces/ENG/pages/1", testBase, ShapeUnknown, true},
		{"lookalike host", "https://acme.atlassian.net.evil.com/wiki/pages/1", testBase, ShapeUnknown, true},
		{"not a page path", "https://acme.atlassian.net/jira/browse/X-1", testBase, ShapeUnknown, true},
		{"relative", "/wiki/spaces/ENG/pages/1", testBase, ShapeUnknown, true},
		{"javascript", "javascript:alert(1)", testBase, ShapeUnknown, true},
		{"no base", "https://acme.atlassian.net/wiki/pages/1", "", ShapeUnknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.url, tt.base)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, apierrors.KindValidation, apierrors.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWikiLinkInvariants(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	failed := NewFailedLink("https://acme.atlassian.net/wiki/pages/1", "1", "", at)
	assert.False(t, failed.IsValid)
	assert.Empty(t, failed.ExtractedContent)
	assert.NotEmpty(t, failed.ErrorMessage)
	assert.Equal(t, failed.OriginalURL, failed.ContentMarker())

	empty := NewResolvedLink("https://acme.atlassian.net/wiki/pages/2", "2", "", at)
	assert.True(t, empty.IsValid)
	assert.Equal(t, empty.OriginalURL, empty.ContentMarker())

	ok := NewResolvedLink("https://acme.atlassian.net/wiki/pages/3", "3", "Design:\n  first line\n\tsecond line", at)
	assert.Equal(t, "@conf-cnt Design: first line second line@", ok.ContentMarker())
	assert.NotContains(t, ok.ContentMarker(), "\n")
}

func TestIsFreshMonotoneInTTL(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC)
	link := NewResolvedLink("u", "1", "c", at)

	for _, age := range []time.Duration{0, time.Minute, 29 * time.Minute, 30 * time.Minute, 2 * time.Hour} {
		now := at.Add(age)
		for _, ttl := range []time.Duration{time.Second, time.Minute, 30 * time.Minute, time.Hour, 24 * time.Hour} {
			if link.IsFreshAt(now, ttl) {
				assert.True(t, link.IsFreshAt(now, ttl*2), "age %s ttl %s", age, ttl)
				assert.True(t, link.IsFreshAt(now, ttl+time.Nanosecond), "age %s ttl %s", age, ttl)
			}
		}
	}

	assert.True(t, link.IsFreshAt(at.Add(29*time.Minute), DefaultTTL))
	assert.False(t, link.IsFreshAt(at.Add(30*time.Minute), DefaultTTL))
}

func TestWikiLinkJSONRoundTrip(t *testing.T) {
	at := time.Date(2025, 6, 7, 8, 9, 10, 11, time.UTC)
	for _, link := range []WikiLink{
		NewResolvedLink("https://acme.atlassian.net/wiki/spaces/ENG/pages/1/T", "1", "T: body", at),
		NewFailedLink("https://acme.atlassian.net/wiki/x/AbC", "", "Confluence rejected the credentials", at),
	} {
		data, err := json.Marshal(link)
		require.NoError(t, err)

		var decoded WikiLink
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, link, decoded)
	}
}

func TestDisplayTarget(t *testing.T) {
	space, title, ok := displayTarget("https://confluence.example.com/display/ENG/Home+Page")
	require.True(t, ok)
	assert.Equal(t, "ENG", space)
	assert.Equal(t, "Home Page", title)

	_, _, ok = displayTarget("https://confluence.example.com/display/ENG")
	assert.False(t, ok)
}
