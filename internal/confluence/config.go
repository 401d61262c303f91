package confluence

import (
	"net/url"
	"strings"
	"time"

	"github.com/olgasafonova/confluence-spec-mcp-server/internal/sanitize"
)

// CloudHostSuffix identifies Atlassian-hosted (cloud) sites.
const CloudHostSuffix = ".atlassian.net"

// ConnectionConfig is the persisted Confluence connection. TokenRef is an
// opaque credentials reference, never the token itself.
type ConnectionConfig struct {
	Enabled       bool       `json:"enabled" yaml:"enabled"`
	BaseURL       string     `json:"baseUrl" yaml:"baseUrl"`
	TokenRef      string     `json:"tokenRef" yaml:"tokenRef"`
	Email         string     `json:"email" yaml:"email"`
	LastValidated *time.Time `json:"lastValidated,omitempty" yaml:"lastValidated,omitempty"`
	IsValid       bool       `json:"isValid" yaml:"isValid"`
}

// IsConfigurationComplete reports whether every field needed to call
// Confluence is present.
func (c ConnectionConfig) IsConfigurationComplete() bool {
	return c.Enabled && c.BaseURL != "" && c.TokenRef != "" && c.Email != ""
}

// MissingFields names the fields that keep the configuration incomplete.
func (c ConnectionConfig) MissingFields() []string {
	var missing []string
	if !c.Enabled {
		missing = append(missing, "enabled")
	}
	if c.BaseURL == "" {
		missing = append(missing, "baseUrl")
	}
	if c.TokenRef == "" {
		missing = append(missing, "tokenRef")
	}
	if c.Email == "" {
		missing = append(missing, "email")
	}
	return missing
}

// UpdateSecureToken returns a copy pointing at a rotated token. The
// connection is unvalidated until checked again.
func (c ConnectionConfig) UpdateSecureToken(ref string) ConnectionConfig {
	c.TokenRef = ref
	c.IsValid = false
	c.LastValidated = nil
	return c
}

// MarkValidated returns a copy recording a validation result at at.
func (c ConnectionConfig) MarkValidated(at time.Time, ok bool) ConnectionConfig {
	t := at.UTC()
	c.LastValidated = &t
	c.IsValid = ok
	return c
}

// Normalized returns a copy with BaseURL in canonical form and the email trimmed.
func (c ConnectionConfig) Normalized() ConnectionConfig {
	c.BaseURL = sanitize.BaseURL(c.BaseURL)
	c.Email = strings.TrimSpace(c.Email)
	return c
}

// IsCloudHost reports whether host is an Atlassian cloud site.
func IsCloudHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	return strings.HasSuffix(host, CloudHostSuffix) && len(host) > len(CloudHostSuffix)
}

// APIBaseURL computes the REST API root for a base URL. Cloud sites serve the
// API under /wiki unless the base URL already has a wiki path segment;
// self-hosted sites serve it under their context path.
func APIBaseURL(baseURL string) string {
	b := sanitize.BaseURL(baseURL)
	u, err := url.Parse(b)
	if err != nil {
		return b + "/rest/api"
	}
	if IsCloudHost(u.Hostname()) && !hasPathSegment(u.Path, "wiki") {
		return b + "/wiki/rest/api"
	}
	return b + "/rest/api"
}

// siteURL is the root that page web links hang off.
func siteURL(baseURL string) string {
	b := sanitize.BaseURL(baseURL)
	u, err := url.Parse(b)
	if err == nil && IsCloudHost(u.Hostname()) && !hasPathSegment(u.Path, "wiki") {
		return b + "/wiki"
	}
	return b
}

func hasPathSegment(path, segment string) bool {
	for _, s := range strings.Split(path, "/") {
		if strings.EqualFold(s, segment) {
			return true
		}
	}
	return false
}
