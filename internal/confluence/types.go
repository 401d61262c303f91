package confluence

import (
	"encoding/json"
	"strings"

	apierrors "github.com/olgasafonova/confluence-spec-mcp-server/internal/errors"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/sanitize"
)

// Page is an immutable snapshot of a Confluence page as fetched.
type Page struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	URL       string     `json:"url"`
	Version   int        `json:"version"`
	SpaceKey  string     `json:"spaceKey"`
	Content   string     `json:"content,omitempty"`
	Ancestors []Ancestor `json:"ancestors,omitempty"`
}

// Ancestor is a parent page reference.
type Ancestor struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// PageInput describes a page create or update.
type PageInput struct {
	SpaceKey string
	Title    string
	Body     string // storage format
	ParentID string // create only
	Version  int    // update only: the new version number
}

// User is the authenticated Confluence account.
type User struct {
	AccountID   string `json:"accountId,omitempty"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
}

// Wire schemas. Only the fields used are declared; required fields are
// checked explicitly when decoding.

// flexibleID accepts ids encoded as JSON strings or numbers.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexibleID(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexibleID(s)
	return nil
}

type apiContent struct {
	ID        flexibleID    `json:"id"`
	Type      string        `json:"type"`
	Status    string        `json:"status"`
	Title     string        `json:"title"`
	Space     *apiSpace     `json:"space"`
	Version   *apiVersion   `json:"version"`
	Body      *apiBody      `json:"body"`
	Ancestors []apiAncestor `json:"ancestors"`
	Links     apiLinks      `json:"_links"`
}

type apiSpace struct {
	Key string `json:"key"`
}

type apiVersion struct {
	Number int `json:"number"`
}

type apiBody struct {
	Storage apiStorage `json:"storage"`
}

type apiStorage struct {
	Value          string `json:"value"`
	Representation string `json:"representation"`
}

type apiAncestor struct {
	ID    flexibleID `json:"id"`
	Title string     `json:"title"`
}

type apiLinks struct {
	Base   string `json:"base"`
	WebUI  string `json:"webui"`
	TinyUI string `json:"tinyui"`
}

type apiContentList struct {
	Results []apiContent `json:"results"`
	Size    int          `json:"size"`
}

type apiUser struct {
	AccountID   string `json:"accountId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	PublicName  string `json:"publicName"`
}

type apiError struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

// Request bodies.

type storageBody struct {
	Storage apiStorage `json:"storage"`
}

type idRef struct {
	ID string `json:"id"`
}

type createPageRequest struct {
	Type      string      `json:"type"`
	Title     string      `json:"title"`
	Space     apiSpace    `json:"space"`
	Body      storageBody `json:"body"`
	Ancestors []idRef     `json:"ancestors,omitempty"`
}

type updatePageRequest struct {
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Title   string      `json:"title"`
	Space   *apiSpace   `json:"space,omitempty"`
	Body    storageBody `json:"body"`
	Version apiVersion  `json:"version"`
}

// decodePage parses a content response, failing closed when required fields
// are missing, and sanitizes the storage body.
func decodePage(data []byte, baseURL string) (*Page, error) {
	var c apiContent
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, apierrors.Wrap(apierrors.KindParsing, err, "Confluence returned a malformed page").
			WithDetails("response is not a content object")
	}
	return pageFromContent(c, baseURL)
}

func pageFromContent(c apiContent, baseURL string) (*Page, error) {
	var missing []string
	if c.ID == "" {
		missing = append(missing, "id")
	}
	if c.Title == "" {
		missing = append(missing, "title")
	}
	if c.Version == nil || c.Version.Number <= 0 {
		missing = append(missing, "version.number")
	}
	if len(missing) > 0 {
		return nil, apierrors.New(apierrors.KindParsing, "Confluence returned a malformed page").
			WithDetails("missing " + strings.Join(missing, ", "))
	}
	if c.Body != nil && c.Body.Storage.Representation != "" && c.Body.Storage.Representation != "storage" {
		return nil, apierrors.New(apierrors.KindParsing, "Confluence returned an unexpected body format").
			WithDetails("representation " + c.Body.Storage.Representation)
	}

	p := &Page{
		ID:      string(c.ID),
		Title:   c.Title,
		Version: c.Version.Number,
		URL:     pageURL(c, baseURL),
	}
	if c.Space != nil {
		p.SpaceKey = c.Space.Key
	}
	if c.Body != nil {
		p.Content = sanitize.HTML(c.Body.Storage.Value)
	}
	for _, a := range c.Ancestors {
		p.Ancestors = append(p.Ancestors, Ancestor{ID: string(a.ID), Title: a.Title})
	}
	return p, nil
}

func pageURL(c apiContent, baseURL string) string {
	if c.Links.WebUI != "" {
		root := c.Links.Base
		if root == "" {
			root = siteURL(baseURL)
		}
		return strings.TrimRight(root, "/") + "/" + strings.TrimLeft(c.Links.WebUI, "/")
	}
	return siteURL(baseURL) + "/pages/viewpage.action?pageId=" + string(c.ID)
}
