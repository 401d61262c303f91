package tools

// AllTools contains all tool specifications for the server.
// Tool descriptions follow a structured format for optimal LLM tool selection:
// - USE WHEN: Natural language triggers
// - NOT FOR: Disambiguation from similar tools
// - PARAMETERS: Key arguments with defaults
// - RETURNS: What the tool returns
var AllTools = []ToolSpec{
	// ==========================================================================
	// EXTRACTION TOOLS
	// ==========================================================================
	{
		Name:     "spec_extract_content",
		Method:   "ExtractContent",
		Title:    "Extract Document",
		Category: "extract",
		Description: `Extract a clean document from raw language model output.

USE WHEN: You have model output that should contain a document between @@@START@@@ and @@@END@@@ markers and need the validated content.

NOT FOR: Generating a new document (use spec_generate_document).

PARAMETERS:
- content: Raw model output (required)
- format: markdown (default) or html

RETURNS: The cleaned document, the strategy that recovered it (primary, lenient-markers, cross-format, plain-text) and any failed attempts.`,
		ReadOnly:   true,
		Idempotent: true,
	},
	{
		Name:     "spec_generate_document",
		Method:   "GenerateDocument",
		Title:    "Generate Specification",
		Category: "extract",
		Description: `Generate a structured specification document from free-form input.

USE WHEN: User asks "write a spec for X", "turn these notes into a specification", "draft a design doc from this page".

NOT FOR: Cleaning output you already have (use spec_extract_content).

PARAMETERS:
- input: What the document should cover (required). Confluence links are replaced by page content.
- format: markdown (default) or html
- template: Optional section outline
- skip_links: Leave links unexpanded (default false)

RETURNS: The extracted document, extraction strategy and the links that were resolved.`,
		OpenWorld: true,
	},

	// ==========================================================================
	// LINK TOOLS
	// ==========================================================================
	{
		Name:     "spec_expand_links",
		Method:   "ExpandLinks",
		Title:    "Expand Confluence Links",
		Category: "links",
		Description: `Replace Confluence page links in text with the content of those pages.

USE WHEN: Text references Confluence pages whose content should be inlined before it goes to a model.

NOT FOR: Inspecting a single link (use confluence_resolve_link).

PARAMETERS:
- text: Text containing links (required)

RETURNS: Text with each resolvable link replaced by an @conf-cnt marker, plus per-link results. Links that cannot be resolved are kept as-is.`,
		ReadOnly:   true,
		Idempotent: true,
		OpenWorld:  true,
	},
	{
		Name:     "confluence_resolve_link",
		Method:   "ResolveLink",
		Title:    "Resolve Confluence Link",
		Category: "links",
		Description: `Resolve one Confluence link to its page id and text content.

USE WHEN: User asks "what is on this page", "check this Confluence link".

NOT FOR: Full page metadata and storage markup (use confluence_get_page).

PARAMETERS:
- url: Page URL (/pages/<id>, /display/<space>/<title>, or /x/ short link) (required)

RETURNS: The resolved link with content, or the failure reason. Results are cached for 30 minutes.`,
		ReadOnly:   true,
		Idempotent: true,
		OpenWorld:  true,
	},

	// ==========================================================================
	// PAGE TOOLS
	// ==========================================================================
	{
		Name:     "confluence_get_page",
		Method:   "GetPage",
		Title:    "Get Confluence Page",
		Category: "pages",
		Description: `Fetch a Confluence page with its storage body and version.

USE WHEN: User asks "show page 12345", or before updating a page.

NOT FOR: Inlining page content into text (use spec_expand_links).

PARAMETERS:
- page: Page id or URL containing it (required)
- text: Return plain text instead of storage markup (default false)

RETURNS: Title, URL, space key, version, ancestors and content.`,
		ReadOnly:   true,
		Idempotent: true,
		OpenWorld:  true,
	},
	{
		Name:     "confluence_publish_page",
		Method:   "PublishPage",
		Title:    "Publish to Confluence",
		Category: "publish",
		Description: `Create or update a Confluence page from a document.

USE WHEN: User says "publish this spec", "update the Confluence page".

NOT FOR: Reading pages (use confluence_get_page).

PARAMETERS:
- title: Page title (required)
- content: Document content (required)
- format: markdown (default) or html
- space_key: Space key (required for new pages)
- parent_id: Parent page for new pages
- page_id: Existing page to update; the current version is backed up first

RETURNS: Success flag, page URL, progress trail and, for updates, a change summary. Failures include the error kind and a retry hint when rate limited.`,
		Destructive: true,
		OpenWorld:   true,
	},

	// ==========================================================================
	// CONNECTION TOOLS
	// ==========================================================================
	{
		Name:     "confluence_validate_connection",
		Method:   "ValidateConnection",
		Title:    "Validate Confluence Connection",
		Category: "connection",
		Description: `Check the configured Confluence credentials.

USE WHEN: User asks "is Confluence connected", or a Confluence call failed with an authentication error.

PARAMETERS: none

RETURNS: Base URL, email, validity and the account name. The result is saved.`,
		Idempotent: true,
		OpenWorld:  true,
	},
}
