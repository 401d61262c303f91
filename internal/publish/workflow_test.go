package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olgasafonova/confluence-spec-mcp-server/internal/base"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/confluence"
	apierrors "github.com/olgasafonova/confluence-spec-mcp-server/internal/errors"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/storage"
)

const (
	testToken = "ATATT3xFfGF0SecretValue0123456789"
	testRef   = "secure_1700000000000000000"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type staticTokens map[string]string

func (s staticTokens) Get(_ context.Context, ref string) (string, bool, error) {
	v, ok := s[ref]
	return v, ok, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newWorkflow(pages PageStore, opts ...Option) *Workflow {
	opts = append([]Option{
		WithLogger(quietLogger()),
		WithClock(func() time.Time { return fixedNow }),
		WithRunIDs(func() string { return "run-1" }),
	}, opts...)
	return NewWorkflow(pages, opts...)
}

func newConfluenceClient(t *testing.T, handler http.HandlerFunc, token string) *confluence.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := confluence.ConnectionConfig{Enabled: true, BaseURL: srv.URL, TokenRef: testRef, Email: "dev@example.com"}
	return confluence.NewClient(cfg, staticTokens{testRef: token},
		confluence.WithBaseOptions(base.WithHTTPClient(srv.Client())))
}

type recorder struct {
	events []Progress
}

func (r *recorder) record(p Progress) { r.events = append(r.events, p) }

func (r *recorder) steps() []Step {
	out := make([]Step, len(r.events))
	for i, e := range r.events {
		out[i] = e.Step
	}
	return out
}

// assertWellFormed checks the progress stream invariants.
func (r *recorder) assertWellFormed(t *testing.T) {
	t.Helper()
	require.NotEmpty(t, r.events)
	for i, e := range r.events {
		if i > 0 {
			assert.GreaterOrEqual(t, e.Progress, r.events[i-1].Progress, "progress decreased at %s", e.Step)
		}
		assert.Equal(t, i == len(r.events)-1, e.IsComplete, "IsComplete on %s", e.Step)
		assert.GreaterOrEqual(t, e.Progress, 0.0)
		assert.LessOrEqual(t, e.Progress, 1.0)
	}
}

func TestPublish_CreateTestPage(t *testing.T) {
	var gotBody map[string]any
	client := newConfluenceClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rest/api/content" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"98765","type":"page","title":"Test Page","space":{"key":"ENG"},
			"version":{"number":1},"_links":{"base":"https://wiki.example.com","webui":"/spaces/ENG/pages/98765/Test+Page"}}`)
	}, testToken)

	rec := &recorder{}
	res, err := newWorkflow(client).Publish(context.Background(), Request{
		SpaceKey: "ENG",
		Title:    "Test Page",
		Body:     "<h1>Spec</h1><p>Body</p>",
		ParentID: "100",
	}, rec.record)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, OperationCreate, res.Operation)
	assert.Equal(t, "98765", res.PageID)
	assert.Equal(t, "https://wiki.example.com/spaces/ENG/pages/98765/Test+Page", res.PageURL)
	assert.Equal(t, fixedNow, res.PublishedAt)
	assert.Equal(t, "run-1", res.RunID)
	assert.Nil(t, res.ChangeSummary)
	assert.Equal(t,
		`Page "Test Page" successfully created at https://wiki.example.com/spaces/ENG/pages/98765/Test+Page`,
		res.DetailedMessage())

	assert.Equal(t, "Test Page", gotBody["title"])
	assert.Equal(t, []any{map[string]any{"id": "100"}}, gotBody["ancestors"])

	assert.Equal(t, []Step{StepValidating, StepWriting, StepFinalizing, StepSucceeded}, rec.steps())
	rec.assertWellFormed(t)
	assert.Equal(t, 1.0, rec.events[len(rec.events)-1].Progress)
}

func TestPublish_InvalidToken(t *testing.T) {
	const badToken = "ATATT3xBadTokenValue9876543210"
	client := newConfluenceClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprintf(w, `{"statusCode":401,"message":"token %s is not valid"}`, badToken)
	}, badToken)

	rec := &recorder{}
	res, err := newWorkflow(client).Publish(context.Background(), Request{
		SpaceKey: "ENG",
		Title:    "Test Page",
		Body:     "<p>Body</p>",
	}, rec.record)
	require.Error(t, err)
	assert.Equal(t, apierrors.KindAuthentication, apierrors.KindOf(err))

	assert.False(t, res.Success)
	assert.Equal(t, apierrors.KindAuthentication, res.ErrorKind)
	assert.NotEmpty(t, res.ErrorMessage)
	assert.NotContains(t, res.ErrorMessage, badToken)
	assert.NotContains(t, res.DetailedMessage(), badToken)
	assert.NotContains(t, err.Error(), badToken)

	last := rec.events[len(rec.events)-1]
	assert.Equal(t, StepFailed, last.Step)
	assert.True(t, last.IsComplete)
	assert.Equal(t, res.ErrorMessage, last.ErrorMessage)
	assert.NotContains(t, last.ErrorMessage, badToken)
	assert.Equal(t, 0.6, last.Progress)
	rec.assertWellFormed(t)
}

type fakePages struct {
	page      *confluence.Page
	getErr    error
	writeErr  error
	calls     []string
	lastInput confluence.PageInput
}

func (f *fakePages) GetPage(_ context.Context, id string) (*confluence.Page, error) {
	f.calls = append(f.calls, "get "+id)
	if f.getErr != nil {
		return nil, f.getErr
	}
	p := *f.page
	return &p, nil
}

func (f *fakePages) CreatePage(_ context.Context, in confluence.PageInput) (*confluence.Page, error) {
	f.calls = append(f.calls, "create")
	f.lastInput = in
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	return &confluence.Page{ID: "1", Title: in.Title, URL: "https://wiki.example.com/p/1", Version: 1, SpaceKey: in.SpaceKey}, nil
}

func (f *fakePages) UpdatePage(_ context.Context, id string, in confluence.PageInput) (*confluence.Page, error) {
	f.calls = append(f.calls, "update "+id)
	f.lastInput = in
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	return &confluence.Page{ID: id, Title: in.Title, URL: "https://wiki.example.com/p/" + id, Version: in.Version, SpaceKey: in.SpaceKey}, nil
}

func TestPublish_UpdateBacksUpFirst(t *testing.T) {
	pages := &fakePages{page: &confluence.Page{
		ID: "42", Title: "Spec", URL: "https://wiki.example.com/p/42", Version: 3,
		SpaceKey: "ENG", Content: "<p>Old body text.</p>",
	}}
	backups := NewMemoryBackupStore()
	rec := &recorder{}

	res, err := newWorkflow(pages, WithBackupStore(backups)).Publish(context.Background(), Request{
		PageID: "42",
		Title:  "Spec",
		Body:   "<p>New body text.</p>",
	}, rec.record)
	require.NoError(t, err)

	assert.Equal(t, []string{"get 42", "update 42"}, pages.calls)
	assert.Equal(t, 4, pages.lastInput.Version)
	assert.Equal(t, "ENG", pages.lastInput.SpaceKey)

	assert.Equal(t, OperationUpdate, res.Operation)
	assert.Equal(t, 3, res.BackupVersion)
	require.NotNil(t, res.ChangeSummary)
	assert.Equal(t, 3, res.ChangeSummary.FromVersion)
	assert.Equal(t, 4, res.ChangeSummary.ToVersion)
	assert.Positive(t, res.ChangeSummary.InsertedChars)
	assert.Positive(t, res.ChangeSummary.DeletedChars)
	assert.Contains(t, res.ChangeSummary.String(), "version 3 -> 4")
	assert.Equal(t, `Page "Spec" successfully updated at https://wiki.example.com/p/42`, res.DetailedMessage())

	b, ok, err := backups.LatestBackup(context.Background(), "42")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, b.Version)
	assert.Equal(t, "<p>Old body text.</p>", b.Content)
	assert.Equal(t, "run-1", b.RunID)

	assert.Equal(t, []Step{StepValidating, StepBackingUp, StepWriting, StepFinalizing, StepSucceeded}, rec.steps())
	rec.assertWellFormed(t)
}

func TestPublish_UpdateWithSQLiteBackups(t *testing.T) {
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	pages := &fakePages{page: &confluence.Page{ID: "42", Title: "Spec", Version: 5, SpaceKey: "ENG", Content: "<p>a</p>"}}
	_, err = newWorkflow(pages, WithBackupStore(db)).Publish(context.Background(),
		Request{PageID: "42", Title: "Spec", Body: "<p>a</p>"}, nil)
	require.NoError(t, err)

	b, ok, err := db.LatestBackup(context.Background(), "42")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5, b.Version)
}

func TestPublish_BackupFailureAbortsBeforeWrite(t *testing.T) {
	pages := &fakePages{page: &confluence.Page{ID: "42", Title: "Spec", Version: 2, SpaceKey: "ENG"}}
	rec := &recorder{}

	res, err := newWorkflow(pages, WithBackupStore(failingBackups{})).Publish(context.Background(),
		Request{PageID: "42", Title: "Spec", Body: "<p>x</p>"}, rec.record)
	require.Error(t, err)
	assert.Equal(t, apierrors.KindPublishing, res.ErrorKind)
	assert.Equal(t, []string{"get 42"}, pages.calls)
	assert.Equal(t, StepFailed, rec.events[len(rec.events)-1].Step)
	assert.Equal(t, 0.3, rec.events[len(rec.events)-1].Progress)
	rec.assertWellFormed(t)
}

type failingBackups struct{}

func (failingBackups) SaveBackup(context.Context, storage.PageBackup) (int64, error) {
	return 0, errors.New("disk full")
}

func (failingBackups) LatestBackup(context.Context, string) (storage.PageBackup, bool, error) {
	return storage.PageBackup{}, false, nil
}

func TestPublish_ValidationFailsBeforeAnyRequest(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"missing space on create", Request{Title: "T", Body: "<p>x</p>"}},
		{"bad space key", Request{SpaceKey: "EN G", Title: "T", Body: "<p>x</p>"}},
		{"missing title", Request{SpaceKey: "ENG", Body: "<p>x</p>"}},
		{"script in title", Request{SpaceKey: "ENG", Title: "<script>x</script>", Body: "<p>x</p>"}},
		{"empty body", Request{SpaceKey: "ENG", Title: "T", Body: "  "}},
		{"bad page id", Request{PageID: "12a", Title: "T", Body: "<p>x</p>"}},
		{"bad parent id", Request{SpaceKey: "ENG", ParentID: "../1", Title: "T", Body: "<p>x</p>"}},
		{"oversized body", Request{SpaceKey: "ENG", Title: "T", Body: strings.Repeat("x", MaxBodyBytes+1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pages := &fakePages{}
			rec := &recorder{}
			res, err := newWorkflow(pages).Publish(context.Background(), tt.req, rec.record)
			require.Error(t, err)
			assert.Equal(t, apierrors.KindValidation, apierrors.KindOf(err))
			assert.False(t, res.Success)
			assert.Empty(t, pages.calls)
			assert.Equal(t, []Step{StepValidating, StepFailed}, rec.steps())
			rec.assertWellFormed(t)
		})
	}
}

func TestPublish_RateLimitedCarriesRetryAfter(t *testing.T) {
	pages := &fakePages{writeErr: apierrors.NewRateLimitError("post_content", 30)}
	res, err := newWorkflow(pages).Publish(context.Background(),
		Request{SpaceKey: "ENG", Title: "T", Body: "<p>x</p>"}, nil)
	require.Error(t, err)
	assert.Equal(t, apierrors.KindRateLimit, res.ErrorKind)
	assert.Equal(t, 30, res.RetryAfterSeconds)
	assert.Equal(t, []string{"create"}, pages.calls)
	assert.Contains(t, res.DetailedMessage(), "retry after 30 seconds")
}

func TestPublish_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pages := &fakePages{}
	res, err := newWorkflow(pages).Publish(ctx, Request{SpaceKey: "ENG", Title: "T", Body: "<p>x</p>"}, nil)
	require.Error(t, err)
	assert.Equal(t, apierrors.KindNetwork, res.ErrorKind)
	assert.Empty(t, pages.calls)
}

func TestPublish_UntypedErrorBecomesPublishing(t *testing.T) {
	pages := &fakePages{writeErr: errors.New("boom")}
	res, err := newWorkflow(pages).Publish(context.Background(),
		Request{SpaceKey: "ENG", Title: "T", Body: "<p>x</p>"}, nil)
	require.Error(t, err)
	assert.Equal(t, apierrors.KindPublishing, res.ErrorKind)
	assert.Equal(t, "publishing failed", res.ErrorMessage)
}

func TestResultJSONRoundTrip(t *testing.T) {
	original := Result{
		RunID:         "run-1",
		Success:       true,
		Operation:     OperationUpdate,
		Title:         "Spec",
		PageID:        "42",
		PageURL:       "https://wiki.example.com/p/42",
		PublishedAt:   fixedNow,
		BackupVersion: 3,
		ChangeSummary: &ChangeSummary{FromVersion: 3, ToVersion: 4, InsertedChars: 5, DeletedChars: 2, UnchangedChars: 10, ChangedSegments: 2},
	}
	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Result
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original, decoded)

	failed := Result{RunID: "run-2", Operation: OperationCreate, Title: "T", ErrorMessage: "nope",
		ErrorKind: apierrors.KindRateLimit, RetryAfterSeconds: 9, PublishedAt: fixedNow}
	data, err = json.Marshal(failed)
	require.NoError(t, err)
	decoded = Result{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, failed, decoded)
}

func TestProgressJSONRoundTrip(t *testing.T) {
	original := Progress{RunID: "run-1", Step: StepFailed, Message: "Publishing failed", Progress: 0.6, IsComplete: true, ErrorMessage: "x"}
	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"isComplete":true`)

	var decoded Progress
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original, decoded)
}

func TestSummarize(t *testing.T) {
	s := summarize("<p>same</p>", "<p>same</p>", 1, 2)
	assert.Zero(t, s.ChangedSegments)
	assert.Equal(t, "no content changes since version 1", s.String())

	s = summarize("", "<p>new</p>", 1, 2)
	assert.Equal(t, len("<p>new</p>"), s.InsertedChars)
	assert.Zero(t, s.DeletedChars)
}
