package publish

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/olgasafonova/confluence-spec-mcp-server/internal/confluence"
	apierrors "github.com/olgasafonova/confluence-spec-mcp-server/internal/errors"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/sanitize"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/storage"
	"github.com/olgasafonova/confluence-spec-mcp-server/metrics"
	"github.com/olgasafonova/confluence-spec-mcp-server/tracing"
)

// MaxBodyBytes bounds the storage body accepted for publishing.
const MaxBodyBytes = 5 << 20

// PageStore is the part of the Confluence client the workflow writes through.
type PageStore interface {
	GetPage(ctx context.Context, id string) (*confluence.Page, error)
	CreatePage(ctx context.Context, in confluence.PageInput) (*confluence.Page, error)
	UpdatePage(ctx context.Context, id string, in confluence.PageInput) (*confluence.Page, error)
}

var _ PageStore = (*confluence.Client)(nil)

// Workflow publishes documents. It holds no per-run state and may be shared.
type Workflow struct {
	pages   PageStore
	backups BackupStore
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithBackupStore sets where pre-update snapshots go. Without one, updates
// still read the current page but keep no snapshot.
func WithBackupStore(b BackupStore) Option {
	return func(w *Workflow) {
		w.backups = b
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Workflow) {
		w.logger = l
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) {
		w.now = now
	}
}

// WithRunIDs sets the run id generator.
func WithRunIDs(gen func() string) Option {
	return func(w *Workflow) {
		w.newID = gen
	}
}

// NewWorkflow creates a Workflow writing through pages.
func NewWorkflow(pages PageStore, opts ...Option) *Workflow {
	w := &Workflow{
		pages:  pages,
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// run carries the state of one Publish call.
type run struct {
	id       string
	req      Request
	op       Operation
	progress float64
	emit     ProgressFunc
}

func (r *run) enter(step Step, message string) {
	r.progress = stepProgress[step]
	r.emit(Progress{
		RunID:      r.id,
		Step:       step,
		Message:    message,
		Progress:   r.progress,
		IsComplete: step == StepSucceeded,
	})
}

// Publish runs the workflow. The returned Result is always populated; on
// failure it carries the redacted error message and err is the typed error.
// onProgress may be nil.
func (w *Workflow) Publish(ctx context.Context, req Request, onProgress ProgressFunc) (Result, error) {
	if onProgress == nil {
		onProgress = func(Progress) {}
	}
	r := &run{id: w.newID(), req: req, op: req.Operation(), emit: onProgress}

	ctx, span := tracing.StartSpan(ctx, "publish.run")
	defer span.End()
	tracing.AddPublishAttributes(span, r.id, string(r.op), req.SpaceKey)

	res, err := w.execute(ctx, r)
	if err != nil {
		tracing.RecordError(span, err)
		return w.fail(r, err), err
	}

	metrics.RecordPublish(string(r.op), true, len(req.Body))
	r.enter(StepSucceeded, res.DetailedMessage())
	w.logger.Info("Page published",
		"run_id", r.id,
		"operation", r.op,
		"page_id", res.PageID,
		"title", res.Title,
	)
	return res, nil
}

func (w *Workflow) execute(ctx context.Context, r *run) (Result, error) {
	r.enter(StepValidating, "Validating page details")
	if err := validate(r.req); err != nil {
		return Result{}, err
	}

	var current *confluence.Page
	if r.op == OperationUpdate {
		if err := checkContext(ctx); err != nil {
			return Result{}, err
		}
		r.enter(StepBackingUp, "Backing up the current page version")
		page, err := w.pages.GetPage(ctx, r.req.PageID)
		if err != nil {
			return Result{}, err
		}
		if err := w.backup(ctx, r, page); err != nil {
			return Result{}, err
		}
		current = page
	}

	if err := checkContext(ctx); err != nil {
		return Result{}, err
	}
	r.enter(StepWriting, "Writing the page to Confluence")
	var (
		page *confluence.Page
		err  error
	)
	switch r.op {
	case OperationUpdate:
		spaceKey := r.req.SpaceKey
		if spaceKey == "" {
			spaceKey = current.SpaceKey
		}
		page, err = w.pages.UpdatePage(ctx, r.req.PageID, confluence.PageInput{
			SpaceKey: spaceKey,
			Title:    r.req.Title,
			Body:     r.req.Body,
			Version:  current.Version + 1,
		})
	default:
		page, err = w.pages.CreatePage(ctx, confluence.PageInput{
			SpaceKey: r.req.SpaceKey,
			Title:    r.req.Title,
			Body:     r.req.Body,
			ParentID: r.req.ParentID,
		})
	}
	if err != nil {
		return Result{}, err
	}

	r.enter(StepFinalizing, "Recording the published page")
	res := Result{
		RunID:       r.id,
		Success:     true,
		Operation:   r.op,
		Title:       page.Title,
		PageID:      page.ID,
		PageURL:     page.URL,
		PublishedAt: w.now().UTC(),
	}
	if current != nil {
		res.BackupVersion = current.Version
		res.ChangeSummary = summarize(current.Content, r.req.Body, current.Version, page.Version)
	}
	return res, nil
}

func (w *Workflow) backup(ctx context.Context, r *run, page *confluence.Page) error {
	if w.backups == nil {
		return nil
	}
	_, err := w.backups.SaveBackup(ctx, storage.PageBackup{
		RunID:     r.id,
		PageID:    page.ID,
		SpaceKey:  page.SpaceKey,
		Title:     page.Title,
		URL:       page.URL,
		Version:   page.Version,
		Content:   page.Content,
		CreatedAt: w.now().UTC(),
	})
	if err != nil {
		return apierrors.Wrap(apierrors.KindPublishing, err, "could not back up the current page version").
			WithRecovery("Check the local database and try again; the page was not modified.")
	}
	return nil
}

// fail emits the terminal error event and builds the failure Result.
func (w *Workflow) fail(r *run, err error) Result {
	e, ok := apierrors.As(err)
	if !ok {
		e = apierrors.Wrap(apierrors.KindPublishing, err, "publishing failed")
	}

	r.emit(Progress{
		RunID:        r.id,
		Step:         StepFailed,
		Message:      "Publishing failed",
		Progress:     r.progress,
		IsComplete:   true,
		ErrorMessage: e.Message,
	})
	metrics.RecordPublish(string(r.op), false, len(r.req.Body))
	w.logger.Warn("Publish failed",
		"run_id", r.id,
		"operation", r.op,
		"error", apierrors.FormatForLogging(e, "publish"),
	)

	return Result{
		RunID:             r.id,
		Success:           false,
		Operation:         r.op,
		Title:             r.req.Title,
		PageID:            r.req.PageID,
		PublishedAt:       w.now().UTC(),
		ErrorMessage:      e.Message,
		ErrorKind:         e.Kind,
		RetryAfterSeconds: e.RetryAfterSeconds,
	}
}

func validate(req Request) error {
	if req.Operation() == OperationCreate || req.SpaceKey != "" {
		if err := sanitize.ValidateSpaceKey(req.SpaceKey); err != nil {
			return err
		}
	}
	if err := sanitize.ValidateTitle(req.Title); err != nil {
		return err
	}
	if req.PageID != "" {
		if err := sanitize.ValidatePageID(req.PageID); err != nil {
			return err
		}
	}
	if req.ParentID != "" {
		if err := sanitize.ValidatePageID(req.ParentID); err != nil {
			return err
		}
	}
	if strings.TrimSpace(req.Body) == "" {
		return apierrors.NewValidationError("body", "must not be empty")
	}
	if len(req.Body) > MaxBodyBytes {
		return apierrors.NewValidationError("body", "exceeds the maximum page size")
	}
	return nil
}

func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return apierrors.Wrap(apierrors.KindNetwork, err, "publishing was cancelled")
	}
	return nil
}
