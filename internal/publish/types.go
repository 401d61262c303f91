// Package publish writes a generated document to Confluence as a short state
// machine: validate, back up (updates only), write, finalize. Every
// transition is reported as a Progress event.
package publish

import (
	"fmt"
	"time"

	apierrors "github.com/olgasafonova/confluence-spec-mcp-server/internal/errors"
)

// Operation is the kind of write.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
)

// Step is a workflow state.
type Step string

const (
	StepValidating Step = "validating"
	StepBackingUp  Step = "backingUp"
	StepWriting    Step = "writing"
	StepFinalizing Step = "finalizing"
	StepSucceeded  Step = "succeeded"
	StepFailed     Step = "failed"
)

// Fraction of the run completed on entering each step.
var stepProgress = map[Step]float64{
	StepValidating: 0.1,
	StepBackingUp:  0.3,
	StepWriting:    0.6,
	StepFinalizing: 0.9,
	StepSucceeded:  1.0,
}

// Progress reports one state transition. Progress never decreases within a
// run and IsComplete is set only on the last event.
type Progress struct {
	RunID        string  `json:"runId"`
	Step         Step    `json:"step"`
	Message      string  `json:"message"`
	Progress     float64 `json:"progress"`
	IsComplete   bool    `json:"isComplete"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
}

// ProgressFunc receives progress events synchronously, in order.
type ProgressFunc func(Progress)

// ChangeSummary compares the new body with the backed-up one.
type ChangeSummary struct {
	FromVersion     int `json:"fromVersion"`
	ToVersion       int `json:"toVersion"`
	InsertedChars   int `json:"insertedChars"`
	DeletedChars    int `json:"deletedChars"`
	UnchangedChars  int `json:"unchangedChars"`
	ChangedSegments int `json:"changedSegments"`
}

func (c ChangeSummary) String() string {
	if c.ChangedSegments == 0 {
		return fmt.Sprintf("no content changes since version %d", c.FromVersion)
	}
	return fmt.Sprintf("version %d -> %d: +%d/-%d characters in %d places",
		c.FromVersion, c.ToVersion, c.InsertedChars, c.DeletedChars, c.ChangedSegments)
}

// Result is the outcome of a publish run.
type Result struct {
	RunID        string    `json:"runId"`
	Success      bool      `json:"success"`
	Operation    Operation `json:"operation"`
	Title        string    `json:"title"`
	PageID       string    `json:"pageId,omitempty"`
	PageURL      string    `json:"pageUrl,omitempty"`
	PublishedAt  time.Time `json:"publishedAt"`
	ErrorMessage string    `json:"errorMessage,omitempty"`

	// ErrorKind and RetryAfterSeconds let the caller decide whether and when
	// to try again.
	ErrorKind         apierrors.Kind `json:"errorKind,omitempty"`
	RetryAfterSeconds int            `json:"retryAfterSeconds,omitempty"`

	// Set on updates.
	BackupVersion int            `json:"backupVersion,omitempty"`
	ChangeSummary *ChangeSummary `json:"changeSummary,omitempty"`
}

// DetailedMessage is a one-line, user-facing description of the outcome.
func (r Result) DetailedMessage() string {
	if r.Success {
		verb := "created"
		if r.Operation == OperationUpdate {
			verb = "updated"
		}
		return "Page \"" + r.Title + "\" successfully " + verb + " at " + r.PageURL
	}
	msg := "Failed to " + string(r.Operation) + " page \"" + r.Title + "\": " + r.ErrorMessage
	if r.RetryAfterSeconds > 0 {
		msg += fmt.Sprintf(" (retry after %d seconds)", r.RetryAfterSeconds)
	}
	return msg
}

// Request describes what to publish. An empty PageID means create.
type Request struct {
	SpaceKey string `json:"spaceKey"`
	Title    string `json:"title"`
	// Body is Confluence storage markup.
	Body     string `json:"body"`
	ParentID string `json:"parentId,omitempty"`
	PageID   string `json:"pageId,omitempty"`
}

// Operation reports whether r creates or updates a page.
func (r Request) Operation() Operation {
	if r.PageID != "" {
		return OperationUpdate
	}
	return OperationCreate
}
