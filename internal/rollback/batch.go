package rollback

import (
	"fmt"
	"strings"

	"github.com/maneesh/blogmedia/internal/mediaerr"
)

// ItemFailure is one failed member of a batch.
type ItemFailure struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Err   error  `json:"-"`
}

// BatchError reports a batch that was aborted and compensated.
type BatchError struct {
	Op         string
	Total      int
	Succeeded  int // items that completed before the abort
	RolledBack int // compensating deletes that succeeded
	Skipped    int // items never started because the batch aborted
	Failures   []ItemFailure
	UndoFailed []Action
}

// Cause returns the first item failure.
func (e *BatchError) Cause() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e.Failures[0].Err
}

func (e *BatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: batch of %d aborted: %d failed, %d succeeded and %d artifacts rolled back",
		e.Op, e.Total, len(e.Failures), e.Succeeded, e.RolledBack)
	if e.Skipped > 0 {
		fmt.Fprintf(&b, ", %d not started", e.Skipped)
	}
	if len(e.UndoFailed) > 0 {
		fmt.Fprintf(&b, ", %d rollbacks failed", len(e.UndoFailed))
	}
	if cause := e.Cause(); cause != nil {
		fmt.Fprintf(&b, ": item %d (%s): %v", e.Failures[0].Index, e.Failures[0].Name, cause)
	}
	return b.String()
}

// Unwrap exposes the first item failure so the batch keeps its kind.
func (e *BatchError) Unwrap() error {
	return e.Cause()
}

// Data returns the structured details surfaced to HTTP callers.
func (e *BatchError) Data() map[string]any {
	failed := make([]map[string]any, 0, len(e.Failures))
	for _, f := range e.Failures {
		failed = append(failed, map[string]any{"index": f.Index, "name": f.Name, "error": f.Err.Error()})
	}
	undoFailed := make([]string, 0, len(e.UndoFailed))
	for _, a := range e.UndoFailed {
		undoFailed = append(undoFailed, a.String())
	}
	return map[string]any{
		"total":           e.Total,
		"succeededCount":  e.Succeeded,
		"rolledBackCount": e.RolledBack,
		"failedCount":     len(e.Failures),
		"skippedCount":    e.Skipped,
		"failures":        failed,
		"rollbackFailed":  undoFailed,
	}
}

// AsMediaError converts the batch error into the surfaced error shape, keeping
// the kind of the first failure.
func (e *BatchError) AsMediaError() *mediaerr.Error {
	return &mediaerr.Error{
		Kind:    mediaerr.KindOf(e.Cause()),
		Code:    "BATCH_ABORTED",
		Message: e.Error(),
		Data:    e.Data(),
		Err:     e,
	}
}
