// Package mediaerr defines the error taxonomy shared by the media pipeline.
//
// Every failure that crosses a component boundary is an *Error carrying one of
// four kinds. The kind decides whether a batch must roll back and which HTTP
// status the failure maps to.
package mediaerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	// KindBadPath is a traversal or root-escape attempt. No side effect has happened.
	KindBadPath Kind = "bad_path"
	// KindBadRequest is an invalid scene, disallowed type, size or count.
	KindBadRequest Kind = "bad_request"
	// KindNotFound is a referenced temp asset that does not exist.
	KindNotFound Kind = "not_found"
	// KindInternal is a disk, network or permission failure.
	KindInternal Kind = "internal"
)

// Error represents a pipeline error with context.
type Error struct {
	Kind    Kind
	Op      string         // Operation name
	Path    string         // Path or key involved, if any
	Code    string         // Machine-readable code surfaced to HTTP callers
	Field   string         // Form field the error relates to, if any
	Message string         // Human readable message; derived from Err when empty
	Data    map[string]any // Structured details (missing paths, counts, ...)
	Err     error          // Underlying error
}

// Error returns the error message.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	switch {
	case e.Op != "" && e.Path != "":
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, msg)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	default:
		return msg
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// BadPath reports a traversal attempt for path.
func BadPath(op, path, reason string) *Error {
	return &Error{Kind: KindBadPath, Op: op, Path: path, Code: "BAD_PATH", Message: reason}
}

// BadRequest reports a caller error that happened before any I/O.
func BadRequest(op, code, message string) *Error {
	return &Error{Kind: KindBadRequest, Op: op, Code: code, Message: message}
}

// NotFound reports a missing asset.
func NotFound(op, path string, err error) *Error {
	return &Error{Kind: KindNotFound, Op: op, Path: path, Code: "NOT_FOUND", Err: err}
}

// Internal reports an I/O failure.
func Internal(op, path string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Path: path, Code: "INTERNAL", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
// Errors that carry no kind are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindBadPath, KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
