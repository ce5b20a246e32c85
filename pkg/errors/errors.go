package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentSkipped  = errors.New("document skipped")
	ErrInvalidInput     = errors.New("invalid input")
	ErrQuerySyntax      = errors.New("query syntax error")
	ErrWriterBusy       = errors.New("index writer busy")
	ErrWriterClosed     = errors.New("index writer session closed")
	ErrCommitFailed     = errors.New("index commit failed")
	ErrIndexUnavailable = errors.New("index unavailable")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// QuerySyntaxError reports the fragment of the raw query that could not be
// parsed and its byte offset.
type QuerySyntaxError struct {
	Query    string
	Fragment string
	Offset   int
	Reason   string
}

func (e *QuerySyntaxError) Error() string {
	if e.Fragment == "" {
		return fmt.Sprintf("query syntax error at offset %d: %s", e.Offset, e.Reason)
	}
	return fmt.Sprintf("query syntax error at offset %d near %q: %s", e.Offset, e.Fragment, e.Reason)
}

func (e *QuerySyntaxError) Unwrap() error {
	return ErrQuerySyntax
}

// DocumentError attaches the offending document id to a per-document failure.
type DocumentError struct {
	DocumentID string
	Err        error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("document %q: %v", e.DocumentID, e.Err)
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}

// CommitError is returned when a writer session could not publish its
// snapshot. The previously published snapshot stays current.
type CommitError struct {
	SessionID string
	Err       error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit session %s: %v", e.SessionID, e.Err)
}

func (e *CommitError) Unwrap() []error {
	return []error{ErrCommitFailed, e.Err}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrWriterBusy):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrQuerySyntax), errors.Is(err, ErrDocumentSkipped):
		return http.StatusBadRequest
	case errors.Is(err, ErrIndexUnavailable), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
