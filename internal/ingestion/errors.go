package ingestion

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rpattn/bulkimport/internal/repository"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrRowLimitExceeded is returned when a file has more data rows than allowed.
	ErrRowLimitExceeded = errors.New("row limit exceeded")
	// ErrFileTooLarge is returned when the stream is longer than the byte ceiling.
	ErrFileTooLarge = errors.New("file too large")
	// ErrNoHeader is returned when a file has no header row.
	ErrNoHeader = errors.New("file has no header row")
)

// Category classifies import failures.
type Category string

const (
	// CategoryPrecondition failures happen before any row is processed.
	CategoryPrecondition Category = "precondition"
	// CategoryFatal failures abort the run.
	CategoryFatal Category = "fatal"
)

// Error codes. CodeInvalidRow and CodeBatchRejected tag the row errors of
// a run; they are data in the result and never returned as an *Error.
const (
	CodeUnknownKind    = "unknown_kind"
	CodeInvalidMapping = "invalid_mapping"
	CodeMissingColumns = "missing_columns"
	CodeRowLimit       = "row_limit_exceeded"
	CodeFileTooLarge   = "file_too_large"
	CodeUnreadable     = "unreadable_file"
	CodeStoreFailure   = "store_unavailable"
	CodeBatchRejected  = "batch_rejected"
	CodeInvalidRow     = "invalid_row"
	CodeLedger         = "ledger_failure"
	CodeSuggestFailure = "suggestion_failed"
	CodeInternal       = "internal"
	CodeCanceled       = "canceled"
)

// Error is the categorized error returned by the service.
type Error struct {
	Category Category
	Code     string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error with the same category and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// HTTPStatus maps the error onto a response status.
func (e *Error) HTTPStatus() int {
	switch e.Category {
	case CategoryPrecondition:
		if status, ok := e.Cause.(interface{ HTTPStatus() int }); ok {
			return status.HTTPStatus()
		}
		return http.StatusUnprocessableEntity
	case CategoryFatal:
		switch e.Code {
		case CodeStoreFailure, CodeLedger:
			return http.StatusServiceUnavailable
		case CodeFileTooLarge:
			return http.StatusRequestEntityTooLarge
		case CodeSuggestFailure:
			return http.StatusBadGateway
		case CodeInternal:
			return http.StatusInternalServerError
		case CodeCanceled:
			return http.StatusRequestTimeout
		}
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func newError(category Category, code, message string, cause error) *Error {
	return &Error{Category: category, Code: code, Message: message, Cause: cause}
}

func preconditionError(code, message string, cause error) *Error {
	return newError(CategoryPrecondition, code, message, cause)
}

// fatalError classifies an error that escaped the pipeline.
func fatalError(err error) *Error {
	var existing *Error
	if errors.As(err, &existing) && existing.Category == CategoryFatal {
		return existing
	}
	switch {
	case errors.Is(err, ErrRowLimitExceeded):
		return newError(CategoryFatal, CodeRowLimit, "file exceeds the maximum number of data rows", err)
	case errors.Is(err, ErrFileTooLarge):
		return newError(CategoryFatal, CodeFileTooLarge, "file exceeds the maximum upload size", err)
	case errors.Is(err, repository.ErrStoreUnavailable):
		return newError(CategoryFatal, CodeStoreFailure, "datastore unavailable", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newError(CategoryFatal, CodeCanceled, "import interrupted", err)
	}
	return newError(CategoryFatal, CodeUnreadable, "file could not be read", err)
}

func rowLimitError(maxRows int) *Error {
	return newError(CategoryFatal, CodeRowLimit,
		fmt.Sprintf("file exceeds the maximum of %d data rows", maxRows), ErrRowLimitExceeded)
}

// IsFatal reports whether err aborted a run.
func IsFatal(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Category == CategoryFatal
}

// IsPrecondition reports whether err rejected a request before processing.
func IsPrecondition(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Category == CategoryPrecondition
}
