// Package errors defines the error taxonomy shared by the index, the query
// path and the HTTP adapters. Typed errors unwrap to a sentinel so callers can
// classify with errors.Is and inspect details with errors.As.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var (
	ErrIngestion      = errors.New("ingestion rejected")
	ErrStorageFault   = errors.New("storage fault")
	ErrQueryParse     = errors.New("query parse error")
	ErrCorruptSegment = errors.New("corrupt segment")
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrClosed         = errors.New("index closed")
	ErrTimeout        = errors.New("operation timed out")
)

// IngestionError reports a malformed snippet record. It is recorded and the
// record skipped; it never stops ingestion of other records.
type IngestionError struct {
	SnippetID string
	Fields    map[string]string
}

func (e *IngestionError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	if e.SnippetID == "" {
		return fmt.Sprintf("invalid snippet record: %s", strings.Join(parts, "; "))
	}
	return fmt.Sprintf("invalid snippet record %s: %s", e.SnippetID, strings.Join(parts, "; "))
}

func (e *IngestionError) Unwrap() error {
	return ErrIngestion
}

// StorageFault wraps an I/O failure on a write path. It unwraps to both
// ErrStorageFault and the underlying cause.
type StorageFault struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageFault) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("storage fault during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage fault during %s (%s): %v", e.Op, e.Path, e.Err)
}

func (e *StorageFault) Unwrap() []error {
	return []error{ErrStorageFault, e.Err}
}

// Fault wraps err as a StorageFault unless it already is one.
func Fault(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var sf *StorageFault
	if errors.As(err, &sf) {
		return err
	}
	return &StorageFault{Op: op, Path: path, Err: err}
}

// QueryParseError reports invalid query syntax. Pos is a byte offset into
// Query, or -1 when the error is not tied to a position.
type QueryParseError struct {
	Query  string
	Pos    int
	Reason string
}

func (e *QueryParseError) Error() string {
	if e.Pos < 0 {
		return fmt.Sprintf("invalid query %q: %s", e.Query, e.Reason)
	}
	return fmt.Sprintf("invalid query %q at offset %d: %s", e.Query, e.Pos, e.Reason)
}

func (e *QueryParseError) Unwrap() error {
	return ErrQueryParse
}

// CorruptSegmentError is returned when a sealed segment fails validation on
// load. The segment is quarantined rather than failing the whole index.
type CorruptSegmentError struct {
	SegmentID uint64
	Path      string
	Reason    string
}

func (e *CorruptSegmentError) Error() string {
	return fmt.Sprintf("segment %d (%s) is corrupt: %s", e.SegmentID, e.Path, e.Reason)
}

func (e *CorruptSegmentError) Unwrap() error {
	return ErrCorruptSegment
}

// IsRetryable reports whether the failure may succeed on a later attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageFault) || errors.Is(err, ErrTimeout)
}

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

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrIngestion), errors.Is(err, ErrQueryParse), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrStorageFault), errors.Is(err, ErrClosed), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
