package extract

import (
	"context"
	"errors"
)

// Error classes returned by the extraction engine. Every error the engine
// produces wraps exactly one of these, so callers branch with errors.Is.
var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrPathTraversal     = errors.New("path escapes log directory")
	ErrSourceUnavailable = errors.New("master log unavailable")
	ErrWriteFailure      = errors.New("cannot write output")
	ErrNotFound          = errors.New("not found")
	ErrInternal          = errors.New("internal error")
)

// Kind is the stable, serializable name of an error class.
type Kind string

const (
	KindNone              Kind = ""
	KindInvalidRequest    Kind = "INVALID_REQUEST"
	KindPathTraversal     Kind = "PATH_TRAVERSAL"
	KindSourceUnavailable Kind = "SOURCE_UNAVAILABLE"
	KindWriteFailure      Kind = "WRITE_FAILURE"
	KindNotFound          Kind = "NOT_FOUND"
	KindInternal          Kind = "INTERNAL_ERROR"
	KindCanceled          Kind = "CANCELED"
)

// KindOf classifies err. Errors outside the taxonomy are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrPathTraversal):
		return KindPathTraversal
	case errors.Is(err, ErrSourceUnavailable):
		return KindSourceUnavailable
	case errors.Is(err, ErrWriteFailure):
		return KindWriteFailure
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}
