package shardpager

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// ErrorKind classifies a QueryError.
type ErrorKind string

const (
	// KindNoData: nothing was ever registered for the cache key.
	KindNoData ErrorKind = "no-data"
	// KindQueryTimeout: the wait deadline expired while polling the cache.
	KindQueryTimeout ErrorKind = "query-timeout"
	// KindInternalState: progress reports completion but the records are missing.
	KindInternalState ErrorKind = "internal-state"
	// KindUnsupportedFormat: the export encoding is not json, csv or xml.
	KindUnsupportedFormat ErrorKind = "unsupported-format"
	// KindExportIO: writing an export file failed.
	KindExportIO ErrorKind = "export-io"
	// KindInvalidRequest: malformed cursor token or request parameters.
	KindInvalidRequest ErrorKind = "invalid-request"
	// KindCacheUnavailable: the partition cache could not be read.
	KindCacheUnavailable ErrorKind = "cache-unavailable"
)

// QueryError is the single error type returned by pagers and exporters.
type QueryError struct {
	Kind    ErrorKind
	Message string
	// Elapsed and Limit are set for query-timeout errors.
	Elapsed time.Duration
	Limit   time.Duration
	Err     error
}

// Sentinels for errors.Is; they match any QueryError of the same kind.
var (
	ErrNoData            = &QueryError{Kind: KindNoData}
	ErrQueryTimeout      = &QueryError{Kind: KindQueryTimeout}
	ErrInternalState     = &QueryError{Kind: KindInternalState}
	ErrUnsupportedFormat = &QueryError{Kind: KindUnsupportedFormat}
	ErrExportIO          = &QueryError{Kind: KindExportIO}
	ErrInvalidRequest    = &QueryError{Kind: KindInvalidRequest}
	ErrCacheUnavailable  = &QueryError{Kind: KindCacheUnavailable}
)

func (e *QueryError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *QueryError) Unwrap() error { return e.Err }

// Cause returns the underlying error, for github.com/pkg/errors.Cause.
func (e *QueryError) Cause() error { return e.Err }

// Is matches another QueryError of the same kind.
func (e *QueryError) Is(target error) bool {
	t, ok := target.(*QueryError)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of the first QueryError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return ""
}

func newQueryError(kind ErrorKind, cause error, format string, args ...any) *QueryError {
	return &QueryError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

func timeoutError(elapsed, limit time.Duration, cause error) *QueryError {
	return &QueryError{
		Kind: KindQueryTimeout,
		Message: fmt.Sprintf("query cost %dms greater than %dms, it is timeout",
			elapsed.Milliseconds(), limit.Milliseconds()),
		Elapsed: elapsed,
		Limit:   limit,
		Err:     cause,
	}
}
