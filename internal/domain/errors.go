package domain

import (
	"errors"
	"fmt"
)

// QueryError reports a malformed request: an unknown field, a bad bounding
// box, or a filter value that cannot be coerced to the field's type.
type QueryError struct {
	Reason string
}

func (e *QueryError) Error() string { return "query error: " + e.Reason }

// QueryErrorf builds a QueryError with a formatted reason.
func QueryErrorf(format string, args ...any) error {
	return &QueryError{Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports that an identifier lookup matched no record.
type NotFoundError struct {
	Collection string
	ID         string
}

func (e *NotFoundError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("item %q not found", e.ID)
	}
	return fmt.Sprintf("item %q not found in %s", e.ID, e.Collection)
}

// ConnectionError reports that the storage engine could not be reached.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return "storage unavailable: " + e.Err.Error() }

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsQueryError reports whether err wraps a *QueryError.
func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}

// IsNotFound reports whether err wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConnectionError reports whether err wraps a *ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
