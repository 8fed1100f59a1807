// Package apperror defines the error kinds shared by the catalog, filter and
// file packages so callers can tell user-fixable input errors from transient
// backend failures.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindForbidden          Kind = "forbidden"
	KindInvalidFilter      Kind = "invalid_filter"
	KindInvalidInput       Kind = "invalid_input"
	KindStorageUnavailable Kind = "storage_unavailable"
	KindConflict           Kind = "conflict"
	KindRateLimited        Kind = "rate_limited"
)

var (
	// ErrNotFound matches any error of KindNotFound via errors.Is.
	ErrNotFound = &Error{Kind: KindNotFound}
	// ErrForbidden matches any error of KindForbidden.
	ErrForbidden = &Error{Kind: KindForbidden}
	// ErrInvalidFilter matches any error of KindInvalidFilter.
	ErrInvalidFilter = &Error{Kind: KindInvalidFilter}
	// ErrInvalidInput matches any error of KindInvalidInput.
	ErrInvalidInput = &Error{Kind: KindInvalidInput}
	// ErrStorageUnavailable matches any error of KindStorageUnavailable.
	ErrStorageUnavailable = &Error{Kind: KindStorageUnavailable}
	// ErrConflict matches any error of KindConflict.
	ErrConflict = &Error{Kind: KindConflict}
	// ErrRateLimited matches any error of KindRateLimited.
	ErrRateLimited = &Error{Kind: KindRateLimited}
)

// Error carries a kind plus the offending field or identifier.
type Error struct {
	Kind    Kind
	Field   string
	ID      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	switch {
	case e.Field != "" && e.ID != "":
		msg = fmt.Sprintf("%s (%s=%s)", msg, e.Field, e.ID)
	case e.Field != "":
		msg = fmt.Sprintf("%s (field %s)", msg, e.Field)
	case e.ID != "":
		msg = fmt.Sprintf("%s (id %s)", msg, e.ID)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality so the package sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" when
// err carries none.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// NotFound reports an unknown entry or content identifier.
func NotFound(resource, id string) *Error {
	return &Error{Kind: KindNotFound, Field: resource, ID: id, Message: resource + " not found"}
}

// Forbidden reports a non-owner attempting an owner-only operation.
func Forbidden(resource, id string) *Error {
	return &Error{Kind: KindForbidden, Field: resource, ID: id, Message: "caller does not own " + resource}
}

// InvalidFilter reports a malformed or inverted filter field.
func InvalidFilter(field, message string) *Error {
	return &Error{Kind: KindInvalidFilter, Field: field, Message: message}
}

// InvalidInput reports malformed non-filter input such as an empty name.
func InvalidInput(field, message string) *Error {
	return &Error{Kind: KindInvalidInput, Field: field, Message: message}
}

// Conflict reports a mutation whose expected prior state no longer holds.
func Conflict(resource, id string) *Error {
	return &Error{Kind: KindConflict, Field: resource, ID: id, Message: resource + " was modified concurrently"}
}

// RateLimited reports a caller that exceeded its request allowance.
func RateLimited(userID string) *Error {
	return &Error{Kind: KindRateLimited, Field: "user", ID: userID, Message: "rate limit exceeded"}
}

// Unavailable wraps a collaborator failure. An error that already carries a
// kind is returned unchanged so the original classification survives.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != "" {
		return err
	}
	return &Error{Kind: KindStorageUnavailable, Message: op, Err: err}
}
