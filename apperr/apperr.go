// Package apperr defines the error kinds reported by the user tools.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies a failure. A Kind is itself an error so callers can test
// with errors.Is(err, apperr.NotFound).
type Kind string

const (
	ConnectionError  Kind = "connection_error"
	DuplicateEmail   Kind = "duplicate_email"
	NotFound         Kind = "not_found"
	TransactionError Kind = "transaction_error"
	DatabaseError    Kind = "database_error"
	BadRequest       Kind = "bad_request"
)

func (k Kind) Error() string { return string(k) }

// Error is the rich error returned by the service layer.
type Error struct {
	Kind Kind
	// Op is the operation that failed, e.g. "CreateUser".
	Op string
	// Message is the human readable action, e.g. "creating user".
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && e != nil && e.Kind == k
}

// StatusCode maps the kind to an HTTP status. Only BadRequest is a client
// error; everything else is reported as 500.
func (e *Error) StatusCode() int {
	if e != nil && e.Kind == BadRequest {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// New builds an *Error.
func New(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// DatabaseError when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return DatabaseError
}

// FromError returns the first *Error in err's chain, wrapping err as a
// DatabaseError when there is none.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return New(DatabaseError, "", "", err)
}
