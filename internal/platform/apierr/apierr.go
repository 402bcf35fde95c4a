// Package apierr carries the client-visible error taxonomy across
// service boundaries without losing the underlying cause.
package apierr

import (
	"net/http"
)

// Code values mirror the ErrorKind taxonomy: the admission engine
// never returns anything else to a caller.
const (
	CodeInvalidQuery   = "INVALID_QUERY"
	CodeExternalLib    = "EXTERNAL_LIB"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeInternalError  = "INTERNAL_ERROR"
)

type Error struct {
	Status int
	Code   string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Reason != "" {
		return e.Reason
	}
	if e.Code != "" {
		return e.Code
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func WithReason(status int, code, reason string, err error) *Error {
	return &Error{Status: status, Code: code, Reason: reason, Err: err}
}

func InvalidQuery(reason string, err error) *Error {
	return WithReason(http.StatusBadRequest, CodeInvalidQuery, reason, err)
}

func ExternalLib(reason string, err error) *Error {
	return WithReason(http.StatusBadGateway, CodeExternalLib, reason, err)
}

func Unauthorized(reason string, err error) *Error {
	return WithReason(http.StatusUnauthorized, CodeUnauthorized, reason, err)
}

func InternalError(reason string, err error) *Error {
	return WithReason(http.StatusInternalServerError, CodeInternalError, reason, err)
}

// As unwraps a chained error into an *Error, defaulting to INTERNAL_ERROR
// for anything the engine did not classify itself.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var target *Error
	if ok := unwrapInto(err, &target); ok {
		return target
	}
	return InternalError("unclassified error", err)
}

func unwrapInto(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
