// Package errors defines the mediator's coded error taxonomy. Every failure
// that crosses a package boundary is wrapped in an *Error so transport code
// can map it to an HTTP status and callers can tell an auth failure from a
// validation failure from a publish failure.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a mediator error.
type Code string

const (
	// CodeAuth is a token exchange or refresh failure against an upstream.
	CodeAuth Code = "auth_error"
	// CodeValidation is a non-200 from the datastore's $validate operation.
	CodeValidation Code = "validation_error"
	// CodeUpstream is any other non-2xx or transport failure from the MPI
	// or the datastore.
	CodeUpstream Code = "upstream_error"
	// CodeMissingID is an MPI response lacking an identity id where one is
	// required.
	CodeMissingID Code = "missing_id"
	// CodePublish is an event queue rejection or unavailability.
	CodePublish Code = "publish_error"
	// CodeConfig is an absent or unusable configuration value.
	CodeConfig Code = "config_error"

	CodeBadRequest Code = "bad_request"
	CodeInternal   Code = "internal_error"
)

// Error carries the code, a message, and (for upstream-originated failures)
// the upstream status and raw body so callers can diagnose the remote side.
type Error struct {
	Code    Code
	Message string
	// Status is the upstream HTTP status that caused this error, zero when
	// the failure never reached an upstream.
	Status int
	// Body is the raw upstream response body, preserved verbatim.
	Body string
	err  error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (upstream status %d)", e.Code, e.Message, e.Status)
	}
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// New builds a coded error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil err yields
// nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, err: err}
}

// FromUpstream builds a coded error preserving the upstream status and body.
func FromUpstream(code Code, status int, body string) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf("upstream returned status %d", status),
		Status:  status,
		Body:    body,
	}
}

// CodeOf extracts the code from err, or CodeInternal when err is not coded.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// UpstreamStatus extracts the upstream HTTP status from err, zero if absent.
func UpstreamStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// UpstreamBody extracts the preserved upstream body from err, empty if absent.
func UpstreamBody(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Body
	}
	return ""
}

// ToHTTPStatus maps an error code to the HTTP status returned to callers.
// Upstream-originated errors mirror the upstream status when one is present.
func ToHTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		if e.Status != 0 {
			return e.Status
		}
		switch e.Code {
		case CodeBadRequest, CodeMissingID:
			return http.StatusBadRequest
		case CodeAuth:
			return http.StatusUnauthorized
		case CodeValidation:
			return http.StatusUnprocessableEntity
		case CodeUpstream, CodePublish:
			return http.StatusBadGateway
		}
	}
	return http.StatusInternalServerError
}
