// Package domainerrors defines the error taxonomy shared across the service.
// Handlers map codes to HTTP statuses; services attach process codes so the
// client can distinguish outcomes of the same status.
package domainerrors

import (
	"errors"
	"net/http"
)

type Code string

const (
	CodeValidation         Code = "validation"
	CodeBadRequest         Code = "bad_request"
	CodeUnauthorized       Code = "unauthorized"
	CodeNotFound           Code = "not_found"
	CodeServiceUnavailable Code = "service_unavailable"
	CodeInternal           Code = "internal"
)

// Process codes surfaced to clients alongside responses and errors.
const (
	ProcessApplicationSent                = 26101002
	ProcessFailedToSend                   = 26101003
	ProcessServiceUnavailable             = 26101004
	ProcessRegistryUnavailable            = 26101006
	ProcessMoreThanOneInProgress          = 26101007
	ProcessSentForDamagedPropertyRecovery = 26101008
)

type Error struct {
	Code        Code
	Message     string
	ProcessCode int
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// WithProcess attaches a process code and returns the same error for chaining.
func (e *Error) WithProcess(processCode int) *Error {
	e.ProcessCode = processCode
	return e
}

// CodeOf extracts the taxonomy code, defaulting to internal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ProcessOf extracts the process code, zero when absent.
func ProcessOf(err error) int {
	var de *Error
	if errors.As(err, &de) {
		return de.ProcessCode
	}
	return 0
}

// HTTPStatus maps a taxonomy code to the response status the handler writes.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeValidation, CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
