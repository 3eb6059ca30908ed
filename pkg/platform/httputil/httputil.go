// Package httputil holds the response helpers shared by all HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"crcert/pkg/domainerrors"
)

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ProcessCode      int    `json:"processCode,omitempty"`
}

// WriteJSON writes v with the given status. Encoding failures are silently
// dropped; the status line is already on the wire.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a domain error to its HTTP status. Internal error details
// never reach the client; process codes always do.
func WriteError(w http.ResponseWriter, err error) {
	code := domainerrors.CodeOf(err)
	body := errorBody{
		Error:       string(code),
		ProcessCode: domainerrors.ProcessOf(err),
	}
	if code != domainerrors.CodeInternal {
		var de *domainerrors.Error
		if errors.As(err, &de) {
			body.ErrorDescription = de.Message
		}
	}
	WriteJSON(w, domainerrors.HTTPStatus(err), body)
}

// DecodeJSON decodes the request body into T, rejecting unknown fields.
func DecodeJSON[T any](r *http.Request) (*T, error) {
	var v T
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return nil, domainerrors.Wrap(domainerrors.CodeValidation, "malformed request body", err)
	}
	return &v, nil
}
