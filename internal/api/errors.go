package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/wiotp-relay/internal/host"
)

// Problem is the JSON body of every failed request.
type Problem struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Problem codes.
const (
	CodeInvalidBody     = "invalid_body"
	CodeBodyTooLarge    = "body_too_large"
	CodeUnknownEndpoint = "unknown_endpoint"
	CodeUnknownChannel  = "unknown_channel"
	CodeInternal        = "internal_error"
)

// errInvalidBody marks a request body that could not be decoded.
var errInvalidBody = errors.New("invalid request body")

// writeJSON writes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // the client may already be gone
		json.NewEncoder(w).Encode(v)
	}
}

// fail writes a Problem tagged with the request's ID.
func fail(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, Problem{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: requestID(r.Context()),
	})
}

// failFor maps an error from decoding or sending to its response.
// Unrecognised errors are answered with 500 and a generic message.
func failFor(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		fail(w, r, http.StatusRequestEntityTooLarge, CodeBodyTooLarge, err.Error())
	case errors.Is(err, errInvalidBody):
		fail(w, r, http.StatusBadRequest, CodeInvalidBody, err.Error())
	case errors.Is(err, host.ErrUnknownEndpoint):
		fail(w, r, http.StatusNotFound, CodeUnknownEndpoint, err.Error())
	default:
		fail(w, r, http.StatusInternalServerError, CodeInternal, "internal server error")
	}
}
