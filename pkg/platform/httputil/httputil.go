// Package httputil centralizes JSON response writing so every handler
// produces the same envelope for successes and errors.
package httputil

import (
	"encoding/json"
	"net/http"

	mErrors "mpi-mediator/pkg/errors"
)

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteFHIRJSON writes v with the FHIR JSON content type.
func WriteFHIRJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/fhir+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a coded error into a JSON error response. Internal
// errors omit the description so infrastructure details never leak to
// callers; everything else keeps the message for diagnosis.
func WriteError(w http.ResponseWriter, err error) {
	code := mErrors.CodeOf(err)
	status := mErrors.ToHTTPStatus(err)

	body := map[string]string{"error": string(code)}
	if code != mErrors.CodeInternal {
		body["error_description"] = err.Error()
		if upstream := mErrors.UpstreamBody(err); upstream != "" {
			body["upstream_body"] = upstream
		}
	}
	WriteJSON(w, status, body)
}
