// Package shared holds the response helpers every handler uses, so the JSON
// envelope and code-to-status mapping live in exactly one place.
package shared

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "smartattend/pkg/domain-errors"
)

// ErrorResponse is the uniform error envelope. Details carry machine-readable
// context such as valid_targets on a rejected transition.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Reason  string         `json:"reason,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

var statusByCode = map[dErrors.Code]int{
	dErrors.CodeValidation:      http.StatusBadRequest,
	dErrors.CodeBadRequest:      http.StatusBadRequest,
	dErrors.CodeUnauthorized:    http.StatusUnauthorized,
	dErrors.CodeForbidden:       http.StatusForbidden,
	dErrors.CodeNotFound:        http.StatusNotFound,
	dErrors.CodeConflict:        http.StatusConflict,
	dErrors.CodePolicyViolation: http.StatusUnprocessableEntity,
	dErrors.CodeIntegrityFault:  http.StatusInternalServerError,
	dErrors.CodeTimeout:         http.StatusGatewayTimeout,
	dErrors.CodeUnavailable:     http.StatusServiceUnavailable,
	dErrors.CodeInternal:        http.StatusInternalServerError,
}

// WriteJSON writes v as the JSON response body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a domain error into the JSON envelope. Uncoded
// errors surface as opaque internals; their text never reaches the client.
func WriteError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: string(dErrors.CodeInternal)}
	status := http.StatusInternalServerError

	var de *dErrors.Error
	if errors.As(err, &de) {
		resp.Error = string(de.Code)
		resp.Reason = de.Message
		resp.Details = de.Details
		if s, ok := statusByCode[de.Code]; ok {
			status = s
		}
	}
	WriteJSON(w, status, resp)
}
