package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/amcp-dev/amcp/pkg/model"
)

// apiError is the response body for every non-2xx /api/v1 response,
// matching spec §6.5's {code, message} envelope.
type apiError struct {
	Code    model.ErrorCode `json:"code"`
	Message string          `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps code to its HTTP status per model.ErrorCode.HTTPStatus
// and writes the standard error envelope.
func writeError(w http.ResponseWriter, code model.ErrorCode, message string) {
	writeJSON(w, code.HTTPStatus(), apiError{Code: code, Message: message})
}

// classifyError guesses an ErrorCode for a bare error returned by a
// component that doesn't already carry one (e.g. session.ErrSessionNotFound).
// Components that care about a specific code should return one directly
// instead of relying on this fallback.
func classifyError(err error) model.ErrorCode {
	switch err.Error() {
	case "session not found":
		return model.ErrSessionNotFound
	default:
		return model.ErrInternal
	}
}
