package httpext

import (
	"encoding/json"
	"net/http"

	"github.com/deepgram/persona-relay/pkg/logger"
)

// ErrorResponse represents a standardised JSON error response
type ErrorResponse struct {
	Error            string `json:"error"`
	Details          string `json:"details,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
}

// JsonError writes a JSON error response with the specified status code
func JsonError(w http.ResponseWriter, message string, code int) {
	JsonErrorWithDetails(w, code, ErrorResponse{Error: message})
}

// JsonErrorWithDetails writes a detailed JSON error response
func JsonErrorWithDetails(w http.ResponseWriter, code int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error(logger.HANDLER, "Failed to encode error response: %v", err)
		return
	}
}

// JsonResponse writes v as a JSON body with the given status code
func JsonResponse(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error(logger.HANDLER, "Failed to encode response: %v", err)
	}
}
