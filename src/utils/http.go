// src/utils/http.go
package utils

import (
	"encoding/json"
	"net/http"

	"github.com/progami/targonos/backend/src/logger"
)

// SendJSONError writes a JSON error payload with the given status code.
func SendJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		logger.L.Error("Failed to encode JSON error response", "error", err)
	}
}

// SendJSON writes a JSON response payload with the given status code.
func SendJSON(w http.ResponseWriter, payload any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.L.Error("Failed to encode JSON response", "error", err)
	}
}
