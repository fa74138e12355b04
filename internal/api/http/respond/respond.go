// Package respond writes JSON responses and error envelopes.
package respond

import (
	"encoding/json"
	"net/http"
)

type errorBody struct {
	Error errorMessage `json:"error"`
}

type errorMessage struct {
	Message string `json:"message"`
}

// JSON writes data as a JSON response with the given status.
func JSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(data)
}

// Error writes {"error":{"message":...}} with the given status.
func Error(w http.ResponseWriter, status int, message string) error {
	return JSON(w, status, errorBody{Error: errorMessage{Message: message}})
}
