package httpx

import (
	"encoding/json"
	"net/http"
)

// WriteJSON encodes v before touching the response so an encoding failure
// can still become a 500.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// WriteError writes {"error": msg} with an optional offending field.
func WriteError(w http.ResponseWriter, status int, msg, field string) {
	WriteJSON(w, status, errorBody{Error: msg, Field: field})
}
