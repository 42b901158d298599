// Package response writes the JSON envelopes the mobile app expects:
// {"success":true,...} on success and {"success":false,"error":...} on failure.
package response

import (
	"encoding/json"
	"net/http"
	"time"
)

// timestampLayout matches JavaScript's Date.toISOString.
const timestampLayout = "2006-01-02T15:04:05.000Z"

type envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type collectionEnvelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data"`
	Meta    PaginationMeta `json:"meta"`
}

type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

type PaginationMeta struct {
	Limit int `json:"limit"`
	Count int `json:"count"`
}

// JSON writes {"success":true,"data":data} with status 200.
func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func Collection(w http.ResponseWriter, data any, meta PaginationMeta) {
	writeJSON(w, http.StatusOK, collectionEnvelope{Success: true, Data: data, Meta: meta})
}

// OK writes v as is with status 200. Callers pass an endpoint-specific
// struct that carries its own success field.
func OK(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, v)
}

// Error writes a failure envelope. message is shown to the user; code and
// details are optional machine-readable context.
func Error(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// Timestamp formats t the way the app parses response timestamps.
func Timestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
