package api

import (
	"encoding/json"
	"net/http"
)

// legacyResponse is the response envelope the deployed firmware and
// dashboard expect from the device-facing endpoints.
//
//	{"status": "success", "message": "..."}
//	{"status": "error", "message": "..."}
type legacyResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Legacy status values.
const (
	statusSuccess    = "success"
	statusError      = "error"
	statusRegistered = "registered"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeLegacy writes a legacy status/message envelope.
func writeLegacy(w http.ResponseWriter, httpStatus int, status, message string) {
	writeJSON(w, httpStatus, legacyResponse{Status: status, Message: message})
}

// writeLegacyError writes a legacy error envelope.
func writeLegacyError(w http.ResponseWriter, httpStatus int, message string) {
	writeLegacy(w, httpStatus, statusError, message)
}
