// Package api exposes the HTTP surface of EnrollPipe: the provider
// webhooks that feed the registration engine, read-only session and
// conversation-log endpoints, and a health check.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// fallbackError is served when a response payload fails to marshal. Kept as
// a literal so it matches the models.APIResponse wire shape without needing
// a marshal step of its own.
var fallbackError = []byte(`{"status":"error","error":"Internal server error"}`)

// writeJSON marshals the payload before touching the ResponseWriter so a
// marshal failure can still downgrade the status code.
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Server.writeJSON: failed to marshal response", "error", err)
		status = http.StatusInternalServerError
		body = fallbackError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.Error("Server.writeJSON: failed to write response", "error", err)
	}
}
