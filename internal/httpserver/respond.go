package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sasewaddle/controlplane/internal/apperr"
)

// Respond writes a JSON response with the given status code under a
// {"success": true, "data": ...} envelope.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	envelope := map[string]any{"success": true, "data": data}
	if err := json.NewEncoder(w).Encode(envelope); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// RespondError writes a JSON {"error", "message"} error envelope with the
// given status code.
func RespondError(w http.ResponseWriter, status int, errStr, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errStr,
		"message": message,
	})
}

// RespondAppError translates an apperr.Error (or any error, defaulting to
// 500 store_failure) into the JSON error envelope.
func RespondAppError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if ae, ok := apperr.As(err); ok {
		if ae.StatusCode() >= 500 {
			logger.Error("request failed", "kind", ae.Kind, "message", ae.Message, "cause", ae.Cause)
		}
		RespondError(w, ae.StatusCode(), string(ae.Kind), ae.Message)
		return
	}
	logger.Error("request failed with unclassified error", "error", err)
	RespondError(w, http.StatusInternalServerError, string(apperr.KindStore), "internal error")
}
