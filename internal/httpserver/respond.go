package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/netreach/controlplane/internal/apierr"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// ErrorResponse is the {detail: string} envelope §6 mandates for every
// failure response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// RespondError writes a JSON error response with the given status and detail.
func RespondError(w http.ResponseWriter, status int, detail string) {
	Respond(w, status, ErrorResponse{Detail: detail})
}

// RespondAPIErr maps a taxonomy error (see internal/apierr) to its HTTP
// status and {detail} body. Errors that don't unwrap to *apierr.Error are
// logged and surfaced as a generic Internal failure — never a stack trace
// or raw error string, per §7's "no secrets leave the process".
func RespondAPIErr(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		RespondError(w, apiErr.Status(), apiErr.Detail)
		return
	}
	if logger != nil {
		logger.Error("unclassified error", "error", err)
	}
	RespondError(w, http.StatusInternalServerError, "internal error")
}
