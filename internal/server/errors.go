package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/zombor/splitit/internal/auth"
	"github.com/zombor/splitit/internal/bill"
	"github.com/zombor/splitit/internal/scanning"
	"github.com/zombor/splitit/internal/session"
	"github.com/zombor/splitit/internal/share"
	"github.com/zombor/splitit/internal/storage"
)

const retryMessage = "Something went wrong, please try again."

// errorStatus maps an error to its HTTP status and a message safe to show
// to the user.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, auth.ErrAuth):
		return http.StatusBadGateway, "Could not start a session. " + retryMessage
	case errors.Is(err, scanning.ErrImage),
		errors.Is(err, storage.ErrInvalidKey),
		errors.Is(err, scanning.ErrNoImageSource):
		return http.StatusBadRequest, "Could not load the image. Choose another photo."
	case errors.Is(err, scanning.ErrTransport):
		return http.StatusBadGateway, "Could not reach the analysis service. " + retryMessage
	case errors.Is(err, scanning.ErrNoAmountFound), errors.Is(err, scanning.ErrMalformedItemized):
		return http.StatusUnprocessableEntity, "Could not read the bill. Try a clearer photo."
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict, session.ErrBusy.Error()
	case errors.Is(err, session.ErrStale):
		return http.StatusConflict, session.ErrStale.Error()
	case errors.Is(err, session.ErrNoImage),
		errors.Is(err, bill.ErrUnknownField):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, session.ErrNoBill),
		errors.Is(err, bill.ErrIndexOutOfRange),
		errors.Is(err, share.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, share.ErrCodeMismatch):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, share.ErrTooManyAttempts):
		return http.StatusTooManyRequests, err.Error()
	case errors.Is(err, share.ErrPersistence):
		return http.StatusInternalServerError, share.ErrPersistence.Error()
	default:
		return http.StatusInternalServerError, retryMessage
	}
}

// errorLabel is a low-cardinality metric label for err.
func errorLabel(err error) string {
	switch {
	case errors.Is(err, auth.ErrAuth):
		return "auth"
	case errors.Is(err, scanning.ErrImage):
		return "image"
	case errors.Is(err, scanning.ErrTransport):
		return "transport"
	case errors.Is(err, scanning.ErrNoAmountFound), errors.Is(err, scanning.ErrMalformedItemized):
		return "parse"
	case errors.Is(err, session.ErrBusy):
		return "busy"
	case errors.Is(err, session.ErrStale):
		return "stale"
	default:
		return "error"
	}
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, err error) {
	code, message := errorStatus(err)
	if code >= http.StatusInternalServerError {
		slog.Error("Request failed", "status", code, "error", err)
	} else {
		slog.Debug("Request rejected", "status", code, "error", err)
	}
	writeJSON(w, code, map[string]string{"error": message})
}

// badRequest writes a 400 with message
func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": message})
}

// writeJSON writes v as a JSON response with status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}
