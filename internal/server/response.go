package server

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/questforge/encounterd/internal/apperror"
	"github.com/questforge/encounterd/internal/logging"
	"github.com/questforge/encounterd/pkg/types"
)

// maxRequestBytes caps JSON request bodies.
const maxRequestBytes = 1 << 20

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes the error envelope.
func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, types.ErrorResponse{
		Error: types.ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// writeAppError maps err onto the envelope. Unclassified errors become 500s
// with a generic message.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperror.KindOf(err)
	status := apperror.Status(kind)

	var appErr *apperror.Error
	message := "internal error"
	var details map[string]any
	if errors.As(err, &appErr) {
		if kind != apperror.KindInternal {
			message = appErr.Error()
		}
		details = appErr.Details
		if appErr.RetryAfter > 0 {
			secs := int(math.Ceil(appErr.RetryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			if details == nil {
				details = map[string]any{}
			}
			if _, ok := details["retryAfterSeconds"]; !ok {
				details["retryAfterSeconds"] = secs
			}
		}
	} else if kind != apperror.KindInternal {
		message = err.Error()
	}

	if status >= 500 {
		logging.Error().Err(err).Str("path", r.URL.Path).Str("code", apperror.Code(kind)).Msg("request failed")
	}
	writeError(w, status, apperror.Code(kind), message, details)
}

// authErrorHandler adapts writeAppError to the hmacauth middleware.
func authErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	writeAppError(w, r, err)
}

// decodeJSON reads a size-capped JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.Validation("request body is required")
		}
		return apperror.Validation("invalid JSON body: %v", err)
	}
	if dec.More() {
		return apperror.Validation("invalid JSON body: trailing data")
	}
	return nil
}
