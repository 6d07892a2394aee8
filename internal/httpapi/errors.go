package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/onixbyte/helix/internal/audit"
	"github.com/onixbyte/helix/internal/auth"
)

const (
	contentTypeJSON = "application/json;charset=UTF-8"
	// ISO-8601 local date-time, no zone.
	timestampLayout = "2006-01-02T15:04:05.000"

	msgAuthRequired  = "Full authentication is required to access this resource."
	msgAccessDenied  = "Access denied."
	msgNotFound      = "Resource not found."
	msgInvalidInput  = "Invalid request."
	msgConflict      = "Resource already exists."
	msgInternalError = "Internal server error."
	maxJSONBodyBytes = 1 << 20
)

type errorBody struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders every error response, 401s from the token filter
// included, and flushes it.
func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{
		Timestamp: time.Now().Format(timestampLayout),
		Message:   msg,
	})
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func statusOf(kind auth.Kind) int {
	switch kind {
	case auth.KindUnauthorized:
		return http.StatusUnauthorized
	case auth.KindBadRequest:
		return http.StatusBadRequest
	case auth.KindUpstreamUnavailable:
		return http.StatusBadGateway
	case auth.KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case auth.KindRegistrationRequired:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// fail translates err into a response. It is the only place errors become
// HTTP statuses.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	fields := []zap.Field{
		zap.String("request_id", audit.RequestIDFromContext(r.Context())),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	}
	if kind := auth.KindOf(err); kind != 0 {
		code := statusOf(kind)
		msg, _ := auth.PublicMessage(err)
		if code >= http.StatusInternalServerError {
			a.logger.Error("request failed", append(fields, zap.String("kind", kind.String()))...)
		} else {
			a.logger.Debug("request rejected", append(fields, zap.String("kind", kind.String()))...)
		}
		if code == http.StatusUnauthorized {
			w.Header().Set("WWW-Authenticate", `Bearer realm="helix"`)
		}
		writeError(w, code, msg)
		return
	}

	switch {
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, http.StatusNotFound, msgNotFound)
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, msgInvalidInput)
	case errors.Is(err, auth.ErrConflict):
		writeError(w, http.StatusConflict, msgConflict)
	default:
		a.logger.Error("request failed", fields...)
		writeError(w, http.StatusInternalServerError, msgInternalError)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return auth.BadRequest("Request body is required.", err)
		}
		return auth.BadRequest("Malformed request body.", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return auth.BadRequest("Unexpected data after request body.", err)
	}
	return nil
}
