package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
//   writeJSON(w, http.StatusOK, data)
//   h.errs.write(w, r, err)
//
// CONSISTENT ERROR FORMAT:
// Every error response from our API has the same shape:
//   {"error": "Username already exists"}
//
// Internal errors add a "detail" field with the underlying error text, but
// only outside production.

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/pong-backend/internal/apperror"
)

// maxJSONBody caps request bodies decoded by decodeJSON.
const maxJSONBody = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// MessageResponse is the body of endpoints that only confirm an action.
type MessageResponse struct {
	Message string `json:"message"`
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set BEFORE writing the body. Once Encode
// writes, the headers are sent and later changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// ErrorWriter translates service errors into HTTP responses.
type ErrorWriter struct {
	logger     *slog.Logger
	showDetail bool
}

// NewErrorWriter creates an ErrorWriter. showDetail adds the raw error text
// to 500 responses; pass false in production.
func NewErrorWriter(logger *slog.Logger, showDetail bool) ErrorWriter {
	return ErrorWriter{logger: logger, showDetail: showDetail}
}

// write maps a domain error to its status code and sends it.
//
// ERROR MAPPING:
//
//	ErrValidation, ErrConflict, ErrUpstream → 400
//	ErrUnauthorized                       → 401
//	ErrNotFound                           → 404
//	anything else                         → 500
//
// Conflicts are 400, not 409: the web client treats every 400 as a form error.
//
// errors.Is walks the whole chain, so a service error like
// fmt.Errorf("service/identity: registering: %w", apperror.Conflict(...))
// still matches ErrConflict, and errors.As still finds the *AppError message.
func (e ErrorWriter) write(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	var appErr *apperror.AppError
	if status != http.StatusInternalServerError && errors.As(err, &appErr) {
		if errors.Is(err, apperror.ErrUpstream) {
			e.logger.Warn("upstream failure",
				slog.String("requestID", middleware.GetReqID(r.Context())),
				slog.String("error", err.Error()),
			)
		}
		writeJSON(w, status, ErrorResponse{Error: appErr.Message})
		return
	}

	// NEVER expose internal error details in production: the raw message
	// might contain SQL, file paths or other sensitive info.
	e.logger.Error("internal error",
		slog.String("requestID", middleware.GetReqID(r.Context())),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	resp := ErrorResponse{Error: "Internal server error"}
	if e.showDetail {
		resp.Detail = err.Error()
	}
	writeJSON(w, http.StatusInternalServerError, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperror.ErrValidation),
		errors.Is(err, apperror.ErrConflict),
		errors.Is(err, apperror.ErrUpstream):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a JSON request body into dst.
// Any decoding problem is a ValidationError.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &apperror.AppError{
			Err:     apperror.ErrValidation,
			Message: "Invalid JSON body",
			Cause:   fmt.Errorf("decoding request body: %w", err),
		}
	}
	return nil
}

// userIDParam reads the {id} URL parameter. A malformed id can never match
// a user, so it is reported as NotFound rather than a validation error.
func userIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.NotFound("user", raw)
	}
	return id, nil
}
