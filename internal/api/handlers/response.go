package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/zatekoja/voiceshop/backend/internal/api/middleware"
	"github.com/zatekoja/voiceshop/backend/internal/application/services"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/voiceshop/backend/pkg/errors"
)

const maxBodyBytes = 1 << 16

var validate = validator.New(validator.WithRequiredStructEnabled())

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, errorResponse{Error: message})
}

// respondWithAppError maps a service error onto a status code. Internal
// details never reach the body.
func respondWithAppError(w http.ResponseWriter, r *http.Request, err error, retryAfter time.Duration) {
	appErr, ok := apperrors.As(err)
	if !ok {
		observability.LoggerFromContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	body := errorResponse{Error: appErr.Message, Code: string(appErr.Type)}
	status := http.StatusInternalServerError
	switch appErr.Type {
	case apperrors.ErrorTypeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrorTypeValidation:
		status = http.StatusBadRequest
	case apperrors.ErrorTypeConflict:
		status = http.StatusConflict
	case apperrors.ErrorTypeUnauthorized:
		status = http.StatusUnauthorized
	case apperrors.ErrorTypeForbidden:
		status = http.StatusForbidden
	case apperrors.ErrorTypeExtractionFailure:
		status = http.StatusUnprocessableEntity
		body.Error = services.RepeatPrompt
	case apperrors.ErrorTypeQuotaExceeded:
		status = http.StatusTooManyRequests
		body.Limit = appErr.Limit
		if retryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		}
	default:
		observability.LoggerFromContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		body = errorResponse{Error: "internal server error", Code: string(apperrors.ErrorTypeInternal)}
	}
	respondWithJSON(w, status, body)
}

// decodeBody decodes and validates a JSON request body
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if ve, ok := err.(validator.ValidationErrors); ok {
		fieldErrs = ve
	}
	if len(fieldErrs) == 0 {
		return "invalid request payload"
	}
	fe := fieldErrs[0]
	return "invalid field " + fe.Field() + ": failed " + fe.Tag()
}

// requireUser returns the authenticated user id or writes a 401
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return userID, true
}

func queryLimit(r *http.Request, fallback, max int) int {
	limit := fallback
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}
