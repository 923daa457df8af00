package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"duck-sandbox/internal/domain"
	"duck-sandbox/internal/middleware"
)

// Error types reported in the error_type field.
const (
	ErrorTypeMissingAttribute = "missing-attribute"
	ErrorTypePolicyConfig     = "sandbox-policy-config"
	ErrorTypeInvalidRequest   = "invalid-request"
	ErrorTypeNotFound         = "not-found"
	ErrorTypeAccessDenied     = "access-denied"
	ErrorTypeConflict         = "conflict"
	ErrorTypeInternal         = "internal"
)

type errorResponse struct {
	Status    string `json:"status"`
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
}

// classifyError maps domain errors to an HTTP status and error type.
// Unknown errors are 500s.
func classifyError(err error) (int, string) {
	var (
		missingAttr  *domain.MissingAttributeError
		policyConfig *domain.PolicyConfigError
		notFound     *domain.NotFoundError
		accessDenied *domain.AccessDeniedError
		validation   *domain.ValidationError
		conflict     *domain.ConflictError
	)
	switch {
	case errors.As(err, &missingAttr):
		return http.StatusBadRequest, ErrorTypeMissingAttribute
	case errors.As(err, &policyConfig):
		return http.StatusUnprocessableEntity, ErrorTypePolicyConfig
	case errors.As(err, &notFound):
		return http.StatusNotFound, ErrorTypeNotFound
	case errors.As(err, &accessDenied):
		return http.StatusForbidden, ErrorTypeAccessDenied
	case errors.As(err, &validation):
		return http.StatusBadRequest, ErrorTypeInvalidRequest
	case errors.As(err, &conflict):
		return http.StatusConflict, ErrorTypeConflict
	default:
		return http.StatusInternalServerError, ErrorTypeInternal
	}
}

// fail writes err as a JSON error. Internal errors are logged and replaced
// by generic, so driver messages never reach the client.
func (h *APIHandler) fail(w http.ResponseWriter, r *http.Request, err error, generic string) {
	status, typ := classifyError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.RequestIDFromContext(r.Context()),
			"error", err,
		)
		msg = generic
	}
	writeJSON(w, status, errorResponse{Status: "failed", Error: msg, ErrorType: typ})
}

func (h *APIHandler) failRequest(w http.ResponseWriter, r *http.Request, err error) {
	h.fail(w, r, err, "internal error")
}

func (h *APIHandler) failQuery(w http.ResponseWriter, r *http.Request, err error) {
	h.fail(w, r, err, "query execution failed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
