package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"commerce-core/internal/middleware"
	"commerce-core/internal/model"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Log the error but don't expose it to the client
		return
	}
}

// statusFor maps a domain error code to its HTTP status.
func statusFor(code string) int {
	switch code {
	case model.ErrCodeValidation, model.ErrCodeInvalidJSON, model.ErrCodeUnsupportedProvider:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorised:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidTransition, model.ErrCodeInsufficientStock, model.ErrCodeProductUnavailable:
		return http.StatusConflict
	case model.ErrCodeProviderFailure:
		return http.StatusBadGateway
	case model.ErrCodeProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorBody resolves an error to its HTTP status and response payload.
// Non-domain errors are masked behind a generic internal error.
func errorBody(err error) (int, model.ErrorResponse) {
	var domainErr *model.DomainError
	if !errors.As(err, &domainErr) {
		return http.StatusInternalServerError, model.ErrorResponse{
			Error:   model.ErrCodeInternalError,
			Message: "An unexpected error occurred",
		}
	}
	return statusFor(domainErr.Code), model.ErrorResponse{
		Error:   domainErr.Code,
		Message: domainErr.Message,
		Items:   domainErr.Items,
	}
}

// renderError writes the JSON error payload for err and logs it.
func renderError(w http.ResponseWriter, err error, logger zerolog.Logger) {
	status, body := errorBody(err)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Int("status", status).Msg("handler error")
	} else {
		logger.Warn().Err(err).Int("status", status).Str("code", body.Error).Msg("request rejected")
	}
	writeJSON(w, status, body)
}

// decodeJSON parses the request body into dst.
func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return model.WrapDomainError(model.ErrCodeInvalidJSON, "Request body is not valid JSON", err)
	}
	return nil
}

// pathUUID parses a uuid path parameter registered on the route.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, model.NewDomainError(model.ErrCodeValidation, fmt.Sprintf("Invalid %s in path", name))
	}
	return id, nil
}

// requireIdentity extracts the identity forwarded by the upstream gateway.
// User-scoped routes reject requests that arrive without one.
func requireIdentity(w http.ResponseWriter, r *http.Request, logger zerolog.Logger) (*model.Identity, bool) {
	ident := middleware.IdentityFrom(r.Context())
	if ident == nil {
		renderError(w, model.NewDomainError(model.ErrCodeUnauthorised, "A valid X-User-ID header is required"), logger)
		return nil, false
	}
	return ident, true
}
