package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/pel/esocialize-portal/services"
	"github.com/pel/esocialize-portal/utils"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)
	if len(details) == 0 {
		details = nil
	}

	var writeErr error
	switch {
	case services.IsNotFoundError(err):
		writeErr = utils.WriteNotFound(w, message(err))

	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, message(err), details)

	case services.IsUnauthorizedError(err):
		writeErr = utils.WriteUnauthorized(w, message(err))

	case services.IsForbiddenError(err):
		writeErr = writeForbidden(w, err, details)

	case services.IsRateLimitError(err):
		writeErr = utils.WriteTooManyRequests(w, message(err), details)

	case services.IsUnavailableError(err):
		logger.Warn("store unavailable", zap.Error(err))
		writeErr = utils.WriteServiceUnavailable(w, "Principal store is temporarily unavailable", details)

	default:
		// Log internal errors but return generic message
		logger.Error("unhandled service error",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, "An unexpected error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}

// writeForbidden writes a 403 whose error code is the domain error's code
// when it has one, such as pending_approval.
func writeForbidden(w http.ResponseWriter, err error, details map[string]interface{}) error {
	code := services.GetErrorCode(err)
	if code == "" {
		code = "forbidden"
	}
	return utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse{
		Error:   code,
		Message: message(err),
		Details: details,
	})
}

// message returns the human part of a domain error without the type prefix.
func message(err error) string {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
}
