package handlers

import (
	"net/http"

	"github.com/upb/restaurant-identity/internal/observability"
	"github.com/upb/restaurant-identity/middleware"
	"github.com/upb/restaurant-identity/services"
	"github.com/upb/restaurant-identity/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses. It is the only
// place a domain error becomes a status code.
func HandleServiceError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	if err == nil {
		return
	}
	logger = observability.FromContext(r.Context(), logger)
	message := services.GetErrorMessage(err)

	var writeErr error
	switch services.GetErrorType(err) {
	case services.ErrorTypeValidation:
		writeErr = utils.WriteValidationError(w, services.GetViolations(err))

	case services.ErrorTypeConflict:
		writeErr = utils.WriteBadRequest(w, message)

	case services.ErrorTypeNotFound:
		writeErr = utils.WriteNotFound(w, message)

	case services.ErrorTypeInvalidCredential, services.ErrorTypeUnauthenticated:
		writeErr = utils.WriteUnauthorized(w, message)

	case services.ErrorTypeInvalidToken, services.ErrorTypeForbidden:
		writeErr = utils.WriteForbidden(w, message)

	case services.ErrorTypeRateLimit:
		writeErr = utils.WriteTooManyRequests(w, message, services.GetRetryAfter(err))

	case services.ErrorTypeTooLarge:
		writeErr = utils.WriteRequestTooLarge(w)

	case services.ErrorTypeInternal:
		// Log internal errors but return generic message
		logger.Error("internal server error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w)

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w)
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// ErrorHandler adapts HandleServiceError to the pipeline's error callback
func ErrorHandler(logger *zap.Logger) middleware.ErrorHandler {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		HandleServiceError(w, r, err, logger)
	}
}
