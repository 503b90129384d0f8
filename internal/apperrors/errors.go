package apperrors

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ashbourne-dev/reelvault/internal/logger"
)

// AppError represents a structured error with HTTP context
type AppError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Cause      error                  `json:"-"`
	HTTPStatus int                    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, apperrors.NotFound(...)) compare on Code alone.
func (e *AppError) Is(target error) bool {
	other, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// ToGinResponse sends the error as a standardized JSON response
func (e *AppError) ToGinResponse(c *gin.Context) {
	statusCode := e.HTTPStatus
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}

	response := gin.H{
		"error": e.Message,
		"code":  e.Code,
	}

	if len(e.Context) > 0 {
		response["details"] = e.Context
	}

	logger.Error("HTTP error response",
		logger.Int("status", statusCode),
		logger.String("code", e.Code),
		logger.String("message", e.Message),
		logger.String("path", c.Request.URL.Path),
		logger.String("method", c.Request.Method),
	)

	c.JSON(statusCode, response)
}

// Common error constructors, one per kind named in §7.

func NewValidationError(message string, field string) *AppError {
	return &AppError{
		Code:       "VALIDATION_ERROR",
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
		Context:    map[string]interface{}{"field": field},
	}
}

func NewNotFoundError(resource string, id string) *AppError {
	return &AppError{
		Code:       "NOT_FOUND",
		Message:    resource + " not found",
		HTTPStatus: http.StatusNotFound,
		Context:    map[string]interface{}{"resource": resource, "id": id},
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func NewDatabaseError(operation string, cause error) *AppError {
	return &AppError{
		Code:       "DATABASE_ERROR",
		Message:    "database operation failed",
		HTTPStatus: http.StatusInternalServerError,
		Context:    map[string]interface{}{"operation": operation},
		Cause:      cause,
	}
}

// NewExternalServiceError covers a plugin subprocess that failed to spawn,
// timed out, exited non-zero, or returned malformed JSON (§4.1).
func NewExternalServiceError(pluginID string, operation string, cause error) *AppError {
	return &AppError{
		Code:       "EXTERNAL_SERVICE_ERROR",
		Message:    "plugin operation failed",
		HTTPStatus: http.StatusBadGateway,
		Context:    map[string]interface{}{"plugin": pluginID, "operation": operation},
		Cause:      cause,
	}
}

// NewCacheError covers an asset cache failure. Cache failures are always
// recoverable by falling back to the upstream URL, so this carries no
// default HTTP status — most callers log it and continue rather than
// surfacing it through ToGinResponse.
func NewCacheError(operation string, cause error) *AppError {
	return &AppError{
		Code:    "CACHE_ERROR",
		Message: "asset cache operation failed",
		Context: map[string]interface{}{"operation": operation},
		Cause:   cause,
	}
}

// NewCancelledError covers a scrape session the caller cancelled mid-flight.
func NewCancelledError(sessionID string) *AppError {
	return &AppError{
		Code:       "CANCELLED",
		Message:    "operation cancelled",
		HTTPStatus: http.StatusOK,
		Context:    map[string]interface{}{"session_id": sessionID},
	}
}

// HTTP helpers to eliminate duplicate error handling

func HandleValidationError(c *gin.Context, message string, field string) {
	NewValidationError(message, field).ToGinResponse(c)
}

func HandleNotFound(c *gin.Context, resource string, id string) {
	NewNotFoundError(resource, id).ToGinResponse(c)
}

func HandleInternalError(c *gin.Context, message string, err error) {
	NewInternalError(message, err).ToGinResponse(c)
}

func HandleDatabaseError(c *gin.Context, operation string, err error) {
	NewDatabaseError(operation, err).ToGinResponse(c)
}

func HandleExternalServiceError(c *gin.Context, pluginID string, operation string, err error) {
	NewExternalServiceError(pluginID, operation, err).ToGinResponse(c)
}

// ParseAndValidateUUID extracts and sanity-checks a path parameter expected
// to be a UUID, writing a validation error response and returning false if
// it's missing or malformed.
func ParseAndValidateUUID(c *gin.Context, paramName string) (string, bool) {
	id := c.Param(paramName)
	if id == "" {
		HandleValidationError(c, "missing "+paramName, paramName)
		return "", false
	}

	if len(id) < 32 {
		HandleValidationError(c, "invalid "+paramName+" format", paramName)
		return "", false
	}

	return id, true
}
