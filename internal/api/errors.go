package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/ecosort/internal/datastore"
	"github.com/tphakala/ecosort/internal/errors"
	"github.com/tphakala/ecosort/internal/logger"
	"github.com/tphakala/ecosort/internal/session"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse creates an error response with a fresh correlation ID.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	text := ""
	if err != nil {
		text = err.Error()
	}
	return &ErrorResponse{
		Error:         text,
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString()[:8],
	}
}

// HandleError logs err and writes the error envelope.
func (s *Server) HandleError(c echo.Context, err error, message string, code int) error {
	resp := NewErrorResponse(err, message, code)
	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("path", c.Request().URL.Path),
		logger.String("method", c.Request().Method),
		logger.Int("status", code),
		logger.Error(err),
	}
	if code >= http.StatusInternalServerError {
		GetLogger().Error(message, fields...)
	} else {
		GetLogger().Debug(message, fields...)
	}
	return c.JSON(code, resp)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, datastore.ErrSessionNotFound), errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidTransition), errors.IsCategory(err, errors.CategoryConflict):
		return http.StatusConflict
	case errors.IsCategory(err, errors.CategoryValidation), errors.Is(err, datastore.ErrInvalidSession):
		return http.StatusBadRequest
	case errors.IsCategory(err, errors.CategoryNetwork), errors.IsCategory(err, errors.CategoryConfiguration):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
