package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	apperr "github.com/crm-res/outreach-api/pkg/errors"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		traceID := c.GetString(ContextRequestID)

		for _, e := range c.Errors {
			log.Error().
				Err(e.Err).
				Str("trace_id", traceID).
				Str("path", c.Request.URL.Path).
				Str("method", c.Request.Method).
				Str("client_ip", c.ClientIP()).
				Msg("Request error")
		}

		lastErr := c.Errors.Last()
		status := http.StatusInternalServerError
		reason := ""

		var appErr *apperr.AppError
		if errors.As(lastErr.Err, &appErr) {
			reason = appErr.Reason
			switch appErr.Code {
			case apperr.ErrNotFound:
				status = http.StatusNotFound
			case apperr.ErrBadRequest:
				status = http.StatusBadRequest
			case apperr.ErrBusinessRule:
				status = http.StatusUnprocessableEntity
			case apperr.ErrDependencyUnavailable:
				status = http.StatusServiceUnavailable
			}
		}

		c.JSON(status, ErrorResponse{
			Code:    status,
			Message: lastErr.Error(),
			Reason:  reason,
			TraceID: traceID,
		})
	}
}
