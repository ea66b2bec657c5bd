package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperr "github.com/crm-res/outreach-api/pkg/errors"
)

type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Reason  string      `json:"reason,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

// RespondError translates the error taxonomy to an HTTP status. Business-rule
// rejections carry their reason code; callers never see raw transport errors.
func RespondError(c *gin.Context, err error) {
	resp := &Response{
		Status:  "error",
		Message: err.Error(),
	}

	var appErr *apperr.AppError
	status := http.StatusInternalServerError
	if errors.As(err, &appErr) {
		resp.Reason = appErr.Reason
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
	c.JSON(status, resp)
}
