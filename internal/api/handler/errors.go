package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/face-blur/internal/api/dto"
	"github.com/cuongbtq/face-blur/internal/domain"
	"github.com/gin-gonic/gin"
)

// Error codes returned in the error envelope
const (
	CodeValidation           = "validation_error"
	CodePayloadTooLarge      = "payload_too_large"
	CodeUnsupportedMediaType = "unsupported_media_type"
	CodeUnknownTask          = "unknown_task"
	CodeAlreadyFetched       = "already_fetched"
	CodeTaskFailed           = "task_failed"
	CodeBrokerUnavailable    = "broker_unavailable"
	CodeRateLimited          = "rate_limited"
	CodeInternal             = "internal_error"
)

// apiError is a client-facing failure with its status and envelope code
type apiError struct {
	status  int
	code    string
	message string
	details map[string]any
}

func (e *apiError) Error() string {
	return e.code + ": " + e.message
}

func newAPIError(status int, code, message string) *apiError {
	return &apiError{status: status, code: code, message: message}
}

func (e *apiError) with(key string, value any) *apiError {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// RespondError writes the error envelope
func RespondError(c *gin.Context, status int, code, message string, details map[string]any) {
	c.AbortWithStatusJSON(status, dto.ErrorResponse{
		Status:  "error",
		Code:    code,
		Message: message,
		Details: details,
	})
}

// respondErr maps err onto a status and envelope
func (h *Handler) respondErr(c *gin.Context, err error) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		RespondError(c, apiErr.status, apiErr.code, apiErr.message, apiErr.details)
		return
	}

	var taskErr *domain.TaskError
	switch {
	case errors.As(err, &taskErr):
		status := http.StatusInternalServerError
		if taskErr.Code == domain.CodeInvalidMedia {
			status = http.StatusUnprocessableEntity
		}
		RespondError(c, status, CodeTaskFailed, "task failed", map[string]any{
			"code":    taskErr.Code,
			"message": taskErr.Message,
		})
	case errors.Is(err, domain.ErrTooLarge):
		RespondError(c, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidMedia):
		RespondError(c, http.StatusBadRequest, CodeValidation, err.Error(), nil)
	case errors.Is(err, domain.ErrUnknownTask):
		RespondError(c, http.StatusNotFound, CodeUnknownTask, "task not found", nil)
	case errors.Is(err, domain.ErrAlreadyFetched):
		RespondError(c, http.StatusGone, CodeAlreadyFetched, "result already fetched", nil)
	case errors.Is(err, domain.ErrBrokerUnavailable):
		RespondError(c, http.StatusServiceUnavailable, CodeBrokerUnavailable, "task queue unavailable", nil)
	default:
		h.logger.Error("Request failed",
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()),
		)
		RespondError(c, http.StatusInternalServerError, CodeInternal, "internal server error", nil)
	}
}
