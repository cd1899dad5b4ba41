package http

import (
	"errors"

	apperrors "docgateway/internal/shared/errors"

	"github.com/gofiber/fiber/v2"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     apperrors.ErrorType    `json:"error"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"requestId,omitempty"`
}

// writeError renders err with the status its type maps to. Causes of
// internal and store errors stay in the logs.
func writeError(c *fiber.Ctx, err error) error {
	resp := ErrorResponse{
		Error:   apperrors.TypeOf(err),
		Message: "internal server error",
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		resp.Message = appErr.Message
		resp.Code = appErr.Code
		resp.Details = appErr.Details
	}
	if id, ok := c.Locals(localsRequestID).(string); ok {
		resp.RequestID = id
	}
	return c.Status(apperrors.HTTPStatus(err)).JSON(resp)
}

// ErrorHandler is the fiber.Config error handler. It renders fiber's own
// errors (unknown route, body too large) in the same shape as gateway errors.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		errType := apperrors.ErrorTypeInternal
		switch {
		case fe.Code == fiber.StatusNotFound:
			errType = apperrors.ErrorTypeNotFound
		case fe.Code < fiber.StatusInternalServerError:
			errType = apperrors.ErrorTypeValidation
		}
		return writeError(c, apperrors.NewAppError(errType, fe.Message, fe.Code))
	}
	return writeError(c, err)
}
