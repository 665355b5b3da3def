// Package response renders the JSON envelope shared by every endpoint.
package response

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/photogram/photogram_api/internal/apperr"
)

// Envelope is the body of every API response.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// JSON writes a successful envelope.
func JSON(c *fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(Envelope{Success: true, Message: message, Data: data})
}

// Fail writes a failed envelope for err. Internal errors are logged and
// replaced by a generic message.
func Fail(c *fiber.Ctx, logger *slog.Logger, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(Envelope{Success: false, Message: fe.Message})
	}
	ae := apperr.As(err)
	status := apperr.Status(ae)
	if ae.Kind == apperr.KindInternal && logger != nil {
		logger.Error("request failed",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Any("error", err),
		)
	}
	return c.Status(status).JSON(Envelope{Success: false, Message: ae.Message, Code: string(ae.Kind)})
}

// ErrorHandler is the Fiber error handler rendering every returned error as
// an envelope.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		return Fail(c, logger, err)
	}
}
