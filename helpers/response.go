package helpers

import (
	"errors"
	"log"

	"backoffice/services"

	"github.com/gofiber/fiber/v2"
)

func JSONSuccess(c *fiber.Ctx, message string, data any) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"message": message,
		"data":    data,
	})
}

func JSONCreated(c *fiber.Ctx, message string, data any) error {
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": message,
		"data":    data,
	})
}

func JSONError(c *fiber.Ctx, message string) error {
	return jsonFailure(c, fiber.StatusBadRequest, services.KindInvalidArgument, message)
}

var kindStatus = map[services.ErrorKind]int{
	services.KindNotFound:          fiber.StatusNotFound,
	services.KindInvalidArgument:   fiber.StatusBadRequest,
	services.KindIneligible:        fiber.StatusUnprocessableEntity,
	services.KindAlreadyRedeemed:   fiber.StatusConflict,
	services.KindConflict:          fiber.StatusConflict,
	services.KindInsufficientFunds: fiber.StatusPaymentRequired,
	services.KindLimitExceeded:     fiber.StatusTooManyRequests,
	services.KindInvalidState:      fiber.StatusConflict,
	services.KindUpstreamFailure:   fiber.StatusBadGateway,
	services.KindUnauthorized:      fiber.StatusUnauthorized,
	services.KindForbidden:         fiber.StatusForbidden,
}

// JSONFail renders err with the status of its kind. Errors without a kind
// are logged and hidden behind a 500.
func JSONFail(c *fiber.Ctx, err error) error {
	var se *services.Error
	if !errors.As(err, &se) {
		log.Printf("❌ %s %s: %v", c.Method(), c.Path(), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "INTERNAL_ERROR",
			"error":   "INTERNAL",
			"data":    nil,
		})
	}
	status, ok := kindStatus[se.Kind]
	if !ok {
		status = fiber.StatusBadRequest
	}
	return jsonFailure(c, status, se.Kind, se.Reason)
}

func jsonFailure(c *fiber.Ctx, status int, kind services.ErrorKind, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"message": message,
		"error":   kind,
		"data":    nil,
	})
}
