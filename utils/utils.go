package utils

import (
	"github.com/gofiber/fiber/v2"
)

// Pointer returns a pointer to the given value
func Pointer[T any](v T) *T {
	return &v
}

// ErrorResponse writes a consistent JSON error body
func ErrorResponse(c *fiber.Ctx, status int, message string, err error) error {
	body := fiber.Map{"error": message}
	if err != nil {
		body["detail"] = err.Error()
	}
	return c.Status(status).JSON(body)
}
