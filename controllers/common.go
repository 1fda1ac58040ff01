package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"leadpulse/engine"
	"leadpulse/utils"
)

// respondEngineError maps the engine's error taxonomy onto HTTP statuses.
func respondEngineError(c *fiber.Ctx, err error) error {
	var notFound *engine.NotFoundError
	var transition *engine.InvalidTransitionError
	var policy *engine.PolicyViolationError
	var adapter *engine.AdapterError

	switch {
	case errors.As(err, &notFound):
		return utils.ErrorResponse(c, fiber.StatusNotFound, notFound.Error(), nil)
	case errors.As(err, &transition):
		return utils.ErrorResponse(c, fiber.StatusConflict, transition.Error(), nil)
	case errors.As(err, &policy):
		return utils.ErrorResponse(c, fiber.StatusUnprocessableEntity, policy.Error(), nil)
	case errors.As(err, &adapter):
		return utils.ErrorResponse(c, fiber.StatusBadGateway, adapter.Error(), nil)
	}
	return utils.ErrorResponse(c, fiber.StatusInternalServerError, "internal error", err)
}

func parseID(c *fiber.Ctx, name string) (uint, error) {
	id, err := c.ParamsInt(name)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid "+name)
	}
	return uint(id), nil
}
