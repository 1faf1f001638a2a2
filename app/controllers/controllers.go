package controllers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/Smadaqk5/hotspotconfig/internal/pkg/payment"
	"github.com/Smadaqk5/hotspotconfig/internal/pkg/ticket"
)

var (
	paymentService  *payment.Service
	ticketLifecycle *ticket.Lifecycle
)

// Setup injects the services the handlers dispatch to. Called once from the
// application bootstrap before the router is installed.
func Setup(payments *payment.Service, lifecycle *ticket.Lifecycle) {
	paymentService = payments
	ticketLifecycle = lifecycle
}

func parseTenantID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("tenantID"), 10, 32)
	if err != nil || id == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid tenant id")
	}
	return uint(id), nil
}

func errorJSON(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}
