package controllers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/Smadaqk5/hotspotconfig/internal/pkg/payment"
)

// HandleListPlans returns the plans a tenant currently sells.
func HandleListPlans(c *fiber.Ctx) error {
	tenantID, err := parseTenantID(c)
	if err != nil {
		return err
	}

	plans, err := paymentService.Plans(tenantID)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load plans")
	}
	return c.JSON(fiber.Map{"plans": plans})
}

// HandleCreatePlan adds a new sellable plan.
func HandleCreatePlan(c *fiber.Ctx) error {
	tenantID, err := parseTenantID(c)
	if err != nil {
		return err
	}

	var in payment.PlanInput
	if err := c.BodyParser(&in); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "Malformed request body")
	}
	if err := in.Validate(); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	plan, err := paymentService.AddPlan(tenantID, in)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	}
	return c.Status(fiber.StatusCreated).JSON(plan)
}

// HandleReplacePlan retires a plan and inserts its replacement, so tickets
// already sold keep their original terms.
func HandleReplacePlan(c *fiber.Ctx) error {
	tenantID, err := parseTenantID(c)
	if err != nil {
		return err
	}
	planID, err := strconv.ParseUint(c.Params("planID"), 10, 32)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "Invalid plan id")
	}

	var in payment.PlanInput
	if err := c.BodyParser(&in); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "Malformed request body")
	}
	if err := in.Validate(); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	plan, err := paymentService.ReplacePlan(tenantID, uint(planID), in)
	if err != nil {
		if errors.Is(err, payment.ErrPlanNotFound) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Plan not found")
		}
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	}
	return c.JSON(plan)
}
