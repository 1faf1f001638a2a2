package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Smadaqk5/hotspotconfig/internal/pkg/payment"
)

// HandleSaveCredentials stores a tenant's gateway credentials. Secrets go
// through the vault; the response never echoes them.
func HandleSaveCredentials(c *fiber.Ctx) error {
	tenantID, err := parseTenantID(c)
	if err != nil {
		return err
	}

	var in payment.CredentialInput
	if err := c.BodyParser(&in); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "Malformed request body")
	}
	if err := in.Validate(); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	cred, err := paymentService.SaveCredentials(tenantID, in)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to store credentials")
	}
	return c.JSON(cred)
}

// HandleClearCredentials removes a tenant's stored gateway credentials.
func HandleClearCredentials(c *fiber.Ctx) error {
	tenantID, err := parseTenantID(c)
	if err != nil {
		return err
	}
	if err := paymentService.ClearCredentials(tenantID); err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to clear credentials")
	}
	return c.SendStatus(fiber.StatusNoContent)
}
