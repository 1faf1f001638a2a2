package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Smadaqk5/hotspotconfig/app/models"
	"github.com/Smadaqk5/hotspotconfig/internal/pkg/database"
	"github.com/Smadaqk5/hotspotconfig/internal/pkg/env"
)

// HandleGetUsage reports the tenant's issuance counters for the current
// billing period.
func HandleGetUsage(c *fiber.Ctx) error {
	tenantID, err := parseTenantID(c)
	if err != nil {
		return err
	}

	db := database.GetDB()
	if db == nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Database unavailable")
	}

	defaultMax := uint(env.GetEnvInt("DEFAULT_TICKETS_PER_PERIOD", 0))
	usage, err := models.GetOrCreateSubscriptionUsage(db, tenantID, defaultMax, time.Now())
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load usage")
	}
	return c.JSON(usage)
}
