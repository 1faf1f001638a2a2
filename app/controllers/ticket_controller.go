package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Smadaqk5/hotspotconfig/internal/pkg/ticket"
)

type activateRequest struct {
	Code      string `json:"code"`
	DeviceMAC string `json:"device_mac"`
}

type usageRequest struct {
	Seconds   int64 `json:"seconds"`
	Megabytes int64 `json:"megabytes"`
}

// HandleActivateTicket binds a voucher to the attaching device. Re-activation
// from the same device returns the same 200 as the first attach.
func HandleActivateTicket(c *fiber.Ctx) error {
	var in activateRequest
	if err := c.BodyParser(&in); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "Malformed request body")
	}
	if in.Code == "" || in.DeviceMAC == "" {
		return errorJSON(c, fiber.StatusBadRequest, "validation_failed", "code and device_mac are required")
	}

	t, err := ticketLifecycle.Activate(in.Code, in.DeviceMAC, time.Now())
	if err != nil {
		return mapTicketError(c, err)
	}
	return c.JSON(t)
}

// HandleRecordUsage applies a usage increment reported by the access
// controller. Counters only grow; crossing the plan limit expires the ticket
// in the same update.
func HandleRecordUsage(c *fiber.Ctx) error {
	var in usageRequest
	if err := c.BodyParser(&in); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "Malformed request body")
	}
	if in.Seconds < 0 || in.Megabytes < 0 {
		return errorJSON(c, fiber.StatusBadRequest, "validation_failed", "usage increments must be non-negative")
	}

	t, err := ticketLifecycle.RecordUsage(c.Params("id"), in.Seconds, in.Megabytes, time.Now())
	if err != nil {
		return mapTicketError(c, err)
	}
	return c.JSON(t)
}

// HandleGetTicket looks a voucher up by its code.
func HandleGetTicket(c *fiber.Ctx) error {
	t, err := ticketLifecycle.FindByCode(c.Params("code"))
	if err != nil {
		return mapTicketError(c, err)
	}
	return c.JSON(t)
}

// HandleCancelTicket is the administrative revocation of a voucher.
func HandleCancelTicket(c *fiber.Ctx) error {
	if err := ticketLifecycle.Cancel(c.Params("id")); err != nil {
		return mapTicketError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func mapTicketError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ticket.ErrTicketNotFound):
		return errorJSON(c, fiber.StatusNotFound, "not_found", "Ticket not found")
	case errors.Is(err, ticket.ErrDeviceMismatch):
		return errorJSON(c, fiber.StatusConflict, "device_mismatch", "Ticket is bound to another device")
	case errors.Is(err, ticket.ErrTicketNotUsable):
		return errorJSON(c, fiber.StatusGone, "ticket_not_usable", "Ticket is expired or cancelled")
	default:
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Ticket operation failed")
	}
}
