package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/Smadaqk5/hotspotconfig/internal/pkg/mpesa"
	"github.com/Smadaqk5/hotspotconfig/internal/pkg/payment"
	"github.com/Smadaqk5/hotspotconfig/internal/pkg/quota"
)

// HandleInitiatePayment starts an STK push for a plan and records the
// pending intent. Responds 202: the money has not moved yet, the webhook
// decides the outcome.
func HandleInitiatePayment(c *fiber.Ctx) error {
	tenantID, err := parseTenantID(c)
	if err != nil {
		return err
	}

	var in payment.InitiateInput
	if err := c.BodyParser(&in); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "Malformed request body")
	}
	if err := in.Validate(); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	intent, err := paymentService.InitiatePayment(c.Context(), tenantID, in)
	if err != nil {
		return mapPaymentError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"intent_id":           intent.ID,
		"checkout_request_id": intent.CheckoutRequestID,
		"status":              intent.Status,
		"amount":              intent.Amount,
		"currency":            intent.Currency,
		"phone_number":        intent.PhoneNumber,
	})
}

// HandleGetPayment returns the current state of one payment intent.
func HandleGetPayment(c *fiber.Ctx) error {
	tenantID, err := parseTenantID(c)
	if err != nil {
		return err
	}

	intent, err := paymentService.IntentStatus(tenantID, c.Params("id"))
	if err != nil {
		return mapPaymentError(c, err)
	}
	return c.JSON(intent)
}

// HandleReconcilePayment queries the gateway for the intent's real outcome
// and applies it through the same exactly-once transition as a callback.
// Used when a webhook was lost or rolled back.
func HandleReconcilePayment(c *fiber.Ctx) error {
	tenantID, err := parseTenantID(c)
	if err != nil {
		return err
	}

	outcome, err := paymentService.QueryAndReconcile(c.Context(), tenantID, c.Params("id"))
	if err != nil {
		return mapPaymentError(c, err)
	}
	return c.JSON(outcomeJSON(outcome))
}

func outcomeJSON(o *payment.Outcome) fiber.Map {
	out := fiber.Map{
		"intent_id": o.IntentID,
		"status":    o.Status,
	}
	if o.TicketCode != "" {
		out["ticket_id"] = o.TicketID
		out["ticket_code"] = o.TicketCode
	}
	return out
}

func mapPaymentError(c *fiber.Ctx, err error) error {
	var gatewayErr *mpesa.GatewayError
	switch {
	case errors.Is(err, payment.ErrIntentNotFound):
		return errorJSON(c, fiber.StatusNotFound, "not_found", "Payment not found")
	case errors.Is(err, payment.ErrPlanNotFound):
		return errorJSON(c, fiber.StatusNotFound, "not_found", "Plan not found")
	case errors.Is(err, mpesa.ErrNotConfigured):
		return errorJSON(c, fiber.StatusConflict, "gateway_not_configured", "Payment gateway credentials are not configured")
	case errors.Is(err, quota.ErrQuotaExceeded):
		return errorJSON(c, fiber.StatusConflict, "quota_exceeded", "Ticket quota for the current period is exhausted")
	case errors.As(err, &gatewayErr):
		return errorJSON(c, fiber.StatusBadGateway, "gateway_error", gatewayErr.Description)
	default:
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Payment processing failed")
	}
}
