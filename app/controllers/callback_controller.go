package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/Smadaqk5/hotspotconfig/internal/pkg/mpesa"
	"github.com/Smadaqk5/hotspotconfig/internal/pkg/payment"
)

const callbackSignatureHeader = "X-Callback-Signature"

// HandleMpesaCallback receives the gateway's STK result. The response body is
// always the same acknowledgement: first delivery, duplicate, and
// unknown-intent callbacks are indistinguishable to the caller.
func HandleMpesaCallback(c *fiber.Ctx) error {
	tenantID, err := parseTenantID(c)
	if err != nil {
		return err
	}

	outcome, err := paymentService.HandleCallback(c.Context(), tenantID, c.Body(), c.Get(callbackSignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrSignatureInvalid):
			return errorJSON(c, fiber.StatusUnauthorized, "unauthorized", "Invalid callback signature")
		case errors.Is(err, mpesa.ErrMalformedCallback):
			return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "Malformed callback payload")
		case errors.Is(err, payment.ErrIntentNotFound):
			// Callback for an intent we never created. Acknowledge so the
			// gateway stops redelivering, keep a trace for operators.
			log.Warnf("[Callback] Unknown intent for tenant %d, ignoring", tenantID)
			return c.JSON(callbackAck())
		default:
			// Quota or DB failure rolled the transition back; the intent is
			// still pending and a redelivery or manual reconcile will land it.
			log.Errorf("[Callback] Reconciliation failed for tenant %d: %v", tenantID, err)
			return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Callback processing failed")
		}
	}

	if outcome.Duplicate {
		log.Infof("[Callback] Duplicate delivery for intent %s (tenant %d)", outcome.IntentID, tenantID)
	}
	return c.JSON(callbackAck())
}

func callbackAck() fiber.Map {
	return fiber.Map{"ResultCode": 0, "ResultDesc": "Accepted"}
}
