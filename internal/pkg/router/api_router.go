package router

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/Smadaqk5/hotspotconfig/app/controllers"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max: 120,
		// The gateway callback must never be throttled away; a dropped
		// delivery costs a manual reconciliation.
		Next: func(c *fiber.Ctx) bool {
			return strings.HasPrefix(c.Path(), "/api/mpesa/callback/")
		},
	}))

	api.Get("/healthz", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	// Gateway webhook
	api.Post("/mpesa/callback/:tenantID", controllers.HandleMpesaCallback)

	// Tenant-scoped payment pipeline
	tenants := api.Group("/tenants/:tenantID")
	tenants.Post("/payments", controllers.HandleInitiatePayment)
	tenants.Get("/payments/:id", controllers.HandleGetPayment)
	tenants.Post("/payments/:id/reconcile", controllers.HandleReconcilePayment)

	tenants.Post("/credentials", controllers.HandleSaveCredentials)
	tenants.Delete("/credentials", controllers.HandleClearCredentials)

	tenants.Get("/usage", controllers.HandleGetUsage)

	tenants.Get("/plans", controllers.HandleListPlans)
	tenants.Post("/plans", controllers.HandleCreatePlan)
	tenants.Put("/plans/:planID", controllers.HandleReplacePlan)

	// Voucher lifecycle, driven by the access controller
	tickets := api.Group("/tickets")
	tickets.Post("/activate", controllers.HandleActivateTicket)
	tickets.Post("/:id/usage", controllers.HandleRecordUsage)
	tickets.Delete("/:id", controllers.HandleCancelTicket)
	tickets.Get("/:code", controllers.HandleGetTicket)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
