package main

import (
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"github.com/Smadaqk5/hotspotconfig/app/controllers"
	"github.com/Smadaqk5/hotspotconfig/internal/pkg/cache"
	"github.com/Smadaqk5/hotspotconfig/internal/pkg/database"
	"github.com/Smadaqk5/hotspotconfig/internal/pkg/env"
	"github.com/Smadaqk5/hotspotconfig/internal/pkg/mpesa"
	"github.com/Smadaqk5/hotspotconfig/internal/pkg/payment"
	"github.com/Smadaqk5/hotspotconfig/internal/pkg/quota"
	"github.com/Smadaqk5/hotspotconfig/internal/pkg/router"
	"github.com/Smadaqk5/hotspotconfig/internal/pkg/scheduler"
	"github.com/Smadaqk5/hotspotconfig/internal/pkg/ticket"
	"github.com/Smadaqk5/hotspotconfig/internal/pkg/vault"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	secrets := vault.NewFromEnv()
	gateway := mpesa.NewClient(mpesa.RedisTokenCache{})

	defaultQuota := uint(env.GetEnvInt("DEFAULT_TICKETS_PER_PERIOD", 0))
	payments := payment.NewServiceFromDB(db, secrets, gateway, defaultQuota)
	lifecycle := ticket.NewLifecycle(db)
	controllers.Setup(payments, lifecycle)

	sweeps := scheduler.NewManager(&sweeper{
		payments:  payments,
		lifecycle: lifecycle,
		quotas:    quota.NewEnforcer(defaultQuota),
		db:        db,
		staleTTL:  time.Duration(env.GetEnvInt("PENDING_INTENT_TTL_MINUTES", 90)) * time.Minute,
	})
	sweeps.Start()

	app := fiber.New(fiber.Config{
		AppName: "hotspotd",
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	router.InstallRouter(app)

	return app
}

// sweeper adapts the domain services to the scheduler's background
// transitions.
type sweeper struct {
	payments  *payment.Service
	lifecycle *ticket.Lifecycle
	quotas    *quota.Enforcer
	db        *gorm.DB
	staleTTL  time.Duration
}

func (s *sweeper) SweepExpiredTickets(now time.Time) (int64, error) {
	return s.lifecycle.SweepExpired(now)
}

func (s *sweeper) CancelStaleIntents(now time.Time) (int64, error) {
	return s.payments.CancelStale(now, s.staleTTL)
}

func (s *sweeper) RolloverUsagePeriods(now time.Time) (int64, error) {
	return s.quotas.RolloverAllDue(s.db, now)
}
