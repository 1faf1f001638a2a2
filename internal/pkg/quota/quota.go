package quota

import (
	"errors"
	"time"

	"github.com/Smadaqk5/hotspotconfig/app/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrQuotaExceeded is the business failure for a tenant at its period cap.
// Never retried automatically; a rolled-over period clears it.
var ErrQuotaExceeded = errors.New("tenant issuance quota exceeded")

// Enforcer tracks per-tenant issuance allowances. All counter movement is a
// conditional UPDATE under the database row lock so concurrent reservations
// for the same tenant can never oversell, across any number of processes.
type Enforcer struct {
	defaultMaxPerPeriod uint
}

func NewEnforcer(defaultMaxPerPeriod uint) *Enforcer {
	return &Enforcer{defaultMaxPerPeriod: defaultMaxPerPeriod}
}

// Reserve takes one issuance slot inside the caller's transaction.
// max_per_period = 0 means unlimited.
func (e *Enforcer) Reserve(tx *gorm.DB, tenantID uint, now time.Time) error {
	res := tx.Model(&models.SubscriptionUsage{}).
		Where("tenant_id = ? AND (max_per_period = 0 OR tickets_issued < max_per_period)", tenantID).
		Update("tickets_issued", gorm.Expr("tickets_issued + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// Either no usage row yet or the cap is hit.
	var usage models.SubscriptionUsage
	err := tx.Where("tenant_id = ?", tenantID).First(&usage).Error
	if err == nil {
		return ErrQuotaExceeded
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	usage = models.SubscriptionUsage{
		TenantID:      tenantID,
		PeriodStart:   now,
		TicketsIssued: 1,
		PeriodRevenue: decimal.Zero,
		MaxPerPeriod:  e.defaultMaxPerPeriod,
	}
	return tx.Create(&usage).Error
}

// Release undoes a reservation when issuance fails before commit. The
// counter never goes below zero.
func (e *Enforcer) Release(tx *gorm.DB, tenantID uint) error {
	return tx.Model(&models.SubscriptionUsage{}).
		Where("tenant_id = ? AND tickets_issued > 0", tenantID).
		Update("tickets_issued", gorm.Expr("tickets_issued - 1")).Error
}

// AddRevenue accrues sale revenue in the same transaction as issuance.
func (e *Enforcer) AddRevenue(tx *gorm.DB, tenantID uint, amount decimal.Decimal) error {
	return tx.Model(&models.SubscriptionUsage{}).
		Where("tenant_id = ?", tenantID).
		Update("period_revenue", gorm.Expr("period_revenue + ?", amount)).Error
}

// RolloverIfDue resets the tenant's counters when a calendar month has
// elapsed since period start. Returns true when a reset happened.
func (e *Enforcer) RolloverIfDue(db *gorm.DB, tenantID uint, now time.Time) (bool, error) {
	res := db.Model(&models.SubscriptionUsage{}).
		Where("tenant_id = ? AND period_start <= ?", tenantID, monthAgo(now)).
		Updates(map[string]interface{}{
			"tickets_issued": 0,
			"period_revenue": decimal.Zero,
			"period_start":   now,
		})
	return res.RowsAffected > 0, res.Error
}

// RolloverAllDue resets every tenant whose period has elapsed. Invoked by the
// scheduler; returns the number of tenants reset.
func (e *Enforcer) RolloverAllDue(db *gorm.DB, now time.Time) (int64, error) {
	res := db.Model(&models.SubscriptionUsage{}).
		Where("period_start <= ?", monthAgo(now)).
		Updates(map[string]interface{}{
			"tickets_issued": 0,
			"period_revenue": decimal.Zero,
			"period_start":   now,
		})
	return res.RowsAffected, res.Error
}

func monthAgo(now time.Time) time.Time {
	return now.AddDate(0, -1, 0)
}
