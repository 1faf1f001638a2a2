package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SubscriptionUsage tracks a tenant's issuance allowance for the current
// billing period. The counter is only ever moved by conditional UPDATEs
// under the row lock, never by read-modify-write.
type SubscriptionUsage struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	TenantID      uint            `gorm:"not null;uniqueIndex:ux_subscription_usages_tenant" json:"tenant_id"`
	PeriodStart   time.Time       `gorm:"not null" json:"period_start"`
	TicketsIssued uint            `gorm:"not null;default:0" json:"tickets_issued"`
	PeriodRevenue decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"period_revenue"`
	MaxPerPeriod  uint            `gorm:"not null;default:0" json:"max_per_period"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SubscriptionUsage) TableName() string {
	return "subscription_usages"
}

// GetOrCreateSubscriptionUsage loads the tenant's usage row, creating a fresh
// one for the current period when none exists yet.
func GetOrCreateSubscriptionUsage(db *gorm.DB, tenantID uint, maxPerPeriod uint, now time.Time) (*SubscriptionUsage, error) {
	var usage SubscriptionUsage
	err := db.Where("tenant_id = ?", tenantID).First(&usage).Error
	if err == nil {
		return &usage, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	usage = SubscriptionUsage{
		TenantID:      tenantID,
		PeriodStart:   now,
		PeriodRevenue: decimal.Zero,
		MaxPerPeriod:  maxPerPeriod,
	}
	if err := db.Create(&usage).Error; err != nil {
		return nil, err
	}
	return &usage, nil
}
