package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PlanKindTime = "time"
	PlanKindData = "data"
)

// Plan is a sellable access package. Rows referenced by a sale are never
// edited in place: ReplacePlan deactivates the old row and inserts a new one,
// so every Ticket keeps pointing at the terms it was sold under.
type Plan struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	TenantID        uint            `gorm:"not null;index:idx_plans_tenant_active,priority:1" json:"tenant_id"`
	Name            string          `gorm:"type:varchar(100);not null" json:"name"`
	Kind            string          `gorm:"type:varchar(10);not null;default:'time'" json:"kind"`
	DurationMinutes uint            `gorm:"default:0" json:"duration_minutes"`
	DataLimitMB     uint            `gorm:"default:0" json:"data_limit_mb"`
	Price           decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	Currency        string          `gorm:"type:varchar(3);not null;default:'KES'" json:"currency"`
	IsActive        bool            `gorm:"default:true;index:idx_plans_tenant_active,priority:2" json:"is_active"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Plan) TableName() string {
	return "plans"
}

// Duration returns the access window for time-based plans.
func (p *Plan) Duration() time.Duration {
	return time.Duration(p.DurationMinutes) * time.Minute
}

// IsTimeBased reports whether the plan grants a wall-clock window rather
// than a data allowance.
func (p *Plan) IsTimeBased() bool {
	return p.Kind == PlanKindTime
}
