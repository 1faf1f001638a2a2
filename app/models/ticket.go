package models

import "time"

const (
	TicketStatusActive    = "active"
	TicketStatusUsed      = "used"
	TicketStatusExpired   = "expired"
	TicketStatusCancelled = "cancelled"
)

// Ticket is an issued access voucher. Codes are unique across all tenants.
// Usage counters only ever grow; the lifecycle service clamps them to the
// plan limit and flips the status in the same write.
type Ticket struct {
	ID              string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	TenantID        uint       `gorm:"not null;index" json:"tenant_id"`
	PlanID          uint       `gorm:"not null;index" json:"plan_id"`
	Code            string     `gorm:"type:varchar(20);not null;uniqueIndex:ux_tickets_code" json:"code"`
	Username        string     `gorm:"type:varchar(50);not null" json:"username"`
	Password        string     `gorm:"type:varchar(50);not null" json:"password"`
	Status          string     `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	DeviceMAC       string     `gorm:"type:varchar(32);default:''" json:"device_mac"`
	ActivatedAt     *time.Time `gorm:"type:timestamp;default:null" json:"activated_at,omitempty"`
	ExpiresAt       *time.Time `gorm:"type:timestamp;default:null;index" json:"expires_at,omitempty"`
	TimeUsedSeconds int64      `gorm:"not null;default:0" json:"time_used_seconds"`
	DataUsedMB      int64      `gorm:"not null;default:0" json:"data_used_mb"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Ticket) TableName() string {
	return "tickets"
}

// IsTerminal reports whether the ticket can take no further transitions.
func (t *Ticket) IsTerminal() bool {
	return t.Status == TicketStatusExpired || t.Status == TicketStatusCancelled
}
