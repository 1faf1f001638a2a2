package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusCancelled = "cancelled"
)

// PaymentIntent is the authoritative record of one attempted charge. The
// status column is the only mutable field besides the raw payload mirror;
// it moves away from pending at most once.
type PaymentIntent struct {
	ID                string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	TenantID          uint            `gorm:"not null;index:ux_payment_intents_tenant_checkout,unique,priority:1;index:idx_payment_intents_tenant_status,priority:1" json:"tenant_id"`
	CheckoutRequestID string          `gorm:"type:varchar(100);not null;index:ux_payment_intents_tenant_checkout,unique,priority:2" json:"checkout_request_id"`
	PlanID            uint            `gorm:"not null" json:"plan_id"`
	PhoneNumber       string          `gorm:"type:varchar(20);not null" json:"phone_number"`
	Amount            decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency          string          `gorm:"type:varchar(3);not null;default:'KES'" json:"currency"`
	Status            string          `gorm:"type:varchar(20);not null;default:'pending';index:idx_payment_intents_tenant_status,priority:2" json:"status"`
	ResultCode        *int            `gorm:"default:null" json:"result_code,omitempty"`
	ResultDesc        string          `gorm:"type:varchar(255);default:''" json:"result_desc"`
	ReceiptNumber     string          `gorm:"type:varchar(50);default:''" json:"receipt_number"`
	RawPayloadJSON    string          `gorm:"type:longtext" json:"-"`
	CreatedAt         time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PaymentIntent) TableName() string {
	return "payment_intents"
}

// IsTerminal reports whether the intent has left the pending state.
func (pi *PaymentIntent) IsTerminal() bool {
	return pi.Status != PaymentStatusPending
}
