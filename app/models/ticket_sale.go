package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const PaymentMethodMpesa = "mpesa"

// TicketSale documents one voucher sale. It is created in the same
// transaction as the Ticket it references and is immutable afterwards; the
// unique indexes on ticket and intent enforce the 1:1:1 relationship.
type TicketSale struct {
	ID              string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	TenantID        uint            `gorm:"not null;index" json:"tenant_id"`
	TicketID        string          `gorm:"type:varchar(36);not null;uniqueIndex:ux_ticket_sales_ticket" json:"ticket_id"`
	PaymentIntentID string          `gorm:"type:varchar(36);not null;uniqueIndex:ux_ticket_sales_intent" json:"payment_intent_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency        string          `gorm:"type:varchar(3);not null;default:'KES'" json:"currency"`
	PaymentMethod   string          `gorm:"type:varchar(20);not null;default:'mpesa'" json:"payment_method"`
	ReconciledAt    time.Time       `gorm:"not null" json:"reconciled_at"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (TicketSale) TableName() string {
	return "ticket_sales"
}
