package ticket

import (
	"errors"
	"fmt"
	"time"

	"github.com/Smadaqk5/hotspotconfig/app/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrCodeGenerationExhausted means the issuer could not find a free voucher
// code within the retry bound. Operationally this signals the code space is
// close to saturated and needs alerting, so it is never swallowed.
var ErrCodeGenerationExhausted = errors.New("voucher code generation exhausted retries")

// codeRetryBound caps uniqueness retries per issuance.
const codeRetryBound = 5

// Issuer allocates vouchers for completed payments.
type Issuer struct{}

func NewIssuer() *Issuer {
	return &Issuer{}
}

// Issue creates the Ticket and its TicketSale inside the caller's
// transaction. Expiry is computed here at construction time: time-based plans
// get created_at + duration, data-based plans carry no wall-clock expiry.
func (i *Issuer) Issue(tx *gorm.DB, intent *models.PaymentIntent, plan *models.Plan, now time.Time) (*models.Ticket, *models.TicketSale, error) {
	code, err := i.uniqueCode(tx)
	if err != nil {
		return nil, nil, err
	}
	username, err := GenerateUsername()
	if err != nil {
		return nil, nil, err
	}
	password, err := GeneratePassword()
	if err != nil {
		return nil, nil, err
	}

	ticket := &models.Ticket{
		ID:        uuid.NewString(),
		TenantID:  intent.TenantID,
		PlanID:    plan.ID,
		Code:      code,
		Username:  username,
		Password:  password,
		Status:    models.TicketStatusActive,
		CreatedAt: now,
	}
	if plan.IsTimeBased() && plan.DurationMinutes > 0 {
		expires := now.Add(plan.Duration())
		ticket.ExpiresAt = &expires
	}

	if err := tx.Create(ticket).Error; err != nil {
		return nil, nil, fmt.Errorf("creating ticket: %w", err)
	}

	sale := &models.TicketSale{
		ID:              uuid.NewString(),
		TenantID:        intent.TenantID,
		TicketID:        ticket.ID,
		PaymentIntentID: intent.ID,
		Amount:          intent.Amount,
		Currency:        intent.Currency,
		PaymentMethod:   models.PaymentMethodMpesa,
		ReconciledAt:    now,
	}
	if err := tx.Create(sale).Error; err != nil {
		return nil, nil, fmt.Errorf("creating ticket sale: %w", err)
	}

	return ticket, sale, nil
}

func (i *Issuer) uniqueCode(tx *gorm.DB) (string, error) {
	for attempt := 0; attempt < codeRetryBound; attempt++ {
		code, err := GenerateCode()
		if err != nil {
			return "", err
		}

		var count int64
		if err := tx.Model(&models.Ticket{}).Where("code = ?", code).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return code, nil
		}
	}
	return "", ErrCodeGenerationExhausted
}
