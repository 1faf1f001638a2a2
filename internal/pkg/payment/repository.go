package payment

import (
	"errors"
	"time"

	"github.com/Smadaqk5/hotspotconfig/app/models"
	"github.com/Smadaqk5/hotspotconfig/internal/pkg/mpesa"
	"github.com/Smadaqk5/hotspotconfig/internal/pkg/quota"
	"github.com/Smadaqk5/hotspotconfig/internal/pkg/ticket"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrIntentNotFound is a lookup miss. Webhook handling logs it and
	// answers success so the gateway stops redelivering; direct queries
	// map it to 404.
	ErrIntentNotFound = errors.New("payment intent not found")

	// ErrPlanNotFound covers missing or deactivated plans.
	ErrPlanNotFound = errors.New("plan not found")

	// errIntentAlreadyTerminal signals a lost race inside the completion
	// transaction; the service reports it as a duplicate.
	errIntentAlreadyTerminal = errors.New("payment intent already terminal")
)

// Repository provides DB operations used by the payment service.
type Repository interface {
	CredentialByTenant(tenantID uint) (*models.TenantCredential, error)
	SaveCredential(cred *models.TenantCredential) error
	DeleteCredential(tenantID uint) error

	PlanByID(tenantID, planID uint) (*models.Plan, error)
	ActivePlans(tenantID uint) ([]models.Plan, error)
	CreatePlan(plan *models.Plan) error
	ReplacePlan(tenantID, planID uint, replacement *models.Plan) error

	CreateIntent(intent *models.PaymentIntent) error
	IntentByID(tenantID uint, id string) (*models.PaymentIntent, error)
	IntentByCheckoutID(tenantID uint, checkoutRequestID string) (*models.PaymentIntent, error)

	// MarkIntentFailed flips pending to failed. Returns false without error
	// when the intent already left pending (duplicate delivery).
	MarkIntentFailed(intentID string, resultCode int, resultDesc, rawPayload string) (bool, error)

	// CompleteAndIssue performs the single transaction that flips the
	// intent to completed, reserves quota, and writes the Ticket and
	// TicketSale. All four writes commit together or not at all.
	CompleteAndIssue(intentID string, result *mpesa.CallbackResult, rawPayload string, now time.Time) (*models.Ticket, error)

	CancelStaleIntents(olderThan time.Time) (int64, error)
}

type gormRepository struct {
	db     *gorm.DB
	quotas *quota.Enforcer
	issuer *ticket.Issuer
}

// NewRepository creates a payment repository backed by GORM.
func NewRepository(db *gorm.DB, quotas *quota.Enforcer, issuer *ticket.Issuer) Repository {
	return &gormRepository{db: db, quotas: quotas, issuer: issuer}
}

func (r *gormRepository) CredentialByTenant(tenantID uint) (*models.TenantCredential, error) {
	var cred models.TenantCredential
	err := r.db.Where("tenant_id = ?", tenantID).First(&cred).Error
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (r *gormRepository) SaveCredential(cred *models.TenantCredential) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"consumer_key_enc",
			"consumer_secret_enc",
			"shortcode_enc",
			"passkey_enc",
			"environment",
			"webhook_secret",
			"verified",
			"updated_at",
		}),
	}).Create(cred).Error; err != nil {
		return err
	}

	return r.db.Where("tenant_id = ?", cred.TenantID).First(cred).Error
}

func (r *gormRepository) DeleteCredential(tenantID uint) error {
	return r.db.Where("tenant_id = ?", tenantID).Delete(&models.TenantCredential{}).Error
}

func (r *gormRepository) PlanByID(tenantID, planID uint) (*models.Plan, error) {
	var plan models.Plan
	err := r.db.Where("tenant_id = ? AND id = ?", tenantID, planID).First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *gormRepository) ActivePlans(tenantID uint) ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.Where("tenant_id = ? AND is_active = ?", tenantID, true).
		Order("price asc").Find(&plans).Error
	return plans, err
}

func (r *gormRepository) CreatePlan(plan *models.Plan) error {
	return r.db.Create(plan).Error
}

// ReplacePlan deactivates the old row and inserts the replacement so sold
// tickets keep their original terms.
func (r *gormRepository) ReplacePlan(tenantID, planID uint, replacement *models.Plan) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Plan{}).
			Where("tenant_id = ? AND id = ? AND is_active = ?", tenantID, planID, true).
			Update("is_active", false)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrPlanNotFound
		}
		replacement.ID = 0
		replacement.TenantID = tenantID
		replacement.IsActive = true
		return tx.Create(replacement).Error
	})
}

func (r *gormRepository) CreateIntent(intent *models.PaymentIntent) error {
	return r.db.Create(intent).Error
}

func (r *gormRepository) IntentByID(tenantID uint, id string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.Where("tenant_id = ? AND id = ?", tenantID, id).First(&intent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *gormRepository) IntentByCheckoutID(tenantID uint, checkoutRequestID string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.Where("tenant_id = ? AND checkout_request_id = ?", tenantID, checkoutRequestID).First(&intent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *gormRepository) MarkIntentFailed(intentID string, resultCode int, resultDesc, rawPayload string) (bool, error) {
	res := r.db.Model(&models.PaymentIntent{}).
		Where("id = ? AND status = ?", intentID, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":           models.PaymentStatusFailed,
			"result_code":      resultCode,
			"result_desc":      resultDesc,
			"raw_payload_json": rawPayload,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) CompleteAndIssue(intentID string, result *mpesa.CallbackResult, rawPayload string, now time.Time) (*models.Ticket, error) {
	var issued *models.Ticket

	err := r.db.Transaction(func(tx *gorm.DB) error {
		var intent models.PaymentIntent
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", intentID).First(&intent).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrIntentNotFound
		}
		if err != nil {
			return err
		}
		if intent.IsTerminal() {
			return errIntentAlreadyTerminal
		}

		if err := tx.Model(&intent).Updates(map[string]interface{}{
			"status":           models.PaymentStatusCompleted,
			"result_code":      result.ResultCode,
			"result_desc":      result.ResultDesc,
			"receipt_number":   result.ReceiptNumber,
			"raw_payload_json": rawPayload,
		}).Error; err != nil {
			return err
		}

		if err := r.quotas.Reserve(tx, intent.TenantID, now); err != nil {
			return err
		}

		var plan models.Plan
		if err := tx.Where("tenant_id = ? AND id = ?", intent.TenantID, intent.PlanID).First(&plan).Error; err != nil {
			return err
		}

		t, _, err := r.issuer.Issue(tx, &intent, &plan, now)
		if err != nil {
			return err
		}

		if err := r.quotas.AddRevenue(tx, intent.TenantID, intent.Amount); err != nil {
			return err
		}

		issued = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

func (r *gormRepository) CancelStaleIntents(olderThan time.Time) (int64, error) {
	res := r.db.Model(&models.PaymentIntent{}).
		Where("status = ? AND created_at < ?", models.PaymentStatusPending, olderThan).
		Update("status", models.PaymentStatusCancelled)
	return res.RowsAffected, res.Error
}
