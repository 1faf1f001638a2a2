package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Smadaqk5/hotspotconfig/app/models"
	"github.com/Smadaqk5/hotspotconfig/internal/pkg/mpesa"
	"github.com/Smadaqk5/hotspotconfig/internal/pkg/quota"
	"github.com/Smadaqk5/hotspotconfig/internal/pkg/ticket"
	"github.com/Smadaqk5/hotspotconfig/internal/pkg/vault"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrSignatureInvalid rejects a webhook before any state lookup when the
// tenant requires signed callbacks and the signature does not verify.
var ErrSignatureInvalid = errors.New("webhook signature invalid")

// Gateway is the outbound mobile-money surface the service needs. Satisfied
// by *mpesa.Client.
type Gateway interface {
	InitiateSTKPush(ctx context.Context, tenantID uint, creds mpesa.Credentials, phone string, amount decimal.Decimal, accountReference, description string) (*mpesa.STKPushResponse, error)
	QuerySTKStatus(ctx context.Context, tenantID uint, creds mpesa.Credentials, checkoutRequestID string) (*mpesa.STKQueryResponse, error)
}

// Service owns the payment-to-access pipeline: charge initiation, callback
// reconciliation, and manual re-reconciliation. It never mutates intent state
// outside single-transaction repository operations.
type Service struct {
	repo    Repository
	vault   *vault.Vault
	gateway Gateway

	now func() time.Time
}

// NewService creates a payment service from injected collaborators.
func NewService(repo Repository, v *vault.Vault, gw Gateway) *Service {
	return &Service{repo: repo, vault: v, gateway: gw, now: time.Now}
}

// NewServiceFromDB wires the GORM repository with the default quota enforcer
// and ticket issuer.
func NewServiceFromDB(db *gorm.DB, v *vault.Vault, gw Gateway, defaultMaxPerPeriod uint) *Service {
	repo := NewRepository(db, quota.NewEnforcer(defaultMaxPerPeriod), ticket.NewIssuer())
	return NewService(repo, v, gw)
}

// InitiatePayment starts a push payment for a plan and records the pending
// intent. On any gateway failure no intent is created; the caller may
// resubmit explicitly.
func (s *Service) InitiatePayment(ctx context.Context, tenantID uint, in InitiateInput) (*models.PaymentIntent, error) {
	plan, err := s.repo.PlanByID(tenantID, in.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, ErrPlanNotFound
	}

	creds, err := s.loadCredentials(tenantID)
	if err != nil {
		return nil, err
	}

	resp, err := s.gateway.InitiateSTKPush(
		ctx,
		tenantID,
		creds,
		in.PhoneNumber,
		plan.Price,
		fmt.Sprintf("WIFI_%d", tenantID),
		"WiFi Access - "+plan.Name,
	)
	if err != nil {
		return nil, err
	}

	raw, _ := json.Marshal(resp)
	intent := &models.PaymentIntent{
		ID:                uuid.NewString(),
		TenantID:          tenantID,
		CheckoutRequestID: resp.CheckoutRequestID,
		PlanID:            plan.ID,
		PhoneNumber:       mpesa.NormalizePhone(in.PhoneNumber),
		Amount:            plan.Price,
		Currency:          plan.Currency,
		Status:            models.PaymentStatusPending,
		RawPayloadJSON:    string(raw),
	}
	if err := s.repo.CreateIntent(intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// HandleCallback reconciles one webhook delivery. Replaying the same payload
// any number of times converges on the same final state: the first delivery
// applies the transition, every later one reports Duplicate.
func (s *Service) HandleCallback(ctx context.Context, tenantID uint, rawBody []byte, signatureHeader string) (*Outcome, error) {
	_ = ctx

	secret, err := s.webhookSecret(tenantID)
	if err != nil {
		// Fail closed: without the secret the signature cannot be checked,
		// so the delivery is not processed. The gateway redelivers.
		return nil, err
	}
	if secret != "" {
		if !VerifyCallbackSignature(rawBody, signatureHeader, secret) {
			return nil, ErrSignatureInvalid
		}
	}

	result, err := mpesa.ParseCallback(rawBody)
	if err != nil {
		return nil, err
	}

	intent, err := s.repo.IntentByCheckoutID(tenantID, result.CheckoutRequestID)
	if err != nil {
		return nil, err
	}
	if intent.IsTerminal() {
		return &Outcome{IntentID: intent.ID, Status: intent.Status, Duplicate: true}, nil
	}

	if result.Succeeded() {
		return s.complete(tenantID, intent, result, string(rawBody))
	}

	changed, err := s.repo.MarkIntentFailed(intent.ID, result.ResultCode, result.ResultDesc, string(rawBody))
	if err != nil {
		return nil, err
	}
	if !changed {
		updated, err := s.repo.IntentByCheckoutID(tenantID, result.CheckoutRequestID)
		if err != nil {
			return nil, err
		}
		return &Outcome{IntentID: updated.ID, Status: updated.Status, Duplicate: true}, nil
	}
	return &Outcome{IntentID: intent.ID, Status: models.PaymentStatusFailed}, nil
}

func (s *Service) complete(tenantID uint, intent *models.PaymentIntent, result *mpesa.CallbackResult, rawBody string) (*Outcome, error) {
	t, err := s.repo.CompleteAndIssue(intent.ID, result, rawBody, s.now())
	if errors.Is(err, errIntentAlreadyTerminal) {
		updated, lookupErr := s.repo.IntentByCheckoutID(tenantID, intent.CheckoutRequestID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		return &Outcome{IntentID: updated.ID, Status: updated.Status, Duplicate: true}, nil
	}
	if err != nil {
		// Quota or issuance failure rolled the transaction back; the
		// intent stays pending for a later manual reconciliation.
		return nil, err
	}
	return &Outcome{
		IntentID:   intent.ID,
		Status:     models.PaymentStatusCompleted,
		TicketID:   t.ID,
		TicketCode: t.Code,
	}, nil
}

// QueryAndReconcile asks the gateway for the current status of an intent and
// feeds the answer through the same exactly-once transition as a callback.
// Used for manual reconciliation when a callback was lost or rolled back.
func (s *Service) QueryAndReconcile(ctx context.Context, tenantID uint, intentID string) (*Outcome, error) {
	intent, err := s.repo.IntentByID(tenantID, intentID)
	if err != nil {
		return nil, err
	}
	if intent.IsTerminal() {
		return &Outcome{IntentID: intent.ID, Status: intent.Status, Duplicate: true}, nil
	}

	creds, err := s.loadCredentials(tenantID)
	if err != nil {
		return nil, err
	}

	q, err := s.gateway.QuerySTKStatus(ctx, tenantID, creds, intent.CheckoutRequestID)
	if err != nil {
		return nil, err
	}

	resultCode, err := strconv.Atoi(strings.TrimSpace(q.ResultCode))
	if err != nil {
		// The gateway has no final verdict yet; leave the intent pending.
		return &Outcome{IntentID: intent.ID, Status: intent.Status}, nil
	}

	raw, _ := json.Marshal(q)
	result := &mpesa.CallbackResult{
		CheckoutRequestID: intent.CheckoutRequestID,
		ResultCode:        resultCode,
		ResultDesc:        q.ResultDesc,
	}
	if result.Succeeded() {
		return s.complete(tenantID, intent, result, string(raw))
	}

	changed, err := s.repo.MarkIntentFailed(intent.ID, resultCode, q.ResultDesc, string(raw))
	if err != nil {
		return nil, err
	}
	if !changed {
		updated, err := s.repo.IntentByID(tenantID, intentID)
		if err != nil {
			return nil, err
		}
		return &Outcome{IntentID: updated.ID, Status: updated.Status, Duplicate: true}, nil
	}
	return &Outcome{IntentID: intent.ID, Status: models.PaymentStatusFailed}, nil
}

// IntentStatus looks up an intent for display.
func (s *Service) IntentStatus(tenantID uint, intentID string) (*models.PaymentIntent, error) {
	return s.repo.IntentByID(tenantID, intentID)
}

// Plans lists the plans a tenant currently sells.
func (s *Service) Plans(tenantID uint) ([]models.Plan, error) {
	return s.repo.ActivePlans(tenantID)
}

// AddPlan creates a new sellable plan for a tenant.
func (s *Service) AddPlan(tenantID uint, in PlanInput) (*models.Plan, error) {
	plan, err := planFromInput(tenantID, in)
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreatePlan(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// ReplacePlan retires a plan and inserts its replacement. Sold tickets keep
// pointing at the retired row.
func (s *Service) ReplacePlan(tenantID, planID uint, in PlanInput) (*models.Plan, error) {
	plan, err := planFromInput(tenantID, in)
	if err != nil {
		return nil, err
	}
	if err := s.repo.ReplacePlan(tenantID, planID, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func planFromInput(tenantID uint, in PlanInput) (*models.Plan, error) {
	price, err := decimal.NewFromString(in.Price)
	if err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", in.Price, err)
	}
	currency := in.Currency
	if currency == "" {
		currency = "KES"
	}
	return &models.Plan{
		TenantID:        tenantID,
		Name:            in.Name,
		Kind:            in.Kind,
		DurationMinutes: in.DurationMinutes,
		DataLimitMB:     in.DataLimitMB,
		Price:           price,
		Currency:        currency,
		IsActive:        true,
	}, nil
}

// SaveCredentials encrypts and stores a tenant's gateway credentials.
// Plaintext never touches the database.
func (s *Service) SaveCredentials(tenantID uint, in CredentialInput) (*models.TenantCredential, error) {
	environment := in.Environment
	if environment == "" {
		environment = models.MpesaEnvSandbox
	}

	keyEnc, err := s.vault.Encrypt(in.ConsumerKey)
	if err != nil {
		return nil, err
	}
	secretEnc, err := s.vault.Encrypt(in.ConsumerSecret)
	if err != nil {
		return nil, err
	}
	shortcodeEnc, err := s.vault.Encrypt(in.Shortcode)
	if err != nil {
		return nil, err
	}
	passkeyEnc, err := s.vault.Encrypt(in.Passkey)
	if err != nil {
		return nil, err
	}

	cred := &models.TenantCredential{
		TenantID:          tenantID,
		ConsumerKeyEnc:    keyEnc,
		ConsumerSecretEnc: secretEnc,
		ShortcodeEnc:      shortcodeEnc,
		PasskeyEnc:        passkeyEnc,
		Environment:       environment,
		WebhookSecret:     strings.TrimSpace(in.WebhookSecret),
	}
	if err := s.repo.SaveCredential(cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// ClearCredentials removes a tenant's stored gateway credentials.
func (s *Service) ClearCredentials(tenantID uint) error {
	return s.repo.DeleteCredential(tenantID)
}

// CancelStale sweeps pending intents older than ttl to cancelled. There is
// no user-facing mid-flight cancel: the charge may still land at the gateway,
// so only the background sweep ages intents out.
func (s *Service) CancelStale(now time.Time, ttl time.Duration) (int64, error) {
	return s.repo.CancelStaleIntents(now.Add(-ttl))
}

func (s *Service) loadCredentials(tenantID uint) (mpesa.Credentials, error) {
	cred, err := s.repo.CredentialByTenant(tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return mpesa.Credentials{}, mpesa.ErrNotConfigured
		}
		return mpesa.Credentials{}, err
	}

	consumerKey, err := s.vault.Decrypt(cred.ConsumerKeyEnc)
	if err != nil {
		return mpesa.Credentials{}, err
	}
	consumerSecret, err := s.vault.Decrypt(cred.ConsumerSecretEnc)
	if err != nil {
		return mpesa.Credentials{}, err
	}
	shortcode, err := s.vault.Decrypt(cred.ShortcodeEnc)
	if err != nil {
		return mpesa.Credentials{}, err
	}
	passkey, err := s.vault.Decrypt(cred.PasskeyEnc)
	if err != nil {
		return mpesa.Credentials{}, err
	}

	return mpesa.Credentials{
		ConsumerKey:    consumerKey,
		ConsumerSecret: consumerSecret,
		Shortcode:      shortcode,
		Passkey:        passkey,
		Environment:    cred.Environment,
	}, nil
}

// webhookSecret loads the tenant's webhook secret. No stored credential means
// no secret is configured; any other read failure propagates so callers do
// not mistake a transient fault for an unsigned-tenant setup.
func (s *Service) webhookSecret(tenantID uint) (string, error) {
	cred, err := s.repo.CredentialByTenant(tenantID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return cred.WebhookSecret, nil
}
