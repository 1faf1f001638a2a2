package payment

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Smadaqk5/hotspotconfig/app/models"
	"github.com/Smadaqk5/hotspotconfig/internal/pkg/mpesa"
	"github.com/Smadaqk5/hotspotconfig/internal/pkg/quota"
	"github.com/Smadaqk5/hotspotconfig/internal/pkg/vault"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeRepository mirrors the transactional guarantees of the GORM
// implementation in memory: CompleteAndIssue either applies all four writes
// or none, and MarkIntentFailed only fires on pending intents. The mutex
// stands in for the database row lock, so concurrent deliveries see the same
// serialization the real repository gets from SELECT ... FOR UPDATE.
type fakeRepository struct {
	mu      sync.Mutex
	creds   map[uint]*models.TenantCredential
	plans   map[uint]*models.Plan
	intents map[string]*models.PaymentIntent
	tickets map[string]*models.Ticket
	sales   map[string]*models.TicketSale
	usage   map[uint]*models.SubscriptionUsage
	nextNum int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		creds:   make(map[uint]*models.TenantCredential),
		plans:   make(map[uint]*models.Plan),
		intents: make(map[string]*models.PaymentIntent),
		tickets: make(map[string]*models.Ticket),
		sales:   make(map[string]*models.TicketSale),
		usage:   make(map[uint]*models.SubscriptionUsage),
	}
}

func (f *fakeRepository) CredentialByTenant(tenantID uint) (*models.TenantCredential, error) {
	cred, ok := f.creds[tenantID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return cred, nil
}

func (f *fakeRepository) SaveCredential(cred *models.TenantCredential) error {
	f.creds[cred.TenantID] = cred
	return nil
}

func (f *fakeRepository) DeleteCredential(tenantID uint) error {
	delete(f.creds, tenantID)
	return nil
}

func (f *fakeRepository) PlanByID(tenantID, planID uint) (*models.Plan, error) {
	plan, ok := f.plans[planID]
	if !ok || plan.TenantID != tenantID {
		return nil, ErrPlanNotFound
	}
	return plan, nil
}

func (f *fakeRepository) ActivePlans(tenantID uint) ([]models.Plan, error) {
	var out []models.Plan
	for _, p := range f.plans {
		if p.TenantID == tenantID && p.IsActive {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeRepository) CreatePlan(plan *models.Plan) error {
	if plan.ID == 0 {
		plan.ID = uint(len(f.plans) + 1)
	}
	f.plans[plan.ID] = plan
	return nil
}

func (f *fakeRepository) ReplacePlan(tenantID, planID uint, replacement *models.Plan) error {
	old, ok := f.plans[planID]
	if !ok || old.TenantID != tenantID || !old.IsActive {
		return ErrPlanNotFound
	}
	old.IsActive = false
	replacement.TenantID = tenantID
	replacement.IsActive = true
	return f.CreatePlan(replacement)
}

func (f *fakeRepository) CreateIntent(intent *models.PaymentIntent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents[intent.ID] = intent
	return nil
}

func (f *fakeRepository) IntentByID(tenantID uint, id string) (*models.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	intent, ok := f.intents[id]
	if !ok || intent.TenantID != tenantID {
		return nil, ErrIntentNotFound
	}
	copied := *intent
	return &copied, nil
}

func (f *fakeRepository) IntentByCheckoutID(tenantID uint, checkoutRequestID string) (*models.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, intent := range f.intents {
		if intent.TenantID == tenantID && intent.CheckoutRequestID == checkoutRequestID {
			copied := *intent
			return &copied, nil
		}
	}
	return nil, ErrIntentNotFound
}

func (f *fakeRepository) MarkIntentFailed(intentID string, resultCode int, resultDesc, rawPayload string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	intent, ok := f.intents[intentID]
	if !ok || intent.Status != models.PaymentStatusPending {
		return false, nil
	}
	intent.Status = models.PaymentStatusFailed
	intent.ResultCode = &resultCode
	intent.ResultDesc = resultDesc
	intent.RawPayloadJSON = rawPayload
	return true, nil
}

func (f *fakeRepository) CompleteAndIssue(intentID string, result *mpesa.CallbackResult, rawPayload string, now time.Time) (*models.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	intent, ok := f.intents[intentID]
	if !ok {
		return nil, ErrIntentNotFound
	}
	if intent.Status != models.PaymentStatusPending {
		return nil, errIntentAlreadyTerminal
	}

	usage := f.usage[intent.TenantID]
	if usage == nil {
		usage = &models.SubscriptionUsage{TenantID: intent.TenantID, PeriodStart: now, PeriodRevenue: decimal.Zero}
		f.usage[intent.TenantID] = usage
	}
	if usage.MaxPerPeriod > 0 && usage.TicketsIssued >= usage.MaxPerPeriod {
		// Transaction rolls back: no writes applied, intent stays pending.
		return nil, quota.ErrQuotaExceeded
	}

	plan, ok := f.plans[intent.PlanID]
	if !ok {
		return nil, ErrPlanNotFound
	}

	f.nextNum++
	ticket := &models.Ticket{
		ID:        fmt.Sprintf("ticket-%d", f.nextNum),
		TenantID:  intent.TenantID,
		PlanID:    plan.ID,
		Code:      fmt.Sprintf("CODE%04d", f.nextNum),
		Status:    models.TicketStatusActive,
		CreatedAt: now,
	}
	if plan.IsTimeBased() && plan.DurationMinutes > 0 {
		expires := now.Add(plan.Duration())
		ticket.ExpiresAt = &expires
	}

	intent.Status = models.PaymentStatusCompleted
	code := result.ResultCode
	intent.ResultCode = &code
	intent.ResultDesc = result.ResultDesc
	intent.ReceiptNumber = result.ReceiptNumber
	intent.RawPayloadJSON = rawPayload
	usage.TicketsIssued++
	usage.PeriodRevenue = usage.PeriodRevenue.Add(intent.Amount)
	f.tickets[ticket.ID] = ticket
	f.sales[intent.ID] = &models.TicketSale{
		ID:              fmt.Sprintf("sale-%d", f.nextNum),
		TenantID:        intent.TenantID,
		TicketID:        ticket.ID,
		PaymentIntentID: intent.ID,
		Amount:          intent.Amount,
		ReconciledAt:    now,
	}
	return ticket, nil
}

func (f *fakeRepository) CancelStaleIntents(olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, intent := range f.intents {
		if intent.Status == models.PaymentStatusPending && intent.CreatedAt.Before(olderThan) {
			intent.Status = models.PaymentStatusCancelled
			n++
		}
	}
	return n, nil
}

type fakeGateway struct {
	pushResp  *mpesa.STKPushResponse
	pushErr   error
	queryResp *mpesa.STKQueryResponse
	queryErr  error
	pushCalls int
}

func (g *fakeGateway) InitiateSTKPush(ctx context.Context, tenantID uint, creds mpesa.Credentials, phone string, amount decimal.Decimal, accountReference, description string) (*mpesa.STKPushResponse, error) {
	g.pushCalls++
	return g.pushResp, g.pushErr
}

func (g *fakeGateway) QuerySTKStatus(ctx context.Context, tenantID uint, creds mpesa.Credentials, checkoutRequestID string) (*mpesa.STKQueryResponse, error) {
	return g.queryResp, g.queryErr
}

func testVault(t *testing.T) *vault.Vault {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	v, err := vault.New(map[int][]byte{1: key}, 1)
	require.NoError(t, err)
	return v
}

func seedCredential(t *testing.T, repo *fakeRepository, v *vault.Vault, tenantID uint, webhookSecret string) {
	t.Helper()
	enc := func(plain string) string {
		ct, err := v.Encrypt(plain)
		require.NoError(t, err)
		return ct
	}
	repo.creds[tenantID] = &models.TenantCredential{
		TenantID:          tenantID,
		ConsumerKeyEnc:    enc("ck"),
		ConsumerSecretEnc: enc("cs"),
		ShortcodeEnc:      enc("174379"),
		PasskeyEnc:        enc("passkey"),
		Environment:       models.MpesaEnvSandbox,
		WebhookSecret:     webhookSecret,
	}
}

func seedPendingIntent(repo *fakeRepository, tenantID uint, planID uint, checkoutID string, createdAt time.Time) *models.PaymentIntent {
	intent := &models.PaymentIntent{
		ID:                "intent-" + checkoutID,
		TenantID:          tenantID,
		CheckoutRequestID: checkoutID,
		PlanID:            planID,
		PhoneNumber:       "254712345678",
		Amount:            decimal.NewFromInt(50),
		Currency:          "KES",
		Status:            models.PaymentStatusPending,
		CreatedAt:         createdAt,
	}
	repo.intents[intent.ID] = intent
	return intent
}

func successCallback(checkoutID string) []byte {
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{
		"MerchantRequestID":"m-1",
		"CheckoutRequestID":%q,
		"ResultCode":0,
		"ResultDesc":"The service request is processed successfully.",
		"CallbackMetadata":{"Item":[
			{"Name":"Amount","Value":50.0},
			{"Name":"MpesaReceiptNumber","Value":"RKT12345"},
			{"Name":"PhoneNumber","Value":254712345678}
		]}
	}}}`, checkoutID))
}

func failureCallback(checkoutID string) []byte {
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{
		"CheckoutRequestID":%q,
		"ResultCode":1032,
		"ResultDesc":"Request cancelled by user"
	}}}`, checkoutID))
}

func newTestService(t *testing.T) (*Service, *fakeRepository, *fakeGateway, *vault.Vault) {
	t.Helper()
	repo := newFakeRepository()
	gw := &fakeGateway{}
	v := testVault(t)
	svc := NewService(repo, v, gw)
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return svc, repo, gw, v
}

func TestHandleCallbackIssuesExactlyOneTicket(t *testing.T) {
	svc, repo, _, v := newTestService(t)
	seedCredential(t, repo, v, 7, "")
	repo.plans[1] = &models.Plan{ID: 1, TenantID: 7, Name: "1 Hour", Kind: models.PlanKindTime, DurationMinutes: 60, Price: decimal.NewFromInt(50), Currency: "KES", IsActive: true}
	seedPendingIntent(repo, 7, 1, "ws_CO_ABC123", time.Now())

	payload := successCallback("ws_CO_ABC123")

	first, err := svc.HandleCallback(context.Background(), 7, payload, "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, first.Status)
	assert.False(t, first.Duplicate)
	assert.NotEmpty(t, first.TicketCode)

	// At-least-once delivery: the same payload arrives again.
	second, err := svc.HandleCallback(context.Background(), 7, payload, "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, second.Status)
	assert.True(t, second.Duplicate)

	assert.Len(t, repo.tickets, 1)
	assert.Len(t, repo.sales, 1)
	assert.Equal(t, uint(1), repo.usage[7].TicketsIssued)

	// Expiry is exact: created_at + plan duration.
	for _, tk := range repo.tickets {
		require.NotNil(t, tk.ExpiresAt)
		assert.Equal(t, tk.CreatedAt.Add(time.Hour), *tk.ExpiresAt)
	}
}

func TestHandleCallbackFailureCreatesNoTicket(t *testing.T) {
	svc, repo, _, v := newTestService(t)
	seedCredential(t, repo, v, 7, "")
	repo.plans[1] = &models.Plan{ID: 1, TenantID: 7, Kind: models.PlanKindTime, DurationMinutes: 60, Price: decimal.NewFromInt(50), IsActive: true}
	intent := seedPendingIntent(repo, 7, 1, "ws_CO_FAIL", time.Now())

	out, err := svc.HandleCallback(context.Background(), 7, failureCallback("ws_CO_FAIL"), "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, out.Status)
	assert.Empty(t, repo.tickets)
	assert.Empty(t, repo.sales)
	assert.Nil(t, repo.usage[7])
	assert.Equal(t, models.PaymentStatusFailed, repo.intents[intent.ID].Status)
	assert.Equal(t, 1032, *repo.intents[intent.ID].ResultCode)
}

func TestHandleCallbackFailureReplayIsIdempotent(t *testing.T) {
	svc, repo, _, v := newTestService(t)
	seedCredential(t, repo, v, 7, "")
	seedPendingIntent(repo, 7, 1, "ws_CO_FAIL", time.Now())

	payload := failureCallback("ws_CO_FAIL")
	_, err := svc.HandleCallback(context.Background(), 7, payload, "")
	require.NoError(t, err)

	out, err := svc.HandleCallback(context.Background(), 7, payload, "")
	require.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.Equal(t, models.PaymentStatusFailed, out.Status)
}

func TestHandleCallbackUnknownIntent(t *testing.T) {
	svc, repo, _, v := newTestService(t)
	seedCredential(t, repo, v, 7, "")

	_, err := svc.HandleCallback(context.Background(), 7, successCallback("ws_CO_UNKNOWN"), "")
	assert.ErrorIs(t, err, ErrIntentNotFound)
}

func TestHandleCallbackQuotaExceededLeavesIntentPending(t *testing.T) {
	svc, repo, _, v := newTestService(t)
	seedCredential(t, repo, v, 7, "")
	repo.plans[1] = &models.Plan{ID: 1, TenantID: 7, Kind: models.PlanKindTime, DurationMinutes: 60, Price: decimal.NewFromInt(50), IsActive: true}
	intent := seedPendingIntent(repo, 7, 1, "ws_CO_CAP", time.Now())
	repo.usage[7] = &models.SubscriptionUsage{TenantID: 7, TicketsIssued: 10, MaxPerPeriod: 10, PeriodRevenue: decimal.Zero}

	payload := successCallback("ws_CO_CAP")
	_, err := svc.HandleCallback(context.Background(), 7, payload, "")
	assert.ErrorIs(t, err, quota.ErrQuotaExceeded)
	assert.Equal(t, models.PaymentStatusPending, repo.intents[intent.ID].Status)
	assert.Empty(t, repo.tickets)

	// After the period rolls over, replaying the same callback completes
	// the original intent.
	repo.usage[7].TicketsIssued = 0

	out, err := svc.HandleCallback(context.Background(), 7, payload, "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, out.Status)
	assert.Len(t, repo.tickets, 1)
}

func TestHandleCallbackSignatureVerification(t *testing.T) {
	svc, repo, _, v := newTestService(t)
	seedCredential(t, repo, v, 7, "hook-secret")
	seedPendingIntent(repo, 7, 1, "ws_CO_SIG", time.Now())
	repo.plans[1] = &models.Plan{ID: 1, TenantID: 7, Kind: models.PlanKindTime, DurationMinutes: 60, Price: decimal.NewFromInt(50), IsActive: true}

	payload := successCallback("ws_CO_SIG")

	_, err := svc.HandleCallback(context.Background(), 7, payload, "")
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	_, err = svc.HandleCallback(context.Background(), 7, payload, "deadbeef")
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	mac := hmac.New(sha256.New, []byte("hook-secret"))
	mac.Write(payload)
	sig := hex.EncodeToString(mac.Sum(nil))

	out, err := svc.HandleCallback(context.Background(), 7, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, out.Status)
}

// flakyCredsRepository simulates a transient credential-read failure while
// the rest of the repository keeps working.
type flakyCredsRepository struct {
	*fakeRepository
	credErr error
}

func (f *flakyCredsRepository) CredentialByTenant(tenantID uint) (*models.TenantCredential, error) {
	if f.credErr != nil {
		return nil, f.credErr
	}
	return f.fakeRepository.CredentialByTenant(tenantID)
}

func TestHandleCallbackCredentialReadErrorFailsClosed(t *testing.T) {
	repo := newFakeRepository()
	flaky := &flakyCredsRepository{fakeRepository: repo}
	v := testVault(t)
	svc := NewService(flaky, v, &fakeGateway{})
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

	seedCredential(t, repo, v, 7, "hook-secret")
	repo.plans[1] = &models.Plan{ID: 1, TenantID: 7, Kind: models.PlanKindTime, DurationMinutes: 60, Price: decimal.NewFromInt(50), IsActive: true}
	intent := seedPendingIntent(repo, 7, 1, "ws_CO_FLAKY", time.Now())

	payload := successCallback("ws_CO_FLAKY")

	// Baseline: with the secret readable, an unsigned delivery is rejected.
	_, err := svc.HandleCallback(context.Background(), 7, payload, "")
	require.ErrorIs(t, err, ErrSignatureInvalid)

	// A transient read failure must not be mistaken for "no secret
	// configured": the unsigned delivery is not processed.
	readErr := errors.New("driver: bad connection")
	flaky.credErr = readErr

	_, err = svc.HandleCallback(context.Background(), 7, payload, "")
	require.ErrorIs(t, err, readErr)
	assert.Equal(t, models.PaymentStatusPending, repo.intents[intent.ID].Status)
	assert.Empty(t, repo.tickets)

	// Once the read recovers, a properly signed redelivery completes.
	flaky.credErr = nil
	mac := hmac.New(sha256.New, []byte("hook-secret"))
	mac.Write(payload)
	out, err := svc.HandleCallback(context.Background(), 7, payload, hex.EncodeToString(mac.Sum(nil)))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, out.Status)
}

func TestHandleCallbackConcurrentDeliveriesRespectQuotaCap(t *testing.T) {
	svc, repo, _, v := newTestService(t)
	seedCredential(t, repo, v, 7, "")
	repo.plans[1] = &models.Plan{ID: 1, TenantID: 7, Kind: models.PlanKindTime, DurationMinutes: 60, Price: decimal.NewFromInt(50), IsActive: true}
	repo.usage[7] = &models.SubscriptionUsage{TenantID: 7, MaxPerPeriod: 3, PeriodRevenue: decimal.Zero}

	const deliveries = 10
	for i := 0; i < deliveries; i++ {
		seedPendingIntent(repo, 7, 1, fmt.Sprintf("ws_CO_CONC%d", i), time.Now())
	}

	errs := make(chan error, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.HandleCallback(context.Background(), 7, successCallback(fmt.Sprintf("ws_CO_CONC%d", i)), "")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var completed, capped int
	for err := range errs {
		switch {
		case err == nil:
			completed++
		case errors.Is(err, quota.ErrQuotaExceeded):
			capped++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// Exactly cap deliveries complete, never more, and the counter matches.
	assert.Equal(t, 3, completed)
	assert.Equal(t, deliveries-3, capped)
	assert.Len(t, repo.tickets, 3)
	assert.Len(t, repo.sales, 3)
	assert.Equal(t, uint(3), repo.usage[7].TicketsIssued)

	// The capped intents stay pending for later reconciliation.
	pending := 0
	for _, intent := range repo.intents {
		if intent.Status == models.PaymentStatusPending {
			pending++
		}
	}
	assert.Equal(t, deliveries-3, pending)
}

func TestInitiatePaymentCreatesPendingIntent(t *testing.T) {
	svc, repo, gw, v := newTestService(t)
	seedCredential(t, repo, v, 7, "")
	repo.plans[1] = &models.Plan{ID: 1, TenantID: 7, Name: "1 Hour", Kind: models.PlanKindTime, DurationMinutes: 60, Price: decimal.NewFromInt(50), Currency: "KES", IsActive: true}
	gw.pushResp = &mpesa.STKPushResponse{CheckoutRequestID: "ws_CO_NEW", ResponseCode: "0"}

	intent, err := svc.InitiatePayment(context.Background(), 7, InitiateInput{PlanID: 1, PhoneNumber: "0712345678"})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, intent.Status)
	assert.Equal(t, "ws_CO_NEW", intent.CheckoutRequestID)
	assert.Equal(t, "254712345678", intent.PhoneNumber)
	assert.True(t, intent.Amount.Equal(decimal.NewFromInt(50)))
	assert.Len(t, repo.intents, 1)
}

func TestInitiatePaymentGatewayFailureCreatesNoIntent(t *testing.T) {
	svc, repo, gw, v := newTestService(t)
	seedCredential(t, repo, v, 7, "")
	repo.plans[1] = &models.Plan{ID: 1, TenantID: 7, Kind: models.PlanKindTime, DurationMinutes: 60, Price: decimal.NewFromInt(50), IsActive: true}
	gw.pushErr = &mpesa.GatewayError{StatusCode: 503, Description: "system busy"}

	_, err := svc.InitiatePayment(context.Background(), 7, InitiateInput{PlanID: 1, PhoneNumber: "0712345678"})
	var gwErr *mpesa.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Empty(t, repo.intents)
}

func TestInitiatePaymentWithoutCredentials(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	repo.plans[1] = &models.Plan{ID: 1, TenantID: 7, Kind: models.PlanKindTime, DurationMinutes: 60, Price: decimal.NewFromInt(50), IsActive: true}

	_, err := svc.InitiatePayment(context.Background(), 7, InitiateInput{PlanID: 1, PhoneNumber: "0712345678"})
	assert.ErrorIs(t, err, mpesa.ErrNotConfigured)
}

func TestInitiatePaymentInactivePlan(t *testing.T) {
	svc, repo, _, v := newTestService(t)
	seedCredential(t, repo, v, 7, "")
	repo.plans[1] = &models.Plan{ID: 1, TenantID: 7, Kind: models.PlanKindTime, DurationMinutes: 60, Price: decimal.NewFromInt(50), IsActive: false}

	_, err := svc.InitiatePayment(context.Background(), 7, InitiateInput{PlanID: 1, PhoneNumber: "0712345678"})
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestQueryAndReconcileCompletes(t *testing.T) {
	svc, repo, gw, v := newTestService(t)
	seedCredential(t, repo, v, 7, "")
	repo.plans[1] = &models.Plan{ID: 1, TenantID: 7, Kind: models.PlanKindTime, DurationMinutes: 60, Price: decimal.NewFromInt(50), IsActive: true}
	intent := seedPendingIntent(repo, 7, 1, "ws_CO_Q", time.Now())
	gw.queryResp = &mpesa.STKQueryResponse{ResponseCode: "0", ResultCode: "0", ResultDesc: "Processed"}

	out, err := svc.QueryAndReconcile(context.Background(), 7, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, out.Status)
	assert.Len(t, repo.tickets, 1)
}

func TestQueryAndReconcileFailure(t *testing.T) {
	svc, repo, gw, v := newTestService(t)
	seedCredential(t, repo, v, 7, "")
	intent := seedPendingIntent(repo, 7, 1, "ws_CO_Q2", time.Now())
	gw.queryResp = &mpesa.STKQueryResponse{ResponseCode: "0", ResultCode: "1032", ResultDesc: "Request cancelled by user"}

	out, err := svc.QueryAndReconcile(context.Background(), 7, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, out.Status)
	assert.Empty(t, repo.tickets)
}

func TestQueryAndReconcileNoVerdictLeavesPending(t *testing.T) {
	svc, repo, gw, v := newTestService(t)
	seedCredential(t, repo, v, 7, "")
	intent := seedPendingIntent(repo, 7, 1, "ws_CO_Q3", time.Now())
	gw.queryResp = &mpesa.STKQueryResponse{ResponseCode: "0", ResultCode: "", ResultDesc: ""}

	out, err := svc.QueryAndReconcile(context.Background(), 7, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, out.Status)
	assert.Equal(t, models.PaymentStatusPending, repo.intents[intent.ID].Status)
}

func TestCancelStale(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	seedPendingIntent(repo, 7, 1, "ws_CO_OLD", now.Add(-2*time.Hour))
	fresh := seedPendingIntent(repo, 7, 1, "ws_CO_FRESH", now.Add(-10*time.Minute))

	n, err := svc.CancelStale(now, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, models.PaymentStatusPending, repo.intents[fresh.ID].Status)
}

func TestSaveCredentialsEncryptsAtRest(t *testing.T) {
	svc, repo, _, v := newTestService(t)

	cred, err := svc.SaveCredentials(7, CredentialInput{
		ConsumerKey:    "ck-plain",
		ConsumerSecret: "cs-plain",
		Shortcode:      "174379",
		Passkey:        "pk-plain",
	})
	require.NoError(t, err)
	assert.Equal(t, models.MpesaEnvSandbox, cred.Environment)
	assert.NotContains(t, cred.ConsumerKeyEnc, "ck-plain")
	assert.NotContains(t, cred.PasskeyEnc, "pk-plain")

	got, err := v.Decrypt(repo.creds[7].ConsumerSecretEnc)
	require.NoError(t, err)
	assert.Equal(t, "cs-plain", got)

	require.NoError(t, svc.ClearCredentials(7))
	assert.Empty(t, repo.creds)
}
