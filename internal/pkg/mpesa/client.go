package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Smadaqk5/hotspotconfig/internal/pkg/env"
	"github.com/shopspring/decimal"
)

const (
	sandboxBaseURL = "https://sandbox.safaricom.co.ke"
	liveBaseURL    = "https://api.safaricom.co.ke"

	// Tokens are cached slightly shorter than Daraja's TTL so a cached
	// token is never presented right at its expiry edge.
	tokenSafetyMargin = 60 * time.Second
)

// ErrNotConfigured marks a tenant whose Daraja credentials are missing or
// incomplete. Callers surface this as a configuration error, never retried.
var ErrNotConfigured = errors.New("mpesa credentials not configured")

// GatewayError carries the upstream failure back to the payment initiator.
type GatewayError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("mpesa gateway error: status=%d code=%s desc=%s", e.StatusCode, e.Code, e.Description)
}

// TokenCache stores short-lived bearer tokens per tenant.
type TokenCache interface {
	Get(key string) (string, error)
	Set(key string, value string, ttl time.Duration) error
	Delete(key string) error
}

// Client talks to the Daraja API on behalf of a tenant. Requests are
// time-boxed by the HTTP client; no database transaction is ever held across
// a call.
type Client struct {
	BaseSandboxURL  string
	BaseLiveURL     string
	CallbackBaseURL string

	HTTPClient *http.Client
	Tokens     TokenCache

	now func() time.Time
}

// NewClient creates a Daraja client with the given token cache.
func NewClient(tokens TokenCache) *Client {
	return &Client{
		BaseSandboxURL:  sandboxBaseURL,
		BaseLiveURL:     liveBaseURL,
		CallbackBaseURL: strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		Tokens: tokens,
		now:    time.Now,
	}
}

func (c *Client) baseURL(environment string) string {
	if environment == "live" {
		return c.BaseLiveURL
	}
	return c.BaseSandboxURL
}

func (c *Client) tokenKey(tenantID uint) string {
	return fmt.Sprintf("mpesa:token:%d", tenantID)
}

// AccessToken returns a bearer token for the tenant, from cache when fresh.
// One retry on transient network failure; the cache entry is written with the
// gateway TTL minus a safety margin.
func (c *Client) AccessToken(ctx context.Context, tenantID uint, creds Credentials) (string, error) {
	if !creds.Complete() {
		return "", ErrNotConfigured
	}

	key := c.tokenKey(tenantID)
	if tok, err := c.Tokens.Get(key); err == nil && tok != "" {
		return tok, nil
	}

	token, ttl, err := c.fetchToken(ctx, creds)
	if err != nil {
		var gwErr *GatewayError
		if errors.As(err, &gwErr) {
			return "", err
		}
		// Transient network failure: retry once.
		token, ttl, err = c.fetchToken(ctx, creds)
		if err != nil {
			return "", err
		}
	}

	if ttl > tokenSafetyMargin {
		if cacheErr := c.Tokens.Set(key, token, ttl-tokenSafetyMargin); cacheErr != nil {
			// Cache miss next time is the only consequence.
			_ = cacheErr
		}
	}
	return token, nil
}

// InvalidateToken drops the cached token, forcing a fresh fetch.
func (c *Client) InvalidateToken(tenantID uint) {
	_ = c.Tokens.Delete(c.tokenKey(tenantID))
}

func (c *Client) fetchToken(ctx context.Context, creds Credentials) (string, time.Duration, error) {
	url := c.baseURL(creds.Environment) + "/oauth/v1/generate?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, err
	}
	auth := base64.StdEncoding.EncodeToString([]byte(creds.ConsumerKey + ":" + creds.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, &GatewayError{StatusCode: resp.StatusCode, Description: "token request failed: " + string(body)}
	}

	var out tokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", 0, fmt.Errorf("mpesa: bad token response: %w", err)
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return "", 0, errors.New("mpesa: token response missing access_token")
	}

	ttlSeconds, err := strconv.Atoi(strings.TrimSpace(out.ExpiresIn))
	if err != nil || ttlSeconds <= 0 {
		ttlSeconds = 3600
	}
	return out.AccessToken, time.Duration(ttlSeconds) * time.Second, nil
}

// stkPassword derives the timestamped request password Daraja expects.
func stkPassword(shortcode, passkey string, ts time.Time) (password, timestamp string) {
	timestamp = ts.Format("20060102150405")
	password = base64.StdEncoding.EncodeToString([]byte(shortcode + passkey + timestamp))
	return password, timestamp
}

// NormalizePhone rewrites Kenyan MSISDN variants to the 254XXXXXXXXX form.
func NormalizePhone(phone string) string {
	p := strings.TrimSpace(phone)
	p = strings.ReplaceAll(p, " ", "")
	switch {
	case strings.HasPrefix(p, "+254"):
		return p[1:]
	case strings.HasPrefix(p, "254"):
		return p
	case strings.HasPrefix(p, "0"):
		return "254" + p[1:]
	default:
		return "254" + p
	}
}

// InitiateSTKPush submits a push-payment request. The push itself is never
// retried: a timed-out push may still land at the gateway, and resubmitting
// risks a double charge. Only the bearer token is refreshed on 401.
func (c *Client) InitiateSTKPush(ctx context.Context, tenantID uint, creds Credentials, phone string, amount decimal.Decimal, accountReference, description string) (*STKPushResponse, error) {
	if !creds.Complete() {
		return nil, ErrNotConfigured
	}

	token, err := c.AccessToken(ctx, tenantID, creds)
	if err != nil {
		return nil, err
	}

	password, timestamp := stkPassword(creds.Shortcode, creds.Passkey, c.now())
	payload := map[string]interface{}{
		"BusinessShortCode": creds.Shortcode,
		"Password":          password,
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            amount.IntPart(),
		"PartyA":            NormalizePhone(phone),
		"PartyB":            creds.Shortcode,
		"PhoneNumber":       NormalizePhone(phone),
		"CallBackURL":       fmt.Sprintf("%s/api/mpesa/callback/%d", c.CallbackBaseURL, tenantID),
		"AccountReference":  accountReference,
		"TransactionDesc":   description,
	}

	var out STKPushResponse
	status, err := c.postJSON(ctx, creds.Environment, "/mpesa/stkpush/v1/processrequest", token, payload, &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		// Token went stale between cache read and use; refresh once.
		c.InvalidateToken(tenantID)
		token, err = c.AccessToken(ctx, tenantID, creds)
		if err != nil {
			return nil, err
		}
		status, err = c.postJSON(ctx, creds.Environment, "/mpesa/stkpush/v1/processrequest", token, payload, &out)
		if err != nil {
			return nil, err
		}
	}
	if status < 200 || status >= 300 || out.ResponseCode != "0" {
		return nil, &GatewayError{StatusCode: status, Code: out.ResponseCode, Description: out.ResponseDescription}
	}
	if strings.TrimSpace(out.CheckoutRequestID) == "" {
		return nil, &GatewayError{StatusCode: status, Description: "push response missing CheckoutRequestID"}
	}
	return &out, nil
}

// QuerySTKStatus asks Daraja for the current state of an earlier push.
func (c *Client) QuerySTKStatus(ctx context.Context, tenantID uint, creds Credentials, checkoutRequestID string) (*STKQueryResponse, error) {
	if !creds.Complete() {
		return nil, ErrNotConfigured
	}

	token, err := c.AccessToken(ctx, tenantID, creds)
	if err != nil {
		return nil, err
	}

	password, timestamp := stkPassword(creds.Shortcode, creds.Passkey, c.now())
	payload := map[string]interface{}{
		"BusinessShortCode": creds.Shortcode,
		"Password":          password,
		"Timestamp":         timestamp,
		"CheckoutRequestID": checkoutRequestID,
	}

	var out STKQueryResponse
	status, err := c.postJSON(ctx, creds.Environment, "/mpesa/stkpushquery/v1/query", token, payload, &out)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &GatewayError{StatusCode: status, Description: out.ResponseDescription}
	}
	return &out, nil
}

func (c *Client) postJSON(ctx context.Context, environment, path, token string, payload interface{}, out interface{}) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL(environment)+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if len(raw) > 0 {
		// Daraja returns a JSON body on both success and failure paths.
		_ = json.Unmarshal(raw, out)
	}
	return resp.StatusCode, nil
}
