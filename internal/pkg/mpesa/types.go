package mpesa

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedCallback rejects callback payloads that cannot be decoded or
// that lack a CheckoutRequestID. Mapped to 400 at the HTTP layer.
var ErrMalformedCallback = errors.New("mpesa: malformed callback payload")

// Credentials is the decrypted Daraja credential set for one tenant. It only
// ever lives in memory; the vault-encrypted form is what hits the database.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	Shortcode      string
	Passkey        string
	Environment    string
}

// Complete reports whether every field required for an STK push is present.
func (c Credentials) Complete() bool {
	return c.ConsumerKey != "" && c.ConsumerSecret != "" && c.Shortcode != "" && c.Passkey != ""
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// STKPushResponse is Daraja's synchronous answer to a push request.
type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// STKQueryResponse is the on-demand status of an earlier push.
type STKQueryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

// CallbackResult is the normalized content of an asynchronous stkCallback
// delivery. Metadata items are present only on success.
type CallbackResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	ReceiptNumber     string
	AmountPaid        float64
	PhoneNumber       string
}

// Succeeded reports whether the gateway confirmed the charge.
func (r *CallbackResult) Succeeded() bool {
	return r.ResultCode == 0
}

type callbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string      `json:"Name"`
					Value interface{} `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseCallback decodes a raw Daraja callback body. A payload without a
// CheckoutRequestID is malformed and rejected.
func ParseCallback(raw []byte) (*CallbackResult, error) {
	var envelope callbackEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}

	cb := envelope.Body.StkCallback
	if strings.TrimSpace(cb.CheckoutRequestID) == "" {
		return nil, fmt.Errorf("%w: missing CheckoutRequestID", ErrMalformedCallback)
	}

	out := &CallbackResult{
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
	}

	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "MpesaReceiptNumber":
			if s, ok := item.Value.(string); ok {
				out.ReceiptNumber = s
			}
		case "Amount":
			if f, ok := item.Value.(float64); ok {
				out.AmountPaid = f
			}
		case "PhoneNumber":
			switch v := item.Value.(type) {
			case string:
				out.PhoneNumber = v
			case float64:
				out.PhoneNumber = fmt.Sprintf("%.0f", v)
			}
		}
	}

	return out, nil
}
