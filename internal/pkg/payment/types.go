package payment

import "github.com/go-playground/validator/v10"

// Outcome summarizes one callback or reconciliation pass. Duplicate
// deliveries report the same terminal state as the first delivery; the HTTP
// layer never exposes the distinction to the gateway.
type Outcome struct {
	IntentID   string
	Status     string
	Duplicate  bool
	TicketID   string
	TicketCode string
}

// InitiateInput is the validated request to start a push payment.
type InitiateInput struct {
	PlanID      uint   `json:"plan_id" validate:"required"`
	PhoneNumber string `json:"phone_number" validate:"required,min=9,max=15"`
}

func (in *InitiateInput) Validate() error {
	v := validator.New()
	return v.Struct(in)
}

// CredentialInput carries plaintext Daraja credentials exactly once, on the
// way into the vault.
type CredentialInput struct {
	ConsumerKey    string `json:"consumer_key" validate:"required"`
	ConsumerSecret string `json:"consumer_secret" validate:"required"`
	Shortcode      string `json:"shortcode" validate:"required"`
	Passkey        string `json:"passkey" validate:"required"`
	Environment    string `json:"environment" validate:"omitempty,oneof=sandbox live"`
	WebhookSecret  string `json:"webhook_secret"`
}

func (in *CredentialInput) Validate() error {
	v := validator.New()
	return v.Struct(in)
}

// PlanInput creates or replaces a sellable access package.
type PlanInput struct {
	Name            string `json:"name" validate:"required,min=1,max=100"`
	Kind            string `json:"kind" validate:"required,oneof=time data"`
	DurationMinutes uint   `json:"duration_minutes" validate:"required_if=Kind time"`
	DataLimitMB     uint   `json:"data_limit_mb" validate:"required_if=Kind data"`
	Price           string `json:"price" validate:"required"`
	Currency        string `json:"currency" validate:"omitempty,len=3"`
}

func (in *PlanInput) Validate() error {
	v := validator.New()
	return v.Struct(in)
}
