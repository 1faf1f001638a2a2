package models

import "time"

// Gateway environment constants used across credential-related models.
const (
	MpesaEnvSandbox = "sandbox"
	MpesaEnvLive    = "live"
)

// TenantCredential stores a tenant's Daraja API credentials. All secret
// columns hold vault ciphertext, never plaintext.
type TenantCredential struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	TenantID          uint      `gorm:"not null;uniqueIndex:ux_tenant_credentials_tenant" json:"tenant_id"`
	ConsumerKeyEnc    string    `gorm:"type:text;not null" json:"-"`
	ConsumerSecretEnc string    `gorm:"type:text;not null" json:"-"`
	ShortcodeEnc      string    `gorm:"type:text;not null" json:"-"`
	PasskeyEnc        string    `gorm:"type:text;not null" json:"-"`
	Environment       string    `gorm:"type:varchar(10);not null;default:'sandbox'" json:"environment"`
	WebhookSecret     string    `gorm:"type:varchar(191);default:''" json:"-"`
	Verified          bool      `gorm:"default:false" json:"verified"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (TenantCredential) TableName() string {
	return "tenant_credentials"
}
