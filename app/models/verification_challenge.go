package models

import "time"

const (
	ChannelSMS   = "sms"
	ChannelEmail = "email"
)

// VerificationChallenge is one outstanding request for human input tied to a
// paused run. The one-time code is never stored in plaintext, only its
// SHA-256 hash. At most one unconsumed, unexpired challenge exists per run.
type VerificationChallenge struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	RunUUID           string     `gorm:"type:varchar(36);not null;index" json:"run_uuid"`
	Channel           string     `gorm:"type:varchar(10);not null" json:"channel" validate:"oneof=sms email"`
	DestinationMasked string     `gorm:"type:varchar(200);not null" json:"destination_masked"`
	CodeHash          string     `gorm:"type:varchar(64);not null" json:"-"`
	DeliveryID        string     `gorm:"type:varchar(191)" json:"-"`
	Consumed          bool       `gorm:"not null;default:false;index" json:"consumed"`
	ConsumedAt        *time.Time `gorm:"type:timestamp;default:null" json:"consumed_at,omitempty"`
	IssuedAt          time.Time  `gorm:"not null" json:"issued_at"`
	ExpiresAt         time.Time  `gorm:"not null" json:"expires_at"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsExpired reports whether the code's own TTL passed. This is distinct from
// the paused snapshot's resume window.
func (c *VerificationChallenge) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
