package models

import "time"

const (
	PauseStatusPaused  = "paused"
	PauseStatusResumed = "resumed"
	PauseStatusExpired = "expired"
)

// PausedSessionState is the durable snapshot of an interrupted run: everything
// needed to put the automation session back exactly where the challenge
// stopped it. The resume token is opaque, unguessable and single-use; status
// transitions paused -> resumed exactly once via compare-and-set.
type PausedSessionState struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	RunUUID            string    `gorm:"type:varchar(36);not null;index" json:"run_uuid"`
	ResumeToken        string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`
	PageURL            string    `gorm:"type:varchar(1000)" json:"page_url"`
	QueuePosition      *int      `gorm:"default:null" json:"queue_position,omitempty"`
	FormValuesJSON     string    `gorm:"type:longtext" json:"-"`
	CookieBlob         string    `gorm:"type:longtext" json:"-"`
	LocalStorageJSON   string    `gorm:"type:longtext" json:"-"`
	SessionStorageJSON string    `gorm:"type:longtext" json:"-"`
	Referrer           string    `gorm:"type:varchar(1000)" json:"referrer,omitempty"`
	ScrollY            int       `gorm:"default:0" json:"scroll_y"`
	ScreenshotKey      string    `gorm:"type:varchar(500)" json:"screenshot_key,omitempty"` // S3 evidence object, best effort
	Status             string    `gorm:"type:varchar(16);not null;default:'paused';index" json:"status"`
	PausedAt           time.Time `gorm:"not null" json:"paused_at"`
	ExpiresAt          time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsExpired reports whether the resume window closed at the given instant.
func (p *PausedSessionState) IsExpired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}
