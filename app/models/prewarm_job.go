package models

import "time"

const (
	PrewarmStatusScheduled = "scheduled"
	PrewarmStatusRunning   = "running"
	PrewarmStatusDone      = "done"
	PrewarmStatusError     = "error"
)

// PrewarmJob is a scheduled wake-up for a session's automation path, unique
// per session id. Rescheduling replaces the row, it never duplicates it.
type PrewarmJob struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID uint      `gorm:"not null;uniqueIndex" json:"session_id"`
	PrewarmAt time.Time `gorm:"not null;index" json:"prewarm_at"`
	Status    string    `gorm:"type:varchar(32);not null;default:'scheduled'" json:"status"`
	LastError string    `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsDue reports whether the wake time passed.
func (p *PrewarmJob) IsDue(now time.Time) bool {
	return p.Status == PrewarmStatusScheduled && !now.Before(p.PrewarmAt)
}
