package models

import (
	"time"
)

// Run lifecycle states. Succeeded, failed and abandoned are terminal.
const (
	RunStatusIdle                 = "idle"
	RunStatusLoggingIn            = "logging_in"
	RunStatusSelectingPrograms    = "selecting_programs"
	RunStatusAddingToCart         = "adding_to_cart"
	RunStatusAwaitingVerification = "awaiting_verification"
	RunStatusCheckingOut          = "checking_out"
	RunStatusSucceeded            = "succeeded"
	RunStatusFailed               = "failed"
	RunStatusAbandoned            = "abandoned"
)

const (
	ItemStatusPending = "pending"
	ItemStatusAdded   = "added"
	ItemStatusFailed  = "failed"
)

// RegistrationRun is one end-to-end attempt to register a set of
// (child, session) line items for one user on one provider.
type RegistrationRun struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	UUID           string `gorm:"type:varchar(36);uniqueIndex;not null" json:"uuid"`
	UserID         uint   `gorm:"not null;index:idx_runs_user_plan,priority:1" json:"user_id"`
	PlanKey        string `gorm:"type:varchar(100);not null;index:idx_runs_user_plan,priority:2" json:"plan_key"`
	ProviderKey    string `gorm:"type:varchar(50);not null;index" json:"provider_key"`
	ProviderURL    string `gorm:"type:varchar(500);not null" json:"provider_url"`
	CredentialsRef string `gorm:"type:varchar(191)" json:"-"`
	Status         string `gorm:"type:varchar(32);not null;default:'idle';index" json:"status"`
	// PausedStep records the step interrupted by a challenge so resume can
	// return to it instead of restarting.
	PausedStep string             `gorm:"type:varchar(32);default:null" json:"paused_step,omitempty"`
	LastError  string             `gorm:"type:text" json:"last_error,omitempty"`
	Items      []RegistrationItem `gorm:"foreignKey:RunID" json:"items"`
	// Charges is filled from the payment ledger when the run is read over
	// the API, it is not a persisted column.
	Charges   []PaymentCharge `gorm:"-" json:"charges,omitempty"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// RegistrationItem is one ordered (child, target session) pair in a run.
type RegistrationItem struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	RunID      uint            `gorm:"not null;index" json:"run_id"`
	ChildID    uint            `gorm:"not null" json:"child_id"`
	Child      Child           `gorm:"foreignKey:ChildID" json:"child,omitempty"`
	SessionID  uint            `gorm:"not null" json:"session_id"`
	Session    ActivitySession `gorm:"foreignKey:SessionID" json:"session,omitempty"`
	Position   int             `gorm:"not null;default:0" json:"position"`
	Status     string          `gorm:"type:varchar(32);not null;default:'pending'" json:"status"`
	FailReason string          `gorm:"type:text" json:"fail_reason,omitempty"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the run reached a final state.
func (r *RegistrationRun) IsTerminal() bool {
	switch r.Status {
	case RunStatusSucceeded, RunStatusFailed, RunStatusAbandoned:
		return true
	}
	return false
}
