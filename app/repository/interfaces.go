package repository

import (
	"time"

	"github.com/davidkroell/SpotRush/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	Update(user *models.User) error
}

// ChildRepository defines the interface for child registrant lookups
type ChildRepository interface {
	Create(child *models.Child) error
	GetByID(id uint) (*models.Child, error)
	GetByUserID(userID uint) ([]models.Child, error)
}

// SessionRepository defines the interface for activity session operations
type SessionRepository interface {
	Create(session *models.ActivitySession) error
	GetByID(id uint) (*models.ActivitySession, error)
	Update(session *models.ActivitySession) error
}

// RunRepository defines the interface for registration run operations
type RunRepository interface {
	// Create inserts a run with its items. It fails with ErrActiveRunExists
	// when a non-terminal run already exists for the same (user, plan).
	Create(run *models.RegistrationRun) error
	GetByUUID(uuid string) (*models.RegistrationRun, error)
	Update(run *models.RegistrationRun) error
	// SetStatus unconditionally moves a run to the given status.
	SetStatus(runUUID, status string) error
	// CASStatus moves a run from one status to another and reports whether
	// this caller performed the transition.
	CASStatus(runUUID, from, to string) (bool, error)
	HasActiveRun(userID uint, planKey string) (bool, error)
	UpdateItem(item *models.RegistrationItem) error
}

// PrewarmRepository defines the interface for prewarm job operations
type PrewarmRepository interface {
	// Upsert replaces any existing job for the same session id.
	Upsert(job *models.PrewarmJob) error
	GetBySessionID(sessionID uint) (*models.PrewarmJob, error)
	SetStatus(sessionID uint, status, lastError string) error
	ListDue(now time.Time, limit int) ([]models.PrewarmJob, error)
}

// PauseRepository defines the interface for paused session snapshots
type PauseRepository interface {
	Create(state *models.PausedSessionState) error
	GetLatestByRun(runUUID string) (*models.PausedSessionState, error)
	GetByToken(token string) (*models.PausedSessionState, error)
	Update(state *models.PausedSessionState) error
	// CASStatus flips the snapshot status only when it still holds `from`
	// and reports whether this caller won the transition.
	CASStatus(id uint, from, to string) (bool, error)
	// ExtendExpiry pushes the latest paused snapshot's window forward
	// without touching any other field.
	ExtendExpiry(runUUID string, d time.Duration) error
	// SweepExpired flips everything past its expiry to expired and returns
	// the number of rows touched.
	SweepExpired(now time.Time) (int64, error)
}

// ChallengeRepository defines the interface for verification challenges
type ChallengeRepository interface {
	Create(ch *models.VerificationChallenge) error
	Update(ch *models.VerificationChallenge) error
	GetActiveByRun(runUUID string) (*models.VerificationChallenge, error)
	// InvalidatePendingForRun consumes any prior unconsumed challenge so a
	// fresh issue leaves exactly one live challenge per run.
	InvalidatePendingForRun(runUUID string) error
	// Consume marks a challenge consumed only if it still is not, reporting
	// whether this caller performed the consumption.
	Consume(id uint) (bool, error)
}

// PaymentRepository defines the interface for charge records
type PaymentRepository interface {
	Create(charge *models.PaymentCharge) error
	ListByRun(runUUID string) ([]models.PaymentCharge, error)
	ExistsForRunAndType(runUUID, chargeType string) (bool, error)
}

// PatternRepository defines the interface for per-provider challenge history
type PatternRepository interface {
	GetByProvider(providerKey string) (*models.ProviderPattern, error)
	Upsert(pattern *models.ProviderPattern) error
}

// Repositories bundles all repository implementations
type Repositories struct {
	User      UserRepository
	Child     ChildRepository
	Session   SessionRepository
	Run       RunRepository
	Prewarm   PrewarmRepository
	Pause     PauseRepository
	Challenge ChallengeRepository
	Payment   PaymentRepository
	Pattern   PatternRepository
}
