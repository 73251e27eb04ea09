package repository

import (
	"time"

	"github.com/davidkroell/SpotRush/app/models"
	"gorm.io/gorm"
)

// pauseRepository implements the PauseRepository interface
type pauseRepository struct {
	db *gorm.DB
}

// NewPauseRepository creates a new paused session state repository instance
func NewPauseRepository(db *gorm.DB) PauseRepository {
	return &pauseRepository{db: db}
}

func (r *pauseRepository) Create(state *models.PausedSessionState) error {
	return r.db.Create(state).Error
}

func (r *pauseRepository) GetLatestByRun(runUUID string) (*models.PausedSessionState, error) {
	var state models.PausedSessionState
	err := r.db.Where("run_uuid = ?", runUUID).Order("id DESC").First(&state).Error
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *pauseRepository) GetByToken(token string) (*models.PausedSessionState, error) {
	var state models.PausedSessionState
	err := r.db.Where("resume_token = ?", token).First(&state).Error
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *pauseRepository) Update(state *models.PausedSessionState) error {
	return r.db.Save(state).Error
}

func (r *pauseRepository) CASStatus(id uint, from, to string) (bool, error) {
	tx := r.db.Model(&models.PausedSessionState{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *pauseRepository) ExtendExpiry(runUUID string, d time.Duration) error {
	state, err := r.GetLatestByRun(runUUID)
	if err != nil {
		return err
	}
	return r.db.Model(&models.PausedSessionState{}).
		Where("id = ? AND status = ?", state.ID, models.PauseStatusPaused).
		Update("expires_at", state.ExpiresAt.Add(d)).Error
}

func (r *pauseRepository) SweepExpired(now time.Time) (int64, error) {
	tx := r.db.Model(&models.PausedSessionState{}).
		Where("status = ? AND expires_at < ?", models.PauseStatusPaused, now).
		Update("status", models.PauseStatusExpired)
	return tx.RowsAffected, tx.Error
}

// challengeRepository implements the ChallengeRepository interface
type challengeRepository struct {
	db *gorm.DB
}

// NewChallengeRepository creates a new verification challenge repository instance
func NewChallengeRepository(db *gorm.DB) ChallengeRepository {
	return &challengeRepository{db: db}
}

func (r *challengeRepository) Create(ch *models.VerificationChallenge) error {
	return r.db.Create(ch).Error
}

func (r *challengeRepository) Update(ch *models.VerificationChallenge) error {
	return r.db.Save(ch).Error
}

func (r *challengeRepository) GetActiveByRun(runUUID string) (*models.VerificationChallenge, error) {
	var ch models.VerificationChallenge
	err := r.db.Where("run_uuid = ? AND consumed = ?", runUUID, false).
		Order("id DESC").First(&ch).Error
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (r *challengeRepository) InvalidatePendingForRun(runUUID string) error {
	now := time.Now()
	return r.db.Model(&models.VerificationChallenge{}).
		Where("run_uuid = ? AND consumed = ?", runUUID, false).
		Updates(map[string]interface{}{
			"consumed":    true,
			"consumed_at": &now,
		}).Error
}

func (r *challengeRepository) Consume(id uint) (bool, error) {
	now := time.Now()
	tx := r.db.Model(&models.VerificationChallenge{}).
		Where("id = ? AND consumed = ?", id, false).
		Updates(map[string]interface{}{
			"consumed":    true,
			"consumed_at": &now,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
