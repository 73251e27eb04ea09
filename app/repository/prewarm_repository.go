package repository

import (
	"time"

	"github.com/davidkroell/SpotRush/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// prewarmRepository implements the PrewarmRepository interface
type prewarmRepository struct {
	db *gorm.DB
}

// NewPrewarmRepository creates a new prewarm job repository instance
func NewPrewarmRepository(db *gorm.DB) PrewarmRepository {
	return &prewarmRepository{db: db}
}

func (r *prewarmRepository) Upsert(job *models.PrewarmJob) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "session_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"prewarm_at",
			"status",
			"last_error",
			"updated_at",
		}),
	}).Create(job).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("session_id = ?", job.SessionID).First(job).Error
}

func (r *prewarmRepository) GetBySessionID(sessionID uint) (*models.PrewarmJob, error) {
	var job models.PrewarmJob
	err := r.db.Where("session_id = ?", sessionID).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *prewarmRepository) SetStatus(sessionID uint, status, lastError string) error {
	return r.db.Model(&models.PrewarmJob{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]interface{}{
			"status":     status,
			"last_error": lastError,
		}).Error
}

func (r *prewarmRepository) ListDue(now time.Time, limit int) ([]models.PrewarmJob, error) {
	var jobs []models.PrewarmJob
	err := r.db.Where("status = ? AND prewarm_at <= ?", models.PrewarmStatusScheduled, now).
		Order("prewarm_at").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}
