package repository

import (
	"errors"

	"github.com/davidkroell/SpotRush/app/models"
	"gorm.io/gorm"
)

// ErrActiveRunExists signals that a non-terminal run already exists for the
// same (user, plan). At most one may be in flight at a time.
var ErrActiveRunExists = errors.New("an active registration run already exists for this plan")

var terminalRunStatuses = []string{
	models.RunStatusSucceeded,
	models.RunStatusFailed,
	models.RunStatusAbandoned,
}

// runRepository implements the RunRepository interface
type runRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a new registration run repository instance
func NewRunRepository(db *gorm.DB) RunRepository {
	return &runRepository{db: db}
}

func (r *runRepository) Create(run *models.RegistrationRun) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&models.RegistrationRun{}).
			Where("user_id = ? AND plan_key = ? AND status NOT IN ?", run.UserID, run.PlanKey, terminalRunStatuses).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrActiveRunExists
		}
		return tx.Create(run).Error
	})
}

func (r *runRepository) GetByUUID(uuid string) (*models.RegistrationRun, error) {
	var run models.RegistrationRun
	err := r.db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("position")
	}).Preload("Items.Child").Preload("Items.Session").
		Where("uuid = ?", uuid).First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *runRepository) Update(run *models.RegistrationRun) error {
	return r.db.Save(run).Error
}

func (r *runRepository) SetStatus(runUUID, status string) error {
	return r.db.Model(&models.RegistrationRun{}).
		Where("uuid = ?", runUUID).
		Update("status", status).Error
}

func (r *runRepository) CASStatus(runUUID, from, to string) (bool, error) {
	tx := r.db.Model(&models.RegistrationRun{}).
		Where("uuid = ? AND status = ?", runUUID, from).
		Update("status", to)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *runRepository) HasActiveRun(userID uint, planKey string) (bool, error) {
	var count int64
	err := r.db.Model(&models.RegistrationRun{}).
		Where("user_id = ? AND plan_key = ? AND status NOT IN ?", userID, planKey, terminalRunStatuses).
		Count(&count).Error
	return count > 0, err
}

func (r *runRepository) UpdateItem(item *models.RegistrationItem) error {
	return r.db.Save(item).Error
}
