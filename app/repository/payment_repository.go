package repository

import (
	"github.com/davidkroell/SpotRush/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// paymentRepository implements the PaymentRepository interface
type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new payment charge repository instance
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Create(charge *models.PaymentCharge) error {
	return r.db.Create(charge).Error
}

func (r *paymentRepository) ListByRun(runUUID string) ([]models.PaymentCharge, error) {
	var charges []models.PaymentCharge
	err := r.db.Where("run_uuid = ?", runUUID).Order("id").Find(&charges).Error
	return charges, err
}

func (r *paymentRepository) ExistsForRunAndType(runUUID, chargeType string) (bool, error) {
	var count int64
	err := r.db.Model(&models.PaymentCharge{}).
		Where("run_uuid = ? AND charge_type = ?", runUUID, chargeType).
		Count(&count).Error
	return count > 0, err
}

// patternRepository implements the PatternRepository interface
type patternRepository struct {
	db *gorm.DB
}

// NewPatternRepository creates a new provider pattern repository instance
func NewPatternRepository(db *gorm.DB) PatternRepository {
	return &patternRepository{db: db}
}

func (r *patternRepository) GetByProvider(providerKey string) (*models.ProviderPattern, error) {
	var pattern models.ProviderPattern
	err := r.db.Where("provider_key = ?", providerKey).First(&pattern).Error
	if err != nil {
		return nil, err
	}
	return &pattern, nil
}

func (r *patternRepository) Upsert(pattern *models.ProviderPattern) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider_key"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"challenge_frequency",
			"observations",
			"avg_seconds_to_challenge",
			"peak_hours_json",
			"updated_at",
		}),
	}).Create(pattern).Error; err != nil {
		return err
	}

	return r.db.Where("provider_key = ?", pattern.ProviderKey).First(pattern).Error
}
