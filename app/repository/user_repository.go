package repository

import (
	"github.com/davidkroell/SpotRush/app/models"
	"gorm.io/gorm"
)

// userRepository implements the UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(user *models.User) error {
	return r.db.Create(user).Error
}

func (r *userRepository) GetByID(id uint) (*models.User, error) {
	var user models.User
	err := r.db.First(&user, id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByEmail(email string) (*models.User, error) {
	var user models.User
	err := r.db.Where("email = ?", email).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByAPIKeyHash(hash string) (*models.User, error) {
	var user models.User
	err := r.db.Where("api_key_hash = ?", hash).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) Update(user *models.User) error {
	return r.db.Save(user).Error
}

// childRepository implements the ChildRepository interface
type childRepository struct {
	db *gorm.DB
}

// NewChildRepository creates a new child repository instance
func NewChildRepository(db *gorm.DB) ChildRepository {
	return &childRepository{db: db}
}

func (r *childRepository) Create(child *models.Child) error {
	return r.db.Create(child).Error
}

func (r *childRepository) GetByID(id uint) (*models.Child, error) {
	var child models.Child
	err := r.db.First(&child, id).Error
	if err != nil {
		return nil, err
	}
	return &child, nil
}

func (r *childRepository) GetByUserID(userID uint) ([]models.Child, error) {
	var children []models.Child
	err := r.db.Where("user_id = ?", userID).Order("id").Find(&children).Error
	return children, err
}

// sessionRepository implements the SessionRepository interface
type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new activity session repository instance
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Create(session *models.ActivitySession) error {
	return r.db.Create(session).Error
}

func (r *sessionRepository) GetByID(id uint) (*models.ActivitySession, error) {
	var session models.ActivitySession
	err := r.db.First(&session, id).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepository) Update(session *models.ActivitySession) error {
	return r.db.Save(session).Error
}
