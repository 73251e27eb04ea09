package models

import (
	"time"

	"gorm.io/gorm"
)

// Child is a registrant the run fills provider forms for.
type Child struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UserID    uint           `gorm:"not null;index" json:"user_id"`
	User      User           `gorm:"foreignKey:UserID" json:"-"`
	FirstName string         `gorm:"type:varchar(100);not null" json:"first_name" validate:"required,max=100"`
	LastName  string         `gorm:"type:varchar(100);not null" json:"last_name" validate:"required,max=100"`
	BirthYear int            `gorm:"not null" json:"birth_year" validate:"min=1990,max=2030"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// FullName returns the display name used when filling registration forms.
func (c *Child) FullName() string {
	return c.FirstName + " " + c.LastName
}
