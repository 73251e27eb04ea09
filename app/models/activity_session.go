package models

import (
	"strings"
	"time"
)

const (
	ProviderJackrabbit = "jackrabbit"
	ProviderSkiClubPro = "skiclubpro"
)

// ActivitySession is one capacity-limited session at an activity provider.
// ProgramText, TimeText and Aliases form the corpus the executor fuzzy-matches
// against the live program listing.
type ActivitySession struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	ProviderKey         string     `gorm:"type:varchar(50);not null;index" json:"provider_key" validate:"required"`
	ProviderURL         string     `gorm:"type:varchar(500);not null" json:"provider_url" validate:"required,url"`
	ProgramText         string     `gorm:"type:varchar(500);not null" json:"program_text" validate:"required"`
	TimeText            string     `gorm:"type:varchar(200)" json:"time_text"`
	Aliases             string     `gorm:"type:text" json:"aliases"` // comma separated alternate program names
	RegistrationOpensAt *time.Time `gorm:"type:timestamp;default:null;index" json:"registration_opens_at"`
	UpfrontFeeCents     int64      `gorm:"default:0" json:"upfront_fee_cents"`
	CredentialsRef      string     `gorm:"type:varchar(191)" json:"-"` // opaque, resolved by the credentials vault
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// AliasList splits the comma separated alias column.
func (s *ActivitySession) AliasList() []string {
	if s.Aliases == "" {
		return nil
	}
	parts := strings.Split(s.Aliases, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
