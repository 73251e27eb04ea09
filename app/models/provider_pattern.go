package models

import (
	"encoding/json"
	"time"
)

// ProviderPattern holds the per-provider challenge history the predictor
// reads. ChallengeFrequency is an exponential moving average on a 0-100
// scale; AvgSecondsToChallenge averages how long after flow start challenges
// appeared. Advisory state only, updated with accumulate-and-store semantics.
type ProviderPattern struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	ProviderKey           string    `gorm:"type:varchar(50);uniqueIndex;not null" json:"provider_key"`
	ChallengeFrequency    float64   `gorm:"not null;default:0" json:"challenge_frequency"`
	Observations          int       `gorm:"not null;default:0" json:"observations"`
	AvgSecondsToChallenge float64   `gorm:"not null;default:0" json:"avg_seconds_to_challenge"`
	PeakHoursJSON         string    `gorm:"type:varchar(200)" json:"-"` // e.g. [9,10,17,18], provider-local hours
	CreatedAt             time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PeakHours decodes the stored peak hour list. An unparseable or empty column
// yields nil, which the predictor treats as "never peak".
func (p *ProviderPattern) PeakHours() []int {
	if p.PeakHoursJSON == "" {
		return nil
	}
	var hours []int
	if err := json.Unmarshal([]byte(p.PeakHoursJSON), &hours); err != nil {
		return nil
	}
	return hours
}

// SetPeakHours encodes the peak hour list into the JSON column.
func (p *ProviderPattern) SetPeakHours(hours []int) error {
	data, err := json.Marshal(hours)
	if err != nil {
		return err
	}
	p.PeakHoursJSON = string(data)
	return nil
}

// IsPeakHour reports whether the given hour is one of the provider's
// historical peak hours.
func (p *ProviderPattern) IsPeakHour(hour int) bool {
	for _, h := range p.PeakHours() {
		if h == hour {
			return true
		}
	}
	return false
}
