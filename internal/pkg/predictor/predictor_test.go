package predictor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/davidkroell/SpotRush/app/models"
)

type memStore struct {
	patterns map[string]*models.ProviderPattern
}

func newMemStore() *memStore {
	return &memStore{patterns: map[string]*models.ProviderPattern{}}
}

func (s *memStore) GetByProvider(providerKey string) (*models.ProviderPattern, error) {
	if p, ok := s.patterns[providerKey]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *memStore) Upsert(pattern *models.ProviderPattern) error {
	cp := *pattern
	s.patterns[pattern.ProviderKey] = &cp
	return nil
}

func intPtr(v int) *int { return &v }

func TestPredict_UnknownProviderDefault(t *testing.T) {
	p := New(newMemStore())

	pred := p.Predict("never-seen", Context{At: time.Now()})

	assert.Equal(t, 0.3, pred.Likelihood)
	assert.Equal(t, 0.5, pred.Confidence)
	assert.Equal(t, ActionMonitor, pred.RecommendedAction)
}

func TestPredict_HighRiskPeakHourRecommendsPreNotify(t *testing.T) {
	store := newMemStore()
	pattern := &models.ProviderPattern{
		ProviderKey:        models.ProviderSkiClubPro,
		ChallengeFrequency: 90,
		Observations:       30,
	}
	require.NoError(t, pattern.SetPeakHours([]int{10}))
	require.NoError(t, store.Upsert(pattern))

	p := New(store)
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	pred := p.Predict(models.ProviderSkiClubPro, Context{At: at, QueuePosition: intPtr(150)})

	// 0.25*1.0 + 0.35*0.9 + 0.30*0.9 + 0.10*0 = 0.835
	assert.InDelta(t, 0.835, pred.Likelihood, 0.0001)
	assert.Greater(t, pred.Confidence, 0.7)
	assert.Equal(t, ActionPreNotify, pred.RecommendedAction)
}

func TestPredict_OffPeakLowQueueRecommendsMonitor(t *testing.T) {
	store := newMemStore()
	pattern := &models.ProviderPattern{
		ProviderKey:        models.ProviderJackrabbit,
		ChallengeFrequency: 20,
		Observations:       10,
	}
	require.NoError(t, pattern.SetPeakHours([]int{17, 18}))
	require.NoError(t, store.Upsert(pattern))

	p := New(store)
	at := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	pred := p.Predict(models.ProviderJackrabbit, Context{At: at, QueuePosition: intPtr(5)})

	assert.Equal(t, ActionMonitor, pred.RecommendedAction)
	assert.Less(t, pred.Likelihood, 0.5)
}

func TestQueueLoadFactor_Steps(t *testing.T) {
	tests := []struct {
		name     string
		position *int
		expected float64
	}{
		{"No position", nil, 0.2},
		{"Above 100", intPtr(101), 0.9},
		{"Above 50", intPtr(51), 0.7},
		{"Above 20", intPtr(21), 0.5},
		{"At or below 20", intPtr(20), 0.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, queueLoadFactor(tt.position))
		})
	}
}

func TestUpdate_FoldsObservationIntoEMA(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Upsert(&models.ProviderPattern{
		ProviderKey:        models.ProviderJackrabbit,
		ChallengeFrequency: 50,
		Observations:       4,
	}))

	p := New(store)
	require.NoError(t, p.Update(models.ProviderJackrabbit, Observation{ChallengeAppeared: true, SecondsToChallenge: 30}))

	got, err := store.GetByProvider(models.ProviderJackrabbit)
	require.NoError(t, err)
	// 50*0.9 + 100*0.1 = 55
	assert.InDelta(t, 55.0, got.ChallengeFrequency, 0.0001)
	assert.Equal(t, 5, got.Observations)
	assert.InDelta(t, 6.0, got.AvgSecondsToChallenge, 0.0001) // (0*4 + 30) / 5
}

func TestUpdate_CreatesPatternForNewProvider(t *testing.T) {
	store := newMemStore()
	p := New(store)

	require.NoError(t, p.Update("fresh", Observation{ChallengeAppeared: false}))

	got, err := store.GetByProvider("fresh")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Observations)
	assert.Equal(t, 0.0, got.ChallengeFrequency)
}
