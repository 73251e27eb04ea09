package prewarm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/davidkroell/SpotRush/app/models"
)

type fakeSessionRepo struct {
	sessions map[uint]*models.ActivitySession
}

func (f *fakeSessionRepo) Create(s *models.ActivitySession) error { return nil }
func (f *fakeSessionRepo) GetByID(id uint) (*models.ActivitySession, error) {
	if s, ok := f.sessions[id]; ok {
		return s, nil
	}
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeSessionRepo) Update(s *models.ActivitySession) error { return nil }

type fakePrewarmRepo struct {
	jobs map[uint]*models.PrewarmJob
}

func newFakePrewarmRepo() *fakePrewarmRepo {
	return &fakePrewarmRepo{jobs: make(map[uint]*models.PrewarmJob)}
}

func (f *fakePrewarmRepo) Upsert(job *models.PrewarmJob) error {
	if existing, ok := f.jobs[job.SessionID]; ok {
		existing.PrewarmAt = job.PrewarmAt
		existing.Status = job.Status
		existing.LastError = job.LastError
		*job = *existing
		return nil
	}
	job.ID = uint(len(f.jobs) + 1)
	f.jobs[job.SessionID] = job
	return nil
}

func (f *fakePrewarmRepo) GetBySessionID(sessionID uint) (*models.PrewarmJob, error) {
	if j, ok := f.jobs[sessionID]; ok {
		return j, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakePrewarmRepo) SetStatus(sessionID uint, status, lastError string) error {
	if j, ok := f.jobs[sessionID]; ok {
		j.Status = status
		j.LastError = lastError
	}
	return nil
}

func (f *fakePrewarmRepo) ListDue(now time.Time, limit int) ([]models.PrewarmJob, error) {
	var due []models.PrewarmJob
	for _, j := range f.jobs {
		if j.IsDue(now) && len(due) < limit {
			due = append(due, *j)
		}
	}
	return due, nil
}

func okCheck(name string) Check {
	return Check{Name: name, Probe: func(ctx context.Context) error { return nil }}
}

func failCheck(name string) Check {
	return Check{Name: name, Probe: func(ctx context.Context) error {
		return errors.New(name + " unreachable")
	}}
}

func sessionOpening(at time.Time) map[uint]*models.ActivitySession {
	return map[uint]*models.ActivitySession{
		1: {ID: 1, ProviderKey: models.ProviderJackrabbit, RegistrationOpensAt: &at},
	}
}

func TestScheduleUsesLeadWindow(t *testing.T) {
	opens := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	jobs := newFakePrewarmRepo()
	s := NewScheduler(&fakeSessionRepo{sessions: sessionOpening(opens)}, jobs, nil)

	job, err := s.Schedule(1)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 9, 59, 0, 0, time.UTC), job.PrewarmAt)
	assert.Equal(t, models.PrewarmStatusScheduled, job.Status)
}

func TestScheduleTwiceReplaces(t *testing.T) {
	opens := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	sessions := &fakeSessionRepo{sessions: sessionOpening(opens)}
	jobs := newFakePrewarmRepo()
	s := NewScheduler(sessions, jobs, nil)

	first, err := s.Schedule(1)
	require.NoError(t, err)

	later := opens.Add(2 * time.Hour)
	sessions.sessions[1].RegistrationOpensAt = &later
	second, err := s.Schedule(1)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, later.Add(-DefaultLead), second.PrewarmAt)
	assert.Len(t, jobs.jobs, 1)
}

func TestScheduleWithoutOpeningTime(t *testing.T) {
	s := NewScheduler(&fakeSessionRepo{sessions: map[uint]*models.ActivitySession{
		1: {ID: 1},
	}}, newFakePrewarmRepo(), nil)

	_, err := s.Schedule(1)
	assert.ErrorIs(t, err, ErrNoOpeningTime)
}

func TestTriggerAllChecksPass(t *testing.T) {
	opens := time.Now().Add(time.Minute)
	jobs := newFakePrewarmRepo()
	s := NewScheduler(&fakeSessionRepo{sessions: sessionOpening(opens)}, jobs, []Check{
		okCheck("provider_reachable"),
		okCheck("database"),
		okCheck("automation_backend"),
	})
	_, err := s.Schedule(1)
	require.NoError(t, err)

	result, err := s.Trigger(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, result.Ready)
	assert.InDelta(t, 1.0, result.Score, 0.0001)
	assert.Equal(t, models.PrewarmStatusDone, jobs.jobs[1].Status)
}

func TestTriggerScoreIsPassRatio(t *testing.T) {
	opens := time.Now().Add(time.Minute)
	jobs := newFakePrewarmRepo()
	s := NewScheduler(&fakeSessionRepo{sessions: sessionOpening(opens)}, jobs, []Check{
		okCheck("provider_reachable"),
		okCheck("database"),
		okCheck("automation_backend"),
		okCheck("dns"),
		failCheck("cdn_edge"),
	})
	_, err := s.Schedule(1)
	require.NoError(t, err)

	result, err := s.Trigger(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, result.Ready)
	assert.InDelta(t, 0.8, result.Score, 0.0001)
	assert.Equal(t, "cdn_edge unreachable", result.Checks["cdn_edge"])
	assert.Equal(t, models.PrewarmStatusDone, jobs.jobs[1].Status)
}

func TestTriggerBelowBar(t *testing.T) {
	opens := time.Now().Add(time.Minute)
	jobs := newFakePrewarmRepo()
	s := NewScheduler(&fakeSessionRepo{sessions: sessionOpening(opens)}, jobs, []Check{
		failCheck("provider_reachable"),
		okCheck("database"),
		okCheck("automation_backend"),
	})
	_, err := s.Schedule(1)
	require.NoError(t, err)

	result, err := s.Trigger(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, result.Ready)
	assert.Equal(t, models.PrewarmStatusError, jobs.jobs[1].Status)
	assert.Contains(t, jobs.jobs[1].LastError, "readiness score")
}

func TestTriggerMissingSessionIsFatal(t *testing.T) {
	jobs := newFakePrewarmRepo()
	jobs.jobs[7] = &models.PrewarmJob{ID: 1, SessionID: 7, Status: models.PrewarmStatusScheduled}
	s := NewScheduler(&fakeSessionRepo{sessions: map[uint]*models.ActivitySession{}}, jobs, nil)

	_, err := s.Trigger(context.Background(), 7)
	assert.Error(t, err)
	assert.Equal(t, models.PrewarmStatusError, jobs.jobs[7].Status)
}

func TestTriggerUnscheduledSession(t *testing.T) {
	opens := time.Now().Add(time.Minute)
	s := NewScheduler(&fakeSessionRepo{sessions: sessionOpening(opens)}, newFakePrewarmRepo(), nil)

	_, err := s.Trigger(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotScheduled)
}

func TestDue(t *testing.T) {
	jobs := newFakePrewarmRepo()
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	jobs.jobs[1] = &models.PrewarmJob{SessionID: 1, PrewarmAt: past, Status: models.PrewarmStatusScheduled}
	jobs.jobs[2] = &models.PrewarmJob{SessionID: 2, PrewarmAt: future, Status: models.PrewarmStatusScheduled}
	jobs.jobs[3] = &models.PrewarmJob{SessionID: 3, PrewarmAt: past, Status: models.PrewarmStatusDone}

	s := NewScheduler(&fakeSessionRepo{}, jobs, nil)
	due, err := s.Due(10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, uint(1), due[0].SessionID)
}
