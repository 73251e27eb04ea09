package prewarm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/davidkroell/SpotRush/app/models"
	"github.com/davidkroell/SpotRush/app/repository"
)

// DefaultLead is how far ahead of the registration opening the warm-up
// fires. Enough for login and page caches, short enough to stay fresh.
const DefaultLead = 60 * time.Second

// MinReadinessScore is the check pass ratio a trigger must reach to report
// the session ready.
const MinReadinessScore = 0.8

var (
	ErrNoOpeningTime = errors.New("session has no registration opening time")
	ErrNotScheduled  = errors.New("no prewarm scheduled for session")
)

// Check is one readiness probe. All probes count equally toward the score.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Result is the outcome of a readiness evaluation.
type Result struct {
	SessionID uint              `json:"session_id"`
	Score     float64           `json:"score"`
	Ready     bool              `json:"ready"`
	Checks    map[string]string `json:"checks"`
}

// Scheduler plans and fires pre-registration warm-ups.
type Scheduler struct {
	sessions repository.SessionRepository
	jobs     repository.PrewarmRepository
	checks   []Check
	lead     time.Duration
	now      func() time.Time
}

// NewScheduler builds a scheduler with the given readiness checks.
func NewScheduler(sessions repository.SessionRepository, jobs repository.PrewarmRepository, checks []Check) *Scheduler {
	return &Scheduler{
		sessions: sessions,
		jobs:     jobs,
		checks:   checks,
		lead:     DefaultLead,
		now:      time.Now,
	}
}

// DefaultChecks are the standard probes: the provider site answers, the
// database answers, the automation backend answers.
func DefaultChecks(providerURL string, db *gorm.DB, automationHealth func(ctx context.Context) error) []Check {
	return []Check{
		{
			Name: "provider_reachable",
			Probe: func(ctx context.Context) error {
				req, err := http.NewRequestWithContext(ctx, http.MethodHead, providerURL, nil)
				if err != nil {
					return err
				}
				resp, err := http.DefaultClient.Do(req)
				if err != nil {
					return err
				}
				defer resp.Body.Close()
				if resp.StatusCode >= 500 {
					return fmt.Errorf("provider returned %d", resp.StatusCode)
				}
				return nil
			},
		},
		{
			Name: "database",
			Probe: func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
		},
		{
			Name:  "automation_backend",
			Probe: automationHealth,
		},
	}
}

// Schedule plans (or replans) the warm-up for a session at opening minus the
// lead window. Scheduling twice replaces the previous plan.
func (s *Scheduler) Schedule(sessionID uint) (*models.PrewarmJob, error) {
	session, err := s.sessions.GetByID(sessionID)
	if err != nil {
		return nil, err
	}
	if session.RegistrationOpensAt == nil {
		return nil, ErrNoOpeningTime
	}

	job := &models.PrewarmJob{
		SessionID: sessionID,
		PrewarmAt: session.RegistrationOpensAt.Add(-s.lead),
		Status:    models.PrewarmStatusScheduled,
	}
	if err := s.jobs.Upsert(job); err != nil {
		return nil, err
	}

	log.Infof("[Prewarm] Session %d warms up at %s (opens %s)",
		sessionID, job.PrewarmAt.Format(time.RFC3339), session.RegistrationOpensAt.Format(time.RFC3339))
	return job, nil
}

// Trigger runs the readiness checks for a session's scheduled warm-up. Check
// failures degrade the score, only a missing session is fatal. The job ends
// done or error depending on whether the score clears the bar.
func (s *Scheduler) Trigger(ctx context.Context, sessionID uint) (*Result, error) {
	if _, err := s.sessions.GetByID(sessionID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			_ = s.jobs.SetStatus(sessionID, models.PrewarmStatusError, "session no longer exists")
		}
		return nil, err
	}
	if _, err := s.jobs.GetBySessionID(sessionID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotScheduled
		}
		return nil, err
	}

	if err := s.jobs.SetStatus(sessionID, models.PrewarmStatusRunning, ""); err != nil {
		return nil, err
	}

	result := &Result{
		SessionID: sessionID,
		Checks:    make(map[string]string, len(s.checks)),
	}
	passed := 0
	for _, check := range s.checks {
		if err := check.Probe(ctx); err != nil {
			result.Checks[check.Name] = err.Error()
			log.Warnf("[Prewarm] Check %s failed for session %d: %v", check.Name, sessionID, err)
			continue
		}
		result.Checks[check.Name] = "ok"
		passed++
	}
	if len(s.checks) > 0 {
		result.Score = float64(passed) / float64(len(s.checks))
	}
	result.Ready = result.Score >= MinReadinessScore

	if result.Ready {
		if err := s.jobs.SetStatus(sessionID, models.PrewarmStatusDone, ""); err != nil {
			return result, err
		}
		log.Infof("[Prewarm] Session %d ready (score %.2f)", sessionID, result.Score)
	} else {
		if err := s.jobs.SetStatus(sessionID, models.PrewarmStatusError, fmt.Sprintf("readiness score %.2f below %.2f", result.Score, MinReadinessScore)); err != nil {
			return result, err
		}
		log.Errorf("[Prewarm] Session %d not ready (score %.2f)", sessionID, result.Score)
	}
	return result, nil
}

// Due lists warm-ups whose time arrived, for the dispatcher loop.
func (s *Scheduler) Due(limit int) ([]models.PrewarmJob, error) {
	return s.jobs.ListDue(s.now(), limit)
}
