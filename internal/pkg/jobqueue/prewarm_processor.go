package jobqueue

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/davidkroell/SpotRush/app/repository"
	"github.com/davidkroell/SpotRush/internal/pkg/automation"
	"github.com/davidkroell/SpotRush/internal/pkg/database"
	"github.com/davidkroell/SpotRush/internal/pkg/prewarm"
)

// processPrewarmTriggerJob fires the readiness checks for a due warm-up
func (q *Queue) processPrewarmTriggerJob(ctx context.Context, job *Job) error {
	payload, err := PrewarmTriggerJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to parse prewarm payload: %w", err)
	}

	factory := repository.GetGlobalFactory()
	if factory == nil {
		return fmt.Errorf("repository factory not initialized")
	}
	repos := factory.GetRepositories()

	session, err := repos.Session.GetByID(payload.SessionID)
	if err != nil {
		return fmt.Errorf("failed to load session %d: %w", payload.SessionID, err)
	}

	backend := automation.NewBackend()
	checks := prewarm.DefaultChecks(session.ProviderURL, database.GetDB(), backend.Health)
	scheduler := prewarm.NewScheduler(repos.Session, repos.Prewarm, checks)

	result, err := scheduler.Trigger(ctx, payload.SessionID)
	if err != nil {
		return fmt.Errorf("prewarm trigger for session %d failed: %w", payload.SessionID, err)
	}
	if !result.Ready {
		// The job itself worked, the not-ready outcome lives on the
		// prewarm record. Failing here would just burn retries.
		log.Warnf("[JobQueue] Session %d prewarm finished below readiness bar (%.2f)", payload.SessionID, result.Score)
	}
	return nil
}
