package jobqueue

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2/log"

	"github.com/davidkroell/SpotRush/app/repository"
	"github.com/davidkroell/SpotRush/internal/pkg/automation"
	"github.com/davidkroell/SpotRush/internal/pkg/executor"
	"github.com/davidkroell/SpotRush/internal/pkg/predictor"
	"github.com/davidkroell/SpotRush/internal/pkg/preserver"
	"github.com/davidkroell/SpotRush/internal/pkg/s3evidence"
	"github.com/davidkroell/SpotRush/internal/pkg/verification"
)

var (
	machineOnce sync.Once
	machine     *executor.Machine
	machineErr  error
)

// getMachine lazily wires the execution state machine from the process-wide
// singletons. Built once, shared by all workers.
func (q *Queue) getMachine() (*executor.Machine, error) {
	machineOnce.Do(func() {
		factory := repository.GetGlobalFactory()
		if factory == nil {
			machineErr = fmt.Errorf("repository factory not initialized")
			return
		}
		repos := factory.GetRepositories()

		var evidence executor.EvidenceStore
		if cfg, err := s3evidence.LoadConfig(); err == nil && cfg.IsEnabled() {
			if client, cerr := s3evidence.NewClient(cfg); cerr == nil {
				evidence = client
			} else {
				log.Warnf("[JobQueue] Evidence store unavailable: %v", cerr)
			}
		}

		machine = executor.NewMachine(executor.Deps{
			Runs:       repos.Run,
			Users:      repos.User,
			Pauses:     repos.Pause,
			Opener:     automation.NewBackend(),
			Snapshots:  preserver.New(repos.Pause),
			Challenges: verification.NewGateway(repos.Pause, repos.Challenge, q),
			Evidence:   evidence,
			Classifier: automation.NewVisionClient(),
			Payments:   q,
			Patterns:   predictor.New(repos.Pattern),
		})
	})
	return machine, machineErr
}

// processRegistrationRunJob drives a queued run through the state machine
func (q *Queue) processRegistrationRunJob(ctx context.Context, job *Job) error {
	payload, err := RegistrationRunJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to parse registration run payload: %w", err)
	}

	m, err := q.getMachine()
	if err != nil {
		return err
	}

	log.Infof("[JobQueue] Executing registration run %s", payload.RunUUID)
	if err := m.Execute(ctx, payload.RunUUID); err != nil {
		return fmt.Errorf("registration run %s failed: %w", payload.RunUUID, err)
	}
	return nil
}

// processResumeRunJob continues a run whose verification was solved
func (q *Queue) processResumeRunJob(ctx context.Context, job *Job) error {
	payload, err := ResumeRunJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to parse resume payload: %w", err)
	}

	m, err := q.getMachine()
	if err != nil {
		return err
	}

	log.Infof("[JobQueue] Resuming registration run %s", payload.RunUUID)
	if err := m.Resume(ctx, payload.RunUUID); err != nil {
		return fmt.Errorf("resume of run %s failed: %w", payload.RunUUID, err)
	}
	return nil
}
