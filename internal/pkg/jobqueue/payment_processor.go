package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/davidkroell/SpotRush/app/models"
	"github.com/davidkroell/SpotRush/app/repository"
	"github.com/davidkroell/SpotRush/internal/pkg/payment"
)

// processPaymentSettleJob runs the charge sequence for a successful run
func (q *Queue) processPaymentSettleJob(ctx context.Context, job *Job) error {
	payload, err := PaymentSettleJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to parse payment settle payload: %w", err)
	}

	factory := repository.GetGlobalFactory()
	if factory == nil {
		return fmt.Errorf("repository factory not initialized")
	}
	repos := factory.GetRepositories()

	sequencer := payment.NewSequencer(repos.Run, repos.User, repos.Payment, payment.NewHTTPProcessor())
	charges, err := sequencer.Settle(ctx, payload.RunUUID)
	if err != nil {
		if errors.Is(err, payment.ErrNoPaymentMethod) {
			// Retrying cannot conjure a payment method. The failed charges are
			// recorded on the run, so surface it and stop.
			log.Errorf("[JobQueue] Run %s has no payment method on file, %d failed charges recorded", payload.RunUUID, len(charges))
			return nil
		}
		return fmt.Errorf("settlement of run %s failed: %w", payload.RunUUID, err)
	}

	var failed int
	for _, c := range charges {
		if c.Status == models.ChargeStatusFailed {
			failed++
		}
	}
	log.Infof("[JobQueue] Settled run %s: %d charges recorded, %d declined", payload.RunUUID, len(charges), failed)
	return nil
}
