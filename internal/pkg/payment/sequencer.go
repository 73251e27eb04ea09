package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2/log"

	"github.com/davidkroell/SpotRush/app/models"
	"github.com/davidkroell/SpotRush/app/repository"
	"github.com/davidkroell/SpotRush/internal/pkg/env"
)

var (
	// ErrRunNotSettleable means the run is not in a state that owes fees.
	ErrRunNotSettleable = errors.New("run is not in a settleable state")
	// ErrNoPaymentMethod means the user has no stored off-session method.
	ErrNoPaymentMethod = errors.New("user has no stored payment method")
)

const (
	defaultSuccessFeeCents  = 1500
	defaultPriorityFeeCents = 500
)

// Sequencer settles the fee sequence of a successful run: upfront charge,
// success fee, optional priority fee. Each charge is independent, a decline
// records a failed charge and the sequence continues. Re-running a
// settlement skips charge types that already have a record, so the job is
// safe to retry.
type Sequencer struct {
	runs      repository.RunRepository
	users     repository.UserRepository
	charges   repository.PaymentRepository
	processor ProcessorClient
}

// NewSequencer builds a sequencer over the given collaborators.
func NewSequencer(runs repository.RunRepository, users repository.UserRepository, charges repository.PaymentRepository, processor ProcessorClient) *Sequencer {
	return &Sequencer{runs: runs, users: users, charges: charges, processor: processor}
}

// Settle runs the charge sequence for a run. It returns the charges recorded
// in this invocation; already-settled types are skipped silently.
func (s *Sequencer) Settle(ctx context.Context, runUUID string) ([]models.PaymentCharge, error) {
	run, err := s.runs.GetByUUID(runUUID)
	if err != nil {
		return nil, err
	}
	if run.Status != models.RunStatusSucceeded {
		return nil, fmt.Errorf("%w: run %s is %s", ErrRunNotSettleable, runUUID, run.Status)
	}

	user, err := s.users.GetByID(run.UserID)
	if err != nil {
		return nil, err
	}
	if !user.HasPaymentMethod() {
		recorded, recordErr := s.recordMissingMethod(run, user)
		if recordErr != nil {
			return recorded, recordErr
		}
		return recorded, ErrNoPaymentMethod
	}

	var recorded []models.PaymentCharge
	for _, step := range s.sequenceFor(run, user) {
		if step.amountCents <= 0 {
			continue
		}
		exists, err := s.charges.ExistsForRunAndType(runUUID, step.chargeType)
		if err != nil {
			return recorded, err
		}
		if exists {
			log.Infof("[Payment] Run %s already has a %s charge, skipping", runUUID, step.chargeType)
			continue
		}

		charge := models.PaymentCharge{
			RunUUID:     runUUID,
			ChargeType:  step.chargeType,
			AmountCents: step.amountCents,
		}
		externalID, chargeErr := s.processor.ChargeOffSession(ctx, user.PaymentCustomerRef, user.PaymentMethodRef, step.amountCents, step.description)
		charge.ExternalChargeID = externalID
		if chargeErr != nil {
			charge.Status = models.ChargeStatusFailed
			charge.ErrorMsg = chargeErr.Error()
			log.Errorf("[Payment] %s charge of %d cents failed for run %s: %v", step.chargeType, step.amountCents, runUUID, chargeErr)
		} else {
			charge.Status = models.ChargeStatusSucceeded
			log.Infof("[Payment] Charged %d cents (%s) for run %s", step.amountCents, step.chargeType, runUUID)
		}

		if err := s.charges.Create(&charge); err != nil {
			return recorded, err
		}
		recorded = append(recorded, charge)
	}
	return recorded, nil
}

// recordMissingMethod writes failed charge rows for every owed charge type
// so the billing outcome is visible on the run. Rows already present are
// left alone, so a retried settlement does not duplicate them.
func (s *Sequencer) recordMissingMethod(run *models.RegistrationRun, user *models.User) ([]models.PaymentCharge, error) {
	var recorded []models.PaymentCharge
	for _, step := range s.sequenceFor(run, user) {
		if step.amountCents <= 0 {
			continue
		}
		exists, err := s.charges.ExistsForRunAndType(run.UUID, step.chargeType)
		if err != nil {
			return recorded, err
		}
		if exists {
			continue
		}
		charge := models.PaymentCharge{
			RunUUID:     run.UUID,
			ChargeType:  step.chargeType,
			AmountCents: step.amountCents,
			Status:      models.ChargeStatusFailed,
			ErrorMsg:    "no payment method on file",
		}
		if err := s.charges.Create(&charge); err != nil {
			return recorded, err
		}
		log.Errorf("[Payment] Cannot charge %s (%d cents) for run %s: no payment method on file", step.chargeType, step.amountCents, run.UUID)
		recorded = append(recorded, charge)
	}
	return recorded, nil
}

type chargeStep struct {
	chargeType  string
	amountCents int64
	description string
}

func (s *Sequencer) sequenceFor(run *models.RegistrationRun, user *models.User) []chargeStep {
	steps := []chargeStep{
		{
			chargeType:  models.ChargeTypeUpfront,
			amountCents: upfrontTotal(run),
			description: "Registration fees for run " + run.UUID,
		},
		{
			chargeType:  models.ChargeTypeSuccessFee,
			amountCents: feeFromEnv("SUCCESS_FEE_CENTS", defaultSuccessFeeCents),
			description: "Service fee for run " + run.UUID,
		},
	}
	if user.PriorityFeeOptIn {
		steps = append(steps, chargeStep{
			chargeType:  models.ChargeTypePriorityFee,
			amountCents: feeFromEnv("PRIORITY_FEE_CENTS", defaultPriorityFeeCents),
			description: "Priority handling fee for run " + run.UUID,
		})
	}
	return steps
}

// upfrontTotal sums the provider fees of the items that actually got a spot.
func upfrontTotal(run *models.RegistrationRun) int64 {
	var total int64
	for _, item := range run.Items {
		if item.Status == models.ItemStatusAdded {
			total += item.Session.UpfrontFeeCents
		}
	}
	return total
}

func feeFromEnv(key string, def int64) int64 {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return def
	}
	cents, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || cents < 0 {
		log.Warnf("[Payment] Invalid %s=%q, using default %d", key, raw, def)
		return def
	}
	return cents
}
