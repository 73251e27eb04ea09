package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/davidkroell/SpotRush/app/models"
	"github.com/davidkroell/SpotRush/app/repository"
	"github.com/davidkroell/SpotRush/internal/pkg/executor"
	"github.com/davidkroell/SpotRush/internal/pkg/jobqueue"
	"github.com/davidkroell/SpotRush/internal/pkg/usercontext"
)

type createRunRequest struct {
	PlanKey        string          `json:"plan_key" validate:"required,max=100"`
	ProviderKey    string          `json:"provider_key" validate:"required,oneof=jackrabbit skiclubpro"`
	ProviderURL    string          `json:"provider_url" validate:"required,url"`
	CredentialsRef string          `json:"credentials_ref" validate:"required,max=191"`
	Items          []createRunItem `json:"items" validate:"required,min=1,dive"`
}

type createRunItem struct {
	ChildID   uint `json:"child_id" validate:"required"`
	SessionID uint `json:"session_id" validate:"required"`
}

// HandleCreateRun registers a new run and queues its execution. One active
// run per (user, plan): a second submit while the first is live gets a 409.
func HandleCreateRun(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req createRunRequest
	if err := parseAndValidate(c, &req); err != nil {
		return err
	}

	repos := repository.GetGlobalFactory().GetRepositories()

	// Items must reference the caller's own children.
	for _, item := range req.Items {
		child, err := repos.Child.GetByID(item.ChildID)
		if err != nil || child.UserID != userCtx.UserID {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": "Unknown child in items"})
		}
		if _, err := repos.Session.GetByID(item.SessionID); err != nil {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": "Unknown session in items"})
		}
	}

	run := &models.RegistrationRun{
		UUID:           uuid.New().String(),
		UserID:         userCtx.UserID,
		PlanKey:        req.PlanKey,
		ProviderKey:    req.ProviderKey,
		ProviderURL:    req.ProviderURL,
		CredentialsRef: req.CredentialsRef,
		Status:         models.RunStatusIdle,
	}
	for i, item := range req.Items {
		run.Items = append(run.Items, models.RegistrationItem{
			ChildID:   item.ChildID,
			SessionID: item.SessionID,
			Position:  i,
			Status:    models.ItemStatusPending,
		})
	}

	if err := repos.Run.Create(run); err != nil {
		if errors.Is(err, repository.ErrActiveRunExists) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "An active run already exists for this plan"})
		}
		log.Errorf("[API] Failed to create run: %v", err)
		return internalError(c, "Failed to create run")
	}

	queue := jobqueue.GetManager().GetQueue()
	if _, err := queue.EnqueueJob(jobqueue.JobTypeRegistrationRun, jobqueue.RegistrationRunJobPayload{RunUUID: run.UUID}.ToMap()); err != nil {
		log.Errorf("[API] Failed to enqueue run %s: %v", run.UUID, err)
		return internalError(c, "Run created but could not be queued")
	}

	return c.Status(fiber.StatusCreated).JSON(run)
}

// HandleGetRun returns a run with its items. Reading the status of a run
// whose resume window closed flips it to abandoned.
func HandleGetRun(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	repos := repository.GetGlobalFactory().GetRepositories()
	machine := executor.NewMachine(executor.Deps{
		Runs:   repos.Run,
		Users:  repos.User,
		Pauses: repos.Pause,
	})

	run, err := machine.StatusOf(c.Params("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(c, "Run not found")
		}
		log.Errorf("[API] Failed to load run %s: %v", c.Params("id"), err)
		return internalError(c, "Failed to load run")
	}
	if run.UserID != userCtx.UserID && !userCtx.IsAdmin {
		return notFound(c, "Run not found")
	}

	charges, err := repos.Payment.ListByRun(run.UUID)
	if err != nil {
		log.Errorf("[API] Failed to load charges for run %s: %v", run.UUID, err)
		return internalError(c, "Failed to load run")
	}
	run.Charges = charges

	return c.JSON(run)
}
