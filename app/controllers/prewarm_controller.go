package controllers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/davidkroell/SpotRush/app/repository"
	"github.com/davidkroell/SpotRush/internal/pkg/automation"
	"github.com/davidkroell/SpotRush/internal/pkg/database"
	"github.com/davidkroell/SpotRush/internal/pkg/prewarm"
	"github.com/davidkroell/SpotRush/internal/pkg/usercontext"
)

func sessionIDParam(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	return uint(id), err
}

// HandleSchedulePrewarm plans the warm-up for a session at opening minus the
// lead window. Calling it again after the opening time changed replaces the
// plan.
func HandleSchedulePrewarm(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	sessionID, err := sessionIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid session id"})
	}

	repos := repository.GetGlobalFactory().GetRepositories()
	scheduler := prewarm.NewScheduler(repos.Session, repos.Prewarm, nil)

	job, err := scheduler.Schedule(sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(c, "Session not found")
		}
		if errors.Is(err, prewarm.ErrNoOpeningTime) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": "Session has no registration opening time"})
		}
		log.Errorf("[API] Failed to schedule prewarm for session %d: %v", sessionID, err)
		return internalError(c, "Failed to schedule prewarm")
	}

	return c.Status(fiber.StatusCreated).JSON(job)
}

// HandleTriggerPrewarm fires the readiness checks immediately, outside the
// scheduled window. Useful before committing to a high-stakes opening.
func HandleTriggerPrewarm(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	sessionID, err := sessionIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid session id"})
	}

	repos := repository.GetGlobalFactory().GetRepositories()
	session, err := repos.Session.GetByID(sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(c, "Session not found")
		}
		return internalError(c, "Failed to load session")
	}

	backend := automation.NewBackend()
	checks := prewarm.DefaultChecks(session.ProviderURL, database.GetDB(), backend.Health)
	scheduler := prewarm.NewScheduler(repos.Session, repos.Prewarm, checks)

	result, err := scheduler.Trigger(c.UserContext(), sessionID)
	if err != nil {
		if errors.Is(err, prewarm.ErrNotScheduled) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "No prewarm scheduled for this session"})
		}
		log.Errorf("[API] Prewarm trigger for session %d failed: %v", sessionID, err)
		return internalError(c, "Prewarm trigger failed")
	}

	return c.JSON(result)
}
