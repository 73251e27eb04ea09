package controllers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/davidkroell/SpotRush/app/repository"
	"github.com/davidkroell/SpotRush/internal/pkg/predictor"
	"github.com/davidkroell/SpotRush/internal/pkg/usercontext"
)

// HandlePredictChallenge scores the challenge likelihood for a provider.
// Query parameters supply the run context: queue_position,
// time_in_queue_seconds, behavior_score.
func HandlePredictChallenge(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	rc := predictor.Context{At: time.Now()}
	if raw := c.Query("queue_position"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			rc.QueuePosition = &v
		}
	}
	if raw := c.Query("time_in_queue_seconds"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			d := time.Duration(v) * time.Second
			rc.TimeInQueue = &d
		}
	}
	if raw := c.Query("behavior_score"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v >= 0 && v <= 1 {
			rc.BehaviorScore = &v
		}
	}

	repos := repository.GetGlobalFactory().GetRepositories()
	prediction := predictor.New(repos.Pattern).Predict(c.Params("provider"), rc)

	return c.JSON(prediction)
}

type observeRequest struct {
	ChallengeAppeared  bool    `json:"challenge_appeared"`
	SecondsToChallenge float64 `json:"seconds_to_challenge" validate:"gte=0"`
}

// HandleObserveChallenge feeds one observed run outcome back into the
// provider's pattern state. The executor reports automatically, this
// endpoint covers manually operated runs.
func HandleObserveChallenge(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req observeRequest
	if err := parseAndValidate(c, &req); err != nil {
		return err
	}

	repos := repository.GetGlobalFactory().GetRepositories()
	if err := predictor.New(repos.Pattern).Update(c.Params("provider"), predictor.Observation{
		ChallengeAppeared:  req.ChallengeAppeared,
		SecondsToChallenge: req.SecondsToChallenge,
	}); err != nil {
		log.Errorf("[API] Failed to record observation for %s: %v", c.Params("provider"), err)
		return internalError(c, "Failed to record observation")
	}

	return c.SendStatus(fiber.StatusNoContent)
}
