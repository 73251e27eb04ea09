package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/davidkroell/SpotRush/app/repository"
	"github.com/davidkroell/SpotRush/internal/pkg/jobqueue"
	"github.com/davidkroell/SpotRush/internal/pkg/verification"
)

type submitVerificationRequest struct {
	ResumeToken string `json:"resume_token" validate:"required,max=64"`
	Code        string `json:"code" validate:"required,len=6,numeric"`
}

func newGateway() *verification.Gateway {
	repos := repository.GetGlobalFactory().GetRepositories()
	return verification.NewGateway(repos.Pause, repos.Challenge, jobqueue.GetManager().GetQueue())
}

// HandleSubmitVerification validates a verification code against its paused
// run. Deliberately unauthenticated: the person solving the challenge only
// holds the resume token from the notification. The route is rate limited.
func HandleSubmitVerification(c *fiber.Ctx) error {
	var req submitVerificationRequest
	if err := parseAndValidate(c, &req); err != nil {
		return err
	}

	result, err := newGateway().Submit(req.ResumeToken, req.Code)
	if err != nil {
		log.Errorf("[API] Verification submit failed: %v", err)
		return internalError(c, "Verification failed")
	}

	status := fiber.StatusOK
	switch result.Outcome {
	case verification.OutcomeInvalid:
		status = fiber.StatusUnprocessableEntity
	case verification.OutcomeExpired:
		status = fiber.StatusGone
	}
	return c.Status(status).JSON(result)
}

// HandleResumeLink lands a signed resume link from an email or SMS. The
// token carries run, resume token and code, so one click both proves
// possession and submits the code.
func HandleResumeLink(c *fiber.Ctx) error {
	gw := newGateway()

	claims, err := gw.ResolveLink(c.Params("token"))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid or expired resume link"})
	}

	result, err := gw.Submit(claims.Token, claims.Code)
	if err != nil {
		log.Errorf("[API] Resume link submit failed for run %s: %v", claims.RunUUID, err)
		return internalError(c, "Verification failed")
	}

	status := fiber.StatusOK
	switch result.Outcome {
	case verification.OutcomeInvalid:
		status = fiber.StatusUnprocessableEntity
	case verification.OutcomeExpired:
		status = fiber.StatusGone
	}
	return c.Status(status).JSON(result)
}
