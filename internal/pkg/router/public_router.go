package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/davidkroell/SpotRush/app/controllers"
	"github.com/davidkroell/SpotRush/internal/pkg/constants"
)

type PublicRouter struct {
}

func (h PublicRouter) InstallRouter(app *fiber.App) {
	app.Get("/health", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	})

	// One-tap resume links from verification messages land here.
	app.Get(constants.ResumeRoute+"/:token", controllers.HandleResumeLink)
}

func NewPublicRouter() *PublicRouter {
	return &PublicRouter{}
}
