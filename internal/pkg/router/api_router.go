package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/davidkroell/SpotRush/app/controllers"
	"github.com/davidkroell/SpotRush/internal/pkg/cache"
	"github.com/davidkroell/SpotRush/internal/pkg/constants"
	"github.com/davidkroell/SpotRush/internal/pkg/env"
	"github.com/davidkroell/SpotRush/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute)
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group(constants.APIv1Route)

	// Verification submit is unauthenticated and brute-forceable, so it
	// gets a tight per-IP limit backed by Redis.
	v1.Post("/verification/submit", limiter.New(limiter.Config{
		Max:        10,
		Expiration: time.Minute,
		Storage:    newLimiterStorage(),
	}), controllers.HandleSubmitVerification)

	// Everything else requires an API key.
	v1.Use(middleware.APIKeyAuthMiddleware())

	v1.Post("/runs", controllers.HandleCreateRun)
	v1.Get("/runs/:id", controllers.HandleGetRun)

	v1.Post("/sessions/:id/schedule", controllers.HandleSchedulePrewarm)
	v1.Post("/sessions/:id/trigger", controllers.HandleTriggerPrewarm)

	v1.Get("/predictor/:provider", controllers.HandlePredictChallenge)
	v1.Post("/predictor/:provider/observe", controllers.HandleObserveChallenge)
}

// newLimiterStorage builds Redis storage for the rate limiter from the cache
// client configuration, on a separate database so limiter keys never collide
// with cache entries.
func newLimiterStorage() *redisstorage.Storage {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if client := cache.GetClient(); client != nil {
		addr := client.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := client.Options().Password; p != "" {
			password = p
		}
	}

	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
