package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"

	"github.com/anima/anima-backend/internal/api/middleware"
	"github.com/anima/anima-backend/internal/config"
	"github.com/anima/anima-backend/internal/logging"
	"github.com/anima/anima-backend/internal/relay"
)

// NewApp builds the relay server with its middleware and routes.
func NewApp(cfg config.ServerConfig, relayHandler *relay.Handler, logger *logrus.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Anima Relay",
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.AccessLog(logging.Component(logger, "http")))
	app.Use(middleware.CORS(cfg.CORSOrigins))

	SetupRoutes(app, relayHandler, cfg)
	return app
}

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, relayHandler *relay.Handler, cfg config.ServerConfig) {
	api := app.Group("/api")

	relayHandler.Register(api, middleware.ChatRateLimit(cfg.RateLimit, time.Minute))

	// Health check
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "anima-relay",
		})
	})
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
		"code":  code,
	})
}
