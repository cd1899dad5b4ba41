package http

import (
	"time"

	"docgateway/internal/shared/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// ServerOptions configures the fiber application.
type ServerOptions struct {
	AppName      string
	BodyLimitMB  int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewApp builds the fiber application with the common middleware chain
// and h's routes. A nil tokens validator disables authentication.
func NewApp(opts ServerOptions, h *Handler, tokens TokenValidator) *fiber.App {
	if opts.AppName == "" {
		opts.AppName = "docgateway"
	}
	if opts.BodyLimitMB <= 0 {
		opts.BodyLimitMB = 64
	}

	app := fiber.New(fiber.Config{
		AppName:               opts.AppName,
		BodyLimit:             opts.BodyLimitMB * 1024 * 1024,
		ReadTimeout:           opts.ReadTimeout,
		WriteTimeout:          opts.WriteTimeout,
		IdleTimeout:           60 * time.Second,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ErrorHandler:          ErrorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(RequestID(), RequestContext(), AccessLog(h.Log))

	h.RegisterRoutes(app, Authenticate(tokens))
	return app
}

// AccessLog writes one debug line per request.
func AccessLog(log logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		started := time.Now()
		err := c.Next()
		log.WithContext(c.UserContext()).WithFields(map[string]interface{}{
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      c.Response().StatusCode(),
			"duration_ms": time.Since(started).Milliseconds(),
		}).Debug("request handled")
		return err
	}
}
