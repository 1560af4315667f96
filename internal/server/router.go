package server

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AdminOptions controls the diagnostics application.
type AdminOptions struct {
	Logger  *logrus.Logger
	Version string
}

const contextKeyRequestID = "_anyproxy_request_id"

// NewAdminApp builds the Fiber diagnostics application. Only /-/ paths are
// served; routes are attached by the caller (see internal/server/routes).
func NewAdminApp(opts AdminOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		AppName:       "any-proxy admin",
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts))

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"version": opts.Version,
		})
	})

	return app, nil
}

// MountFallback 在所有路由注册完成后调用，未知路径统一返回 JSON 404。
func MountFallback(app *fiber.App) {
	app.Use(func(c fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	})
}

// requestContextMiddleware 负责生成请求 ID，并拒绝非诊断路径。
func requestContextMiddleware(opts AdminOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		path := string(c.Request().URI().Path())
		if !isDiagnosticsPath(path) {
			opts.Logger.WithFields(logrus.Fields{
				"action":     "admin",
				"path":       path,
				"request_id": reqID,
			}).Debug("non-diagnostics path")
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
		}
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
