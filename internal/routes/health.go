package routes

import (
    "context"
    "net/http"
    "time"

    "github.com/gofiber/fiber/v2"
)

const readinessTimeout = 2 * time.Second

// RegisterHealthRoutes adds /healthz for liveness and /readyz, which also
// checks the configured backends. A backend left unconfigured in development
// is reported as "memory".
func RegisterHealthRoutes(app *fiber.App, d Deps) {
    app.Get("/healthz", func(c *fiber.Ctx) error {
        return c.JSON(fiber.Map{
            "status":    "ok",
            "app":       d.Cfg.AppName,
            "timestamp": time.Now().UTC().Format(time.RFC3339Nano),
        })
    })

    app.Get("/readyz", func(c *fiber.Ctx) error {
        ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
        defer cancel()

        checks := fiber.Map{"postgres": "memory", "redis": "memory"}
        ready := true
        if d.DB != nil {
            checks["postgres"] = "ok"
            if err := d.DB.Ping(ctx); err != nil {
                checks["postgres"] = err.Error()
                ready = false
            }
        }
        if d.Cache != nil {
            checks["redis"] = "ok"
            if err := d.Cache.Ping(ctx).Err(); err != nil {
                checks["redis"] = err.Error()
                ready = false
            }
        }

        status := http.StatusOK
        if !ready {
            status = http.StatusServiceUnavailable
        }
        return c.Status(status).JSON(fiber.Map{
            "status":    checks,
            "timestamp": time.Now().UTC().Format(time.RFC3339Nano),
        })
    })
}
