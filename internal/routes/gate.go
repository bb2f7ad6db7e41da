package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/expense-tracker/expense_tracker/internal/gate"
	"github.com/expense-tracker/expense_tracker/internal/middleware"
)

// RegisterGateRoutes wires the per-device identity gate endpoints.
func RegisterGateRoutes(r fiber.Router, h *gate.Handler, runs *gate.Registry, d Deps) {
	dev := r.Group("/devices/:device_id")
	limit := middleware.PinRateLimit(d.Cache, d.Cfg.PinAttemptsPerMinute, d.Logger)

	dev.Post("/start", h.Start)
	dev.Get("/gate", h.Snapshot)

	if d.Cache != nil {
		dev.Post("/username", middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger), h.SubmitUsername)
	} else {
		dev.Post("/username", h.SubmitUsername)
	}

	dev.Post("/pin/digits", limit, h.PressDigit)
	dev.Delete("/pin/digits", h.DeleteDigit)
	dev.Post("/pin", limit, h.SubmitPin)
	dev.Put("/pin", h.ChangePin)
	dev.Post("/pin/enable", h.EnablePin)
	dev.Post("/pin/disable", h.DisablePin)

	dev.Put("/display-name", h.SetDisplayName)
	dev.Post("/logout", h.Logout)
	dev.Post("/clear", h.ClearAllData)
	dev.Get("/profile", middleware.RequireAuthenticated(runs), h.Profile)
}
