package middleware

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/expense-tracker/expense_tracker/internal/gate"
)

// RequireAuthenticated only lets a request through when the device's current
// gate run is Authenticated. The run is stored in Locals under gate.LocalsKey.
func RequireAuthenticated(runs *gate.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		g, err := runs.Get(c.Params("device_id"))
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "no gate run for device")
		}
		if g.State() != gate.StateAuthenticated {
			return fiber.NewError(http.StatusUnauthorized, "gate not authenticated")
		}
		c.Locals(gate.LocalsKey, g)
		return c.Next()
	}
}
