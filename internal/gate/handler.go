package gate

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/expense-tracker/expense_tracker/internal/identity"
	"github.com/expense-tracker/expense_tracker/internal/pin"
)

const (
	// LocalsKey is where RequireAuthenticated stores the device's gate run.
	LocalsKey = "gate"
	// PinAttemptLocalsKey is set to true when a request completed a PIN entry.
	PinAttemptLocalsKey = "pin_attempt"
)

// Handler exposes device gate runs over HTTP.
type Handler struct {
	runs     *Registry
	validate *validator.Validate
}

// NewHandler constructs a gate HTTP handler.
func NewHandler(runs *Registry) *Handler {
	return &Handler{runs: runs, validate: validator.New()}
}

type usernameRequest struct {
	Username string `json:"username" validate:"required"`
}

type digitRequest struct {
	Digit string `json:"digit" validate:"required,len=1,numeric"`
}

type pinRequest struct {
	PIN string `json:"pin" validate:"required,len=4,numeric"`
}

type enableRequest struct {
	PIN string `json:"pin" validate:"omitempty,len=4,numeric"`
}

type displayNameRequest struct {
	DisplayName string `json:"display_name" validate:"required"`
}

type clearRequest struct {
	ConfirmUsername string `json:"confirm_username" validate:"required"`
}

type profileResponse struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	PinEnabled  bool   `json:"pin_enabled"`
	HasPin      bool   `json:"has_pin"`
}

// Start begins a new run for the device. A run that fails still answers 200
// with the failed snapshot; the failure is a gate state, not a transport error.
func (h *Handler) Start(c *fiber.Ctx) error {
	g := h.runs.Begin(c.Params("device_id"))
	_ = g.Start(c.UserContext())
	return c.Status(http.StatusOK).JSON(g.Snapshot())
}

// Snapshot reports the current run.
func (h *Handler) Snapshot(c *fiber.Ctx) error {
	g, err := h.run(c)
	if err != nil {
		return err
	}
	return c.JSON(g.Snapshot())
}

// SubmitUsername resolves the typed username.
func (h *Handler) SubmitUsername(c *fiber.Ctx) error {
	var req usernameRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	return h.apply(c, func(g *Gate) error { return g.SubmitUsername(c.UserContext(), req.Username) })
}

// PressDigit enters one PIN digit.
func (h *Handler) PressDigit(c *fiber.Ctx) error {
	var req digitRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	return h.apply(c, func(g *Gate) error {
		completes := g.Snapshot().Entered == pin.Length-1
		err := g.PressDigit(c.UserContext(), req.Digit[0])
		if err == nil && completes {
			c.Locals(PinAttemptLocalsKey, true)
		}
		return err
	})
}

// DeleteDigit removes the last PIN digit.
func (h *Handler) DeleteDigit(c *fiber.Ctx) error {
	return h.apply(c, func(g *Gate) error { return g.DeleteDigit() })
}

// SubmitPin enters a whole PIN.
func (h *Handler) SubmitPin(c *fiber.Ctx) error {
	var req pinRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	return h.apply(c, func(g *Gate) error {
		err := g.SubmitPin(c.UserContext(), req.PIN)
		if err == nil {
			c.Locals(PinAttemptLocalsKey, true)
		}
		return err
	})
}

// EnablePin turns PIN protection on.
func (h *Handler) EnablePin(c *fiber.Ctx) error {
	var req enableRequest
	if len(c.Body()) > 0 {
		if err := h.parse(c, &req); err != nil {
			return err
		}
	}
	return h.apply(c, func(g *Gate) error { return g.EnablePin(c.UserContext(), req.PIN) })
}

// DisablePin turns PIN protection off.
func (h *Handler) DisablePin(c *fiber.Ctx) error {
	return h.apply(c, func(g *Gate) error { return g.DisablePin(c.UserContext()) })
}

// ChangePin replaces the PIN.
func (h *Handler) ChangePin(c *fiber.Ctx) error {
	var req pinRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	return h.apply(c, func(g *Gate) error { return g.ChangePin(c.UserContext(), req.PIN) })
}

// SetDisplayName renames the active profile.
func (h *Handler) SetDisplayName(c *fiber.Ctx) error {
	var req displayNameRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	return h.apply(c, func(g *Gate) error { return g.SetDisplayName(c.UserContext(), req.DisplayName) })
}

// Logout signs the device out, keeping the username.
func (h *Handler) Logout(c *fiber.Ctx) error {
	return h.apply(c, func(g *Gate) error { return g.Logout(c.UserContext()) })
}

// ClearAllData deletes the profile and wipes the device cache.
func (h *Handler) ClearAllData(c *fiber.Ctx) error {
	var req clearRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	return h.apply(c, func(g *Gate) error { return g.ClearAllData(c.UserContext(), req.ConfirmUsername) })
}

// Profile returns the active profile. Mounted behind RequireAuthenticated.
func (h *Handler) Profile(c *fiber.Ctx) error {
	g, ok := c.Locals(LocalsKey).(*Gate)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "gate not authenticated")
	}
	p, err := g.Profile(c.UserContext())
	if err != nil {
		return fiber.NewError(StatusFor(err), err.Error())
	}
	return c.JSON(profileResponse{
		UserID:      p.UserID,
		Username:    p.Username,
		DisplayName: p.DisplayName,
		PinEnabled:  p.PinEnabled,
		HasPin:      p.HasPin(),
	})
}

func (h *Handler) run(c *fiber.Ctx) (*Gate, error) {
	g, err := h.runs.Get(c.Params("device_id"))
	if err != nil {
		return nil, fiber.NewError(http.StatusNotFound, err.Error())
	}
	return g, nil
}

func (h *Handler) apply(c *fiber.Ctx, op func(*Gate) error) error {
	g, err := h.run(c)
	if err != nil {
		return err
	}
	if err := op(g); err != nil {
		return fiber.NewError(StatusFor(err), err.Error())
	}
	return c.JSON(g.Snapshot())
}

func (h *Handler) parse(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			msgs := make([]string, 0, len(ve))
			for _, fe := range ve {
				msgs = append(msgs, strings.ToLower(fe.Field())+" failed "+fe.Tag())
			}
			return fiber.NewError(http.StatusBadRequest, strings.Join(msgs, "; "))
		}
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// StatusFor maps gate and identity errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, identity.ErrValidation),
		errors.Is(err, pin.ErrInvalidPIN),
		errors.Is(err, ErrPinRequired),
		errors.Is(err, ErrConfirmationMismatch),
		errors.Is(err, ErrInvalidDisplayName):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoRun):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, identity.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, identity.ErrVerification):
		return http.StatusInternalServerError
	case errors.Is(err, identity.ErrRemote):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
