// Package gate decides, for one device run, what the user must do before
// their data is shown: pick a username, enter or set a PIN, or nothing.
//
// A run starts in Loading and moves to NeedsUsername, NeedsPin, Authenticated
// or Failed. Every operation runs to completion under the gate's lock, so a
// run never has two remote calls in flight.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/expense-tracker/expense_tracker/internal/identity"
	"github.com/expense-tracker/expense_tracker/internal/logging"
	"github.com/expense-tracker/expense_tracker/internal/metrics"
	"github.com/expense-tracker/expense_tracker/internal/notification"
	"github.com/expense-tracker/expense_tracker/internal/pin"
)

var (
	// ErrInvalidTransition is returned for operations the current state does not allow.
	ErrInvalidTransition = errors.New("operation not allowed in current gate state")
	// ErrPinRequired is returned when enabling protection on a profile that never had a PIN.
	ErrPinRequired = errors.New("a new PIN is required to enable protection")
	// ErrConfirmationMismatch is returned when the typed username does not match the active one.
	ErrConfirmationMismatch = errors.New("username does not match")
	// ErrInvalidDisplayName is returned for blank display names.
	ErrInvalidDisplayName = errors.New("display name must not be empty")
)

// Deps are the collaborators of one gate run.
type Deps struct {
	Cache    identity.LocalCache
	Resolver *identity.Resolver
	Profiles identity.ProfileRepository
	Sessions identity.SessionIssuer
	Notifier notification.Notifier
	Shell    Shell
	Logger   *slog.Logger
}

// Gate is the state machine for a single device run.
type Gate struct {
	mu       sync.Mutex
	deviceID string

	cache    identity.LocalCache
	resolver *identity.Resolver
	profiles identity.ProfileRepository
	sessions identity.SessionIssuer
	notifier notification.Notifier
	shell    Shell
	logger   *slog.Logger

	state        State
	identity     identity.Identity
	lastUsername string
	pinSetup     bool
	digits       []byte
	notice       Notice
	failure      error
	ready        bool
}

// New creates a gate run for deviceID in the Loading state.
func New(deviceID string, d Deps) *Gate {
	g := &Gate{
		deviceID: deviceID,
		cache:    d.Cache,
		resolver: d.Resolver,
		profiles: d.Profiles,
		sessions: d.Sessions,
		notifier: d.Notifier,
		shell:    d.Shell,
		logger:   logging.ForDevice(d.Logger, deviceID),
		state:    StateLoading,
		digits:   make([]byte, 0, pin.Length),
	}
	if g.notifier == nil {
		g.notifier = notification.NewLoggerNotifier(g.logger)
	}
	if g.shell == nil {
		g.shell = LoggerShell{Logger: g.logger}
	}
	return g
}

// Snapshot returns the current view of the run.
func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := Snapshot{
		State:        g.state,
		Username:     g.identity.Username,
		UserID:       g.identity.UserID,
		LastUsername: g.lastUsername,
		PinSetup:     g.state == StateNeedsPin && g.pinSetup,
		Entered:      len(g.digits),
		Notice:       g.notice,
	}
	if g.failure != nil {
		s.Error = g.failure.Error()
	}
	return s
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Start reads the device cache and decides the first step. A returned error
// means the run is now Failed.
func (g *Gate) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateLoading {
		return ErrInvalidTransition
	}
	defer g.signalReady(ctx)

	local, err := g.cache.Get(ctx)
	if err != nil {
		return g.fail(fmt.Errorf("read device cache: %w", err))
	}
	if !local.Complete() {
		g.lastUsername = local.Username
		g.transition(StateNeedsUsername)
		return nil
	}

	g.identity = local.Identity()
	err = g.checkPin(ctx)
	if errors.Is(err, identity.ErrProfileNotFound) {
		g.forgetStaleIdentity(ctx, local.Username)
	}
	return err
}

// forgetStaleIdentity drops a cached identity whose profile no longer exists,
// keeping the username so the next run asks for it prefilled. The current run
// stays Failed.
func (g *Gate) forgetStaleIdentity(ctx context.Context, username string) {
	g.signOutCached(ctx)
	if err := g.cache.Clear(ctx, true); err != nil {
		g.logger.Error("clear stale device identity", slog.Any("error", err))
		return
	}
	g.lastUsername = username
	g.identity = identity.Identity{}
	g.logger.Warn("cached profile missing, identity cleared", slog.String("username", username))
}

// SubmitUsername resolves candidate into an identity. Validation, conflict and
// remote errors leave the run in NeedsUsername so the user can retry.
func (g *Gate) SubmitUsername(ctx context.Context, candidate string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateNeedsUsername {
		return ErrInvalidTransition
	}
	g.notice = NoticeNone

	res, err := g.resolver.Resolve(ctx, g.cache, candidate)
	if err != nil {
		g.logger.Warn("username resolution failed", slog.Any("error", err))
		return err
	}

	g.identity = res.Identity
	g.lastUsername = res.Username
	if res.Created {
		g.notify(ctx, NoticeAccountCreated)
	} else {
		g.notify(ctx, NoticeSignedIn)
	}
	return g.checkPin(ctx)
}

// PressDigit appends one digit to the PIN being entered. The fourth digit
// completes the entry.
func (g *Gate) PressDigit(ctx context.Context, d byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateNeedsPin {
		return ErrInvalidTransition
	}
	if !pin.IsDigit(d) {
		return pin.ErrInvalidPIN
	}
	g.notice = NoticeNone
	g.digits = append(g.digits, d)
	if len(g.digits) < pin.Length {
		return nil
	}
	return g.completePin(ctx)
}

// DeleteDigit removes the last entered digit, if any.
func (g *Gate) DeleteDigit() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateNeedsPin {
		return ErrInvalidTransition
	}
	if n := len(g.digits); n > 0 {
		g.digits = g.digits[:n-1]
	}
	return nil
}

// SubmitPin enters a whole PIN at once, replacing any partial entry.
func (g *Gate) SubmitPin(ctx context.Context, p string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateNeedsPin {
		return ErrInvalidTransition
	}
	g.digits = g.digits[:0]
	if !pin.Valid(p) {
		return pin.ErrInvalidPIN
	}
	g.notice = NoticeNone
	g.digits = append(g.digits, p...)
	return g.completePin(ctx)
}

// EnablePin turns PIN protection on. newPin may be empty only when the
// profile already holds a PIN hash.
func (g *Gate) EnablePin(ctx context.Context, newPin string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateAuthenticated {
		return ErrInvalidTransition
	}

	enabled := true
	upd := identity.ProfileUpdate{PinEnabled: &enabled}
	if newPin != "" {
		h, err := pin.Hash(newPin)
		if err != nil {
			return err
		}
		upd.PinHash = &h
	} else {
		p, err := g.profiles.FindByID(ctx, g.identity.UserID)
		if err != nil {
			return identity.Remote("read profile", err)
		}
		if !p.HasPin() {
			return ErrPinRequired
		}
	}

	if err := g.profiles.Update(ctx, g.identity.UserID, upd); err != nil {
		return identity.Remote("enable pin", err)
	}
	g.notify(ctx, NoticePinEnabled)
	return nil
}

// DisablePin turns PIN protection off. The stored hash is kept but unused.
func (g *Gate) DisablePin(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateAuthenticated {
		return ErrInvalidTransition
	}
	enabled := false
	if err := g.profiles.Update(ctx, g.identity.UserID, identity.ProfileUpdate{PinEnabled: &enabled}); err != nil {
		return identity.Remote("disable pin", err)
	}
	g.notify(ctx, NoticePinDisabled)
	return nil
}

// ChangePin stores a new PIN and turns protection on.
func (g *Gate) ChangePin(ctx context.Context, newPin string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateAuthenticated {
		return ErrInvalidTransition
	}
	if err := g.storePin(ctx, newPin); err != nil {
		return err
	}
	g.notify(ctx, NoticePinSet)
	return nil
}

// SetDisplayName updates the name shown for the active profile.
func (g *Gate) SetDisplayName(ctx context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateAuthenticated {
		return ErrInvalidTransition
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidDisplayName
	}
	if err := g.profiles.Update(ctx, g.identity.UserID, identity.ProfileUpdate{DisplayName: &name}); err != nil {
		return identity.Remote("set display name", err)
	}
	return nil
}

// Profile returns the active profile. Only an authenticated run may read it.
func (g *Gate) Profile(ctx context.Context) (identity.Profile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateAuthenticated {
		return identity.Profile{}, ErrInvalidTransition
	}
	p, err := g.profiles.FindByID(ctx, g.identity.UserID)
	if err != nil {
		return identity.Profile{}, identity.Remote("read profile", err)
	}
	return p, nil
}

// Logout signs the device out and forgets everything but the username. The
// run continues in NeedsUsername, as a fresh run on this cache would.
func (g *Gate) Logout(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateAuthenticated {
		return ErrInvalidTransition
	}
	g.signOutCached(ctx)
	if err := g.cache.Clear(ctx, true); err != nil {
		return fmt.Errorf("clear device cache: %w", err)
	}
	g.lastUsername = g.identity.Username
	g.identity = identity.Identity{}
	g.transition(StateNeedsUsername)
	g.notify(ctx, NoticeSignedOut)
	return nil
}

// ClearAllData deletes the active profile and wipes the device cache,
// username included. confirmUsername must equal the active username exactly.
func (g *Gate) ClearAllData(ctx context.Context, confirmUsername string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateAuthenticated {
		return ErrInvalidTransition
	}
	if confirmUsername != g.identity.Username {
		return ErrConfirmationMismatch
	}
	if err := g.profiles.Delete(ctx, g.identity.UserID); err != nil {
		return identity.Remote("delete profile", err)
	}
	g.signOutCached(ctx)
	if err := g.cache.Clear(ctx, false); err != nil {
		return fmt.Errorf("wipe device cache: %w", err)
	}
	g.logger.Info("identity data cleared", slog.String("user_id", g.identity.UserID))
	g.lastUsername = ""
	g.identity = identity.Identity{}
	g.transition(StateNeedsUsername)
	g.notify(ctx, NoticeDataCleared)
	return nil
}

// checkPin reads pin_enabled for the current identity and moves to NeedsPin
// or Authenticated. A failed read fails the run; access is never granted
// without a confirmed profile.
func (g *Gate) checkPin(ctx context.Context) error {
	p, err := g.profiles.FindByID(ctx, g.identity.UserID)
	if err != nil {
		return g.fail(identity.Remote("read pin settings", err))
	}
	if !p.PinEnabled {
		g.transition(StateAuthenticated)
		return nil
	}
	g.pinSetup = !p.HasPin()
	g.digits = g.digits[:0]
	g.transition(StateNeedsPin)
	return nil
}

// completePin acts on a full 4-digit entry. The buffer is always cleared.
func (g *Gate) completePin(ctx context.Context) error {
	entered := string(g.digits)
	g.digits = g.digits[:0]

	if g.pinSetup {
		if err := g.storePin(ctx, entered); err != nil {
			metrics.PinChecksTotal.WithLabelValues("error").Inc()
			g.notify(ctx, NoticePinSetFailed)
			return err
		}
		metrics.PinChecksTotal.WithLabelValues("set").Inc()
		g.pinSetup = false
		g.transition(StateAuthenticated)
		g.notify(ctx, NoticePinSet)
		return nil
	}

	p, err := g.profiles.FindByID(ctx, g.identity.UserID)
	if err != nil {
		metrics.PinChecksTotal.WithLabelValues("error").Inc()
		return identity.Remote("read pin hash", err)
	}
	if !pin.Verify(entered, p.PinHash) {
		metrics.PinChecksTotal.WithLabelValues("mismatch").Inc()
		g.notify(ctx, NoticeIncorrectPin)
		return nil
	}
	metrics.PinChecksTotal.WithLabelValues("match").Inc()
	g.transition(StateAuthenticated)
	return nil
}

func (g *Gate) storePin(ctx context.Context, p string) error {
	h, err := pin.Hash(p)
	if err != nil {
		return err
	}
	enabled := true
	if err := g.profiles.Update(ctx, g.identity.UserID, identity.ProfileUpdate{PinHash: &h, PinEnabled: &enabled}); err != nil {
		return identity.Remote("store pin", err)
	}
	return nil
}

func (g *Gate) signOutCached(ctx context.Context) {
	local, err := g.cache.Get(ctx)
	if err != nil {
		g.logger.Warn("read device cache before sign out", slog.Any("error", err))
		return
	}
	if local.SessionToken == "" {
		return
	}
	if err := g.sessions.SignOut(ctx, local.SessionToken); err != nil {
		g.logger.Warn("sign out session", slog.Any("error", err))
	}
}

func (g *Gate) fail(err error) error {
	g.failure = err
	g.transition(StateFailed)
	g.logger.Error("gate failed", slog.Any("error", err))
	return err
}

func (g *Gate) transition(to State) {
	from := g.state
	g.state = to
	metrics.GateTransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
	g.logger.Debug("gate transition", slog.String("from", from.String()), slog.String("to", to.String()))
}

func (g *Gate) notify(ctx context.Context, n Notice) {
	g.notice = n
	msg := notification.Message{Kind: notification.KindGateNotice, Destination: g.deviceID, Body: string(n)}
	if err := g.notifier.Send(ctx, msg); err != nil {
		g.logger.Warn("send notice", slog.String("notice", string(n)), slog.Any("error", err))
	}
}

// signalReady tells the shell once that the run has left Loading.
func (g *Gate) signalReady(ctx context.Context) {
	if g.ready || g.state == StateLoading {
		return
	}
	g.ready = true
	if err := g.shell.HideSplash(ctx); err != nil {
		g.logger.Warn("hide splash", slog.Any("error", err))
	}
}
