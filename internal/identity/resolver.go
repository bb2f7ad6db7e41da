package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/expense-tracker/expense_tracker/internal/logging"
	"github.com/expense-tracker/expense_tracker/internal/metrics"
)

// Resolution is the outcome of a successful Resolve.
type Resolution struct {
	Identity
	// Created is set when this call created the profile.
	Created bool
	// Adopted is set when a concurrent resolution created the profile first
	// and this call took over its user id.
	Adopted bool
	Session Session
}

// Resolver maps a typed username onto an existing or new profile.
type Resolver struct {
	profiles ProfileRepository
	sessions SessionIssuer
	logger   *slog.Logger
}

// NewResolver creates a resolver over the remote profile store and session issuer.
func NewResolver(profiles ProfileRepository, sessions SessionIssuer, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Resolver{profiles: profiles, sessions: sessions, logger: logger}
}

// Resolve claims or reuses candidate and records the identity in local.
//
// A username maps to exactly one user id: an existing profile always wins over
// the provisional session, so calling Resolve again with the same username
// returns the same user id. On success the returned user id has a profile that
// was read back from the store. On failure local is either untouched (bad
// input, remote errors before a create) or cleared down to the username.
func (r *Resolver) Resolve(ctx context.Context, local LocalCache, candidate string) (Resolution, error) {
	username, err := NormalizeUsername(candidate)
	if err != nil {
		metrics.ResolutionsTotal.WithLabelValues("invalid").Inc()
		return Resolution{}, err
	}

	prev, err := local.Get(ctx)
	if err != nil {
		return Resolution{}, fmt.Errorf("read device cache: %w", err)
	}
	if prev.SessionToken != "" {
		r.signOut(ctx, prev.SessionToken, "previous")
	}

	provisional, err := r.sessions.IssueAnonymous(ctx)
	if err != nil {
		metrics.ResolutionsTotal.WithLabelValues("remote_error").Inc()
		return Resolution{}, Remote("issue session", err)
	}

	existing, err := r.profiles.FindByUsername(ctx, username)
	switch {
	case err == nil:
		r.signOut(ctx, provisional.Token, "provisional")
		return r.bind(ctx, local, existing, "existing")
	case !errors.Is(err, ErrProfileNotFound):
		r.signOut(ctx, provisional.Token, "provisional")
		metrics.ResolutionsTotal.WithLabelValues("remote_error").Inc()
		return Resolution{}, Remote("find profile by username", err)
	}

	return r.create(ctx, local, username, provisional)
}

// bind issues the session the device keeps for an already existing profile.
func (r *Resolver) bind(ctx context.Context, local LocalCache, p Profile, outcome string) (Resolution, error) {
	session, err := r.sessions.IssueAnonymous(ctx)
	if err != nil {
		metrics.ResolutionsTotal.WithLabelValues("remote_error").Inc()
		return Resolution{}, Remote("issue session", err)
	}

	res := Resolution{
		Identity: Identity{UserID: p.UserID, Username: p.Username},
		Adopted:  outcome == "adopted",
		Session:  session,
	}
	if err := local.Put(ctx, LocalSession{Username: p.Username, UserID: p.UserID, SessionToken: session.Token}); err != nil {
		r.signOut(ctx, session.Token, "bound")
		return Resolution{}, fmt.Errorf("write device cache: %w", err)
	}

	metrics.ResolutionsTotal.WithLabelValues(outcome).Inc()
	r.logger.Info("identity resolved", slog.String("user_id", p.UserID), slog.String("outcome", outcome))
	return res, nil
}

// create claims username for the provisional session's user id.
func (r *Resolver) create(ctx context.Context, local LocalCache, username string, provisional Session) (Resolution, error) {
	profile := Profile{
		UserID:      provisional.UserID,
		Username:    username,
		DisplayName: username,
		PinEnabled:  false,
	}

	if err := r.profiles.Create(ctx, profile); err != nil {
		if errors.Is(err, ErrConflict) {
			return r.adopt(ctx, local, username, provisional)
		}
		r.rollback(ctx, local, provisional)
		metrics.ResolutionsTotal.WithLabelValues("remote_error").Inc()
		return Resolution{}, Remote("create profile", err)
	}

	stored, err := r.profiles.FindByID(ctx, profile.UserID)
	if err == nil && stored.Username != username {
		err = fmt.Errorf("stored username %q", stored.Username)
	}
	if err != nil {
		r.rollback(ctx, local, provisional)
		metrics.ResolutionsTotal.WithLabelValues("verification_error").Inc()
		return Resolution{}, fmt.Errorf("%w: %w", ErrVerification, err)
	}

	if err := local.Put(ctx, LocalSession{Username: username, UserID: profile.UserID, SessionToken: provisional.Token}); err != nil {
		r.rollback(ctx, local, provisional)
		return Resolution{}, fmt.Errorf("write device cache: %w", err)
	}

	metrics.ResolutionsTotal.WithLabelValues("created").Inc()
	r.logger.Info("identity created", slog.String("user_id", profile.UserID))
	return Resolution{
		Identity: Identity{UserID: profile.UserID, Username: username},
		Created:  true,
		Session:  provisional,
	}, nil
}

// adopt handles losing the create race: the winner's profile becomes ours.
func (r *Resolver) adopt(ctx context.Context, local LocalCache, username string, provisional Session) (Resolution, error) {
	r.signOut(ctx, provisional.Token, "provisional")

	winner, err := r.profiles.FindByUsername(ctx, username)
	if err != nil {
		metrics.ResolutionsTotal.WithLabelValues("conflict").Inc()
		if errors.Is(err, ErrProfileNotFound) {
			return Resolution{}, fmt.Errorf("%w: %q vanished after conflicting create", ErrConflict, username)
		}
		return Resolution{}, fmt.Errorf("%w: %w", ErrConflict, Remote("find conflicting profile", err))
	}
	r.logger.Warn("username claimed concurrently, adopting winner", slog.String("user_id", winner.UserID))
	return r.bind(ctx, local, winner, "adopted")
}

func (r *Resolver) rollback(ctx context.Context, local LocalCache, provisional Session) {
	r.signOut(ctx, provisional.Token, "provisional")
	if err := local.Clear(ctx, true); err != nil {
		r.logger.Error("clear device cache after failed resolution", slog.Any("error", err))
	}
}

func (r *Resolver) signOut(ctx context.Context, token, which string) {
	if err := r.sessions.SignOut(ctx, token); err != nil {
		r.logger.Warn("sign out session", slog.String("session", which), slog.Any("error", err))
	}
}
