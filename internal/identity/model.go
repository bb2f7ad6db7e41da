package identity

import (
	"context"
	"time"
)

// Profile is the remote record behind an identity.
type Profile struct {
	UserID      string
	Username    string
	DisplayName string
	// PinHash is empty when no PIN was ever set.
	PinHash    string
	PinEnabled bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HasPin reports whether a PIN hash is stored on the profile.
func (p Profile) HasPin() bool {
	return p.PinHash != ""
}

// ProfileUpdate lists the profile fields to change. Nil fields are left as is.
type ProfileUpdate struct {
	PinHash     *string
	PinEnabled  *bool
	DisplayName *string
}

// Identity pairs a username with its opaque user id.
type Identity struct {
	UserID   string
	Username string
}

// LocalSession is what a device remembers about who is using it.
type LocalSession struct {
	Username     string
	UserID       string
	SessionToken string
}

// Complete reports whether the device holds a full identity. A cache that
// only kept the username after a logout is not complete.
func (s LocalSession) Complete() bool {
	return s.Username != "" && s.UserID != ""
}

// Identity returns the username/user id pair held by the session.
func (s LocalSession) Identity() Identity {
	return Identity{UserID: s.UserID, Username: s.Username}
}

// Session is an anonymous remote credential. Its UserID is provisional until a
// resolution adopts it for a new profile.
type Session struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
}

// SessionIssuer hands out and revokes anonymous sessions.
type SessionIssuer interface {
	IssueAnonymous(ctx context.Context) (Session, error)
	SignOut(ctx context.Context, token string) error
}

// LocalCache is the device-side store of the last resolved identity.
type LocalCache interface {
	Get(ctx context.Context) (LocalSession, error)
	Put(ctx context.Context, session LocalSession) error
	Clear(ctx context.Context, preserveUsername bool) error
}
