package auth

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/expense-tracker/expense_tracker/internal/config"
	"github.com/expense-tracker/expense_tracker/internal/identity"
)

var (
	// ErrInvalidToken covers malformed, forged and expired session tokens.
	ErrInvalidToken = errors.New("invalid session token")
	// ErrSessionRevoked is returned for a well-formed token whose session was signed out.
	ErrSessionRevoked = errors.New("session signed out")
)

const signingKeyInfo = "anonymous-session-signing-key"

// Service issues anonymous sessions. It is the session half of the remote
// identity service.
type Service struct {
	store  SessionStore
	key    []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

var _ identity.SessionIssuer = (*Service)(nil)

// NewService derives the token signing key from cfg.SessionSecret.
func NewService(cfg config.Config, store SessionStore) (*Service, error) {
	if cfg.SessionSecret == "" {
		return nil, errors.New("session secret is required")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(cfg.SessionSecret), nil, []byte(signingKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return &Service{store: store, key: key, ttl: cfg.SessionTTL, issuer: cfg.AppName, now: time.Now}, nil
}

// IssueAnonymous creates a session bound to a fresh provisional user id.
func (s *Service) IssueAnonymous(ctx context.Context) (identity.Session, error) {
	now := s.now()
	sess := identity.Session{
		ID:        uuid.NewString(),
		UserID:    uuid.NewString(),
		ExpiresAt: now.Add(s.ttl),
	}
	claims := jwt.RegisteredClaims{
		ID:        sess.ID,
		Subject:   sess.UserID,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return identity.Session{}, fmt.Errorf("sign session: %w", err)
	}
	if err := s.store.Put(ctx, sess.ID, sess.UserID, s.ttl); err != nil {
		return identity.Session{}, err
	}
	sess.Token = signed
	return sess, nil
}

// SignOut revokes the session behind token. Expired tokens are accepted so a
// stale device can still clean up; forged ones are not.
func (s *Service) SignOut(ctx context.Context, token string) error {
	claims, err := s.parse(token, jwt.WithoutClaimsValidation())
	if err != nil {
		return err
	}
	return s.store.Delete(ctx, claims.ID)
}

// Verify checks signature, expiry and that the session was not signed out.
func (s *Service) Verify(ctx context.Context, token string) (identity.Session, error) {
	claims, err := s.parse(token, jwt.WithExpirationRequired(), jwt.WithTimeFunc(s.now))
	if err != nil {
		return identity.Session{}, err
	}
	live, err := s.store.Exists(ctx, claims.ID)
	if err != nil {
		return identity.Session{}, err
	}
	if !live {
		return identity.Session{}, ErrSessionRevoked
	}
	return identity.Session{
		ID:        claims.ID,
		UserID:    claims.Subject,
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) parse(token string, opts ...jwt.ParserOption) (*jwt.RegisteredClaims, error) {
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrInvalidToken)
	}
	return claims, nil
}
