package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProfileRepository persists profiles. Lookups are exact, case-sensitive
// string matches.
type ProfileRepository interface {
	Create(ctx context.Context, profile Profile) error
	FindByUsername(ctx context.Context, username string) (Profile, error)
	FindByID(ctx context.Context, userID string) (Profile, error)
	Update(ctx context.Context, userID string, upd ProfileUpdate) error
	Delete(ctx context.Context, userID string) error
}

const uniqueViolation = "23505"

// PostgresRepository implements ProfileRepository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed profile repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new profile. A username or user id that already exists
// yields ErrConflict.
func (r *PostgresRepository) Create(ctx context.Context, p Profile) error {
	userID, err := uuid.Parse(p.UserID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = r.db.Exec(ctx, `INSERT INTO profiles (user_id, username, display_name, pin_hash, pin_enabled, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $6)`, userID, p.Username, p.DisplayName, nullable(p.PinHash), p.PinEnabled, now)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}

// FindByUsername fetches the profile claiming username.
func (r *PostgresRepository) FindByUsername(ctx context.Context, username string) (Profile, error) {
	row := r.db.QueryRow(ctx, `SELECT user_id, username, display_name, pin_hash, pin_enabled, created_at, updated_at
        FROM profiles WHERE username = $1`, username)
	return scanProfile(row)
}

// FindByID fetches a profile by user id. Ids that are not UUIDs cannot exist.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Profile, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return Profile{}, ErrProfileNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT user_id, username, display_name, pin_hash, pin_enabled, created_at, updated_at
        FROM profiles WHERE user_id = $1`, userID)
	return scanProfile(row)
}

// Update applies the non-nil fields of upd.
func (r *PostgresRepository) Update(ctx context.Context, id string, upd ProfileUpdate) error {
	userID, err := uuid.Parse(id)
	if err != nil {
		return ErrProfileNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE profiles SET
        pin_hash = COALESCE($2, pin_hash),
        pin_enabled = COALESCE($3, pin_enabled),
        display_name = COALESCE($4, display_name),
        updated_at = $5
        WHERE user_id = $1`, userID, upd.PinHash, upd.PinEnabled, upd.DisplayName, time.Now().UTC())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// Delete removes the profile. Deleting a missing profile is not an error.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	userID, err := uuid.Parse(id)
	if err != nil {
		return nil
	}
	_, err = r.db.Exec(ctx, `DELETE FROM profiles WHERE user_id = $1`, userID)
	return err
}

func scanProfile(row pgx.Row) (Profile, error) {
	var (
		id      uuid.UUID
		pinHash *string
		p       Profile
	)
	if err := row.Scan(&id, &p.Username, &p.DisplayName, &pinHash, &p.PinEnabled, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrProfileNotFound
		}
		return Profile{}, err
	}
	p.UserID = id.String()
	if pinHash != nil {
		p.PinHash = *pinHash
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
