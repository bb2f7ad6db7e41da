package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Profiles are keyed by the provisional session user id that created them.
// pin_enabled may be true while pin_hash is still NULL; the gate treats that
// as a first-time PIN setup.
const profilesSchema = `
CREATE TABLE IF NOT EXISTS profiles (
    user_id      UUID PRIMARY KEY,
    username     TEXT NOT NULL,
    display_name TEXT NOT NULL DEFAULT '',
    pin_hash     TEXT,
    pin_enabled  BOOLEAN NOT NULL DEFAULT FALSE,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT profiles_username_key UNIQUE (username),
    CONSTRAINT profiles_pin_hash_len CHECK (pin_hash IS NULL OR char_length(pin_hash) = 64)
)`

// Migrate creates the tables the identity core depends on.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if db == nil {
		return fmt.Errorf("database pool is required")
	}
	if _, err := db.Exec(ctx, profilesSchema); err != nil {
		return fmt.Errorf("create profiles table: %w", err)
	}
	return nil
}
