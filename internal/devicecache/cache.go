// Package devicecache is the single owner of the identity a device remembers
// between runs. Nothing else reads or writes the underlying store.
package devicecache

import (
	"context"

	"github.com/expense-tracker/expense_tracker/internal/identity"
)

const (
	fieldUsername     = "username"
	fieldUserID       = "user_id"
	fieldSessionToken = "session_token"
)

// Cache adapts a device Store to identity.LocalCache.
type Cache struct {
	store Store
}

var _ identity.LocalCache = (*Cache)(nil)

// New wraps store.
func New(store Store) *Cache {
	return &Cache{store: store}
}

// Get returns whatever the device remembers. An empty cache yields a zero
// session and no error.
func (c *Cache) Get(ctx context.Context) (identity.LocalSession, error) {
	fields, err := c.store.Load(ctx)
	if err != nil {
		return identity.LocalSession{}, err
	}
	return identity.LocalSession{
		Username:     fields[fieldUsername],
		UserID:       fields[fieldUserID],
		SessionToken: fields[fieldSessionToken],
	}, nil
}

// Put replaces the remembered identity with s. On error the previous
// identity is left as it was.
func (c *Cache) Put(ctx context.Context, s identity.LocalSession) error {
	fields := map[string]string{
		fieldUsername: s.Username,
		fieldUserID:   s.UserID,
	}
	if s.SessionToken != "" {
		fields[fieldSessionToken] = s.SessionToken
	}
	return c.store.Replace(ctx, fields)
}

// Clear erases the device's identity. With preserveUsername the username
// field alone survives so the next sign-in can be prefilled.
func (c *Cache) Clear(ctx context.Context, preserveUsername bool) error {
	if !preserveUsername {
		return c.store.Drop(ctx)
	}
	fields, err := c.store.Load(ctx)
	if err != nil {
		return err
	}
	var drop []string
	for k := range fields {
		if k != fieldUsername {
			drop = append(drop, k)
		}
	}
	return c.store.Remove(ctx, drop...)
}
