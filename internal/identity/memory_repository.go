package identity

import (
	"context"
	"sync"
	"time"
)

type memoryRepository struct {
	mu         sync.RWMutex
	byID       map[string]Profile
	byUsername map[string]string
}

// NewMemoryRepository builds an in-memory profile store for development and tests.
func NewMemoryRepository() ProfileRepository {
	return &memoryRepository{byID: make(map[string]Profile), byUsername: make(map[string]string)}
}

func (r *memoryRepository) Create(_ context.Context, p Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byUsername[p.Username]; exists {
		return ErrConflict
	}
	if _, exists := r.byID[p.UserID]; exists {
		return ErrConflict
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	r.byID[p.UserID] = p
	r.byUsername[p.Username] = p.UserID
	return nil
}

func (r *memoryRepository) FindByUsername(_ context.Context, username string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byUsername[username]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	return r.byID[id], nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	return p, nil
}

func (r *memoryRepository) Update(_ context.Context, id string, upd ProfileUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return ErrProfileNotFound
	}
	if upd.PinHash != nil {
		p.PinHash = *upd.PinHash
	}
	if upd.PinEnabled != nil {
		p.PinEnabled = *upd.PinEnabled
	}
	if upd.DisplayName != nil {
		p.DisplayName = *upd.DisplayName
	}
	p.UpdatedAt = time.Now().UTC()
	r.byID[id] = p
	return nil
}

func (r *memoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil
	}
	delete(r.byID, id)
	delete(r.byUsername, p.Username)
	return nil
}
