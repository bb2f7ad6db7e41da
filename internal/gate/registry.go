package gate

import (
	"errors"
	"sync"
)

// ErrNoRun is returned when a device has not started a run.
var ErrNoRun = errors.New("no gate run for device")

// Factory builds a fresh gate run for a device.
type Factory func(deviceID string) *Gate

// Registry holds the current run of every device that started one.
type Registry struct {
	mu      sync.Mutex
	runs    map[string]*Gate
	newGate Factory
}

// NewRegistry creates a registry whose runs are built by factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{runs: make(map[string]*Gate), newGate: factory}
}

// Begin starts a new run for deviceID, replacing any previous one.
func (r *Registry) Begin(deviceID string) *Gate {
	g := r.newGate(deviceID)
	r.mu.Lock()
	r.runs[deviceID] = g
	r.mu.Unlock()
	return g
}

// Get returns the current run for deviceID.
func (r *Registry) Get(deviceID string) (*Gate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.runs[deviceID]
	if !ok {
		return nil, ErrNoRun
	}
	return g, nil
}
