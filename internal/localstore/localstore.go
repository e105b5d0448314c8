// Package localstore is the device-local string key-value store that survives
// process restarts: active trip id, last-known trip document, ride history.
package localstore

import (
	"context"
	"errors"
	"sync"
)

// Well-known keys.
const (
	KeyActiveTrip  = "activeTripId"
	KeyTripDoc     = "tripDoc"
	KeyRideHistory = "rideHistory"
	KeyUserStatus  = "userStatus"
	KeyIdentity    = "identity"
)

// ErrNotFound is returned by Get for absent keys.
var ErrNotFound = errors.New("localstore: key not found")

// KV is a simple string key-value store.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Memory is an in-process KV.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: map[string]string{}}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
