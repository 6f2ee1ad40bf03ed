// Package session holds the daemon's current login credential.
package session

import "sync"

// Manager is a concurrency-safe credential holder implementing the
// engine's Session port. The epoch increments on every Install and
// Logout so the engine can detect that a session changed while a remote
// call was in flight.
type Manager struct {
	mu    sync.RWMutex
	token string
	epoch uint64
}

// NewManager returns a manager with no credential installed.
func NewManager() *Manager {
	return &Manager{}
}

// Install sets the bearer token for subsequent remote calls and bumps
// the epoch. An empty token is equivalent to Logout.
func (m *Manager) Install(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.epoch++
}

// Logout drops the credential and bumps the epoch.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.epoch++
}

// Token returns the current bearer token and whether one is installed.
func (m *Manager) Token() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, m.token != ""
}

// Epoch returns the current session epoch.
func (m *Manager) Epoch() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epoch
}
