package rulestore

import (
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Manager keeps one Store per session ID. Stores are created lazily on
// first access and seeded exactly once, so repeated initialization of the
// same session never duplicates or resets policies.
type Manager struct {
	mu       sync.Mutex
	defaults domain.PolicySet
	stores   map[string]*Store
}

// NewManager creates a session store manager. Each new session is seeded
// with a fresh copy of defaults (domain.DefaultPolicies when nil).
func NewManager(defaults domain.PolicySet) *Manager {
	if len(defaults) == 0 {
		defaults = domain.DefaultPolicies()
	}
	return &Manager{
		defaults: defaults,
		stores:   make(map[string]*Store),
	}
}

// Session returns the store for sessionID, creating and seeding it if this
// is the session's first access.
func (m *Manager) Session(sessionID string) *Store {
	m.mu.Lock()
	defer m.mu.Unlock()

	store, ok := m.stores[sessionID]
	if !ok {
		store = New(m.defaults)
		m.stores[sessionID] = store
	}
	return store
}

// Drop discards a session's store, e.g. when the session ends.
func (m *Manager) Drop(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stores, sessionID)
}

// SessionCount returns the number of live session stores.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stores)
}
