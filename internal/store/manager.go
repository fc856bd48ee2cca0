package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_storefront/internal/upstream"
)

// Manager hands out per-session store instances. Each (session, collection)
// pair gets its own optimistic snapshot and subscriber set; cross-session
// reactivity is explicitly not provided.
type Manager struct {
	remote  Remote
	catalog CatalogReader
	prompt  AuthPrompter
	now     func() time.Time

	mu     sync.Mutex
	stores map[string]*managedStore
}

type managedStore struct {
	store    *Store
	lastSeen time.Time
}

func NewManager(remote Remote, catalog CatalogReader, prompt AuthPrompter) *Manager {
	return &Manager{
		remote:  remote,
		catalog: catalog,
		prompt:  prompt,
		now:     time.Now,
		stores:  make(map[string]*managedStore),
	}
}

func (m *Manager) Get(sessionID string, col upstream.Collection) *Store {
	key := fmt.Sprintf("%s/%s", sessionID, col)

	m.mu.Lock()
	defer m.mu.Unlock()

	if ms, ok := m.stores[key]; ok {
		ms.lastSeen = m.now()
		return ms.store
	}

	s := New(col, m.remote, NewRevalidator(m.catalog), m.prompt)
	m.stores[key] = &managedStore{store: s, lastSeen: m.now()}
	return s
}

// Drop releases a session's stores, e.g. when its cookie expires.
func (m *Manager) Drop(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stores, fmt.Sprintf("%s/%s", sessionID, upstream.CollectionCart))
	delete(m.stores, fmt.Sprintf("%s/%s", sessionID, upstream.CollectionWishlist))
}

// EvictIdle drops every store not touched for at least maxIdle and reports
// how many were removed. The backing session state has its own TTL; a
// returning session simply gets a fresh instance and re-syncs.
func (m *Manager) EvictIdle(maxIdle time.Duration) int {
	cutoff := m.now().Add(-maxIdle)

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for key, ms := range m.stores {
		if ms.lastSeen.Before(cutoff) {
			delete(m.stores, key)
			evicted++
		}
	}
	return evicted
}
