package state

import (
	"fmt"
	"sort"
	"sync"

	"github.com/TheMichaelB/readsync/internal/models"
)

// MockStore provides an in-memory implementation for testing and dry runs.
type MockStore struct {
	mu     sync.RWMutex
	states map[string]*models.SyncState

	// SaveErr, when set, is returned by Save.
	SaveErr error
	saves   int
}

// NewMockStore creates a mock state store.
func NewMockStore() *MockStore {
	return &MockStore{
		states: make(map[string]*models.SyncState),
	}
}

// Load loads sync state for a book.
func (m *MockStore) Load(bookID string) (*models.SyncState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if state, ok := m.states[bookID]; ok {
		// Return a copy to avoid race conditions
		return state.Clone(), nil
	}

	return nil, ErrStateNotFound
}

// Save saves sync state for a book.
func (m *MockStore) Save(state *models.SyncState) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveErr != nil {
		return m.SaveErr
	}

	// Store a copy to avoid race conditions
	m.states[state.BookID] = state.Clone()
	m.saves++
	return nil
}

// Reset removes sync state for a book.
func (m *MockStore) Reset(bookID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, bookID)
	return nil
}

// List returns all book IDs with stored state.
func (m *MockStore) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bookIDs := make([]string, 0, len(m.states))
	for bookID := range m.states {
		bookIDs = append(bookIDs, bookID)
	}
	sort.Strings(bookIDs)
	return bookIDs, nil
}

// All returns copies of every stored state.
func (m *MockStore) All() ([]*models.SyncState, error) {
	ids, _ := m.List()

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.SyncState, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.states[id].Clone())
	}
	return out, nil
}

// Helper methods for testing

// SaveState saves state directly (for test setup).
func (m *MockStore) SaveState(state *models.SyncState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.BookID] = state
}

// Saves returns how many successful Save calls were made.
func (m *MockStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// Close closes the store (no-op for mock).
func (m *MockStore) Close() error {
	return nil
}

// Clear removes all states.
func (m *MockStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = make(map[string]*models.SyncState)
}
