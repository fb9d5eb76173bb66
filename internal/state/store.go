package state

import (
	"errors"

	"github.com/TheMichaelB/readsync/internal/models"
)

// Store manages sync state persistence.
type Store interface {
	// Load retrieves the sync state for a book.
	Load(bookID string) (*models.SyncState, error)

	// Save persists the sync state for a book.
	Save(state *models.SyncState) error

	// Reset removes all state for a book.
	Reset(bookID string) error

	// List returns all known book IDs.
	List() ([]string, error)

	// All returns every stored state ordered by book ID.
	All() ([]*models.SyncState, error)

	// Close releases resources.
	Close() error
}

// Errors
var (
	ErrStateNotFound = errors.New("state not found")
	ErrStateCorrupt  = errors.New("state is corrupt")
)

// CurrentSchemaVersion for migrations.
const CurrentSchemaVersion = 1

// LoadOrNew returns the stored state for bookID, or an empty one.
func LoadOrNew(s Store, bookID string) (*models.SyncState, error) {
	st, err := s.Load(bookID)
	if errors.Is(err, ErrStateNotFound) {
		return models.NewSyncState(bookID), nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}
