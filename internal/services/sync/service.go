package sync

import (
	"context"
	"fmt"
	"strings"

	"github.com/TheMichaelB/readsync/internal/config"
	"github.com/TheMichaelB/readsync/internal/events"
	"github.com/TheMichaelB/readsync/internal/models"
	"github.com/TheMichaelB/readsync/internal/state"
)

// Service provides high-level sync operations.
type Service struct {
	engine     *Engine
	state      state.Store
	databaseID string
	bookLimit  int
	logger     *events.Logger
}

// NewService creates a sync service from the application config.
func NewService(
	session CookieLoader,
	reader SessionReader,
	writer Writer,
	store state.Store,
	cfg *config.Config,
	logger *events.Logger,
) *Service {
	engine := NewEngine(session, reader, writer, store, &SyncConfig{
		DatabaseID:     cfg.Notion.DatabaseID,
		ReaderURL:      cfg.Reader.BaseURL,
		IncludeReviews: cfg.Sync.IncludeReviews,
		WriteDelay:     cfg.Notion.WriteDelay,
	}, logger)

	return &Service{
		engine:     engine,
		state:      store,
		databaseID: cfg.Notion.DatabaseID,
		bookLimit:  cfg.Sync.BookLimit,
		logger:     logger.WithField("service", "sync"),
	}
}

// Sync runs one sync. A zero limit in opts falls back to the configured one.
func (s *Service) Sync(ctx context.Context, opts Options) (*Summary, error) {
	if strings.TrimSpace(s.databaseID) == "" {
		return nil, &models.SyncError{
			Code:  models.ErrCodeConfig,
			Phase: "validate",
			Err:   fmt.Errorf("%w: notion.database_id is required", models.ErrInvalidConfig),
		}
	}
	if opts.BookLimit == 0 {
		opts.BookLimit = s.bookLimit
	}

	return s.engine.Run(ctx, opts)
}

// ResetBook forgets what was pushed for a book so the next sync rebuilds
// its page.
func (s *Service) ResetBook(bookID string) error {
	if err := s.state.Reset(bookID); err != nil {
		return fmt.Errorf("reset state for %s: %w", bookID, err)
	}
	s.logger.WithField("book_id", bookID).Info("Book state reset")
	return nil
}

// States returns the stored state of every book.
func (s *Service) States() ([]*models.SyncState, error) {
	return s.state.All()
}

// GetProgress returns sync progress.
func (s *Service) GetProgress() *Progress {
	return s.engine.GetProgress()
}

// Events returns the event channel.
func (s *Service) Events() <-chan Event {
	return s.engine.Events()
}

// Cancel stops an ongoing sync.
func (s *Service) Cancel() {
	s.engine.Cancel()
}
