package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/TheMichaelB/readsync/internal/config"
	"github.com/TheMichaelB/readsync/internal/cookies"
	"github.com/TheMichaelB/readsync/internal/cookiesync"
	"github.com/TheMichaelB/readsync/internal/creds"
	"github.com/TheMichaelB/readsync/internal/events"
	"github.com/TheMichaelB/readsync/internal/models"
	"github.com/TheMichaelB/readsync/internal/notion"
	cookiesvc "github.com/TheMichaelB/readsync/internal/services/cookies"
	"github.com/TheMichaelB/readsync/internal/services/sync"
	"github.com/TheMichaelB/readsync/internal/state"
	"github.com/TheMichaelB/readsync/internal/weread"
)

// Client provides the high-level API for readsync operations.
type Client struct {
	Cookies *cookiesvc.Service
	Reader  *weread.Client
	Notion  *notion.Client
	Sync    *sync.Service
	State   StateManager

	// Sources records where the secrets were found.
	Sources creds.Resolved

	config *config.Config
	logger *events.Logger
	store  state.Store
}

// StateManager provides state management operations.
type StateManager interface {
	ListStates() ([]*models.SyncState, error)
	LoadState(bookID string) (*models.SyncState, error)
	Reset(bookID string) error
	ResetAll() (int, error)
}

// New resolves missing secrets and creates a readsync client. secrets may be
// nil to skip the keyring.
func New(cfg *config.Config, secrets creds.SecretStore, logger *events.Logger) (*Client, error) {
	sources, err := creds.Resolve(cfg, secrets, logger)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	// Create state store
	stateStore, err := state.NewSQLiteStore(cfg.Storage.StateDB, logger)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	// Create services
	fetcher := cookiesync.NewClient(&cfg.CookieSync, cfg.Dev.InsecureSkipVerify, logger)
	cookieService, err := cookiesvc.NewService(fetcher, &cfg.CookieSync, logger)
	if err != nil {
		_ = stateStore.Close()
		return nil, err
	}

	reader := weread.NewClient(cfg, nil, logger)
	writer := notion.NewClient(cfg, logger)

	syncService := sync.NewService(cookieService, reader, writer, stateStore, cfg, logger)

	logger.WithFields(map[string]interface{}{
		"password_source": sources.Password,
		"token_source":    sources.Token,
	}).Debug("Client ready")

	return &Client{
		Cookies: cookieService,
		Reader:  reader,
		Notion:  writer,
		Sync:    syncService,
		State:   &stateManager{store: stateStore},
		Sources: sources,
		config:  cfg,
		logger:  logger,
		store:   stateStore,
	}, nil
}

// Config returns the resolved configuration.
func (c *Client) Config() *config.Config {
	return c.config
}

// OpenSession loads the session cookies and hands them to the reader.
func (c *Client) OpenSession(ctx context.Context) error {
	if err := c.config.RequireCookieSync(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}

	values, err := c.Cookies.Load(ctx)
	if err != nil {
		return err
	}

	jar, err := cookies.HTTPJar(values, c.config.Reader.BaseURL)
	if err != nil {
		return &models.SyncError{Code: models.ErrCodeCookies, Phase: "build_jar", Err: err}
	}
	c.Reader.SetJar(jar)
	return nil
}

// RunSync checks the settings a sync needs and runs it.
func (c *Client) RunSync(ctx context.Context, opts sync.Options) (*sync.Summary, error) {
	if err := c.config.RequireCookieSync(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}
	if err := c.config.RequireNotion(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}
	return c.Sync.Sync(ctx, opts)
}

// Books lists the reader's notebooks, most recently updated last. A
// positive limit keeps that many of the most recent ones.
func (c *Client) Books(ctx context.Context, limit int) ([]models.Book, error) {
	if err := c.OpenSession(ctx); err != nil {
		return nil, err
	}

	books, err := c.Reader.Notebooks(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(books) > limit {
		books = books[len(books)-limit:]
	}
	return books, nil
}

// Close releases connections and the state store.
func (c *Client) Close() error {
	return errors.Join(
		c.Reader.Close(),
		c.Notion.Close(),
		c.store.Close(),
	)
}

// stateManager implements StateManager interface.
type stateManager struct {
	store state.Store
}

func (sm *stateManager) ListStates() ([]*models.SyncState, error) {
	return sm.store.All()
}

func (sm *stateManager) LoadState(bookID string) (*models.SyncState, error) {
	return sm.store.Load(bookID)
}

func (sm *stateManager) Reset(bookID string) error {
	if _, err := sm.store.Load(bookID); err != nil {
		return err
	}
	return sm.store.Reset(bookID)
}

func (sm *stateManager) ResetAll() (int, error) {
	ids, err := sm.store.List()
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := sm.store.Reset(id); err != nil {
			return 0, fmt.Errorf("reset %s: %w", id, err)
		}
	}
	return len(ids), nil
}
