package state

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/readsync/internal/events"
	"github.com/TheMichaelB/readsync/internal/models"
)

// SQLiteStore implements SQLite-based state storage.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger
}

// NewSQLiteStore creates a SQLite state store.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "sqlite_state_store"),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return store, nil
}

// initialize creates tables and indexes.
func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS sync_states (
        book_id TEXT PRIMARY KEY,
        title TEXT NOT NULL DEFAULT '',
        page_id TEXT NOT NULL DEFAULT '',
        sort INTEGER NOT NULL DEFAULT 0,
        last_sync_time TIMESTAMP,
        last_error TEXT,
        created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
        updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS sync_items (
        book_id TEXT NOT NULL,
        item_id TEXT NOT NULL,
        created INTEGER NOT NULL DEFAULT 0,
        PRIMARY KEY (book_id, item_id),
        FOREIGN KEY (book_id) REFERENCES sync_states(book_id) ON DELETE CASCADE
    );

    CREATE INDEX IF NOT EXISTS idx_sync_items_book ON sync_items(book_id);

    CREATE TABLE IF NOT EXISTS schema_info (
        version INTEGER PRIMARY KEY
    );

    INSERT OR IGNORE INTO schema_info (version) VALUES (?);
    `

	if _, err := s.db.Exec(schema, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

// Load retrieves state from database.
func (s *SQLiteStore) Load(bookID string) (*models.SyncState, error) {
	s.logger.WithField("book_id", bookID).Debug("Loading state from SQLite")

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	state, err := loadState(tx, bookID)
	if err != nil {
		return nil, err
	}
	return state, nil
}

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
}

func loadState(q querier, bookID string) (*models.SyncState, error) {
	state := models.NewSyncState(bookID)
	var lastSyncTime sql.NullTime
	var lastError sql.NullString

	err := q.QueryRow(`
        SELECT title, page_id, sort, last_sync_time, last_error
        FROM sync_states
        WHERE book_id = ?
    `, bookID).Scan(&state.Title, &state.PageID, &state.Sort, &lastSyncTime, &lastError)

	if err == sql.ErrNoRows {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query state: %w", err)
	}

	if lastSyncTime.Valid {
		state.LastSyncTime = lastSyncTime.Time.UTC()
	}
	if lastError.Valid {
		state.LastError = lastError.String
	}

	rows, err := q.Query(`
        SELECT item_id, created
        FROM sync_items
        WHERE book_id = ?
    `, bookID)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var created int64
		if err := rows.Scan(&id, &created); err != nil {
			return nil, fmt.Errorf("scan item row: %w", err)
		}
		state.Items[id] = created
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}

	return state, nil
}

// Save persists state to database in one transaction.
func (s *SQLiteStore) Save(state *models.SyncState) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"book_id": state.BookID,
		"sort":    state.Sort,
		"items":   len(state.Items),
	}).Debug("Saving state to SQLite")

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var lastSync sql.NullTime
	if !state.LastSyncTime.IsZero() {
		lastSync = sql.NullTime{Time: state.LastSyncTime.UTC(), Valid: true}
	}

	// Upsert main state
	_, err = tx.Exec(`
        INSERT INTO sync_states (book_id, title, page_id, sort, last_sync_time, last_error, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(book_id) DO UPDATE SET
            title = excluded.title,
            page_id = excluded.page_id,
            sort = excluded.sort,
            last_sync_time = excluded.last_sync_time,
            last_error = excluded.last_error,
            updated_at = CURRENT_TIMESTAMP
    `, state.BookID, state.Title, state.PageID, state.Sort, lastSync, state.LastError)

	if err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}

	// Replace items
	if _, err := tx.Exec("DELETE FROM sync_items WHERE book_id = ?", state.BookID); err != nil {
		return fmt.Errorf("delete old items: %w", err)
	}

	stmt, err := tx.Prepare(`
        INSERT INTO sync_items (book_id, item_id, created)
        VALUES (?, ?, ?)
    `)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for id, created := range state.Items {
		if _, err := stmt.Exec(state.BookID, id, created); err != nil {
			return fmt.Errorf("insert item %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// Reset removes state for a book.
func (s *SQLiteStore) Reset(bookID string) error {
	s.logger.WithField("book_id", bookID).Info("Resetting state in SQLite")

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM sync_items WHERE book_id = ?", bookID); err != nil {
		return fmt.Errorf("delete items: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM sync_states WHERE book_id = ?", bookID); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}

	return tx.Commit()
}

// List returns all book IDs.
func (s *SQLiteStore) List() ([]string, error) {
	rows, err := s.db.Query("SELECT book_id FROM sync_states ORDER BY book_id")
	if err != nil {
		return nil, fmt.Errorf("query books: %w", err)
	}
	defer rows.Close()

	var bookIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan book ID: %w", err)
		}
		bookIDs = append(bookIDs, id)
	}

	return bookIDs, rows.Err()
}

// All returns every stored state.
func (s *SQLiteStore) All() ([]*models.SyncState, error) {
	ids, err := s.List()
	if err != nil {
		return nil, err
	}

	states := make([]*models.SyncState, 0, len(ids))
	for _, id := range ids {
		st, err := loadState(s.db, id)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", id, err)
		}
		states = append(states, st)
	}
	return states, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Age returns how long ago a book was last synced, or 0 if never.
func Age(st *models.SyncState, now time.Time) time.Duration {
	if st == nil || st.LastSyncTime.IsZero() {
		return 0
	}
	return now.Sub(st.LastSyncTime)
}
