package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TheMichaelB/readsync/internal/cookies"
	"github.com/TheMichaelB/readsync/internal/events"
	"github.com/TheMichaelB/readsync/internal/models"
	"github.com/TheMichaelB/readsync/internal/notion"
	"github.com/TheMichaelB/readsync/internal/state"
)

// Database properties written for every book.
const (
	PropertyBookName = "BookName"
	PropertyBookID   = "BookId"
	PropertyAuthor   = "Author"
	PropertySort     = "Sort"
	PropertyCategory = "Category" // only when known
	PropertyCover    = "Cover"    // only when known
	PropertyDate     = "Date"     // newest note pushed
)

// errPageGone reports that the stored page no longer exists.
var errPageGone = errors.New("stored page is gone")

// CookieLoader yields the session cookies for the reading platform.
type CookieLoader interface {
	Load(ctx context.Context) (map[string]string, error)
}

// Reader lists books and their notes.
type Reader interface {
	Notebooks(ctx context.Context) ([]models.Book, error)
	Bookmarks(ctx context.Context, bookID string) ([]models.Highlight, error)
	Reviews(ctx context.Context, bookID string) ([]models.Review, error)
}

// SessionReader is a Reader whose cookie jar can be replaced.
type SessionReader interface {
	Reader
	SetJar(jar http.CookieJar)
}

// Writer stores book pages in a Notion database.
type Writer interface {
	FindPage(ctx context.Context, databaseID, property, value string) (string, error)
	CreatePage(ctx context.Context, databaseID string, props notion.Properties, blocks []notion.Block) (string, error)
	UpdatePage(ctx context.Context, pageID string, props notion.Properties) error
	AppendBlocks(ctx context.Context, pageID string, blocks []notion.Block) error
	ArchivePage(ctx context.Context, pageID string) error
	MaxNumber(ctx context.Context, databaseID, property string) (float64, error)
}

// Engine implements the sync algorithm.
type Engine struct {
	session CookieLoader
	reader  SessionReader
	writer  Writer
	state   state.Store
	logger  *events.Logger

	// Configuration
	databaseID     string
	readerURL      string
	includeReviews bool
	writeDelay     time.Duration

	// Progress tracking
	progress atomic.Value // *Progress
	events   chan Event

	// Sync state
	mu           sync.Mutex
	syncing      bool
	cancelFn     context.CancelFunc
	eventsClosed bool
}

// Progress tracks sync progress.
type Progress struct {
	Phase          string
	TotalBooks     int
	ProcessedBooks int
	CurrentBook    string
	ItemsPushed    int
	StartTime      time.Time
	Errors         []error
}

// Event represents a sync event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Book      *models.Book
	Items     int
	Error     error
	Progress  *Progress
}

// EventType defines sync event types.
type EventType string

const (
	EventStarted      EventType = "started"
	EventBookStarted  EventType = "book_started"
	EventBookComplete EventType = "book_complete"
	EventBookSkipped  EventType = "book_skipped"
	EventBookError    EventType = "book_error"
	EventCompleted    EventType = "completed"
	EventFailed       EventType = "failed"
)

// SyncConfig contains sync configuration.
type SyncConfig struct {
	DatabaseID     string
	ReaderURL      string // cookie jar origin
	IncludeReviews bool
	WriteDelay     time.Duration // pause after each Notion write
}

// Options selects what one run syncs.
type Options struct {
	BookLimit int      // most recently updated books only, 0 = all
	BookIDs   []string // restrict to these books
	Full      bool     // rebuild pages from scratch
	DryRun    bool     // compute changes without writing

	// Watermark skips books without local state whose sort key is not
	// above the highest Sort already in the database.
	Watermark bool
}

// Summary reports the outcome of a run.
type Summary struct {
	Books    int
	Synced   int
	Skipped  int
	Failed   int
	Items    int
	Duration time.Duration
	Errors   []error
}

// NewEngine creates a sync engine. A nil session leaves the reader's cookie
// jar untouched.
func NewEngine(
	session CookieLoader,
	reader SessionReader,
	writer Writer,
	store state.Store,
	config *SyncConfig,
	logger *events.Logger,
) *Engine {
	return &Engine{
		session:        session,
		reader:         reader,
		writer:         writer,
		state:          store,
		logger:         logger.WithField("component", "sync_engine"),
		databaseID:     config.DatabaseID,
		readerURL:      config.ReaderURL,
		includeReviews: config.IncludeReviews,
		writeDelay:     config.WriteDelay,
		events:         make(chan Event, 100),
	}
}

// Events returns the event channel. It is closed when a run ends.
func (e *Engine) Events() <-chan Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events
}

// GetProgress returns current progress.
func (e *Engine) GetProgress() *Progress {
	if p := e.progress.Load(); p != nil {
		return p.(*Progress)
	}
	return nil
}

// Run syncs the selected books into the Notion database.
func (e *Engine) Run(ctx context.Context, opts Options) (*Summary, error) {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return nil, models.ErrSyncInProgress
	}
	e.syncing = true

	// Create new events channel if previous was closed
	if e.eventsClosed {
		e.events = make(chan Event, 100)
		e.eventsClosed = false
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancelFn = cancel
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		e.syncing = false
		e.cancelFn = nil
		if !e.eventsClosed {
			close(e.events)
			e.eventsClosed = true
		}
		e.mu.Unlock()
	}()

	ctx = events.WithRunID(events.WithLogger(ctx, e.logger), "")
	logger := events.FromContext(ctx)

	progress := &Progress{
		Phase:     "initializing",
		StartTime: time.Now(),
	}
	e.progress.Store(progress)

	logger.WithFields(map[string]interface{}{
		"full":    opts.Full,
		"dry_run": opts.DryRun,
		"limit":   opts.BookLimit,
	}).Info("Starting sync")

	e.emitEvent(Event{
		Type:      EventStarted,
		Timestamp: time.Now(),
		Progress:  progress,
	})

	if err := e.openSession(ctx); err != nil {
		return nil, e.handleError(err)
	}

	books, err := e.reader.Notebooks(ctx)
	if err != nil {
		return nil, e.handleError(&models.SyncError{
			Code:  errorCode(err, models.ErrCodeNetwork),
			Phase: "list_books",
			Err:   err,
		})
	}
	books = selectBooks(books, opts)

	var watermark int64
	if opts.Watermark && !opts.Full {
		top, err := e.writer.MaxNumber(ctx, e.databaseID, PropertySort)
		if err != nil {
			return nil, e.handleError(&models.SyncError{
				Code:  errorCode(err, models.ErrCodeNotion),
				Phase: "watermark",
				Err:   err,
			})
		}
		watermark = int64(top)
		logger.WithField("watermark", watermark).Debug("Database watermark loaded")
	}

	summary := &Summary{Books: len(books)}
	e.updateProgress(func(p *Progress) {
		p.Phase = "syncing"
		p.TotalBooks = len(books)
	})

	for i := range books {
		book := books[i]
		if err := ctx.Err(); err != nil {
			return e.finish(summary), e.handleError(err)
		}

		e.updateProgress(func(p *Progress) { p.CurrentBook = book.Title })
		e.emitEvent(Event{Type: EventBookStarted, Timestamp: time.Now(), Book: &book})

		bookCtx := events.WithBookID(ctx, book.BookID)
		pushed, skipped, err := e.syncBook(bookCtx, book, opts, watermark)
		if err != nil {
			if errors.Is(err, models.ErrSessionExpired) || ctx.Err() != nil {
				return e.finish(summary), e.handleError(err)
			}

			events.FromContext(bookCtx).WithError(err).Error("Book sync failed")
			if !opts.DryRun {
				e.recordFailure(bookCtx, book, err)
			}
			summary.Failed++
			summary.Errors = append(summary.Errors, err)
			e.updateProgress(func(p *Progress) {
				p.ProcessedBooks++
				p.Errors = append(p.Errors, err)
			})
			e.emitEvent(Event{Type: EventBookError, Timestamp: time.Now(), Book: &book, Error: err})
			continue
		}

		e.updateProgress(func(p *Progress) {
			p.ProcessedBooks++
			p.ItemsPushed += pushed
		})
		if skipped {
			summary.Skipped++
			e.emitEvent(Event{Type: EventBookSkipped, Timestamp: time.Now(), Book: &book})
			continue
		}
		summary.Synced++
		summary.Items += pushed
		e.emitEvent(Event{Type: EventBookComplete, Timestamp: time.Now(), Book: &book, Items: pushed})
	}

	e.finish(summary)
	completed := e.updateProgress(func(p *Progress) {
		p.Phase = "completed"
		p.CurrentBook = ""
	})
	e.emitEvent(Event{
		Type:      EventCompleted,
		Timestamp: time.Now(),
		Progress:  completed,
	})

	logger.WithFields(map[string]interface{}{
		"duration": summary.Duration,
		"books":    summary.Books,
		"synced":   summary.Synced,
		"skipped":  summary.Skipped,
		"failed":   summary.Failed,
		"items":    summary.Items,
	}).Info("Sync completed")

	return summary, nil
}

// Cancel stops an ongoing sync.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancelFn != nil {
		e.logger.Info("Cancelling sync")
		e.cancelFn()
	}
}

// openSession loads the cookies and hands them to the reader.
func (e *Engine) openSession(ctx context.Context) error {
	if e.session == nil {
		return nil
	}

	values, err := e.session.Load(ctx)
	if err != nil {
		return err
	}

	jar, err := cookies.HTTPJar(values, e.readerURL)
	if err != nil {
		return &models.SyncError{Code: models.ErrCodeCookies, Phase: "build_jar", Err: err}
	}
	e.reader.SetJar(jar)

	events.FromContext(ctx).WithField("cookie_count", len(values)).Debug("Reading session ready")
	return nil
}

// syncBook pushes the new notes of one book. It reports the number of
// items pushed and whether the book was unchanged.
func (e *Engine) syncBook(ctx context.Context, book models.Book, opts Options, watermark int64) (int, bool, error) {
	logger := events.FromContext(ctx).WithField("title", book.Title)

	st, err := state.LoadOrNew(e.state, book.BookID)
	if err != nil {
		return 0, false, &models.SyncError{Code: models.ErrCodeState, Phase: "load_state", BookID: book.BookID, Err: err}
	}

	if !opts.Full && st.PageID != "" && st.Sort == book.Sort && !st.HasError() {
		logger.Debug("Book unchanged, skipping")
		return 0, true, nil
	}
	if watermark > 0 && st.PageID == "" && book.Sort <= watermark {
		logger.WithField("sort", book.Sort).Debug("Book below database watermark, skipping")
		return 0, true, nil
	}

	highlights, reviews, err := e.fetch(ctx, book.BookID)
	if err != nil {
		return 0, false, &models.SyncError{
			Code:   errorCode(err, models.ErrCodeNetwork),
			Phase:  "fetch_notes",
			BookID: book.BookID,
			Err:    err,
		}
	}

	if opts.Full {
		fresh := models.NewSyncState(book.BookID)
		fresh.PageID = st.PageID
		fresh.Sort = st.Sort
		st = fresh
	}

	items := pending(st, highlights, reviews)
	logger.WithFields(map[string]interface{}{
		"highlights": len(highlights),
		"reviews":    len(reviews),
		"new":        len(items),
	}).Debug("Computed pending items")

	if opts.DryRun {
		return len(items), len(items) == 0 && st.PageID != "", nil
	}

	pageID, err := e.writePage(ctx, book, st, items, opts.Full)
	if errors.Is(err, errPageGone) {
		logger.WithField("page_id", st.PageID).Warn("Stored page is gone, rebuilding")
		st = models.NewSyncState(book.BookID)
		items = pending(st, highlights, reviews)
		pageID, err = e.writePage(ctx, book, st, items, opts.Full)
	}
	if err != nil {
		return 0, false, &models.SyncError{
			Code:   errorCode(err, models.ErrCodeNotion),
			Phase:  "write_page",
			BookID: book.BookID,
			Err:    err,
		}
	}

	unchanged := len(items) == 0 && st.PageID == pageID && st.Sort == book.Sort

	for _, it := range items {
		st.MarkSynced(it.id, it.created)
	}
	st.PageID = pageID
	st.Title = book.Title
	st.Touch(book.Sort)

	if err := e.state.Save(st); err != nil {
		return 0, false, &models.SyncError{Code: models.ErrCodeState, Phase: "save_state", BookID: book.BookID, Err: err}
	}

	logger.WithFields(map[string]interface{}{
		"page_id": pageID,
		"items":   len(items),
	}).Info("Book synced")

	return len(items), unchanged, nil
}

// fetch loads bookmarks and reviews concurrently.
func (e *Engine) fetch(ctx context.Context, bookID string) ([]models.Highlight, []models.Review, error) {
	var (
		highlights []models.Highlight
		reviews    []models.Review
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hs, err := e.reader.Bookmarks(gctx, bookID)
		if err != nil {
			return fmt.Errorf("bookmarks: %w", err)
		}
		highlights = hs
		return nil
	})
	if e.includeReviews {
		g.Go(func() error {
			rs, err := e.reader.Reviews(gctx, bookID)
			if err != nil {
				return fmt.Errorf("reviews: %w", err)
			}
			reviews = rs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return highlights, reviews, nil
}

// writePage creates or extends the book's page and returns its ID.
func (e *Engine) writePage(ctx context.Context, book models.Book, st *models.SyncState, items []item, full bool) (string, error) {
	logger := events.FromContext(ctx)

	pageID := st.PageID
	stored := pageID != ""
	if !stored {
		found, err := e.writer.FindPage(ctx, e.databaseID, PropertyBookID, book.BookID)
		if err != nil {
			return "", fmt.Errorf("find page: %w", err)
		}
		pageID = found
	}

	// A page without local state has unknown content and is rebuilt.
	if pageID != "" && (full || !stored) {
		if err := e.writer.ArchivePage(ctx, pageID); err != nil && !isNotFound(err) {
			return "", fmt.Errorf("archive page: %w", err)
		}
		logger.WithField("page_id", pageID).Debug("Archived page for rebuild")
		stored = false
		pageID = ""
		if err := e.pause(ctx); err != nil {
			return "", err
		}
	}

	blocks := blocksFor(items)

	if pageID != "" && len(blocks) > 0 {
		err := e.writer.AppendBlocks(ctx, pageID, blocks)
		switch {
		case err == nil:
			if err := e.pause(ctx); err != nil {
				return "", err
			}
		case stored && isNotFound(err):
			return "", errPageGone
		default:
			return "", fmt.Errorf("append blocks: %w", err)
		}
	}

	if pageID == "" {
		id, err := e.writer.CreatePage(ctx, e.databaseID, pageProperties(book, items), blocks)
		if err != nil {
			return "", fmt.Errorf("create page: %w", err)
		}
		return id, e.pause(ctx)
	}

	props := notion.Properties{}
	if st.Sort != book.Sort {
		props[PropertySort] = notion.Number(float64(book.Sort))
	}
	if latest := newest(items); !latest.IsZero() {
		props[PropertyDate] = notion.Date(latest)
	}
	if len(props) > 0 {
		err := e.writer.UpdatePage(ctx, pageID, props)
		switch {
		case err == nil:
		case stored && isNotFound(err):
			return "", errPageGone
		default:
			return "", fmt.Errorf("update page: %w", err)
		}
		if err := e.pause(ctx); err != nil {
			return "", err
		}
	}

	return pageID, nil
}

// recordFailure stores the error on the book's state.
func (e *Engine) recordFailure(ctx context.Context, book models.Book, cause error) {
	st, err := state.LoadOrNew(e.state, book.BookID)
	if err != nil {
		events.FromContext(ctx).WithError(err).Warn("Failed to load state for error record")
		return
	}
	if st.Title == "" {
		st.Title = book.Title
	}
	st.SetError(cause)
	if err := e.state.Save(st); err != nil {
		events.FromContext(ctx).WithError(err).Warn("Failed to record book error")
	}
}

// pause waits between Notion writes.
func (e *Engine) pause(ctx context.Context) error {
	if e.writeDelay <= 0 {
		return nil
	}

	timer := time.NewTimer(e.writeDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Engine) finish(summary *Summary) *Summary {
	if p := e.GetProgress(); p != nil {
		summary.Duration = time.Since(p.StartTime)
	}
	return summary
}

// updateProgress stores a modified copy of the current progress.
func (e *Engine) updateProgress(fn func(p *Progress)) *Progress {
	next := &Progress{}
	if current := e.GetProgress(); current != nil {
		*next = *current
		next.Errors = append([]error(nil), current.Errors...)
	}
	fn(next)
	e.progress.Store(next)
	return next
}

func (e *Engine) emitEvent(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.eventsClosed {
		return
	}

	select {
	case e.events <- event:
	default:
		// Channel full, drop event
		e.logger.Debug("Event channel full, dropping event")
	}
}

func (e *Engine) handleError(err error) error {
	e.emitEvent(Event{
		Type:      EventFailed,
		Timestamp: time.Now(),
		Error:     err,
		Progress:  e.GetProgress(),
	})
	return err
}

// selectBooks applies the ID filter, then keeps the most recently updated
// books when a limit is set. Input is in ascending sort order.
func selectBooks(books []models.Book, opts Options) []models.Book {
	if len(opts.BookIDs) > 0 {
		want := make(map[string]bool, len(opts.BookIDs))
		for _, id := range opts.BookIDs {
			want[id] = true
		}
		selected := make([]models.Book, 0, len(opts.BookIDs))
		for _, b := range books {
			if want[b.BookID] {
				selected = append(selected, b)
			}
		}
		books = selected
	}

	if opts.BookLimit > 0 && len(books) > opts.BookLimit {
		books = books[len(books)-opts.BookLimit:]
	}
	return books
}

func errorCode(err error, fallback string) string {
	switch {
	case errors.Is(err, models.ErrSessionExpired):
		return models.ErrCodeSession
	case errors.Is(err, models.ErrRateLimited):
		return models.ErrCodeRateLimit
	}

	var apiErr *models.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 500 {
		return models.ErrCodeServerError
	}
	return fallback
}

func isNotFound(err error) bool {
	var apiErr *models.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
