package sync_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/TheMichaelB/readsync/internal/config"
	"github.com/TheMichaelB/readsync/internal/cookiesync"
	"github.com/TheMichaelB/readsync/internal/models"
	"github.com/TheMichaelB/readsync/internal/notion"
	cookiesvc "github.com/TheMichaelB/readsync/internal/services/cookies"
	"github.com/TheMichaelB/readsync/internal/services/sync"
	"github.com/TheMichaelB/readsync/internal/state"
	"github.com/TheMichaelB/readsync/internal/testutil"
	"github.com/TheMichaelB/readsync/internal/weread"
)

type fakeReader struct {
	lib          testutil.Library
	notebooksErr error
	bookmarkErr  map[string]error
	jar          http.CookieJar

	// When set, Notebooks signals entered and waits for release or ctx.
	entered chan struct{}
	release chan struct{}

	notebookCalls atomic.Int32
	bookmarkCalls atomic.Int32
	reviewCalls   atomic.Int32
}

func newFakeReader() *fakeReader {
	return &fakeReader{lib: testutil.SampleLibrary(), bookmarkErr: map[string]error{}}
}

func (r *fakeReader) SetJar(jar http.CookieJar) { r.jar = jar }

func (r *fakeReader) Notebooks(ctx context.Context) ([]models.Book, error) {
	r.notebookCalls.Add(1)
	if r.entered != nil {
		close(r.entered)
		select {
		case <-r.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.notebooksErr != nil {
		return nil, r.notebooksErr
	}

	books := append([]models.Book(nil), r.lib.Books...)
	// Ascending sort order, like the real client.
	for i := 0; i < len(books); i++ {
		for j := i + 1; j < len(books); j++ {
			if books[j].Sort < books[i].Sort {
				books[i], books[j] = books[j], books[i]
			}
		}
	}
	return books, nil
}

func (r *fakeReader) Bookmarks(_ context.Context, bookID string) ([]models.Highlight, error) {
	r.bookmarkCalls.Add(1)
	if err := r.bookmarkErr[bookID]; err != nil {
		return nil, err
	}
	hs := append([]models.Highlight(nil), r.lib.Highlights[bookID]...)
	models.SortHighlights(hs)
	return hs, nil
}

func (r *fakeReader) Reviews(_ context.Context, bookID string) ([]models.Review, error) {
	r.reviewCalls.Add(1)
	rs := append([]models.Review(nil), r.lib.Reviews[bookID]...)
	models.SortReviews(rs)
	return rs, nil
}

type fakeWriter struct {
	pages    map[string][]notion.Block
	props    map[string]notion.Properties
	existing map[string]string // book ID -> page ID answered by FindPage
	archived []string
	gone     map[string]bool // pages answering 404

	finds, creates, appends, updates int
	createErr                        error
	maxErr                           error
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{
		pages:    map[string][]notion.Block{},
		props:    map[string]notion.Properties{},
		existing: map[string]string{},
		gone:     map[string]bool{},
	}
}

func (w *fakeWriter) FindPage(_ context.Context, databaseID, property, value string) (string, error) {
	w.finds++
	if databaseID != testutil.DatabaseID || property != sync.PropertyBookID {
		return "", fmt.Errorf("unexpected query %s/%s", databaseID, property)
	}
	return w.existing[value], nil
}

func (w *fakeWriter) CreatePage(_ context.Context, _ string, props notion.Properties, blocks []notion.Block) (string, error) {
	if w.createErr != nil {
		return "", w.createErr
	}
	w.creates++
	id := fmt.Sprintf("page-%d", w.creates)
	w.pages[id] = append([]notion.Block(nil), blocks...)
	w.props[id] = props
	return id, nil
}

func (w *fakeWriter) UpdatePage(_ context.Context, pageID string, props notion.Properties) error {
	if w.gone[pageID] {
		return &models.APIError{Service: "notion", Code: "object_not_found", StatusCode: http.StatusNotFound}
	}
	w.updates++
	for k, v := range props {
		w.props[pageID][k] = v
	}
	return nil
}

func (w *fakeWriter) AppendBlocks(_ context.Context, pageID string, blocks []notion.Block) error {
	if w.gone[pageID] {
		return &models.APIError{Service: "notion", Code: "object_not_found", StatusCode: http.StatusNotFound}
	}
	w.appends++
	w.pages[pageID] = append(w.pages[pageID], blocks...)
	return nil
}

func (w *fakeWriter) ArchivePage(_ context.Context, pageID string) error {
	w.archived = append(w.archived, pageID)
	return nil
}

func (w *fakeWriter) MaxNumber(_ context.Context, _, property string) (float64, error) {
	if w.maxErr != nil {
		return 0, w.maxErr
	}
	var top float64
	for id, props := range w.props {
		if n := propNumber(props[property]); n > top && !w.isArchived(id) {
			top = n
		}
	}
	return top, nil
}

// pageFor returns the page created for bookID.
func (w *fakeWriter) pageFor(t *testing.T, bookID string) string {
	t.Helper()
	for id, props := range w.props {
		if propText(props[sync.PropertyBookID]) == bookID && !w.isArchived(id) {
			return id
		}
	}
	t.Fatalf("no page for book %s", bookID)
	return ""
}

func (w *fakeWriter) isArchived(pageID string) bool {
	for _, id := range w.archived {
		if id == pageID {
			return true
		}
	}
	return false
}

func propText(v interface{}) string {
	data, _ := json.Marshal(v)
	if t := gjson.GetBytes(data, "title.0.text.content"); t.Exists() {
		return t.String()
	}
	return gjson.GetBytes(data, "rich_text.0.text.content").String()
}

func propNumber(v interface{}) float64 {
	data, _ := json.Marshal(v)
	return gjson.GetBytes(data, "number").Float()
}

func propDate(v interface{}) string {
	data, _ := json.Marshal(v)
	return gjson.GetBytes(data, "date.start").String()
}

func blockTexts(blocks []notion.Block) []string {
	texts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		data, _ := json.Marshal(b)
		texts = append(texts, testutil.BlockText(data))
	}
	return texts
}

func newEngine(reader *fakeReader, writer *fakeWriter, store state.Store) *sync.Engine {
	return sync.NewEngine(nil, reader, writer, store, &sync.SyncConfig{
		DatabaseID:     testutil.DatabaseID,
		ReaderURL:      "https://weread.qq.com",
		IncludeReviews: true,
	}, testutil.NewTestLogger())
}

func collect(engine *sync.Engine) []sync.EventType {
	var types []sync.EventType
	for ev := range engine.Events() {
		types = append(types, ev.Type)
	}
	return types
}

func TestEngineFirstRunCreatesPages(t *testing.T) {
	reader, writer, store := newFakeReader(), newFakeWriter(), state.NewMockStore()
	engine := newEngine(reader, writer, store)

	summary, err := engine.Run(testutil.TestContext(t), sync.Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Books)
	assert.Equal(t, 2, summary.Synced)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 5, summary.Items)
	assert.Equal(t, 2, writer.creates)
	assert.Equal(t, 0, writer.appends)

	b1 := writer.pageFor(t, "b1")
	assert.Equal(t, []string{
		"opening passage",
		"opening passage",
		"a thought",
		"second chapter passage",
	}, blockTexts(writer.pages[b1]))
	assert.Equal(t, "First Book", propText(writer.props[b1][sync.PropertyBookName]))
	assert.Equal(t, "Writer A", propText(writer.props[b1][sync.PropertyAuthor]))
	assert.Equal(t, "文学", propText(writer.props[b1][sync.PropertyCategory]))
	assert.Equal(t, "2023-11-14T22:16:40Z", propDate(writer.props[b1][sync.PropertyDate]))

	cover, _ := json.Marshal(writer.props[b1][sync.PropertyCover])
	assert.Equal(t, "https://cdn.weread.qq.com/b1.jpg", gjson.GetBytes(cover, "files.0.external.url").String())

	b2 := writer.pageFor(t, "b2")
	assert.Equal(t, []string{"great book", "only passage"}, blockTexts(writer.pages[b2]))
	assert.NotContains(t, writer.props[b2], sync.PropertyCategory)
	assert.NotContains(t, writer.props[b2], sync.PropertyCover)

	st, err := store.Load("b1")
	require.NoError(t, err)
	assert.Equal(t, b1, st.PageID)
	assert.Equal(t, int64(100), st.Sort)
	assert.Equal(t, "First Book", st.Title)
	assert.Equal(t, 3, st.ItemCount())
	assert.True(t, st.IsSynced("r1"))
	assert.False(t, st.HasError())

	progress := engine.GetProgress()
	require.NotNil(t, progress)
	assert.Equal(t, "completed", progress.Phase)
	assert.Equal(t, 2, progress.ProcessedBooks)
	assert.Equal(t, 5, progress.ItemsPushed)
}

func TestEngineSecondRunPushesNothing(t *testing.T) {
	reader, writer, store := newFakeReader(), newFakeWriter(), state.NewMockStore()
	engine := newEngine(reader, writer, store)
	ctx := testutil.TestContext(t)

	_, err := engine.Run(ctx, sync.Options{})
	require.NoError(t, err)
	fetches := reader.bookmarkCalls.Load()

	summary, err := engine.Run(ctx, sync.Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 0, summary.Items)
	assert.Equal(t, 2, writer.creates)
	assert.Equal(t, 0, writer.appends)
	assert.Equal(t, 0, writer.updates)
	assert.Equal(t, fetches, reader.bookmarkCalls.Load(), "unchanged books are not fetched")
}

func TestEngineAppendsNewItems(t *testing.T) {
	reader, writer, store := newFakeReader(), newFakeWriter(), state.NewMockStore()
	engine := newEngine(reader, writer, store)
	ctx := testutil.TestContext(t)

	_, err := engine.Run(ctx, sync.Options{})
	require.NoError(t, err)
	b1 := writer.pageFor(t, "b1")

	reader.lib.Highlights["b1"] = append(reader.lib.Highlights["b1"], models.Highlight{
		BookmarkID: "b1_3_1-2", ChapterUID: 3, Range: "1-2", MarkText: "new passage", CreateTime: 1700000900,
	})
	reader.lib.Books[1].Sort = 300

	summary, err := engine.Run(ctx, sync.Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Items)
	assert.Equal(t, 2, writer.creates)
	assert.Equal(t, 1, writer.appends)
	assert.Equal(t, 1, writer.updates)

	texts := blockTexts(writer.pages[b1])
	assert.Len(t, texts, 5)
	assert.Equal(t, "new passage", texts[4])

	assert.Equal(t, float64(300), propNumber(writer.props[b1][sync.PropertySort]))
	assert.Equal(t, "2023-11-14T22:28:20Z", propDate(writer.props[b1][sync.PropertyDate]))

	st, err := store.Load("b1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), st.Sort)
	assert.True(t, st.IsSynced("b1_3_1-2"))
}

func TestEngineRebuildsPageFoundWithoutState(t *testing.T) {
	reader, writer, store := newFakeReader(), newFakeWriter(), state.NewMockStore()
	writer.existing["b1"] = "orphan"
	engine := newEngine(reader, writer, store)

	_, err := engine.Run(testutil.TestContext(t), sync.Options{BookIDs: []string{"b1"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"orphan"}, writer.archived)
	assert.Equal(t, 1, writer.creates)

	st, err := store.Load("b1")
	require.NoError(t, err)
	assert.NotEqual(t, "orphan", st.PageID)
}

func TestEngineFullRebuild(t *testing.T) {
	reader, writer, store := newFakeReader(), newFakeWriter(), state.NewMockStore()
	engine := newEngine(reader, writer, store)
	ctx := testutil.TestContext(t)

	_, err := engine.Run(ctx, sync.Options{})
	require.NoError(t, err)
	first := writer.pageFor(t, "b1")

	summary, err := engine.Run(ctx, sync.Options{Full: true})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Synced)
	assert.Equal(t, 5, summary.Items)
	assert.Len(t, writer.archived, 2)
	assert.Contains(t, writer.archived, first)
	assert.Equal(t, 4, writer.creates)

	rebuilt := writer.pageFor(t, "b1")
	assert.NotEqual(t, first, rebuilt)
	assert.Len(t, writer.pages[rebuilt], 4)
}

func TestEngineRecreatesDeletedPage(t *testing.T) {
	reader, writer, store := newFakeReader(), newFakeWriter(), state.NewMockStore()
	engine := newEngine(reader, writer, store)
	ctx := testutil.TestContext(t)

	_, err := engine.Run(ctx, sync.Options{BookIDs: []string{"b2"}})
	require.NoError(t, err)
	old := writer.pageFor(t, "b2")
	writer.gone[old] = true

	reader.lib.Highlights["b2"] = append(reader.lib.Highlights["b2"], models.Highlight{
		BookmarkID: "b2_2_0-1", ChapterUID: 2, Range: "0-1", MarkText: "later passage",
	})
	reader.lib.Books[0].Sort = 250

	_, err = engine.Run(ctx, sync.Options{BookIDs: []string{"b2"}})
	require.NoError(t, err)

	assert.Equal(t, 2, writer.creates)
	st, err := store.Load("b2")
	require.NoError(t, err)
	assert.NotEqual(t, old, st.PageID)
	assert.Equal(t, []string{"great book", "only passage", "later passage"}, blockTexts(writer.pages[st.PageID]))
	assert.Equal(t, 3, st.ItemCount())
}

func TestEngineRecreatesDeletedPageOnSortChange(t *testing.T) {
	reader, writer, store := newFakeReader(), newFakeWriter(), state.NewMockStore()
	engine := newEngine(reader, writer, store)
	ctx := testutil.TestContext(t)

	_, err := engine.Run(ctx, sync.Options{})
	require.NoError(t, err)
	old := writer.pageFor(t, "b1")
	writer.gone[old] = true

	// New sort key, no new items: only the Sort property is updated.
	reader.lib.Books[1].Sort = 300

	summary, err := engine.Run(ctx, sync.Options{})
	require.NoError(t, err)

	assert.Zero(t, summary.Failed)
	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, 3, summary.Items)
	assert.Equal(t, 3, writer.creates)

	st, err := store.Load("b1")
	require.NoError(t, err)
	assert.NotEqual(t, old, st.PageID)
	assert.Equal(t, int64(300), st.Sort)
	assert.False(t, st.HasError())
	assert.Equal(t, 3, st.ItemCount())
	assert.Len(t, writer.pages[st.PageID], 4)
	assert.Equal(t, float64(300), propNumber(writer.props[st.PageID][sync.PropertySort]))

	summary, err = engine.Run(ctx, sync.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 3, writer.creates)
}

func TestEngineWatermark(t *testing.T) {
	reader, writer := newFakeReader(), newFakeWriter()
	ctx := testutil.TestContext(t)

	_, err := newEngine(reader, writer, state.NewMockStore()).Run(ctx, sync.Options{})
	require.NoError(t, err)
	fetches := reader.bookmarkCalls.Load()

	// Local state lost: pages at or below the watermark are left alone.
	store := state.NewMockStore()
	engine := newEngine(reader, writer, store)

	summary, err := engine.Run(ctx, sync.Options{Watermark: true})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 2, writer.creates)
	assert.Empty(t, writer.archived)
	assert.Equal(t, fetches, reader.bookmarkCalls.Load())

	reader.lib.Books[1].Sort = 250

	summary, err = engine.Run(ctx, sync.Options{Watermark: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 3, writer.creates)

	st, err := store.Load("b1")
	require.NoError(t, err)
	assert.Equal(t, int64(250), st.Sort)
}

func TestEngineWatermarkFailure(t *testing.T) {
	reader, writer, store := newFakeReader(), newFakeWriter(), state.NewMockStore()
	writer.maxErr = &models.APIError{Service: "notion", StatusCode: http.StatusTooManyRequests, Code: "rate_limited"}
	engine := newEngine(reader, writer, store)

	_, err := engine.Run(testutil.TestContext(t), sync.Options{Watermark: true})

	var syncErr *models.SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, "watermark", syncErr.Phase)
	assert.Zero(t, reader.bookmarkCalls.Load())
	assert.Zero(t, writer.creates)
}

func TestEngineDryRun(t *testing.T) {
	reader, writer, store := newFakeReader(), newFakeWriter(), state.NewMockStore()
	engine := newEngine(reader, writer, store)

	summary, err := engine.Run(testutil.TestContext(t), sync.Options{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Items)
	assert.Equal(t, 0, writer.finds+writer.creates+writer.appends+writer.updates)
	assert.Equal(t, 0, store.Saves())
}

func TestEngineSkipsReviewsWhenDisabled(t *testing.T) {
	reader, writer, store := newFakeReader(), newFakeWriter(), state.NewMockStore()
	engine := sync.NewEngine(nil, reader, writer, store, &sync.SyncConfig{
		DatabaseID: testutil.DatabaseID,
		ReaderURL:  "https://weread.qq.com",
	}, testutil.NewTestLogger())

	summary, err := engine.Run(testutil.TestContext(t), sync.Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Items)
	assert.Zero(t, reader.reviewCalls.Load())
}

func TestEngineBookFailureContinues(t *testing.T) {
	reader, writer, store := newFakeReader(), newFakeWriter(), state.NewMockStore()
	reader.bookmarkErr["b1"] = errors.New("connection reset")
	engine := newEngine(reader, writer, store)

	summary, err := engine.Run(testutil.TestContext(t), sync.Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Synced)
	require.Len(t, summary.Errors, 1)

	var syncErr *models.SyncError
	require.ErrorAs(t, summary.Errors[0], &syncErr)
	assert.Equal(t, models.ErrCodeNetwork, syncErr.Code)
	assert.Equal(t, "b1", syncErr.BookID)

	st, err := store.Load("b1")
	require.NoError(t, err)
	assert.True(t, st.HasError())
	assert.Contains(t, st.LastError, "connection reset")

	types := collect(engine)
	assert.Contains(t, types, sync.EventBookError)
	assert.Contains(t, types, sync.EventBookComplete)
	assert.Equal(t, sync.EventCompleted, types[len(types)-1])

	// The failed book is retried on the next run.
	delete(reader.bookmarkErr, "b1")
	summary, err = engine.Run(testutil.TestContext(t), sync.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, 1, summary.Skipped)

	st, err = store.Load("b1")
	require.NoError(t, err)
	assert.False(t, st.HasError())
}

func TestEngineNotionFailureCode(t *testing.T) {
	reader, writer, store := newFakeReader(), newFakeWriter(), state.NewMockStore()
	writer.createErr = &models.APIError{Service: "notion", Code: "rate_limited", StatusCode: http.StatusTooManyRequests}
	engine := newEngine(reader, writer, store)

	summary, err := engine.Run(testutil.TestContext(t), sync.Options{})
	require.NoError(t, err)
	require.Len(t, summary.Errors, 2)

	var syncErr *models.SyncError
	require.ErrorAs(t, summary.Errors[0], &syncErr)
	assert.Equal(t, models.ErrCodeRateLimit, syncErr.Code)
	assert.Equal(t, "write_page", syncErr.Phase)
	assert.ErrorIs(t, summary.Errors[0], models.ErrRateLimited)
}

func TestEngineSessionExpiredAborts(t *testing.T) {
	reader, writer, store := newFakeReader(), newFakeWriter(), state.NewMockStore()
	reader.bookmarkErr["b1"] = fmt.Errorf("bookmark list: %w", models.ErrSessionExpired)
	engine := newEngine(reader, writer, store)

	summary, err := engine.Run(testutil.TestContext(t), sync.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrSessionExpired)

	var syncErr *models.SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, models.ErrCodeSession, syncErr.Code)

	require.NotNil(t, summary)
	assert.Equal(t, 0, summary.Synced)
	assert.Equal(t, 0, writer.creates, "b2 is never reached")

	types := collect(engine)
	assert.Equal(t, sync.EventFailed, types[len(types)-1])
}

func TestEngineListFailure(t *testing.T) {
	reader, writer, store := newFakeReader(), newFakeWriter(), state.NewMockStore()
	reader.notebooksErr = &models.APIError{Service: "weread", Code: "Bad Gateway", StatusCode: http.StatusBadGateway}
	engine := newEngine(reader, writer, store)

	_, err := engine.Run(testutil.TestContext(t), sync.Options{})
	require.Error(t, err)

	var syncErr *models.SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, models.ErrCodeServerError, syncErr.Code)
	assert.Equal(t, "list_books", syncErr.Phase)
}

func TestEngineBookSelection(t *testing.T) {
	tests := []struct {
		name string
		opts sync.Options
		want []string
	}{
		{"all", sync.Options{}, []string{"b1", "b2"}},
		{"limit keeps most recent", sync.Options{BookLimit: 1}, []string{"b2"}},
		{"by id", sync.Options{BookIDs: []string{"b1"}}, []string{"b1"}},
		{"unknown id", sync.Options{BookIDs: []string{"nope"}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, writer, store := newFakeReader(), newFakeWriter(), state.NewMockStore()
			engine := newEngine(reader, writer, store)

			_, err := engine.Run(testutil.TestContext(t), sync.Options{DryRun: true, BookLimit: tt.opts.BookLimit, BookIDs: tt.opts.BookIDs})
			require.NoError(t, err)

			var got []string
			for ev := range engine.Events() {
				if ev.Type == sync.EventBookStarted {
					got = append(got, ev.Book.BookID)
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngineEventsOrder(t *testing.T) {
	engine := newEngine(newFakeReader(), newFakeWriter(), state.NewMockStore())

	_, err := engine.Run(testutil.TestContext(t), sync.Options{})
	require.NoError(t, err)

	assert.Equal(t, []sync.EventType{
		sync.EventStarted,
		sync.EventBookStarted,
		sync.EventBookComplete,
		sync.EventBookStarted,
		sync.EventBookComplete,
		sync.EventCompleted,
	}, collect(engine))
}

func TestEngineSyncInProgress(t *testing.T) {
	reader := newFakeReader()
	reader.entered = make(chan struct{})
	reader.release = make(chan struct{})
	engine := newEngine(reader, newFakeWriter(), state.NewMockStore())
	ctx := testutil.TestContext(t)

	done := make(chan error, 1)
	go func() {
		_, err := engine.Run(ctx, sync.Options{})
		done <- err
	}()

	<-reader.entered
	_, err := engine.Run(ctx, sync.Options{})
	assert.ErrorIs(t, err, models.ErrSyncInProgress)

	close(reader.release)
	require.NoError(t, <-done)
}

func TestEngineCancel(t *testing.T) {
	reader := newFakeReader()
	reader.entered = make(chan struct{})
	reader.release = make(chan struct{})
	engine := newEngine(reader, newFakeWriter(), state.NewMockStore())

	done := make(chan error, 1)
	go func() {
		_, err := engine.Run(testutil.TestContext(t), sync.Options{})
		done <- err
	}()

	<-reader.entered
	engine.Cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("sync did not stop after cancel")
	}
}

type fakeCookies struct {
	values map[string]string
	err    error
}

func (f fakeCookies) Load(context.Context) (map[string]string, error) {
	return f.values, f.err
}

func TestEngineLoadsSession(t *testing.T) {
	reader := newFakeReader()
	session := fakeCookies{values: map[string]string{testutil.SessionCookie: testutil.SessionValue}}
	engine := sync.NewEngine(session, reader, newFakeWriter(), state.NewMockStore(), &sync.SyncConfig{
		DatabaseID: testutil.DatabaseID,
		ReaderURL:  "https://weread.qq.com",
	}, testutil.NewTestLogger())

	_, err := engine.Run(testutil.TestContext(t), sync.Options{DryRun: true})
	require.NoError(t, err)

	require.NotNil(t, reader.jar)
	u, _ := url.Parse("https://weread.qq.com/web/shelf")
	cookies := reader.jar.Cookies(u)
	require.Len(t, cookies, 1)
	assert.Equal(t, testutil.SessionValue, cookies[0].Value)
}

func TestEngineSessionFailureStopsBeforeListing(t *testing.T) {
	reader := newFakeReader()
	session := fakeCookies{err: &models.SyncError{Code: models.ErrCodeCookies, Phase: "parse_cookies", Err: models.ErrNoCookies}}
	engine := sync.NewEngine(session, reader, newFakeWriter(), state.NewMockStore(), &sync.SyncConfig{
		DatabaseID: testutil.DatabaseID,
		ReaderURL:  "https://weread.qq.com",
	}, testutil.NewTestLogger())

	_, err := engine.Run(testutil.TestContext(t), sync.Options{})
	assert.ErrorIs(t, err, models.ErrNoCookies)
	assert.Zero(t, reader.notebookCalls.Load())
}

func TestServiceRequiresDatabaseID(t *testing.T) {
	cfg := config.DefaultConfig()

	svc := sync.NewService(nil, newFakeReader(), newFakeWriter(), state.NewMockStore(), cfg, testutil.NewTestLogger())
	_, err := svc.Sync(testutil.TestContext(t), sync.Options{})

	assert.ErrorIs(t, err, models.ErrInvalidConfig)
}

func TestServiceResetBook(t *testing.T) {
	ts := testutil.NewTestServer()
	defer ts.Close()

	store := state.NewMockStore()
	store.SaveState(&models.SyncState{BookID: "b1", PageID: "p", Items: map[string]int64{"x": 1}})

	svc := sync.NewService(nil, newFakeReader(), newFakeWriter(), store, testutil.TestConfig(ts, t.TempDir()), testutil.NewTestLogger())
	require.NoError(t, svc.ResetBook("b1"))

	states, err := svc.States()
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestServiceEndToEnd(t *testing.T) {
	ts := testutil.NewTestServer()
	defer ts.Close()

	ts.SetExport(testutil.DeviceUUID, testutil.SealedExport(t, testutil.CookieDocument()))
	ts.SetLibrary(testutil.SampleLibrary())
	ts.RequireSession(testutil.SessionCookie, testutil.SessionValue)
	ts.SetNotionToken(testutil.NotionToken)

	dir := t.TempDir()
	cfg := testutil.TestConfig(ts, dir)
	logger := testutil.NewTestLogger()

	cookieService, err := cookiesvc.NewService(cookiesync.NewClient(&cfg.CookieSync, false, logger), &cfg.CookieSync, logger)
	require.NoError(t, err)

	reader := weread.NewClient(cfg, nil, logger)
	defer reader.Close()
	writer := notion.NewClient(cfg, logger)
	defer writer.Close()

	store, err := state.NewSQLiteStore(filepath.Join(dir, "state.db"), logger)
	require.NoError(t, err)
	defer store.Close()

	svc := sync.NewService(cookieService, reader, writer, store, cfg, logger)
	ctx := testutil.TestContext(t)

	summary, err := svc.Sync(ctx, sync.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Synced)
	assert.Equal(t, 5, summary.Items)

	pages := ts.Pages()
	require.Len(t, pages, 2)
	titles := map[string]bool{}
	for _, p := range pages {
		titles[testutil.PropertyText(p.Properties[sync.PropertyBookName])] = true
		assert.NotEmpty(t, p.Blocks)
	}
	assert.True(t, titles["First Book"])
	assert.True(t, titles["Second Book"])

	summary, err = svc.Sync(ctx, sync.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 2, ts.Requests("POST /v1/pages"))

	states, err := svc.States()
	require.NoError(t, err)
	require.Len(t, states, 2)
	for _, st := range states {
		assert.NotEmpty(t, st.PageID)
		assert.False(t, st.HasError())
	}
}

func TestServiceEndToEndSessionExpired(t *testing.T) {
	ts := testutil.NewTestServer()
	defer ts.Close()

	ts.SetExport(testutil.DeviceUUID, testutil.SealedExport(t, testutil.CookieDocument()))
	ts.SetLibrary(testutil.SampleLibrary())
	ts.RequireSession(testutil.SessionCookie, "a-newer-session")

	cfg := testutil.TestConfig(ts, t.TempDir())
	logger := testutil.NewTestLogger()

	cookieService, err := cookiesvc.NewService(cookiesync.NewClient(&cfg.CookieSync, false, logger), &cfg.CookieSync, logger)
	require.NoError(t, err)

	svc := sync.NewService(cookieService, weread.NewClient(cfg, nil, logger), notion.NewClient(cfg, logger), state.NewMockStore(), cfg, logger)

	_, err = svc.Sync(testutil.TestContext(t), sync.Options{})
	assert.ErrorIs(t, err, models.ErrSessionExpired)
	assert.Empty(t, ts.Pages())
}
