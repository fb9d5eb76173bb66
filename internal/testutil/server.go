package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/TheMichaelB/readsync/internal/models"
)

// Library is the reading platform data served by TestServer.
type Library struct {
	Books      []models.Book
	Highlights map[string][]models.Highlight
	Reviews    map[string][]models.Review
	Chapters   map[string][]models.Chapter
}

// Page is a Notion page held by TestServer.
type Page struct {
	ID         string
	DatabaseID string
	Properties map[string]json.RawMessage
	Blocks     []json.RawMessage
	Archived   bool
}

// TestServer fakes the cookie-sync server, the reading platform and the
// Notion API on one listener:
//
//	GET  /get/{uuid}
//	GET  /user/notebooks, /book/bookmarklist, /review/list
//	POST /book/chapterInfos
//	POST /v1/pages, /v1/databases/{id}/query
//	PATCH /v1/pages/{id}, /v1/blocks/{id}/children
type TestServer struct {
	*httptest.Server

	mu sync.RWMutex

	// Cookie-sync
	exports map[string]string

	// Reading platform
	library     Library
	sessionName string
	sessionKey  string

	// Notion
	token    string
	pages    map[string]*Page
	order    []string
	requests map[string]int
	failNext map[string]int
}

// NewTestServer creates a new test HTTP server.
func NewTestServer() *TestServer {
	ts := &TestServer{
		exports:  make(map[string]string),
		pages:    make(map[string]*Page),
		requests: make(map[string]int),
		failNext: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /get/{uuid}", ts.handleExport)
	mux.HandleFunc("GET /user/notebooks", ts.handleNotebooks)
	mux.HandleFunc("GET /book/bookmarklist", ts.handleBookmarks)
	mux.HandleFunc("GET /review/list", ts.handleReviews)
	mux.HandleFunc("POST /book/chapterInfos", ts.handleChapters)
	mux.HandleFunc("POST /v1/pages", ts.handleCreatePage)
	mux.HandleFunc("PATCH /v1/pages/{id}", ts.handleUpdatePage)
	mux.HandleFunc("POST /v1/databases/{id}/query", ts.handleQuery)
	mux.HandleFunc("PATCH /v1/blocks/{id}/children", ts.handleAppend)

	ts.Server = httptest.NewServer(ts.count(mux))
	return ts
}

// NotionURL returns the base URL of the fake Notion API.
func (ts *TestServer) NotionURL() string {
	return ts.URL + "/v1"
}

// SetExport stores the encrypted payload served for uuid.
func (ts *TestServer) SetExport(uuid, payload string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.exports[uuid] = payload
}

// SetLibrary replaces the reading platform data.
func (ts *TestServer) SetLibrary(lib Library) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.library = lib
}

// RequireSession makes the reading platform answer errcode -2012 unless the
// named cookie carries value.
func (ts *TestServer) RequireSession(name, value string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.sessionName = name
	ts.sessionKey = value
}

// SetNotionToken sets the bearer token the Notion API accepts.
func (ts *TestServer) SetNotionToken(token string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.token = token
}

// FailNext makes the next n requests matching "METHOD path" answer 503.
func (ts *TestServer) FailNext(key string, n int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.failNext[key] = n
}

// Requests returns how many requests hit "METHOD path".
func (ts *TestServer) Requests(key string) int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.requests[key]
}

// Pages returns the Notion pages in creation order.
func (ts *TestServer) Pages() []*Page {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	out := make([]*Page, 0, len(ts.order))
	for _, id := range ts.order {
		p := *ts.pages[id]
		p.Blocks = append([]json.RawMessage(nil), p.Blocks...)
		out = append(out, &p)
	}
	return out
}

// AddPage seeds a Notion page.
func (ts *TestServer) AddPage(databaseID, bookID string) string {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	id := fmt.Sprintf("page-%d", len(ts.order)+1)
	ts.pages[id] = &Page{
		ID:         id,
		DatabaseID: databaseID,
		Properties: map[string]json.RawMessage{
			"BookId": json.RawMessage(fmt.Sprintf(`{"rich_text":[{"text":{"content":%q}}]}`, bookID)),
		},
	}
	ts.order = append(ts.order, id)
	return id
}

func (ts *TestServer) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path

		ts.mu.Lock()
		ts.requests[key]++
		fail := ts.failNext[key] > 0
		if fail {
			ts.failNext[key]--
		}
		ts.mu.Unlock()

		if fail {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (ts *TestServer) handleExport(w http.ResponseWriter, r *http.Request) {
	ts.mu.RLock()
	payload, ok := ts.exports[r.PathValue("uuid")]
	ts.mu.RUnlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"encrypted": payload})
}

func (ts *TestServer) sessionValid(w http.ResponseWriter, r *http.Request) bool {
	ts.mu.RLock()
	name, want := ts.sessionName, ts.sessionKey
	ts.mu.RUnlock()

	if name == "" {
		return true
	}
	if c, err := r.Cookie(name); err == nil && c.Value == want {
		return true
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"errcode": -2012, "errmsg": "login timeout"})
	return false
}

func (ts *TestServer) handleNotebooks(w http.ResponseWriter, r *http.Request) {
	if !ts.sessionValid(w, r) {
		return
	}

	ts.mu.RLock()
	defer ts.mu.RUnlock()

	books := make([]map[string]interface{}, 0, len(ts.library.Books))
	for _, b := range ts.library.Books {
		books = append(books, map[string]interface{}{
			"bookId": b.BookID,
			"book": map[string]interface{}{
				"bookId":   b.BookID,
				"title":    b.Title,
				"author":   b.Author,
				"cover":    b.Cover,
				"category": b.Category,
			},
			"sort":          b.Sort,
			"noteCount":     b.NoteCount,
			"reviewCount":   b.ReviewCount,
			"bookmarkCount": b.BookmarkCount,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"synckey": 1, "books": books})
}

func (ts *TestServer) handleBookmarks(w http.ResponseWriter, r *http.Request) {
	if !ts.sessionValid(w, r) {
		return
	}

	bookID := r.URL.Query().Get("bookId")

	ts.mu.RLock()
	defer ts.mu.RUnlock()

	updated := ts.library.Highlights[bookID]
	if updated == nil {
		updated = []models.Highlight{}
	}
	chapters := ts.library.Chapters[bookID]
	if chapters == nil {
		chapters = []models.Chapter{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"synckey":  1,
		"updated":  updated,
		"chapters": chapters,
	})
}

func (ts *TestServer) handleReviews(w http.ResponseWriter, r *http.Request) {
	if !ts.sessionValid(w, r) {
		return
	}

	bookID := r.URL.Query().Get("bookId")

	ts.mu.RLock()
	defer ts.mu.RUnlock()

	reviews := make([]map[string]interface{}, 0)
	for _, rv := range ts.library.Reviews[bookID] {
		reviews = append(reviews, map[string]interface{}{
			"reviewId": rv.ReviewID,
			"review":   rv,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reviews": reviews, "hasMore": 0})
}

func (ts *TestServer) handleChapters(w http.ResponseWriter, r *http.Request) {
	if !ts.sessionValid(w, r) {
		return
	}

	body, _ := io.ReadAll(r.Body)
	bookID := gjson.GetBytes(body, "bookIds.0").String()

	ts.mu.RLock()
	defer ts.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": []map[string]interface{}{{
			"bookId":  bookID,
			"updated": ts.library.Chapters[bookID],
		}},
	})
}

func (ts *TestServer) notionAuthorized(w http.ResponseWriter, r *http.Request) bool {
	ts.mu.RLock()
	token := ts.token
	ts.mu.RUnlock()

	if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
		notionError(w, http.StatusUnauthorized, "unauthorized", "API token is invalid.")
		return false
	}
	if r.Header.Get("Notion-Version") == "" {
		notionError(w, http.StatusBadRequest, "missing_version", "Notion-Version header failed validation.")
		return false
	}
	return true
}

func (ts *TestServer) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	if !ts.notionAuthorized(w, r) {
		return
	}

	var req struct {
		Parent struct {
			DatabaseID string `json:"database_id"`
		} `json:"parent"`
		Properties map[string]json.RawMessage `json:"properties"`
		Children   []json.RawMessage          `json:"children"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		notionError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Parent.DatabaseID == "" {
		notionError(w, http.StatusBadRequest, "validation_error", "parent.database_id is required")
		return
	}
	if len(req.Children) > 100 {
		notionError(w, http.StatusBadRequest, "validation_error", "children length should be ≤ 100")
		return
	}

	ts.mu.Lock()
	id := fmt.Sprintf("page-%d", len(ts.order)+1)
	ts.pages[id] = &Page{
		ID:         id,
		DatabaseID: req.Parent.DatabaseID,
		Properties: req.Properties,
		Blocks:     req.Children,
	}
	ts.order = append(ts.order, id)
	ts.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{"object": "page", "id": id})
}

func (ts *TestServer) handleUpdatePage(w http.ResponseWriter, r *http.Request) {
	if !ts.notionAuthorized(w, r) {
		return
	}

	var req struct {
		Properties map[string]json.RawMessage `json:"properties"`
		Archived   *bool                      `json:"archived"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		notionError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	page, ok := ts.pages[r.PathValue("id")]
	if !ok {
		notionError(w, http.StatusNotFound, "object_not_found", "Could not find page")
		return
	}
	if req.Archived != nil {
		page.Archived = *req.Archived
	}
	if page.Properties == nil {
		page.Properties = make(map[string]json.RawMessage)
	}
	for k, v := range req.Properties {
		page.Properties[k] = v
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"object": "page", "id": page.ID})
}

func (ts *TestServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	if !ts.notionAuthorized(w, r) {
		return
	}

	body, _ := io.ReadAll(r.Body)
	databaseID := r.PathValue("id")
	property := gjson.GetBytes(body, "filter.property").String()
	equals := gjson.GetBytes(body, "filter.rich_text.equals")
	pageSize := int(gjson.GetBytes(body, "page_size").Int())
	if pageSize <= 0 {
		pageSize = 100
	}
	start, _ := strconv.Atoi(gjson.GetBytes(body, "start_cursor").String())

	ts.mu.RLock()
	var matched []*Page
	for _, id := range ts.order {
		p := ts.pages[id]
		if p.DatabaseID != databaseID || p.Archived {
			continue
		}
		if property != "" && equals.Exists() {
			got := gjson.GetBytes(p.Properties[property], "rich_text.0.text.content").String()
			if got != equals.String() {
				continue
			}
		}
		matched = append(matched, p)
	}
	ts.mu.RUnlock()

	if gjson.GetBytes(body, "sorts.0.direction").String() == "descending" {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}

	if start > len(matched) {
		start = len(matched)
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}

	results := make([]map[string]interface{}, 0, end-start)
	for _, p := range matched[start:end] {
		results = append(results, map[string]interface{}{
			"object":     "page",
			"id":         p.ID,
			"properties": p.Properties,
		})
	}

	resp := map[string]interface{}{
		"object":      "list",
		"results":     results,
		"has_more":    end < len(matched),
		"next_cursor": nil,
	}
	if end < len(matched) {
		resp["next_cursor"] = strconv.Itoa(end)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (ts *TestServer) handleAppend(w http.ResponseWriter, r *http.Request) {
	if !ts.notionAuthorized(w, r) {
		return
	}

	var req struct {
		Children []json.RawMessage `json:"children"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		notionError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if len(req.Children) > 100 {
		notionError(w, http.StatusBadRequest, "validation_error", "children length should be ≤ 100")
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	page, ok := ts.pages[r.PathValue("id")]
	if !ok || page.Archived {
		notionError(w, http.StatusNotFound, "object_not_found", "Could not find block")
		return
	}
	page.Blocks = append(page.Blocks, req.Children...)
	writeJSON(w, http.StatusOK, map[string]interface{}{"object": "list", "results": []interface{}{}})
}

func notionError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"object":  "error",
		"status":  status,
		"code":    code,
		"message": message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// BlockText returns the plain text of a quote or paragraph block.
func BlockText(block json.RawMessage) string {
	typ := gjson.GetBytes(block, "type").String()
	var parts []string
	for _, rt := range gjson.GetBytes(block, typ+".rich_text").Array() {
		parts = append(parts, rt.Get("text.content").String())
	}
	return strings.Join(parts, "")
}

// PropertyText returns the text of a title or rich_text property.
func PropertyText(prop json.RawMessage) string {
	if v := gjson.GetBytes(prop, "title.0.text.content"); v.Exists() {
		return v.String()
	}
	return gjson.GetBytes(prop, "rich_text.0.text.content").String()
}

// PropertyNumber returns the value of a number property.
func PropertyNumber(prop json.RawMessage) float64 {
	return gjson.GetBytes(prop, "number").Float()
}
