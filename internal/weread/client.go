// Package weread is a client for the reading platform's web API. Requests are
// authenticated by the session cookies recovered from the cookie-sync export.
package weread

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/TheMichaelB/readsync/internal/config"
	"github.com/TheMichaelB/readsync/internal/events"
	"github.com/TheMichaelB/readsync/internal/models"
	"github.com/TheMichaelB/readsync/internal/transport"
)

// Platform error codes.
const (
	ErrcodeSessionExpired = -2012
	ErrcodeLoginRequired  = -2010
)

const (
	pathNotebooks    = "/user/notebooks"
	pathBookmarks    = "/book/bookmarklist"
	pathReviews      = "/review/list"
	pathChapterInfos = "/book/chapterInfos"
)

// Client talks to the reading platform.
type Client struct {
	http   *transport.HTTPClient
	logger *events.Logger
}

// NewClient creates a client sending the cookies held by jar.
func NewClient(cfg *config.Config, jar http.CookieJar, logger *events.Logger) *Client {
	base := strings.TrimRight(cfg.Reader.BaseURL, "/")

	return &Client{
		http: transport.NewHTTPClient(transport.Options{
			Service:    "weread",
			BaseURL:    base,
			Timeout:    cfg.Reader.Timeout,
			MaxRetries: cfg.Reader.MaxRetries,
			RetryDelay: cfg.Sync.RetryDelay,
			UserAgent:  cfg.Reader.UserAgent,
			Headers: map[string]string{
				"Referer": base + "/",
				"Origin":  base,
			},
			Jar:                jar,
			InsecureSkipVerify: cfg.Dev.InsecureSkipVerify,
		}, logger),
		logger: logger.WithField("component", "weread"),
	}
}

// SetJar replaces the session cookies.
func (c *Client) SetJar(jar http.CookieJar) {
	c.http.SetJar(jar)
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.http.Close()
}

type bookInfo struct {
	BookID   string    `json:"bookId"`
	Title    string    `json:"title"`
	Author   string    `json:"author"`
	Cover    string    `json:"cover"`
	Category string    `json:"category"`
	BookInfo *bookInfo `json:"bookInfo"`
}

type notebooksResponse struct {
	Books []struct {
		BookID        string   `json:"bookId"`
		Book          bookInfo `json:"book"`
		Sort          int64    `json:"sort"`
		NoteCount     int      `json:"noteCount"`
		ReviewCount   int      `json:"reviewCount"`
		BookmarkCount int      `json:"bookmarkCount"`
	} `json:"books"`
}

// Notebooks lists books carrying highlights or notes, ordered by sort key.
func (c *Client) Notebooks(ctx context.Context) ([]models.Book, error) {
	var resp notebooksResponse
	if err := c.get(ctx, pathNotebooks, nil, &resp); err != nil {
		return nil, fmt.Errorf("list notebooks: %w", err)
	}

	books := make([]models.Book, 0, len(resp.Books))
	for _, entry := range resp.Books {
		info := entry.Book
		if info.BookInfo != nil {
			info = *info.BookInfo
		}

		book := models.Book{
			BookID:        entry.BookID,
			Title:         info.Title,
			Author:        info.Author,
			Cover:         info.Cover,
			Category:      info.Category,
			Sort:          entry.Sort,
			NoteCount:     entry.NoteCount,
			ReviewCount:   entry.ReviewCount,
			BookmarkCount: entry.BookmarkCount,
		}
		if book.BookID == "" {
			book.BookID = info.BookID
		}
		if book.BookID == "" {
			continue
		}
		books = append(books, book)
	}

	sort.SliceStable(books, func(i, j int) bool { return books[i].Sort < books[j].Sort })

	c.logger.WithField("books", len(books)).Debug("Listed notebooks")
	return books, nil
}

type bookmarksResponse struct {
	Updated  []models.Highlight `json:"updated"`
	Chapters []models.Chapter   `json:"chapters"`
}

// Bookmarks returns a book's highlights ordered by chapter and position.
// Chapter titles come from the response, or from Chapters when it has none.
func (c *Client) Bookmarks(ctx context.Context, bookID string) ([]models.Highlight, error) {
	var resp bookmarksResponse
	if err := c.get(ctx, pathBookmarks, url.Values{"bookId": {bookID}}, &resp); err != nil {
		return nil, fmt.Errorf("list bookmarks for %s: %w", bookID, err)
	}

	chapters := resp.Chapters
	if len(chapters) == 0 && len(resp.Updated) > 0 {
		var err error
		chapters, err = c.Chapters(ctx, bookID)
		if err != nil {
			if errors.Is(err, models.ErrSessionExpired) {
				return nil, err
			}
			c.logger.WithError(err).WithField("book_id", bookID).Warn("Chapter titles unavailable")
		}
	}

	titles := make(map[int]string, len(chapters))
	for _, ch := range chapters {
		titles[ch.ChapterUID] = ch.Title
	}

	highlights := resp.Updated
	for i := range highlights {
		if highlights[i].BookID == "" {
			highlights[i].BookID = bookID
		}
		if highlights[i].ChapterTitle == "" {
			highlights[i].ChapterTitle = titles[highlights[i].ChapterUID]
		}
	}
	models.SortHighlights(highlights)

	c.logger.WithFields(map[string]interface{}{
		"book_id":    bookID,
		"highlights": len(highlights),
	}).Debug("Listed bookmarks")
	return highlights, nil
}

type reviewsResponse struct {
	Reviews []struct {
		ReviewID string        `json:"reviewId"`
		Review   models.Review `json:"review"`
	} `json:"reviews"`
}

// Reviews returns the reader's own notes on a book, passage notes and
// book-level reviews alike, ordered by chapter and position.
func (c *Client) Reviews(ctx context.Context, bookID string) ([]models.Review, error) {
	query := url.Values{
		"bookId":   {bookID},
		"listType": {"11"},
		"mine":     {"1"},
		"synckey":  {"0"},
	}

	var resp reviewsResponse
	if err := c.get(ctx, pathReviews, query, &resp); err != nil {
		return nil, fmt.Errorf("list reviews for %s: %w", bookID, err)
	}

	reviews := make([]models.Review, 0, len(resp.Reviews))
	for _, entry := range resp.Reviews {
		r := entry.Review
		if r.ReviewID == "" {
			r.ReviewID = entry.ReviewID
		}
		if r.ReviewID == "" {
			continue
		}
		if r.BookID == "" {
			r.BookID = bookID
		}
		reviews = append(reviews, r)
	}
	models.SortReviews(reviews)

	c.logger.WithFields(map[string]interface{}{
		"book_id": bookID,
		"reviews": len(reviews),
	}).Debug("Listed reviews")
	return reviews, nil
}

type chapterInfosRequest struct {
	BookIDs  []string `json:"bookIds"`
	SyncKeys []int    `json:"synckeys"`
	TeenMode int      `json:"teenmode"`
}

type chapterInfosResponse struct {
	Data []struct {
		BookID  string           `json:"bookId"`
		Updated []models.Chapter `json:"updated"`
	} `json:"data"`
}

// Chapters returns a book's table of contents.
func (c *Client) Chapters(ctx context.Context, bookID string) ([]models.Chapter, error) {
	req := chapterInfosRequest{BookIDs: []string{bookID}, SyncKeys: []int{0}}

	var raw []byte
	if err := c.http.PostJSON(ctx, pathChapterInfos, req, &raw); err != nil {
		return nil, fmt.Errorf("chapter infos for %s: %w", bookID, mapError(err))
	}
	if err := checkErrcode(raw); err != nil {
		return nil, fmt.Errorf("chapter infos for %s: %w", bookID, err)
	}

	var resp chapterInfosResponse
	if err := decode(raw, &resp); err != nil {
		return nil, err
	}
	for _, d := range resp.Data {
		if d.BookID == "" || d.BookID == bookID {
			return d.Updated, nil
		}
	}
	return nil, nil
}

// get performs a GET and checks the platform's errcode envelope before
// decoding into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	var raw []byte
	if err := c.http.GetJSON(ctx, path, query, &raw); err != nil {
		return mapError(err)
	}
	if err := checkErrcode(raw); err != nil {
		return err
	}
	return decode(raw, out)
}

func decode(raw []byte, out interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty response")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// checkErrcode inspects a 200 response for a non-zero errcode.
func checkErrcode(raw []byte) error {
	code := gjson.GetBytes(raw, "errcode")
	if !code.Exists() || code.Int() == 0 {
		return nil
	}
	return errcodeError(code.Int(), gjson.GetBytes(raw, "errmsg").String(), http.StatusOK)
}

// mapError turns an HTTP-level failure carrying an errcode into the
// platform's error.
func mapError(err error) error {
	var apiErr *models.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	if apiErr.Code == fmt.Sprint(ErrcodeSessionExpired) || apiErr.Code == fmt.Sprint(ErrcodeLoginRequired) ||
		apiErr.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", models.ErrSessionExpired, apiErr.Message)
	}
	return err
}

func errcodeError(code int64, msg string, status int) error {
	switch code {
	case ErrcodeSessionExpired, ErrcodeLoginRequired:
		if msg == "" {
			msg = "login timeout"
		}
		return fmt.Errorf("%w: %s", models.ErrSessionExpired, msg)
	}
	return &models.APIError{
		Service:    "weread",
		Code:       fmt.Sprint(code),
		Message:    msg,
		StatusCode: status,
	}
}
